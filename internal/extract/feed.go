package extract

import (
	"bytes"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

var feedPrefixes = [][]byte{[]byte("<?xml"), []byte("<rss"), []byte("<feed"), []byte("<rdf:RDF")}

// isFeed sniffs RSS/Atom by content type, then by the opening bytes of the body.
func isFeed(page crawler.Page) bool {
	if mediaType, _, err := mime.ParseMediaType(page.ContentType); err == nil {
		switch mediaType {
		case "application/rss+xml", "application/atom+xml", "application/rdf+xml",
			"application/xml", "text/xml":
			return true
		case "text/html", "application/xhtml+xml":
			return false
		}
	}
	trimmed := bytes.TrimSpace(page.Body)
	for _, p := range feedPrefixes {
		if bytes.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}

func feedArticles(page crawler.Page) ([]record.ArticleCandidate, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	source := clean(parsed.Title).Or(clean(crawler.Domain(page.URL)))

	items := make([]record.ArticleCandidate, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		link := clean(item.Link)
		if !link.Present() && strings.HasPrefix(item.GUID, "http") {
			link = clean(item.GUID)
		}
		c := record.ArticleCandidate{
			Title:           clean(item.Title),
			URL:             resolveOptional(page.URL, link),
			Summary:         clean(stripTags(item.Description)),
			PublishedAt:     feedTime(item),
			SourceName:      source,
			SourceArticleID: clean(item.GUID),
			PageURL:         page.URL,
		}
		if item.Author != nil {
			c.Author = clean(item.Author.Name)
		} else if len(item.Authors) > 0 && item.Authors[0] != nil {
			c.Author = clean(item.Authors[0].Name)
		}
		if item.Image != nil {
			c.ImageURL = resolveOptional(page.URL, clean(item.Image.URL))
		}
		items = append(items, c)
	}
	return items, nil
}

func feedTime(item *gofeed.Item) record.Optional[string] {
	switch {
	case item.PublishedParsed != nil:
		return record.Some(item.PublishedParsed.UTC().Format(time.RFC3339))
	case item.UpdatedParsed != nil:
		return record.Some(item.UpdatedParsed.UTC().Format(time.RFC3339))
	}
	return clean(item.Published)
}

// stripTags flattens the HTML many feeds put in descriptions.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	return doc.Text()
}
