package extract

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// ArticleExtractor pulls article candidates out of news pages and RSS/Atom feeds.
type ArticleExtractor struct {
	logger *zap.Logger
}

// NewArticleExtractor builds an ArticleExtractor.
func NewArticleExtractor(logger *zap.Logger) *ArticleExtractor {
	return &ArticleExtractor{logger: logging.OrNop(logger).Named("extract.articles")}
}

// Extract reads feeds item by item; HTML pages go through JSON-LD first and the page head second.
func (e *ArticleExtractor) Extract(page crawler.Page) Outcome[record.ArticleCandidate] {
	if isFeed(page) {
		items, err := feedArticles(page)
		if err != nil {
			e.logger.Warn("Unparseable feed", zap.String("url", page.URL), zap.Error(err))
			return none[record.ArticleCandidate]()
		}
		if len(items) == 0 {
			return none[record.ArticleCandidate]()
		}
		return structured(items)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		e.logger.Warn("Unparseable page", zap.String("url", page.URL), zap.Error(err))
		return none[record.ArticleCandidate]()
	}
	source := crawler.Domain(page.URL)
	if found := structuredArticles(doc, page, source); len(found) > 0 {
		return structured(found)
	}
	if c, ok := e.heuristicArticle(doc, page, source); ok {
		return heuristic([]record.ArticleCandidate{c})
	}
	return none[record.ArticleCandidate]()
}

var articleTypes = []string{
	"Article", "NewsArticle", "BlogPosting", "Report", "ReportageNewsArticle",
	"AnalysisNewsArticle", "LiveBlogPosting", "OpinionNewsArticle",
}

func structuredArticles(doc *goquery.Document, page crawler.Page, source string) []record.ArticleCandidate {
	var found []record.ArticleCandidate
	for _, n := range jsonLDNodes(doc) {
		if !n.is(articleTypes...) {
			continue
		}
		c := record.ArticleCandidate{
			Title:           n.text("headline").Or(n.text("name")),
			URL:             resolveOptional(page.URL, n.text("url").Or(n.text("mainEntityOfPage"))),
			Summary:         n.text("description"),
			PublishedAt:     n.text("datePublished").Or(n.text("dateCreated")),
			Author:          n.text("author"),
			ImageURL:        resolveOptional(page.URL, imageURL(n["image"])),
			SourceName:      n.child("publisher").text("name").Or(clean(source)),
			SourceArticleID: n.text("identifier").Or(n.text("@id")),
			PageURL:         page.URL,
		}
		if !c.Title.Present() {
			continue
		}
		found = append(found, c)
	}
	// A single article without its own url is the page itself.
	if len(found) == 1 && !found[0].URL.Present() {
		found[0].URL = clean(canonicalURL(doc, page.URL))
	}
	return found
}

func (e *ArticleExtractor) heuristicArticle(doc *goquery.Document, page crawler.Page, source string) (record.ArticleCandidate, bool) {
	title := clean(firstText(doc, "title")).
		Or(clean(metaContent(doc, `meta[property='og:title']`))).
		Or(clean(firstText(doc, "h1")))
	if !title.Present() {
		return record.ArticleCandidate{}, false
	}
	summary := clean(metaContent(doc, `meta[name='description']`, `meta[property='og:description']`))
	if !summary.Present() {
		summary = clean(readabilityExcerpt(page))
	}
	published := clean(metaContent(doc, `meta[property='article:published_time']`, `meta[name='date']`))
	if !published.Present() {
		if v, ok := doc.Find("time[datetime]").First().Attr("datetime"); ok {
			published = clean(v)
		}
	}
	return record.ArticleCandidate{
		Title:       title,
		URL:         clean(canonicalURL(doc, page.URL)),
		Summary:     summary,
		PublishedAt: published,
		Author:      clean(metaContent(doc, `meta[name='author']`, `meta[property='article:author']`)),
		ImageURL:    resolveOptional(page.URL, clean(metaContent(doc, `meta[property='og:image']`))),
		SourceName:  clean(metaContent(doc, `meta[property='og:site_name']`)).Or(clean(source)),
		PageURL:     page.URL,
	}, true
}

// canonicalURL prefers the canonical link, then og:url, then the fetched URL.
func canonicalURL(doc *goquery.Document, pageURL string) string {
	if href, ok := doc.Find(`link[rel='canonical']`).First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		return resolveURL(pageURL, href)
	}
	if og := metaContent(doc, `meta[property='og:url']`); og != "" {
		return resolveURL(pageURL, og)
	}
	return pageURL
}

func imageURL(v any) record.Optional[string] {
	switch val := v.(type) {
	case string:
		return clean(val)
	case map[string]any:
		n := node(val)
		return n.text("url").Or(n.text("contentUrl")).Or(n.text("@id"))
	case []any:
		for _, item := range val {
			if u := imageURL(item); u.Present() {
				return u
			}
		}
	}
	return record.None[string]()
}

// readabilityExcerpt runs readability over the page and returns its excerpt, or "" when it
// produces nothing.
func readabilityExcerpt(page crawler.Page) string {
	parsedURL, err := url.Parse(page.URL)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(bytes.NewReader(page.Body), parsedURL)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(article.Excerpt)
}
