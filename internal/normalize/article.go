package normalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// ArticleNormalizer turns article candidates into canonical articles.
type ArticleNormalizer struct {
	hasher   crawler.Hasher
	location *time.Location
}

// NewArticleNormalizer builds an ArticleNormalizer. loc may be nil for UTC.
func NewArticleNormalizer(hasher crawler.Hasher, loc *time.Location) (*ArticleNormalizer, error) {
	if hasher == nil {
		return nil, errors.New("normalize: hasher is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ArticleNormalizer{hasher: hasher, location: loc}, nil
}

// Normalize requires a title and a URL. A publication date is optional, but one that is present
// and unreadable discards the article.
func (n *ArticleNormalizer) Normalize(c record.ArticleCandidate, seenAt time.Time) (record.Article, error) {
	rawTitle, ok := c.Title.Get()
	if !ok || Title(rawTitle) == "" {
		return record.Article{}, ErrMissingTitle
	}
	rawURL, ok := c.URL.Get()
	if !ok {
		return record.Article{}, ErrMissingURL
	}
	canonical, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return record.Article{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	a := record.Article{
		Title:           display(rawTitle),
		NormalizedTitle: Title(rawTitle),
		SourceURL:       canonical,
		Summary:         display(c.Summary.OrElse("")),
		Author:          display(c.Author.OrElse("")),
		ImageURL:        canonicalURLOrEmpty(c.ImageURL.OrElse("")),
		SourceName:      display(c.SourceName.OrElse("")),
		SourceArticleID: display(c.SourceArticleID.OrElse("")),
		LastSeenAt:      seenAt.UTC(),
		LastVerifiedAt:  seenAt.UTC(),
	}
	if rawPublished, ok := c.PublishedAt.Get(); ok {
		published, err := CanonicalTimestamp(rawPublished, n.location)
		if err != nil {
			return record.Article{}, err
		}
		a.PublishedAt = published
	}
	if err := n.Identify(&a); err != nil {
		return record.Article{}, err
	}
	return a, nil
}

// Restore re-checks an article read back from the persisted dataset: it needs a title and a
// readable URL, an unreadable publication time is dropped, and Key and ID are recomputed.
func (n *ArticleNormalizer) Restore(a record.Article) (record.Article, error) {
	title := Title(a.Title)
	if title == "" {
		title = Title(a.NormalizedTitle)
	}
	if title == "" {
		return record.Article{}, ErrMissingTitle
	}
	if isBlank(a.SourceURL) {
		return record.Article{}, ErrMissingURL
	}
	canonical, err := crawler.NormalizeURL(a.SourceURL)
	if err != nil {
		return record.Article{}, fmt.Errorf("%w: %q", ErrInvalidURL, a.SourceURL)
	}
	if a.PublishedAt != "" {
		if _, err := time.Parse(time.RFC3339, a.PublishedAt); err != nil {
			a.PublishedAt = ""
		}
	}

	if display(a.Title) == "" {
		a.Title = title
	}
	a.Title = display(a.Title)
	a.NormalizedTitle = title
	a.SourceURL = canonical
	if err := n.Identify(&a); err != nil {
		return record.Article{}, err
	}
	return a, nil
}

// Identify sets Key and ID from the article's normalized title and canonical URL.
func (n *ArticleNormalizer) Identify(a *record.Article) error {
	a.Key = ArticleKey(a.NormalizedTitle, a.SourceURL)
	id, err := n.hasher.Hash([]byte(a.Key))
	if err != nil {
		return fmt.Errorf("hash article key: %w", err)
	}
	a.ID = id
	return nil
}

// ArticleKey joins the normalized title and canonical URL.
func ArticleKey(normalizedTitle, canonicalURL string) string {
	return normalizedTitle + "|" + canonicalURL
}
