package record

import "time"

// Article is the canonical, persisted form of a running news article.
type Article struct {
	ID  string `json:"id"`
	Key string `json:"key"`

	Title           string `json:"title"`
	NormalizedTitle string `json:"normalized_title"`
	SourceURL       string `json:"source_url"`
	PublishedAt     string `json:"published_at,omitempty"`

	Summary  string `json:"summary,omitempty"`
	Author   string `json:"author,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	SourceName      string    `json:"source_name,omitempty"`
	SourceArticleID string    `json:"source_article_id,omitempty"`
	LastSeenAt      time.Time `json:"last_seen_at,omitzero"`
	LastVerifiedAt  time.Time `json:"last_verified_at,omitzero"`
}

// ArticleCandidate is one article observation extracted from a page or feed.
type ArticleCandidate struct {
	Title           Optional[string]
	URL             Optional[string]
	Summary         Optional[string]
	PublishedAt     Optional[string]
	Author          Optional[string]
	ImageURL        Optional[string]
	SourceName      Optional[string]
	SourceArticleID Optional[string]
	PageURL         string
}
