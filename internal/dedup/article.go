package dedup

import (
	"github.com/JakeFAU/runcalcs-crawler/internal/merge"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// ArticlePolicy matches articles on exact normalized title and canonical URL only.
type ArticlePolicy struct{}

var _ Policy[record.Article] = ArticlePolicy{}

// Key derives the article's canonical key from its normalized title and URL.
func (ArticlePolicy) Key(a record.Article) string {
	return normalize.ArticleKey(a.NormalizedTitle, a.SourceURL)
}

// Bucket disables fuzzy matching.
func (ArticlePolicy) Bucket(record.Article) string { return "" }

// Probes disables fuzzy matching.
func (ArticlePolicy) Probes(record.Article) []string { return nil }

// Match is never consulted because articles have no fuzzy buckets.
func (ArticlePolicy) Match(a, b record.Article) bool {
	return a.NormalizedTitle == b.NormalizedTitle && a.SourceURL == b.SourceURL
}

// Merge folds incoming into survivor. Identity is unchanged by construction.
func (ArticlePolicy) Merge(survivor, incoming record.Article) record.Article {
	return merge.Article(survivor, incoming)
}
