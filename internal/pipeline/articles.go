package pipeline

import (
	"cmp"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/dedup"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// ArticleOptions wires an article engine.
type ArticleOptions struct {
	Pages      PageSource
	Dataset    Dataset[record.Article]
	Extractor  *extract.ArticleExtractor
	Normalizer *normalize.ArticleNormalizer
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
	Reporter   *Reporter
	Logger     *zap.Logger

	// Open resolves a run key other than Dataset's; nil rejects such runs.
	Open DatasetOpener[record.Article]
}

// NewArticleEngine builds the article pipeline. Articles never expire.
func NewArticleEngine(opts ArticleOptions) (*Engine[record.ArticleCandidate, record.Article], error) {
	if opts.Extractor == nil || opts.Normalizer == nil {
		return nil, errors.New("pipeline: article extractor and normalizer are required")
	}
	e := &Engine[record.ArticleCandidate, record.Article]{
		variant:   VariantArticles,
		pages:     opts.Pages,
		dataset:   opts.Dataset,
		extract:   opts.Extractor.Extract,
		normalize: opts.Normalizer.Normalize,
		restore:   opts.Normalizer.Restore,
		open:      opts.Open,
		policy:    dedup.ArticlePolicy{},
		finalize: func(ix *dedup.Index[record.Article], _ time.Time, _ *Result) []record.Article {
			records := ix.Records()
			SortArticles(records)
			return records
		},
		clock:    opts.Clock,
		ids:      opts.IDs,
		reporter: opts.Reporter,
		logger:   newLogger(opts.Logger, VariantArticles),
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// SortArticles orders articles newest first; undated articles sort last, then by key.
func SortArticles(articles []record.Article) {
	slices.SortFunc(articles, func(a, b record.Article) int {
		switch {
		case a.PublishedAt == "" && b.PublishedAt != "":
			return 1
		case a.PublishedAt != "" && b.PublishedAt == "":
			return -1
		}
		return cmp.Or(cmp.Compare(b.PublishedAt, a.PublishedAt), cmp.Compare(a.Key, b.Key))
	})
}
