package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runcalcs-crawler/internal/clock/system"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/dataset"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	"github.com/JakeFAU/runcalcs-crawler/internal/hash/sha256"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
	"github.com/JakeFAU/runcalcs-crawler/internal/record"
	memstore "github.com/JakeFAU/runcalcs-crawler/internal/storage/memory"
)

func newArticleEngine(t *testing.T, pages map[string]crawler.Page) (*Engine[record.ArticleCandidate, record.Article], *dataset.Store[record.Article]) {
	t.Helper()
	store, err := dataset.NewStore[record.Article](memstore.NewBlobStore(), "articles.json", "", nil)
	require.NoError(t, err)
	normalizer, err := normalize.NewArticleNormalizer(sha256.New(), nil)
	require.NoError(t, err)
	engine, err := NewArticleEngine(ArticleOptions{
		Pages:      &fakePages{pages: pages},
		Dataset:    store,
		Extractor:  extract.NewArticleExtractor(nil),
		Normalizer: normalizer,
		Clock:      system.Fixed{At: runDay},
		IDs:        &counterIDs{},
	})
	require.NoError(t, err)
	return engine, store
}

func TestArticleRunFallbackExtraction(t *testing.T) {
	t.Parallel()

	page := htmlPage("https://news.example/results/spring-10k", `<html><head>
	  <title>Spring 10K Results</title>
	  <meta name="description" content="Full results from Saturday's Spring 10K.">
	</head><body><p>Results below.</p></body></html>`)
	engine, store := newArticleEngine(t, map[string]crawler.Page{page.URL: page})

	result, err := engine.Run(context.Background(), RunConfig{Variant: VariantArticles, PageBudget: 5, Seeds: []string{page.URL, page.URL}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Candidates[string(extract.MethodHeuristic)])
	assert.Equal(t, 1, result.Merged)
	assert.Zero(t, result.Expired)

	articles, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Spring 10K Results", articles[0].Title)
	assert.Equal(t, "Full results from Saturday's Spring 10K.", articles[0].Summary)
}

func TestArticleRunKeepsOldArticles(t *testing.T) {
	t.Parallel()

	engine, store := newArticleEngine(t, nil)
	require.NoError(t, func() error {
		_, err := store.Save(context.Background(), []record.Article{
			{Key: "ancient|https://news.example/1999", Title: "Ancient", SourceURL: "https://news.example/1999", PublishedAt: "1999-01-01T00:00:00Z"},
		})
		return err
	}())

	result, err := engine.Run(context.Background(), RunConfig{Variant: VariantArticles, PageBudget: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsWritten)
}

func TestSortArticles(t *testing.T) {
	t.Parallel()

	articles := []record.Article{
		{Key: "undated"},
		{Key: "old", PublishedAt: "2026-01-01T00:00:00Z"},
		{Key: "new", PublishedAt: "2026-10-01T00:00:00Z"},
		{Key: "also-undated-a"},
	}
	SortArticles(articles)
	keys := make([]string, 0, len(articles))
	for _, a := range articles {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"new", "old", "also-undated-a", "undated"}, keys)
}

func TestEngineRecordsReturnsEmptySlice(t *testing.T) {
	t.Parallel()

	engine, _ := newArticleEngine(t, nil)
	records, err := engine.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []record.Article{}, records)
	assert.Equal(t, VariantArticles, engine.Variant())
}

func TestArticleRunDropsInvalidPersistedArticles(t *testing.T) {
	t.Parallel()

	engine, store := newArticleEngine(t, nil)
	_, err := store.Save(context.Background(), []record.Article{
		{Key: "no-url", Title: "No URL"},
		{Key: "no-title", SourceURL: "https://news.example/untitled"},
		{Key: "stale", Title: "Kept  Story", SourceURL: "HTTPS://News.Example/kept#top", PublishedAt: "last week"},
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), RunConfig{Variant: VariantArticles, PageBudget: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsWritten)
	assert.Equal(t, map[string]int{
		normalize.ErrMissingURL.Error():   1,
		normalize.ErrMissingTitle.Error(): 1,
	}, result.Discarded)

	articles, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Kept Story", articles[0].Title)
	assert.Equal(t, "kept story|https://news.example/kept", articles[0].Key)
	assert.Empty(t, articles[0].PublishedAt)
}
