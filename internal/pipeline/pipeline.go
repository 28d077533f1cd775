// Package pipeline runs one discovery-and-merge cycle: crawl seeds, extract candidates, normalize,
// deduplicate against the batch and the persisted set, finalize and persist.
package pipeline

import (
	"context"
	"iter"
	"time"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawl"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

// Variant names a record flavor.
type Variant string

// Variants.
const (
	VariantRaces    Variant = "races"
	VariantArticles Variant = "articles"
)

// RunConfig is everything a run needs to know about where it reads from and writes to, resolved
// before the run starts.
type RunConfig struct {
	Variant Variant

	// Bucket names the blob container the process's store is bound to. It is logged, not
	// switched per run.
	Bucket string

	// Key is the dataset path the run reads and writes. Empty uses the engine's bound dataset.
	Key string

	PageBudget int
	Seeds      []string
}

// Result summarizes a run for the scheduler, the ledger and notification subscribers.
type Result struct {
	RunID            string         `json:"run_id"`
	Variant          Variant        `json:"variant"`
	Success          bool           `json:"success"`
	RecordsWritten   int            `json:"records_written"`
	PagesAttempted   int            `json:"pages_attempted"`
	PagesFetched     int            `json:"pages_fetched"`
	PagesFailed      int            `json:"pages_failed"`
	Candidates       map[string]int `json:"candidates"`
	Discarded        map[string]int `json:"discarded"`
	Merged           int            `json:"merged"`
	Expired          int            `json:"expired"`
	BaselineInjected int            `json:"baseline_injected"`
	Location         string         `json:"location,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       time.Time      `json:"finished_at"`
	Error            string         `json:"error,omitempty"`
}

// Runner is a variant-agnostic handle on an engine.
type Runner interface {
	Variant() Variant
	Run(ctx context.Context, cfg RunConfig) (Result, error)
	// Records returns the currently persisted dataset.
	Records(ctx context.Context) (any, error)
}

// PageSource yields fetched pages within a budget.
type PageSource interface {
	Pages(ctx context.Context, runID string, seeds []string, budget int, stats *crawl.Stats) iter.Seq[crawler.Page]
}

// Dataset is the persisted record set.
type Dataset[R any] interface {
	Key() string
	Load(ctx context.Context) ([]R, error)
	Save(ctx context.Context, records []R) (string, error)
}

// DatasetOpener opens the dataset stored under key.
type DatasetOpener[R any] func(key string) (Dataset[R], error)

// Ledger records finished runs.
type Ledger interface {
	RecordRun(ctx context.Context, result Result) error
}
