package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawl"
	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/dedup"
	"github.com/JakeFAU/runcalcs-crawler/internal/extract"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/metrics"
	"github.com/JakeFAU/runcalcs-crawler/internal/normalize"
)

// finalizer turns the deduplicated set into the records to persist.
type finalizer[R any] func(ix *dedup.Index[R], now time.Time, result *Result) []R

// Engine is the variant-generic pipeline. C is the raw candidate type, R the canonical record.
// restore re-checks each persisted record before it joins the index; open resolves a run's
// destination key to a dataset and may be nil, which binds every run to dataset.
type Engine[C, R any] struct {
	variant   Variant
	pages     PageSource
	dataset   Dataset[R]
	extract   func(crawler.Page) extract.Outcome[C]
	normalize func(C, time.Time) (R, error)
	restore   func(R) (R, error)
	open      DatasetOpener[R]
	policy    dedup.Policy[R]
	finalize  finalizer[R]
	clock     crawler.Clock
	ids       crawler.IDGenerator
	reporter  *Reporter
	logger    *zap.Logger
}

func (e *Engine[C, R]) validate() error {
	switch {
	case e.pages == nil:
		return errors.New("pipeline: page source is required")
	case e.dataset == nil:
		return errors.New("pipeline: dataset is required")
	case e.restore == nil:
		return errors.New("pipeline: restore is required")
	case e.clock == nil:
		return errors.New("pipeline: clock is required")
	case e.ids == nil:
		return errors.New("pipeline: id generator is required")
	}
	return nil
}

// Variant reports the record flavor.
func (e *Engine[C, R]) Variant() Variant {
	return e.variant
}

// Records returns the persisted dataset.
func (e *Engine[C, R]) Records(ctx context.Context) (any, error) {
	records, err := e.dataset.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	if records == nil {
		records = []R{}
	}
	return records, nil
}

// Run executes one cycle. Page and candidate failures are absorbed; only dataset read and write
// failures fail the run. The result is reported either way.
func (e *Engine[C, R]) Run(ctx context.Context, cfg RunConfig) (Result, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("generate run id: %w", err)
	}
	now := e.clock.Now()
	result := Result{
		RunID:      runID,
		Variant:    e.variant,
		Candidates: map[string]int{},
		Discarded:  map[string]int{},
		StartedAt:  now,
	}
	logger := e.logger.With(zap.String("run_id", runID), zap.String("variant", string(e.variant)))
	logger.Info("Run started",
		zap.Int("page_budget", cfg.PageBudget),
		zap.Int("seeds", len(cfg.Seeds)),
		zap.String("bucket", cfg.Bucket),
		zap.String("key", cfg.Key))

	location, runErr := e.run(ctx, cfg, runID, now, &result, logger)
	result.FinishedAt = e.clock.Now()
	result.Location = location
	result.Success = runErr == nil
	if runErr != nil {
		result.Error = runErr.Error()
		logger.Error("Run failed", zap.Error(runErr))
	} else {
		logger.Info("Run finished",
			zap.Int("records_written", result.RecordsWritten),
			zap.Int("pages_fetched", result.PagesFetched),
			zap.Int("pages_failed", result.PagesFailed),
			zap.Int("merged", result.Merged),
			zap.Int("expired", result.Expired),
			zap.Int("baseline_injected", result.BaselineInjected),
			zap.String("location", location))
	}
	metrics.ObserveRun(string(e.variant), result.Success, result.RecordsWritten,
		result.FinishedAt.Sub(result.StartedAt), result.FinishedAt)
	if e.reporter != nil {
		// Reporting outlives a canceled run context so failures still reach subscribers.
		e.reporter.Report(context.WithoutCancel(ctx), result)
	}
	return result, runErr
}

// datasetFor returns the dataset a run writes to. An empty key means the bound dataset.
func (e *Engine[C, R]) datasetFor(key string) (Dataset[R], error) {
	if key == "" || key == e.dataset.Key() {
		return e.dataset, nil
	}
	if e.open == nil {
		return nil, fmt.Errorf("dataset key %q differs from bound key %q", key, e.dataset.Key())
	}
	ds, err := e.open(key)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", key, err)
	}
	return ds, nil
}

func (e *Engine[C, R]) run(ctx context.Context, cfg RunConfig, runID string, now time.Time, result *Result, logger *zap.Logger) (string, error) {
	ds, err := e.datasetFor(cfg.Key)
	if err != nil {
		return "", err
	}
	persisted, err := ds.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load dataset: %w", err)
	}

	ix := dedup.NewIndex(e.policy)
	var stats crawl.Stats
	for page := range e.pages.Pages(ctx, runID, cfg.Seeds, cfg.PageBudget, &stats) {
		out := e.extract(page)
		logger.Debug("Extracted page",
			zap.String("url", page.URL),
			zap.String("method", string(out.Method)),
			zap.Int("candidates", len(out.Candidates)))
		for _, candidate := range out.Candidates {
			result.Candidates[string(out.Method)]++
			metrics.ObserveCandidate(string(e.variant), string(out.Method))
			rec, err := e.normalize(candidate, now)
			if err != nil {
				reason := e.discard(result, err)
				logger.Warn("Discarding candidate", zap.String("url", page.URL), zap.String("reason", reason), zap.Error(err))
				continue
			}
			if ix.Add(rec) {
				result.Merged++
			}
		}
	}
	result.PagesAttempted = stats.Attempted
	result.PagesFetched = stats.Fetched
	result.PagesFailed = stats.Failed
	if stats.Attempted > 0 && stats.Fetched == 0 {
		logger.Warn("Every seed failed; continuing with persisted and baseline records")
	}

	for i, stored := range persisted {
		rec, err := e.restore(stored)
		if err != nil {
			reason := e.discard(result, err)
			logger.Warn("Dropping persisted record", zap.Int("index", i), zap.String("reason", reason), zap.Error(err))
			continue
		}
		if ix.Add(rec) {
			result.Merged++
		}
	}

	records := e.finalize(ix, now, result)
	location, err := ds.Save(ctx, records)
	if err != nil {
		return "", fmt.Errorf("save dataset: %w", err)
	}
	result.RecordsWritten = len(records)
	return location, nil
}

// discard counts a rejected candidate or persisted record and returns its reason label.
func (e *Engine[C, R]) discard(result *Result, err error) string {
	reason := normalize.Reason(err)
	result.Discarded[reason]++
	metrics.ObserveDiscard(string(e.variant), reason)
	return reason
}

func newLogger(logger *zap.Logger, variant Variant) *zap.Logger {
	return logging.OrNop(logger).Named("pipeline." + string(variant))
}
