// Package crawl walks a budgeted list of seed pages and yields what it could fetch.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
	"github.com/JakeFAU/runcalcs-crawler/internal/metrics"
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Config controls crawl behavior.
type Config struct {
	// Concurrency above one fetches seeds through a bounded worker pool.
	Concurrency int
	PageTimeout time.Duration
	Headers     http.Header
	Retry       RetryPolicy
	// Policy rejects seeds before they are planned. Nil admits every seed.
	Policy crawler.FetchPolicy
}

// Stats counts what happened to the planned seeds. Fields are only safe to read once the
// page sequence has been fully consumed.
type Stats struct {
	Attempted int
	Fetched   int
	Failed    int
	Promoted  int
}

// Crawler fetches seed pages with an optional headless promotion step.
type Crawler struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	limiter  crawler.Limiter
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
}

// New builds a Crawler. headless, detector and limiter may be nil.
func New(
	probe crawler.Fetcher,
	headless crawler.Fetcher,
	detector crawler.HeadlessDetector,
	limiter crawler.Limiter,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Crawler, error) {
	if probe == nil {
		return nil, errors.New("crawl: probe fetcher is required")
	}
	if clock == nil {
		return nil, errors.New("crawl: clock is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Crawler{
		probe:    probe,
		headless: headless,
		detector: detector,
		limiter:  limiter,
		clock:    clock,
		cfg:      cfg,
		logger:   logging.OrNop(logger).Named("crawl"),
	}, nil
}

// Plan returns the seeds that will be attempted: blanks, duplicates, unparseable URLs and seeds
// the policy rejects are dropped without consuming budget, then the list is truncated to budget
// in seed order. policy may be nil.
func Plan(seeds []string, budget int, policy crawler.FetchPolicy, logger *zap.Logger) []string {
	logger = logging.OrNop(logger)
	if budget <= 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(seeds))
	plan := make([]string, 0, min(len(seeds), budget))
	for _, raw := range seeds {
		seed := strings.TrimSpace(raw)
		if seed == "" {
			continue
		}
		normalized, err := crawler.NormalizeURL(seed)
		if err != nil {
			logger.Warn("Skipping invalid seed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		if policy != nil && !policy.AllowFetch(normalized) {
			logger.Info("Skipping blocked seed", zap.String("seed", seed))
			continue
		}
		plan = append(plan, seed)
		if len(plan) == budget {
			break
		}
	}
	return plan
}

// Pages lazily fetches at most budget seeds and yields each page that came back with a 2xx
// status. Failures are logged and skipped. Pages are yielded in seed order. stats may be nil.
func (c *Crawler) Pages(ctx context.Context, runID string, seeds []string, budget int, stats *Stats) iter.Seq[crawler.Page] {
	if stats == nil {
		stats = &Stats{}
	}
	plan := Plan(seeds, budget, c.cfg.Policy, c.logger)
	if c.cfg.Concurrency > 1 && len(plan) > 1 {
		return c.pooled(ctx, runID, plan, stats)
	}
	return func(yield func(crawler.Page) bool) {
		for _, seed := range plan {
			if ctx.Err() != nil {
				return
			}
			stats.Attempted++
			page, promoted, err := c.fetchPage(ctx, runID, seed)
			if promoted {
				stats.Promoted++
			}
			if !c.record(seed, err, stats) {
				continue
			}
			if !yield(page) {
				return
			}
		}
	}
}

type outcome struct {
	page     crawler.Page
	promoted bool
	err      error
}

// pooled fans the plan out to a fixed number of workers. Each seed gets a one-slot result
// channel so the consumer can yield in plan order without blocking the workers.
func (c *Crawler) pooled(ctx context.Context, runID string, plan []string, stats *Stats) iter.Seq[crawler.Page] {
	return func(yield func(crawler.Page) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		type job struct {
			seed string
			out  chan<- outcome
		}
		slots := make([]chan outcome, len(plan))
		for i := range slots {
			slots[i] = make(chan outcome, 1)
		}
		jobs := make(chan job)
		var wg sync.WaitGroup
		for range min(c.cfg.Concurrency, len(plan)) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range jobs {
					page, promoted, err := c.fetchPage(ctx, runID, j.seed)
					j.out <- outcome{page: page, promoted: promoted, err: err}
				}
			}()
		}
		go func() {
			defer close(jobs)
			for i, seed := range plan {
				select {
				case jobs <- job{seed: seed, out: slots[i]}:
				case <-ctx.Done():
					return
				}
			}
		}()
		// Cancel before waiting so workers abandon in-flight fetches on early return.
		defer wg.Wait()
		defer cancel()

		for i, seed := range plan {
			var res outcome
			select {
			case res = <-slots[i]:
			case <-ctx.Done():
				return
			}
			stats.Attempted++
			if res.promoted {
				stats.Promoted++
			}
			if !c.record(seed, res.err, stats) {
				continue
			}
			if !yield(res.page) {
				return
			}
		}
	}
}

// record updates stats and metrics for one attempt and reports whether it produced a page.
func (c *Crawler) record(seed string, err error, stats *Stats) bool {
	if err != nil {
		stats.Failed++
		metrics.ObserveCrawl(seed, "failed", 0)
		c.logger.Warn("Skipping seed", zap.String("seed", seed), zap.Error(err))
		return false
	}
	stats.Fetched++
	return true
}

// fetchPage spends one budget unit on seed, retrying transient failures per the retry policy.
// PageTimeout bounds the whole unit, retries and backoff included.
func (c *Crawler) fetchPage(ctx context.Context, runID, seed string) (crawler.Page, bool, error) {
	if c.cfg.PageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PageTimeout)
		defer cancel()
	}
	var (
		page     crawler.Page
		promoted bool
		err      error
	)
	for attempt := 0; ; attempt++ {
		page, promoted, err = c.fetchOnce(ctx, runID, seed)
		if !c.cfg.Retry.ShouldRetry(err, attempt) {
			break
		}
		c.logger.Debug("Retrying seed", zap.String("seed", seed), zap.Int("attempt", attempt+1), zap.Error(err))
		if serr := sleep(ctx, c.cfg.Retry.Backoff(attempt)); serr != nil {
			return crawler.Page{}, promoted, fmt.Errorf("retry backoff: %w", serr)
		}
	}
	if err != nil {
		return crawler.Page{}, promoted, err
	}
	metrics.ObserveCrawl(seed, "ok", len(page.Body))
	return page, promoted, nil
}

func (c *Crawler) fetchOnce(ctx context.Context, runID, seed string) (crawler.Page, bool, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, seed); err != nil {
			return crawler.Page{}, false, fmt.Errorf("limiter: %w", err)
		}
	}

	req := crawler.FetchRequest{RunID: runID, URL: seed, Headers: c.cfg.Headers}
	resp, err := c.probe.Fetch(ctx, req)
	if err != nil {
		return crawler.Page{}, false, fmt.Errorf("fetch %s: %w", seed, err)
	}

	promoted := false
	if c.headless != nil && c.detector != nil && c.detector.ShouldPromote(resp) {
		rendered, herr := c.headless.Fetch(ctx, req)
		switch {
		case herr != nil:
			c.logger.Debug("Headless promotion failed; keeping static response",
				zap.String("seed", seed), zap.Error(herr))
		case !isSuccess(rendered.StatusCode):
			c.logger.Debug("Headless promotion returned non-2xx; keeping static response",
				zap.String("seed", seed), zap.Int("status", rendered.StatusCode))
		default:
			resp = rendered
			promoted = true
		}
	}

	if !isSuccess(resp.StatusCode) {
		return crawler.Page{}, promoted, &StatusError{URL: seed, Code: resp.StatusCode}
	}
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = seed
	}
	return crawler.Page{
		SeedURL:     seed,
		URL:         finalURL,
		ContentType: resp.Headers.Get("Content-Type"),
		Body:        resp.Body,
		FetchedAt:   c.clock.Now(),
	}, promoted, nil
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
