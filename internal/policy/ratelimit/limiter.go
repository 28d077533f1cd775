// Package ratelimit paces fetches per domain with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive rate means no limit.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	// DomainRPS overrides the rate for individual domains, keyed without "www.".
	DomainRPS map[string]float64
}

// Limiter keeps one token bucket per domain. "www.example.com" and "example.com" share a bucket.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	rate      rate.Limit
	burst     int
	overrides map[string]rate.Limit
}

var _ crawler.Limiter = (*Limiter)(nil)

// New creates a Limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		rate:      toLimit(cfg.DefaultRPS),
		burst:     max(cfg.DefaultBurst, 1),
		overrides: make(map[string]rate.Limit, len(cfg.DomainRPS)),
	}
	for domain, rps := range cfg.DomainRPS {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), "www.")
		if domain != "" {
			l.overrides[domain] = toLimit(rps)
		}
	}
	return l
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

// Wait blocks until the URL's domain may be fetched again or ctx ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	domain := crawler.Domain(rawURL)
	if domain == "" {
		domain = "unknown"
	}

	start := time.Now()
	if err := l.bucket(domain).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", domain, err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(domain, d)
	}
	return nil
}

// Limit reports the rate applied to domain.
func (l *Limiter) Limit(domain string) rate.Limit {
	if r, ok := l.overrides[domain]; ok {
		return r
	}
	return l.rate
}

func (l *Limiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[domain]
	if !ok {
		b = rate.NewLimiter(l.Limit(domain), l.burst)
		l.buckets[domain] = b
	}
	return b
}
