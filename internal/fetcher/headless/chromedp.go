// Package headless renders seed pages in Chrome for listings that only materialize after scripts run.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultSettleDelay       = 500 * time.Millisecond
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after the body is ready, and after each scroll, for late scripts.
	SettleDelay time.Duration
	// ScrollSteps is the most times the page is scrolled to the bottom so lazy calendar lists load.
	// Scrolling stops early once the page stops growing.
	ScrollSteps int
}

// Fetcher implements crawler.Fetcher using chromedp and headless Chrome. The browser process is
// started lazily by the first Fetch and shared by every tab until Close.
type Fetcher struct {
	cfg         Config
	slots       chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("headless: max parallel must be >= 0, got %d", cfg.MaxParallel)
	}
	if cfg.ScrollSteps < 0 {
		return nil, fmt.Errorf("headless: scroll steps must be >= 0, got %d", cfg.ScrollSteps)
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		// Extraction only needs the DOM.
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.Flag("enable-automation", false),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser down.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch navigates with a headless browser and returns the rendered DOM. The status and headers
// are those of the main document response; the body is always reported as HTML.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.slots != nil {
		select {
		case f.slots <- struct{}{}:
			defer func() { <-f.slots }()
		case <-ctx.Done():
			return crawler.FetchResponse{}, fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
		}
	}

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	// Stop the tab when the caller gives up as well as on the navigation deadline.
	stop := context.AfterFunc(ctx, closeTab)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	var html, finalURL string
	if err := chromedp.Run(tabCtx, f.actions(request.Headers, request.URL, &html, &finalURL)...); err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("headless render %s: %w", request.URL, err)
	}

	status, headers, url := doc.result(request.URL, finalURL)
	headers.Set("Content-Type", "text/html; charset=utf-8")
	return crawler.FetchResponse{
		URL:          url,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) actions(headers http.Header, url string, html, finalURL *string) []chromedp.Action {
	return []chromedp.Action{
		f.prepare(headers),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		f.scrollUntilStable(),
		chromedp.Location(finalURL),
		chromedp.OuterHTML("html", html, chromedp.ByQuery),
	}
}

func (f *Fetcher) prepare(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

const (
	scrollToBottomJS = `window.scrollTo(0, document.body.scrollHeight)`
	pageHeightJS     = `document.body.scrollHeight`
)

// scrollUntilStable scrolls to the bottom up to ScrollSteps times and stops as soon as a scroll
// no longer makes the page taller.
func (f *Fetcher) scrollUntilStable() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var height float64
		if f.cfg.ScrollSteps == 0 {
			return nil
		}
		if err := chromedp.Evaluate(pageHeightJS, &height).Do(ctx); err != nil {
			return fmt.Errorf("measure page: %w", err)
		}
		for range f.cfg.ScrollSteps {
			if err := chromedp.Evaluate(scrollToBottomJS, nil).Do(ctx); err != nil {
				return fmt.Errorf("scroll page: %w", err)
			}
			if err := chromedp.Sleep(f.cfg.SettleDelay).Do(ctx); err != nil {
				return err
			}
			var next float64
			if err := chromedp.Evaluate(pageHeightJS, &next).Do(ctx); err != nil {
				return fmt.Errorf("measure page: %w", err)
			}
			if next <= height {
				return nil
			}
			height = next
		}
		return nil
	})
}

// documentResponse remembers the first main document response of a tab. Later document
// responses come from iframes and are ignored, as are sub-resources.
type documentResponse struct {
	mu      sync.Mutex
	seen    bool
	status  int
	headers http.Header
	url     string
}

func (d *documentResponse) observe(ev any) {
	event, ok := ev.(*network.EventResponseReceived)
	if !ok || event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(event.Response.Status)
	d.url = event.Response.URL
	d.headers = fromNetworkHeaders(event.Response.Headers)
}

// result falls back to the browser location, then the requested URL, and to 200 when no
// document response was observed.
func (d *documentResponse) result(requestURL, finalURL string) (int, http.Header, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := d.headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	switch {
	case finalURL != "":
		return status, headers, finalURL
	case d.url != "":
		return status, headers, d.url
	default:
		return status, headers, requestURL
	}
}

func fromNetworkHeaders(src network.Headers) http.Header {
	headers := make(http.Header, len(src))
	for key, value := range src {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			headers[key] = values[0]
		default:
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
