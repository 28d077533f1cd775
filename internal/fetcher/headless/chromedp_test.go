package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)
	_, err = NewChromedp(Config{ScrollSteps: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	assert.Equal(t, 2, cap(f.slots))
	assert.Equal(t, defaultSettleDelay, f.cfg.SettleDelay)
	assert.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)

	unlimited, err := NewChromedp(Config{SettleDelay: time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(unlimited.Close)
	assert.Nil(t, unlimited.slots)
	assert.Equal(t, time.Millisecond, unlimited.cfg.SettleDelay)
}

func TestFetchGivesUpWaitingForSlot(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	t.Cleanup(f.Close)
	f.slots <- struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, crawler.FetchRequest{URL: "https://races.example/calendar"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNetworkHeaderConversion(t *testing.T) {
	t.Parallel()

	netHeaders := toNetworkHeaders(http.Header{"X-Test": {"a", "b"}, "X-Single": {"one"}, "X-Empty": {}})
	assert.Equal(t, []string{"a", "b"}, netHeaders["X-Test"])
	assert.Equal(t, "one", netHeaders["X-Single"])
	assert.NotContains(t, netHeaders, "X-Empty")

	headers := fromNetworkHeaders(network.Headers{
		"Content-Type": "text/html",
		"Set-Cookie":   []any{"a=1", "b=2"},
		"X-Count":      3,
	})
	assert.Equal(t, "text/html", headers.Get("Content-Type"))
	assert.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	assert.Equal(t, "3", headers.Get("X-Count"))
}

func TestDocumentResponseKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500, URL: "https://cdn.example/app.js"},
	})
	doc.observe(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://races.example/calendar",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	// An iframe document arrives later.
	doc.observe(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404, URL: "https://ads.example/frame"},
	})
	doc.observe("not an event")

	status, headers, url := doc.result("https://races.example/cal", "")
	assert.Equal(t, 203, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://races.example/calendar", url)

	_, _, url = doc.result("https://races.example/cal", "https://races.example/calendar#2027")
	assert.Equal(t, "https://races.example/calendar#2027", url)
}

func TestDocumentResponseFallbacks(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	status, headers, url := doc.result("https://races.example/cal", "")
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, headers)
	assert.Equal(t, "https://races.example/cal", url)
}

func TestNoopFetcherError(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), crawler.FetchRequest{})
	require.ErrorIs(t, err, ErrDisabled)
}
