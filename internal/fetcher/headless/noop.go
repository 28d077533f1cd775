package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

// ErrDisabled is returned by Noop for every promotion.
var ErrDisabled = errors.New("headless rendering unavailable")

// Noop stands in for the browser when it could not be configured. Promotions fail with
// ErrDisabled and the crawler keeps the static page.
type Noop struct{}

var _ crawler.Fetcher = Noop{}

// NewNoop returns a Noop fetcher.
func NewNoop() Noop {
	return Noop{}
}

// Fetch always returns ErrDisabled.
func (Noop) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, ErrDisabled
}
