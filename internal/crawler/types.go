// Package crawler defines core types shared across subsystems.
package crawler

import (
	"errors"
	"net/http"
	"time"
)

// ErrObjectNotFound is returned by BlobStore implementations when the requested path does not exist.
var ErrObjectNotFound = errors.New("object not found")

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	RunID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Page is a successfully fetched seed handed to the extractors.
type Page struct {
	// SeedURL is the location as configured; URL is where the fetch ended up after redirects.
	SeedURL     string
	URL         string
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}
