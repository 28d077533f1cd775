// Package crawler holds the types and interfaces shared by the fetch, extraction and persistence
// layers. Implementations live in sibling packages (fetcher/colly, storage/gcs, ...) so the pipeline
// can be exercised with fakes.
package crawler
