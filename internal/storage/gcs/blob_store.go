// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
)

// Config captures the parameters required to reach the bucket.
type Config struct {
	Bucket string
	// CacheControl is set on every written object, e.g. "public, max-age=300".
	CacheControl string
}

// BlobStore reads and writes whole dataset objects in a GCS bucket.
type BlobStore struct {
	client       *storage.Client
	name         string
	cacheControl string
}

var _ crawler.BlobStore = (*BlobStore)(nil)

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client:       client,
		name:         cfg.Bucket,
		cacheControl: cfg.CacheControl,
	}, nil
}

// GetObject downloads the whole object. A missing object wraps crawler.ErrObjectNotFound.
func (s *BlobStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}
	reader, err := s.object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gcs get %s: %w", s.uri(path), crawler.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("gcs open %s: %w", s.uri(path), err)
	}
	defer reader.Close() //nolint:errcheck // read-only handle

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", s.uri(path), err)
	}
	return data, nil
}

// PutObject replaces the object in one upload and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	// Canceling the context aborts the upload and leaves the previous generation in place.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.object(path).NewWriter(ctx)
	// Datasets are small; a single request avoids resumable-upload sessions.
	writer.ChunkSize = 0
	writer.ContentType = contentType
	writer.CacheControl = s.cacheControl
	if _, err := io.Copy(writer, r); err != nil {
		cancel()
		_ = writer.Close()
		return "", fmt.Errorf("gcs write %s: %w", s.uri(path), err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("gcs commit %s: %w", s.uri(path), err)
	}
	return s.uri(path), nil
}

func (s *BlobStore) object(path string) *storage.ObjectHandle {
	return s.client.Bucket(s.name).Object(path)
}

func (s *BlobStore) uri(path string) string {
	return "gs://" + s.name + "/" + path
}
