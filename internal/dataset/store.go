// Package dataset reads and writes the persisted record set as a single JSON document.
package dataset

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/runcalcs-crawler/internal/crawler"
	"github.com/JakeFAU/runcalcs-crawler/internal/logging"
)

const defaultContentType = "application/json"

// Store persists an ordered sequence of records of type R under one blob key.
type Store[R any] struct {
	blobs       crawler.BlobStore
	key         string
	contentType string
	logger      *zap.Logger
}

// NewStore builds a Store writing to key in blobs.
func NewStore[R any](blobs crawler.BlobStore, key, contentType string, logger *zap.Logger) (*Store[R], error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("dataset key is required")
	}
	if contentType == "" {
		contentType = defaultContentType
	}
	return &Store[R]{
		blobs:       blobs,
		key:         key,
		contentType: contentType,
		logger:      logging.OrNop(logger),
	}, nil
}

// Key returns the blob path the store reads and writes.
func (s *Store[R]) Key() string {
	return s.key
}

// Load returns the previously persisted records. A missing or undecodable document yields an empty
// set; only storage failures are returned as errors.
func (s *Store[R]) Load(ctx context.Context) ([]R, error) {
	data, err := s.blobs.GetObject(ctx, s.key)
	if err != nil {
		if errors.Is(err, crawler.ErrObjectNotFound) {
			s.logger.Info("no persisted dataset, starting empty", zap.String("key", s.key))
			return nil, nil
		}
		return nil, fmt.Errorf("read dataset %s: %w", s.key, err)
	}
	records, err := Decode[R](data)
	if err != nil {
		s.logger.Warn("persisted dataset is corrupt, starting empty",
			zap.String("key", s.key),
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return nil, nil
	}
	return records, nil
}

// Save replaces the persisted document with records and returns the written URI.
func (s *Store[R]) Save(ctx context.Context, records []R) (string, error) {
	if records == nil {
		records = []R{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode dataset: %w", err)
	}
	uri, err := s.blobs.PutObject(ctx, s.key, s.contentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("write dataset %s: %w", s.key, err)
	}
	return uri, nil
}

// Decode parses a persisted document: either a JSON array of records or an object holding the array
// under "records".
func Decode[R any](data []byte) ([]R, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	switch trimmed[0] {
	case '[':
		var records []R
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		return records, nil
	case '{':
		var envelope struct {
			Records *[]R `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if envelope.Records == nil {
			return nil, fmt.Errorf("envelope has no records field")
		}
		return *envelope.Records, nil
	default:
		return nil, fmt.Errorf("unexpected leading byte %q", trimmed[0])
	}
}
