// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator returns version 7 UUIDs so run IDs sort by start time in the run ledger. If the
// time-ordered variant cannot be produced it falls back to a random version 4 UUID.
type Generator struct{}

// NewUUIDGenerator creates a new Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a new run ID.
func (Generator) NewID() (string, error) {
	if id, err := uuid.NewV7(); err == nil {
		return id.String(), nil
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
