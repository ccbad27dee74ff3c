// Package uuid generates the X-Request-ID values the HTTP API attaches to
// requests that arrive without one. The ID is echoed in the response header
// and logged on the request's completion line.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 strings, which sort by creation time so request
// logs can be ordered by ID.
type Generator struct{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a fresh request ID.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
