// Package uuid generates run identifiers attached to every log line of a CLI invocation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUIDv7 strings.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// MustRunID returns a fresh run identifier, falling back to a random UUIDv4
// when the v7 clock sequence cannot be read.
func (g Generator) MustRunID() string {
	if id, err := g.NewID(); err == nil {
		return id
	}
	return uuid.NewString()
}
