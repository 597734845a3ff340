// Package uuid issues request ids for API tracing and runner ids for job
// claims. Job and summary ids are assigned by the store.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator implements crawler.IDGenerator with time-ordered UUIDv7 values.
type Generator struct{}

// NewUUIDGenerator returns a Generator.
func NewUUIDGenerator() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string. Request ids sort by arrival in logs.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate request id: %w", err)
	}
	return id.String(), nil
}

// NewRunnerID returns "runner-<index>-<uuid>". A job row records the runner
// that claimed it, and the suffix keeps a restarted pool slot from matching
// a claim left by the previous process.
func (g Generator) NewRunnerID(index int) (string, error) {
	id, err := g.NewID()
	if err != nil {
		return "", fmt.Errorf("runner %d: %w", index, err)
	}
	return fmt.Sprintf("runner-%d-%s", index, id), nil
}
