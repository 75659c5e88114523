// Package generator defines the lesson-document engine contract and its
// shared error vocabulary. Concrete backends live in subpackages.
package generator

import (
	"context"

	"github.com/modulpintar/modulpintar-server/internal/apperr"
)

// ErrContentFiltered marks output blocked by the upstream safety layer.
var ErrContentFiltered = apperr.New(apperr.ContentFiltered, "generation blocked by content safety filter")

// ErrEmptyResponse marks an upstream reply that carried no usable text.
var ErrEmptyResponse = apperr.New(apperr.GeneratorFailure, "generator produced an empty response")

// Generator produces a complete lesson document in one call.
type Generator interface {
	Generate(ctx context.Context, spec LessonSpec) (string, error)
	Name() string
}

// Chunk is one streamed fragment of a document. Err terminates the stream
// when non-nil; Text is empty in that case.
type Chunk struct {
	Text string
	Err  error
}

// StreamingGenerator produces the document incrementally. The returned
// channel closes after the final chunk. Implementations stop writing when
// ctx is done.
type StreamingGenerator interface {
	Generator
	GenerateStream(ctx context.Context, spec LessonSpec) (<-chan Chunk, error)
}
