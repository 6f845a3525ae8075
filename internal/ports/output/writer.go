package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// LayerWriter appends feature chunks to one columnar artifact. Chunks
// must be written in pull order; the writer never reorders records.
type LayerWriter interface {
	// Write encodes one chunk and appends it to the artifact.
	Write(ctx context.Context, chunk *domain.FeatureChunk) error

	// Close flushes and finalizes the artifact. After Close the file
	// at Path is a valid, complete artifact.
	Close() error

	// Abort discards the partial artifact. Safe to call after a
	// failed Write; never leaves a truncated file behind.
	Abort() error

	// Path returns the artifact's file path.
	Path() string
}

// WriterFactory creates layer writers for a target schema.
type WriterFactory interface {
	// NewLayerWriter creates a writer for one layer. The artifact file
	// name is derived deterministically from the schema's layer name.
	NewLayerWriter(schema *domain.TargetSchema, outputDir string) (LayerWriter, error)
}
