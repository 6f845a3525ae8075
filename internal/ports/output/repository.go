package output

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
)

// SourceRepository defines the secondary port for geodatabase access.
// The underlying driver is not safe for concurrent cursors on one
// handle, so callers must run at most one cursor per open source at a
// time.
type SourceRepository interface {
	// Open opens a container and returns its catalog snapshot: layers
	// in container-native order with schema, geometry type, CRS and
	// record counts. No feature data is materialized.
	Open(ctx context.Context, path string) (*domain.Source, error)

	// Close releases the handle for a container. All cursors opened
	// from it must be closed first.
	Close(ctx context.Context, path string) error

	// OpenCursor opens a single-pass forward cursor over one layer.
	// chunkSize must be >= 1. The cursor is not restartable; open a
	// new one to reread.
	OpenCursor(ctx context.Context, path, layerName string, chunkSize int) (FeatureCursor, error)

	// ComputeExtent scans a layer's geometry column and returns the
	// union of per-feature bounding boxes. A layer with zero
	// geometries yields (nil, nil).
	ComputeExtent(ctx context.Context, path, layerName string) (*domain.Extent, error)
}

// FeatureCursor is a finite, single-pass sequence of feature chunks.
// Next never reads ahead of the chunk being requested; the caller
// bounds memory by bounding the pull rate.
type FeatureCursor interface {
	// Next pulls the next chunk. It returns domain.ErrCursorDone once
	// the layer is exhausted; further calls keep returning it.
	Next(ctx context.Context) (*domain.FeatureChunk, error)

	// Skipped returns the number of unreadable records skipped so far.
	Skipped() int64

	// Close releases the cursor.
	Close() error
}
