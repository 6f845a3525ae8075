package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// badRecordLimiter is implemented by cursors that support tuning the
// consecutive-bad-record threshold.
type badRecordLimiter interface {
	SetMaxBadRecords(n int)
}

// LayerConverter converts one layer at a time: derive the target
// schema, stream chunks from a cursor into a writer, finalize or abort
// the artifact. Failures are layer-scoped; the converter never returns
// an error, it returns a failed LayerResult.
type LayerConverter struct {
	repo    output.SourceRepository
	writers output.WriterFactory
	metrics output.MetricsCollector
	logger  *slog.Logger
}

// NewLayerConverter creates a layer converter.
func NewLayerConverter(
	repo output.SourceRepository,
	writers output.WriterFactory,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *LayerConverter {
	return &LayerConverter{
		repo:    repo,
		writers: writers,
		metrics: metrics,
		logger:  logger,
	}
}

// ConvertLayer runs the full lifecycle for one layer. The layer moves
// through opened, streaming and finalizing; any failure short-circuits
// to a failed result with the partial artifact removed.
func (c *LayerConverter) ConvertLayer(
	ctx context.Context,
	sourcePath string,
	layer *domain.Layer,
	outputDir string,
	chunkSize int,
	maxBadRecords int,
	tracker *Tracker,
) domain.LayerResult {
	started := time.Now()
	result := domain.LayerResult{Layer: layer.Name, State: domain.StatePending}
	logger := c.logger.With("layer", layer.Name)

	fail := func(err error) domain.LayerResult {
		result.State = domain.StateFailed
		result.Failure = err.Error()
		result.Elapsed = time.Since(started)
		c.metrics.IncLayersConverted(false)
		logger.Error("layer conversion failed", "error", err, "elapsed", result.Elapsed)
		return result
	}

	schema, err := DeriveSchema(layer)
	if err != nil {
		return fail(err)
	}

	cursor, err := c.repo.OpenCursor(ctx, sourcePath, layer.Name, chunkSize)
	if err != nil {
		return fail(err)
	}
	defer func() { _ = cursor.Close() }()

	if limiter, ok := cursor.(badRecordLimiter); ok && maxBadRecords > 0 {
		limiter.SetMaxBadRecords(maxBadRecords)
	}

	writer, err := c.writers.NewLayerWriter(schema, outputDir)
	if err != nil {
		return fail(err)
	}
	result.State = domain.StateOpened
	logger.Info("layer opened",
		"columns", schema.ColumnCount(),
		"records", layer.RecordCount,
		"chunk_size", chunkSize)

	result.State = domain.StateStreaming
	written, err := c.stream(ctx, cursor, writer, layer.Name, tracker)
	if err != nil {
		_ = writer.Abort()
		return fail(err)
	}

	// Unreadable records were skipped to keep reading, but a layer
	// that lost any record is not a successful conversion.
	if skipped := cursor.Skipped(); skipped > 0 {
		_ = writer.Abort()
		return fail(fmt.Errorf("%d unreadable record(s) skipped", skipped))
	}

	result.State = domain.StateFinalizing
	if err := writer.Close(); err != nil {
		_ = writer.Abort()
		return fail(err)
	}

	result.State = domain.StateCompleted
	result.RecordCount = written
	result.OutputFile = writer.Path()
	result.Elapsed = time.Since(started)
	if info, err := os.Stat(writer.Path()); err == nil {
		result.OutputSize = info.Size()
	}

	c.metrics.IncLayersConverted(true)
	c.metrics.AddRecordsWritten(written)
	logger.Info("layer converted",
		"records", written,
		"output", result.OutputFile,
		"size_bytes", result.OutputSize,
		"elapsed", result.Elapsed)
	return result
}

// stream pumps chunks from the cursor into the writer. Reading and
// writing overlap through a single-slot channel, so at most two chunks
// are in flight regardless of layer size.
func (c *LayerConverter) stream(
	ctx context.Context,
	cursor output.FeatureCursor,
	writer output.LayerWriter,
	layerName string,
	tracker *Tracker,
) (int64, error) {
	chunks := make(chan *domain.FeatureChunk, 1)
	var written int64

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(chunks)
		for {
			chunk, err := cursor.Next(gctx)
			if errors.Is(err, domain.ErrCursorDone) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case chunks <- chunk:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for chunk := range chunks {
			start := time.Now()
			if err := writer.Write(gctx, chunk); err != nil {
				return err
			}
			c.metrics.ObserveChunkDuration(layerName, time.Since(start))
			written += int64(chunk.Len())
			tracker.ChunkDone(layerName, int64(chunk.Len()))

			if err := gctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return written, err
	}
	return written, nil
}
