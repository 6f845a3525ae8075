package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// DefaultChunkSize is used when a request does not set a chunk size.
const DefaultChunkSize = 15000

// ReportFileName is the per-job report written next to the artifacts.
const ReportFileName = "_report.json"

// validCompressions are the codec names a request may carry. The empty
// string selects the writer's default.
var validCompressions = map[string]bool{
	"":             true,
	"snappy":       true,
	"zstd":         true,
	"gzip":         true,
	"none":         true,
	"uncompressed": true,
}

// ConvertService orchestrates whole-source conversions. Layers run
// strictly sequentially; the source driver allows only one cursor per
// handle at a time.
type ConvertService struct {
	repo      output.SourceRepository
	writerFor func(compression string) output.WriterFactory
	metrics   output.MetricsCollector
	logger    *slog.Logger
}

// NewConvertService creates the conversion orchestrator. writerFor
// builds a writer factory for a requested compression codec.
func NewConvertService(
	repo output.SourceRepository,
	writerFor func(compression string) output.WriterFactory,
	metrics output.MetricsCollector,
	logger *slog.Logger,
) *ConvertService {
	return &ConvertService{
		repo:      repo,
		writerFor: writerFor,
		metrics:   metrics,
		logger:    logger,
	}
}

// Convert converts every layer of the requested source. Layer failures
// are isolated: they land in the result and never abort the job. Only
// invalid requests and source-open failures return an error, and they
// do so before any artifact is created.
func (s *ConvertService) Convert(ctx context.Context, req input.ConvertRequest) (*domain.ConversionResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	started := time.Now()
	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	logger := s.logger.With("job_id", jobID, "source", req.SourcePath)

	source, err := s.repo.Open(ctx, req.SourcePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.repo.Close(context.Background(), req.SourcePath) }()

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return nil, &domain.StorageError{Operation: "mkdir", Key: req.OutputDir, Err: err}
	}

	logger.Info("conversion started",
		"layers", source.LayerCount(),
		"records", source.TotalRecords(),
		"output_dir", req.OutputDir,
		"chunk_size", req.ChunkSize,
		"compression", req.Compression)

	converter := NewLayerConverter(s.repo, s.writerFor(req.Compression), s.metrics, s.logger)
	tracker := NewTracker(req.Progress, s.logger)

	result := &domain.ConversionResult{
		JobID:      jobID,
		SourcePath: req.SourcePath,
		OutputDir:  req.OutputDir,
	}

	for i := range source.Layers {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		tracker.StartLayer()
		lr := converter.ConvertLayer(ctx, req.SourcePath, &source.Layers[i],
			req.OutputDir, req.ChunkSize, req.MaxBadRecords, tracker)
		result.Aggregate(lr)
	}
	if ctx.Err() != nil {
		result.Cancelled = true
	}

	// Cancellation flags the result but does not rewrite the verdict:
	// layers that completed before the cancel stand on their own.
	elapsed := time.Since(started)
	result.Finalize(elapsed, source.LayerCount())
	s.metrics.ObserveConversionDuration(elapsed)

	s.writeReport(result, logger)

	logger.Info("conversion finished",
		"success", result.Success,
		"converted", len(result.LayersConverted),
		"failed", len(result.LayersFailed),
		"records", result.TotalRecords,
		"rate", fmt.Sprintf("%.0f/s", result.ProcessingRate),
		"elapsed", elapsed)
	return result, nil
}

// writeReport persists the job result next to the artifacts. A report
// failure is logged and otherwise ignored; the conversion itself is
// already decided.
func (s *ConvertService) writeReport(result *domain.ConversionResult, logger *slog.Logger) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		logger.Warn("encoding conversion report", "error", err)
		return
	}
	path := filepath.Join(result.OutputDir, ReportFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Warn("writing conversion report", "path", path, "error", err)
	}
}

// validateRequest checks the request and applies defaults. It runs
// before any filesystem side effect.
func validateRequest(req *input.ConvertRequest) error {
	if req.SourcePath == "" {
		return &domain.ValidationError{
			Field:      "source_path",
			Value:      req.SourcePath,
			Constraint: "required",
			Message:    "source path must not be empty",
		}
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return &domain.ValidationError{
			Field:      "source_path",
			Value:      req.SourcePath,
			Constraint: "exists",
			Message:    "source path does not exist",
		}
	}
	if req.OutputDir == "" {
		return &domain.ValidationError{
			Field:      "output_dir",
			Value:      req.OutputDir,
			Constraint: "required",
			Message:    "output directory must not be empty",
		}
	}
	if req.ChunkSize == 0 {
		req.ChunkSize = DefaultChunkSize
	}
	if req.ChunkSize < 1 {
		return &domain.ValidationError{
			Field:      "chunk_size",
			Value:      req.ChunkSize,
			Constraint: ">= 1",
			Message:    "chunk size must be at least 1",
		}
	}
	if !validCompressions[req.Compression] {
		return &domain.ValidationError{
			Field:      "compression",
			Value:      req.Compression,
			Constraint: "one of snappy, zstd, gzip, none",
			Message:    "unknown compression codec",
		}
	}
	if req.MaxBadRecords < 0 {
		return &domain.ValidationError{
			Field:      "max_bad_records",
			Value:      req.MaxBadRecords,
			Constraint: ">= 0",
			Message:    "max bad records must not be negative",
		}
	}
	return nil
}
