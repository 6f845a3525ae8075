package application

import (
	"context"
	"log/slog"
	"os"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// InspectService answers catalog questions about a source without
// materializing feature data.
type InspectService struct {
	repo   output.SourceRepository
	logger *slog.Logger
}

// NewInspectService creates the source inspector.
func NewInspectService(repo output.SourceRepository, logger *slog.Logger) *InspectService {
	return &InspectService{repo: repo, logger: logger}
}

// Inspect opens a container and returns its catalog snapshot: layers in
// container-native order with schema, geometry type, CRS, record count
// and spatial extent. An extent that cannot be computed degrades the
// layer to a warning instead of failing the inspection.
func (s *InspectService) Inspect(ctx context.Context, path string) (*domain.Source, error) {
	if path == "" {
		return nil, &domain.ValidationError{
			Field:      "source_path",
			Value:      path,
			Constraint: "required",
			Message:    "source path must not be empty",
		}
	}
	if _, err := os.Stat(path); err != nil {
		return nil, &domain.ValidationError{
			Field:      "source_path",
			Value:      path,
			Constraint: "exists",
			Message:    "source path does not exist",
		}
	}

	source, err := s.repo.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.repo.Close(ctx, path) }()

	for i := range source.Layers {
		layer := &source.Layers[i]
		if !layer.HasGeometry() {
			continue
		}
		extent, err := s.repo.ComputeExtent(ctx, path, layer.Name)
		if err != nil {
			layer.ExtentWarning = true
			s.logger.Warn("computing layer extent", "layer", layer.Name, "error", err)
			continue
		}
		layer.Extent = extent
	}

	s.logger.Info("source inspected",
		"source", source.Name,
		"layers", source.LayerCount(),
		"records", source.TotalRecords())
	return source, nil
}
