package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

func syncFixtureResult() *domain.ConversionResult {
	return &domain.ConversionResult{
		Success:   true,
		OutputDir: "/tmp/stratum-out/survey",
		LayersConverted: []domain.LayerResult{
			{Layer: "roads", State: domain.StateCompleted, OutputFile: "/tmp/stratum-out/survey/roads.parquet"},
			{Layer: "rivers", State: domain.StateCompleted, OutputFile: "/tmp/stratum-out/survey/rivers.parquet"},
		},
	}
}

func TestSyncConvertsNewSources(t *testing.T) {
	storage := newMockStorage(
		output.StorageObject{Key: "survey.gpkg", Size: 128},
		output.StorageObject{Key: "cadastre.gpkg", Size: 256},
	)
	converter := &mockConversionService{result: syncFixtureResult()}
	metrics := newMockMetrics()

	service := NewSyncService(storage, converter, metrics, time.Hour,
		t.TempDir(), t.TempDir(), "artifacts", testLogger())

	result, err := service.doSync(context.Background())
	if err != nil {
		t.Fatalf("doSync: %v", err)
	}

	if result.SourcesConverted != 2 {
		t.Errorf("converted = %d, want 2", result.SourcesConverted)
	}
	if len(storage.downloads) != 2 {
		t.Errorf("downloads = %v", storage.downloads)
	}
	// Two layer artifacts plus the report, per source.
	if result.ArtifactsUploaded != 6 {
		t.Errorf("uploaded = %d, want 6", result.ArtifactsUploaded)
	}
	if _, ok := storage.uploads["artifacts/survey/roads.parquet"]; !ok {
		t.Errorf("missing upload key, got %v", storage.uploads)
	}
	if metrics.storageOps["download"] != 2 || metrics.storageOps["upload"] != 6 {
		t.Errorf("storage ops = %v", metrics.storageOps)
	}

	// A second pass leaves already-converted sources alone.
	result, err = service.doSync(context.Background())
	if err != nil {
		t.Fatalf("doSync: %v", err)
	}
	if result.SourcesConverted != 0 {
		t.Errorf("second pass converted = %d, want 0", result.SourcesConverted)
	}
	if converter.requestCount() != 2 {
		t.Errorf("conversions = %d, want 2", converter.requestCount())
	}
}

func TestSyncDownloadFailure(t *testing.T) {
	storage := newMockStorage(output.StorageObject{Key: "survey.gpkg"})
	storage.downloadErr = errors.New("connection reset")
	converter := &mockConversionService{}

	service := NewSyncService(storage, converter, newMockMetrics(), time.Hour,
		t.TempDir(), t.TempDir(), "", testLogger())

	result, err := service.doSync(context.Background())
	if err != nil {
		t.Fatalf("doSync: %v", err)
	}
	if result.SourcesFailed != 1 || result.SourcesConverted != 0 {
		t.Errorf("result = %+v", result)
	}
	if converter.requestCount() != 0 {
		t.Error("failed download must not be converted")
	}
}

func TestSyncUploadDisabled(t *testing.T) {
	storage := newMockStorage(output.StorageObject{Key: "survey.gpkg"})
	converter := &mockConversionService{result: syncFixtureResult()}

	service := NewSyncService(storage, converter, newMockMetrics(), time.Hour,
		t.TempDir(), t.TempDir(), "", testLogger())

	result, err := service.doSync(context.Background())
	if err != nil {
		t.Fatalf("doSync: %v", err)
	}
	if result.ArtifactsUploaded != 0 || len(storage.uploads) != 0 {
		t.Errorf("uploads should be disabled, got %v", storage.uploads)
	}
}

func TestSyncTriggerRateLimit(t *testing.T) {
	storage := newMockStorage()
	service := NewSyncService(storage, &mockConversionService{}, newMockMetrics(),
		time.Hour, t.TempDir(), t.TempDir(), "", testLogger())

	if _, err := service.TriggerSync(context.Background()); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if _, err := service.TriggerSync(context.Background()); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second trigger should be rate limited, got %v", err)
	}
}

func TestSyncStartStop(t *testing.T) {
	storage := newMockStorage()
	service := NewSyncService(storage, &mockConversionService{}, newMockMetrics(),
		time.Hour, t.TempDir(), t.TempDir(), "", testLogger())

	service.Start(context.Background())
	service.Stop()
}
