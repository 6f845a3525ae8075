package application

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// ErrRateLimited is returned when the sync API rate limit is exceeded.
var ErrRateLimited = errors.New("rate limit exceeded")

// SyncResult contains the result of a sync operation.
type SyncResult struct {
	SourcesConverted  int       `json:"sources_converted"`
	SourcesFailed     int       `json:"sources_failed"`
	ArtifactsUploaded int       `json:"artifacts_uploaded"`
	SyncedAt          time.Time `json:"synced_at"`
	NextScheduledAt   time.Time `json:"next_scheduled_at,omitempty"`
}

// SyncService periodically pulls source containers from remote storage,
// converts them and pushes the artifacts back out. Sources are
// converted at most once per process lifetime; a re-upload with the
// same key is not detected.
type SyncService struct {
	storage   output.ObjectStorage
	converter input.ConversionService
	metrics   output.MetricsCollector
	interval  time.Duration
	logger    *slog.Logger

	sourceDir    string // local cache for downloaded containers
	outputDir    string // artifact root, one subdirectory per source
	uploadPrefix string // remote prefix for artifacts, empty disables upload

	// Lifecycle management
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISync time.Time
	apiMutex    sync.Mutex

	// Prevents concurrent sync operations
	syncOpMutex sync.Mutex
	converted   map[string]bool

	// Track next scheduled sync for reporting
	nextSync time.Time
	syncMu   sync.RWMutex
}

// NewSyncService creates a new sync service.
func NewSyncService(
	storage output.ObjectStorage,
	converter input.ConversionService,
	metrics output.MetricsCollector,
	interval time.Duration,
	sourceDir, outputDir, uploadPrefix string,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		storage:      storage,
		converter:    converter,
		metrics:      metrics,
		interval:     interval,
		logger:       logger,
		sourceDir:    sourceDir,
		outputDir:    outputDir,
		uploadPrefix: uploadPrefix,
		stopCh:       make(chan struct{}),
		converted:    make(map[string]bool),
		// Initialize to past time to allow immediate first API call
		lastAPISync: time.Now().Add(-31 * time.Second),
	}
}

// Start begins the periodic sync scheduler.
func (s *SyncService) Start(ctx context.Context) {
	s.logger.Info("starting sync service", "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main sync loop.
func (s *SyncService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSync(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sync triggered")
			if _, err := s.doSync(ctx); err != nil {
				s.logger.Error("sync failed", "error", err)
			}
			s.setNextSync(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sync service.
func (s *SyncService) Stop() {
	s.logger.Info("stopping sync service")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSync manually triggers a sync operation with rate limiting.
// Returns ErrRateLimited if called more than 2 times per minute.
func (s *SyncService) TriggerSync(ctx context.Context) (SyncResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	// Rate limit: 30 seconds cooldown (allows ~2 requests per minute)
	if time.Since(s.lastAPISync) < 30*time.Second {
		return SyncResult{}, ErrRateLimited
	}
	s.lastAPISync = time.Now()

	return s.doSync(ctx)
}

// doSync performs one sync pass: list, download new sources, convert
// them and upload the artifacts.
func (s *SyncService) doSync(ctx context.Context) (SyncResult, error) {
	s.syncOpMutex.Lock()
	defer s.syncOpMutex.Unlock()

	objects, err := s.storage.List(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{SyncedAt: time.Now()}

	for _, obj := range objects {
		if s.converted[obj.Key] {
			s.logger.Debug("source already converted, skipping", "key", obj.Key)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		localPath, err := s.fetch(ctx, obj.Key)
		if err != nil {
			s.logger.Error("failed to download source", "key", obj.Key, "error", err)
			result.SourcesFailed++
			continue
		}

		sourceID := deriveObjectID(obj.Key)
		conv, err := s.converter.Convert(ctx, input.ConvertRequest{
			SourcePath: localPath,
			OutputDir:  filepath.Join(s.outputDir, sourceID),
		})
		if err != nil {
			s.logger.Error("failed to convert source", "key", obj.Key, "error", err)
			result.SourcesFailed++
			continue
		}
		s.converted[obj.Key] = true

		if !conv.Success {
			result.SourcesFailed++
			s.logger.Warn("source converted with failures",
				"key", obj.Key, "failed_layers", conv.FailedLayerNames())
			continue
		}
		result.SourcesConverted++
		result.ArtifactsUploaded += s.publish(ctx, sourceID, conv)
	}

	result.NextScheduledAt = s.getNextSync()
	s.logger.Info("sync completed",
		"converted", result.SourcesConverted,
		"failed", result.SourcesFailed,
		"uploaded", result.ArtifactsUploaded,
	)
	return result, nil
}

// fetch downloads one source container into the local cache.
func (s *SyncService) fetch(ctx context.Context, key string) (string, error) {
	localPath := filepath.Join(s.sourceDir, key)

	start := time.Now()
	err := s.storage.Download(ctx, key, localPath)
	s.metrics.IncStorageOperations("download", err == nil)
	s.metrics.ObserveStorageDuration("download", time.Since(start))
	if err != nil {
		return "", err
	}
	return localPath, nil
}

// publish uploads a finished job's artifacts and report. Upload
// failures are logged per artifact; the conversion itself stands.
func (s *SyncService) publish(ctx context.Context, sourceID string, conv *domain.ConversionResult) int {
	if s.uploadPrefix == "" {
		return 0
	}

	uploaded := 0
	files := make([]string, 0, len(conv.LayersConverted)+1)
	for i := range conv.LayersConverted {
		files = append(files, conv.LayersConverted[i].OutputFile)
	}
	files = append(files, filepath.Join(conv.OutputDir, ReportFileName))

	for _, file := range files {
		key := path.Join(s.uploadPrefix, sourceID, filepath.Base(file))

		start := time.Now()
		err := s.storage.Upload(ctx, file, key)
		s.metrics.IncStorageOperations("upload", err == nil)
		s.metrics.ObserveStorageDuration("upload", time.Since(start))
		if err != nil {
			s.logger.Error("failed to upload artifact", "file", file, "key", key, "error", err)
			continue
		}
		uploaded++
	}
	return uploaded
}

// setNextSync updates the next scheduled sync time.
func (s *SyncService) setNextSync(t time.Time) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.nextSync = t
}

// getNextSync returns the next scheduled sync time.
func (s *SyncService) getNextSync() time.Time {
	s.syncMu.RLock()
	defer s.syncMu.RUnlock()
	return s.nextSync
}

// Interval returns the sync interval.
func (s *SyncService) Interval() time.Duration {
	return s.interval
}

// deriveObjectID extracts a source ID from a file path or object key.
func deriveObjectID(key string) string {
	base := filepath.Base(key)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
