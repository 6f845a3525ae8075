// Package app provides application initialization and wiring.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jobrunner/stratum/internal/adapters/geodatabase"
	httpAdapter "github.com/jobrunner/stratum/internal/adapters/http"
	"github.com/jobrunner/stratum/internal/adapters/metrics"
	"github.com/jobrunner/stratum/internal/adapters/parquet"
	"github.com/jobrunner/stratum/internal/adapters/storage"
	"github.com/jobrunner/stratum/internal/adapters/watcher"
	"github.com/jobrunner/stratum/internal/application"
	"github.com/jobrunner/stratum/internal/config"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// App holds all application components for serve mode.
type App struct {
	Config         *config.Config
	Logger         *slog.Logger
	Storage        output.ObjectStorage
	Repository     *geodatabase.Repository
	ConvertService *application.ConvertService
	InspectService *application.InspectService
	JobManager     *application.JobManager
	HealthService  *application.HealthService
	SyncService    *application.SyncService
	HTTPServer     *httpAdapter.Server
	Watcher        *watcher.Watcher
	Metrics        *metrics.Collector
}

// New creates and initializes a new application.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize metrics
	var metricsCollector output.MetricsCollector
	if cfg.Metrics.Enabled {
		app.Metrics = metrics.NewCollector("stratum")
		metricsCollector = app.Metrics
	} else {
		metricsCollector = &output.NoOpMetrics{}
	}

	// Initialize storage adapter
	store, err := initStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	app.Storage = store

	// Initialize geodatabase repository
	app.Repository = geodatabase.NewRepository()

	// Initialize conversion orchestrator
	app.ConvertService = application.NewConvertService(
		app.Repository,
		func(compression string) output.WriterFactory {
			return parquet.NewFactory(compression)
		},
		metricsCollector,
		logger,
	)

	// Initialize inspection service
	app.InspectService = application.NewInspectService(app.Repository, logger)

	// Initialize job manager
	app.JobManager = application.NewJobManager(
		app.ConvertService,
		metricsCollector,
		logger,
		cfg.Conversion.MaxJobs,
	)

	// Initialize health service
	app.HealthService = application.NewHealthService(app.JobManager)

	// Initialize sync service if enabled
	if cfg.Sync.Enabled {
		app.SyncService = application.NewSyncService(
			app.Storage,
			app.ConvertService,
			metricsCollector,
			cfg.Sync.Interval,
			cfg.Conversion.SourceDir,
			cfg.Conversion.OutputDir,
			cfg.Conversion.UploadPrefix,
			logger,
		)
	}

	// Initialize HTTP server
	app.HTTPServer = httpAdapter.NewServer(
		cfg.Server,
		cfg.Conversion,
		app.InspectService,
		app.JobManager,
		app.HealthService,
		app.SyncService,
		app.Storage,
		logger,
	)

	// Expose metrics on the main router
	if app.Metrics != nil {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		app.HTTPServer.Router().Handle(path, metrics.Handler())
		app.HTTPServer.Router().Use(app.Metrics.Middleware)
	}

	// Initialize inbox watcher
	if len(cfg.Watch.Paths) > 0 {
		w, err := watcher.New(
			watcher.Config{
				Paths:    cfg.Watch.Paths,
				Debounce: cfg.Watch.Debounce,
			},
			app.handleFileEvent,
			logger,
		)
		if err != nil {
			logger.Warn("failed to initialize file watcher", "error", err)
		} else {
			app.Watcher = w
		}
	}

	return app, nil
}

// Start starts all application components.
func (a *App) Start(ctx context.Context) error {
	// Start sync scheduler
	if a.SyncService != nil {
		a.SyncService.Start(ctx)
	}

	// Start inbox watcher
	if a.Watcher != nil {
		if err := a.Watcher.Start(ctx); err != nil {
			a.Logger.Warn("failed to start file watcher", "error", err)
		}
	}

	return a.HTTPServer.Start()
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.Info("shutting down application")

	// Stop watcher
	if a.Watcher != nil {
		_ = a.Watcher.Stop()
	}

	// Stop sync scheduler
	if a.SyncService != nil {
		a.SyncService.Stop()
	}

	// Shutdown HTTP server
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Logger.Error("HTTP server shutdown error", "error", err)
	}

	return nil
}

// handleFileEvent submits a conversion for containers arriving in a
// watched inbox directory.
func (a *App) handleFileEvent(ctx context.Context, event watcher.Event) error {
	switch event.Operation {
	case watcher.OpCreate, watcher.OpModify:
		base := filepath.Base(event.Path)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		jobID, err := a.JobManager.Submit(ctx, input.ConvertRequest{
			SourcePath:    event.Path,
			OutputDir:     filepath.Join(a.Config.Conversion.OutputDir, name),
			ChunkSize:     a.Config.Conversion.ChunkSize,
			Compression:   a.Config.Conversion.Compression,
			MaxBadRecords: a.Config.Conversion.MaxBadRecords,
		})
		if err != nil {
			return err
		}
		a.Logger.Info("conversion submitted for inbox arrival",
			"path", event.Path,
			"job_id", jobID,
		)
		return nil

	case watcher.OpDelete:
		// Nothing to do; artifacts of removed containers stay in place.
		return nil
	}

	return nil
}

// initStorage initializes the appropriate storage adapter.
func initStorage(ctx context.Context, cfg config.StorageConfig) (output.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.LocalPath), nil

	case "s3":
		return storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})

	case "azure":
		return storage.NewAzureStorage(storage.AzureConfig{
			Container:        cfg.Azure.Container,
			AccountName:      cfg.Azure.AccountName,
			AccountKey:       cfg.Azure.AccountKey,
			ConnectionString: cfg.Azure.ConnectionString,
			Prefix:           cfg.Azure.Prefix,
		})

	case "http":
		return storage.NewHTTPStorage(storage.HTTPConfig{
			BaseURL:   cfg.HTTP.BaseURL,
			IndexFile: cfg.HTTP.IndexFile,
			Timeout:   cfg.HTTP.Timeout,
			Username:  cfg.HTTP.Username,
			Password:  cfg.HTTP.Password,
		}), nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
