// Package main provides the entry point for the Stratum conversion service.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jobrunner/stratum/internal/adapters/geodatabase"
	"github.com/jobrunner/stratum/internal/adapters/parquet"
	"github.com/jobrunner/stratum/internal/adapters/watcher"
	"github.com/jobrunner/stratum/internal/app"
	"github.com/jobrunner/stratum/internal/application"
	"github.com/jobrunner/stratum/internal/config"
	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// Datasets above this record count require confirmation before a
// foreground conversion starts.
const largeDatasetThreshold = 1_000_000

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - geodatabase to columnar conversion engine",
	Long: `Stratum converts multi-layer geodatabase containers into columnar
Parquet artifacts, one file per feature layer.

Features:
  - Chunked streaming conversion with bounded memory
  - Layer failure isolation with a per-job run report
  - Inbox watching for conversion on arrival
  - Multiple storage backends (local, AWS S3, Azure, HTTP)
  - REST API with asynchronous jobs
  - Prometheus metrics`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("Stratum %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Build Date: %s\n", buildDate)
	},
}

var convertCmd = &cobra.Command{
	Use:   "convert <source>",
	Short: "Convert a geodatabase container to Parquet artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

var infoCmd = &cobra.Command{
	Use:   "info <source>",
	Short: "Inspect a container and print its layer catalog",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Watch inbox directories and convert containers on arrival",
	RunE:  runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP conversion service",
	RunE:  runServe,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, text)")

	// Convert flags
	convertCmd.Flags().StringP("output", "o", "", "output directory (default: <source name> next to the container)")
	convertCmd.Flags().Int("chunk-size", 0, "features per chunk")
	convertCmd.Flags().String("compression", "", "artifact compression (snappy, zstd, gzip, none)")
	convertCmd.Flags().Int("max-bad-records", 0, "consecutive unreadable records before a layer fails")
	convertCmd.Flags().BoolP("yes", "y", false, "skip the large dataset confirmation prompt")
	convertCmd.Flags().BoolP("quiet", "q", false, "suppress the progress bar")
	convertCmd.Flags().String("log-file", "", "write structured logs to a file instead of stderr")

	// Serve flags
	serveCmd.Flags().String("host", "0.0.0.0", "server host")
	serveCmd.Flags().Int("port", 8080, "server port")
	serveCmd.Flags().String("storage-type", "local", "storage type (local, s3, azure, http)")
	serveCmd.Flags().String("storage-path", "./data", "local storage path")
	serveCmd.Flags().StringSlice("cors", nil, "allowed CORS origins (e.g., https://example.com,*.sub.domain.tld)")
	serveCmd.Flags().Bool("sync", false, "enable periodic storage sync")

	// Bind flags to viper
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("storage.type", serveCmd.Flags().Lookup("storage-type"))
	_ = viper.BindPFlag("storage.local_path", serveCmd.Flags().Lookup("storage-path"))
	_ = viper.BindPFlag("server.cors.allowed_origins", serveCmd.Flags().Lookup("cors"))
	_ = viper.BindPFlag("sync.enabled", serveCmd.Flags().Lookup("sync"))

	rootCmd.AddCommand(convertCmd, infoCmd, watchCmd, serveCmd, versionCmd)
}

func initConfig() {
	config.Defaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	if logFile, _ := cmd.Flags().GetString("log-file"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer func() { _ = f.Close() }()
		logger = slog.New(slog.NewJSONHandler(f, nil))
	}

	sourcePath := args[0]

	outputDir, _ := cmd.Flags().GetString("output")
	if outputDir == "" {
		base := filepath.Base(sourcePath)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		outputDir = filepath.Join(filepath.Dir(sourcePath), name)
	}

	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	if chunkSize == 0 {
		chunkSize = cfg.Conversion.ChunkSize
	}
	compression, _ := cmd.Flags().GetString("compression")
	if compression == "" {
		compression = cfg.Conversion.Compression
	}
	maxBadRecords, _ := cmd.Flags().GetInt("max-bad-records")
	if maxBadRecords == 0 {
		maxBadRecords = cfg.Conversion.MaxBadRecords
	}
	assumeYes, _ := cmd.Flags().GetBool("yes")
	quiet, _ := cmd.Flags().GetBool("quiet")

	repo := geodatabase.NewRepository()
	noopMetrics := &output.NoOpMetrics{}

	// Inspect first to size the progress bar and gate huge runs.
	inspector := application.NewInspectService(repo, logger)
	source, err := inspector.Inspect(cmd.Context(), sourcePath)
	if err != nil {
		return err
	}

	total := source.TotalRecords()
	fmt.Printf("%s: %d layer(s), %d record(s)\n", source.Name, source.LayerCount(), total)

	if total > largeDatasetThreshold && !assumeYes {
		if !confirm(fmt.Sprintf("Convert %d records?", total)) {
			fmt.Println("aborted")
			return nil
		}
	}

	var sink output.ProgressSink
	if !quiet {
		bar := progressbar.NewOptions64(total,
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
		sink = output.ProgressFunc(func(ev output.ProgressEvent) {
			bar.Describe(ev.Layer)
			_ = bar.Set64(ev.TotalRecords)
		})
	}

	converter := application.NewConvertService(
		repo,
		func(c string) output.WriterFactory { return parquet.NewFactory(c) },
		noopMetrics,
		logger,
	)

	result, err := converter.Convert(cmd.Context(), input.ConvertRequest{
		SourcePath:    sourcePath,
		OutputDir:     outputDir,
		ChunkSize:     chunkSize,
		Compression:   compression,
		MaxBadRecords: maxBadRecords,
		Progress:      sink,
	})
	if err != nil {
		return err
	}

	printResult(result.OutputDir, result)
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	repo := geodatabase.NewRepository()
	inspector := application.NewInspectService(repo, logger)

	source, err := inspector.Inspect(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Source:  %s\n", source.Name)
	fmt.Printf("Path:    %s\n", source.Path)
	fmt.Printf("Size:    %d bytes\n", source.Size)
	fmt.Printf("Layers:  %d\n", source.LayerCount())
	fmt.Printf("Records: %d\n", source.TotalRecords())
	fmt.Println()

	for i := range source.Layers {
		l := &source.Layers[i]
		fmt.Printf("  %s\n", l.Name)
		fmt.Printf("    geometry: %s", l.GeometryType)
		if l.HasGeometry() {
			fmt.Printf(" (%s, SRID %d)", l.GeometryColumn, l.SRID)
		}
		fmt.Println()
		fmt.Printf("    fields:   %d\n", l.FieldCount())
		fmt.Printf("    records:  %d\n", l.RecordCount)
		if l.Extent != nil {
			fmt.Printf("    extent:   [%.6f %.6f %.6f %.6f]\n",
				l.Extent.MinX, l.Extent.MinY, l.Extent.MaxX, l.Extent.MaxY)
		}
		if l.ExtentWarning {
			fmt.Printf("    extent:   unavailable\n")
		}
	}

	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	paths := args
	if len(paths) == 0 {
		paths = cfg.Watch.Paths
	}
	if len(paths) == 0 {
		return fmt.Errorf("no watch paths: pass directories or set watch.paths")
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo := geodatabase.NewRepository()
	converter := application.NewConvertService(
		repo,
		func(c string) output.WriterFactory { return parquet.NewFactory(c) },
		&output.NoOpMetrics{},
		logger,
	)
	jobs := application.NewJobManager(converter, &output.NoOpMetrics{}, logger, cfg.Conversion.MaxJobs)

	w, err := watcher.New(
		watcher.Config{Paths: paths, Debounce: cfg.Watch.Debounce},
		func(ctx context.Context, event watcher.Event) error {
			if event.Operation == watcher.OpDelete {
				return nil
			}
			base := filepath.Base(event.Path)
			name := strings.TrimSuffix(base, filepath.Ext(base))
			jobID, err := jobs.Submit(ctx, input.ConvertRequest{
				SourcePath:    event.Path,
				OutputDir:     filepath.Join(cfg.Conversion.OutputDir, name),
				ChunkSize:     cfg.Conversion.ChunkSize,
				Compression:   cfg.Conversion.Compression,
				MaxBadRecords: cfg.Conversion.MaxBadRecords,
			})
			if err != nil {
				return err
			}
			logger.Info("conversion submitted", "path", event.Path, "job_id", jobID)
			return nil
		},
		logger,
	)
	if err != nil {
		return fmt.Errorf("initializing watcher: %w", err)
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer func() { _ = w.Stop() }()

	logger.Info("watching for containers", "paths", paths)
	<-ctx.Done()
	logger.Info("watch stopped")
	return nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting Stratum",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"storage_type", cfg.Storage.Type,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	service, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "address", cfg.Server.Address())
		if err := service.Start(ctx); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		logger.Error("server error", "error", err)
		cancel()
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	logger.Info("shutting down server")
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return err
	}

	logger.Info("server stopped")
	return nil
}

// printResult prints a conversion summary to stdout.
func printResult(outputDir string, result *domain.ConversionResult) {
	fmt.Println()
	fmt.Printf("Converted: %d layer(s)\n", len(result.LayersConverted))
	if len(result.LayersFailed) > 0 {
		fmt.Printf("Failed:    %s\n", strings.Join(result.FailedLayerNames(), ", "))
	}
	fmt.Printf("Records:   %d\n", result.TotalRecords)
	fmt.Printf("Duration:  %s\n", result.TotalTime.Round(time.Millisecond))
	if result.ProcessingRate > 0 {
		fmt.Printf("Rate:      %.0f records/s\n", result.ProcessingRate)
	}
	fmt.Printf("Output:    %s\n", outputDir)
	if result.Cancelled {
		fmt.Println("Cancelled before completion")
	}
}

// confirm asks the user a yes/no question on stdin.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(time.Now().UTC().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
