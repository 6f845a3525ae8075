// Package input defines the primary/driving ports of the application.
package input

import (
	"context"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// ConvertRequest carries the parameters of one conversion job.
type ConvertRequest struct {
	JobID         string              // Optional, generated when empty
	SourcePath    string              // Path to the geodatabase container
	OutputDir     string              // Created if absent, after validation
	ChunkSize     int                 // Features per chunk; zero selects the default, negative is rejected
	Compression   string              // snappy (default), zstd, none
	MaxBadRecords int                 // Consecutive unreadable records before a layer fails
	Progress      output.ProgressSink // Optional, may be nil
}

// ConversionService defines the primary port for running conversions.
type ConversionService interface {
	// Convert converts every layer of a source into columnar artifacts.
	// Layer-scoped failures are recorded in the result, never returned
	// as an error; only validation and source-open failures are.
	Convert(ctx context.Context, req ConvertRequest) (*domain.ConversionResult, error)
}

// InspectionService defines the primary port for source introspection.
type InspectionService interface {
	// Inspect opens a container, enumerates its layers and returns a
	// snapshot without materializing feature data.
	Inspect(ctx context.Context, path string) (*domain.Source, error)
}

// JobRegistry defines the primary port for tracking conversion jobs in
// long-running (serve) mode.
type JobRegistry interface {
	// Submit starts a conversion job asynchronously and returns its ID.
	Submit(ctx context.Context, req ConvertRequest) (string, error)

	// Get returns the state of a job by ID.
	Get(ctx context.Context, jobID string) (*JobStatus, error)

	// List returns all known jobs, most recent first.
	List(ctx context.Context) ([]JobStatus, error)
}

// JobState is the lifecycle state of an asynchronous conversion job.
type JobState string

// Job states.
const (
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// JobStatus describes one asynchronous conversion job.
type JobStatus struct {
	ID         string                   // Job identifier
	State      JobState                 // Current state
	SourcePath string                   // Source being converted
	Error      string                   // Set when State == JobFailed
	Result     *domain.ConversionResult // Set when terminal
}

// HealthChecker defines the primary port for health checks.
type HealthChecker interface {
	// IsHealthy returns true if the service is healthy.
	IsHealthy(ctx context.Context) bool

	// IsReady returns true if the service is ready to accept requests.
	IsReady(ctx context.Context) bool

	// GetHealthDetails returns detailed health information.
	GetHealthDetails(ctx context.Context) HealthDetails
}

// HealthDetails contains detailed health information.
type HealthDetails struct {
	Healthy    bool              // Overall health status
	Ready      bool              // Ready to accept requests
	ActiveJobs int               // Conversion jobs currently running
	TotalJobs  int               // Jobs seen since start
	Components map[string]string // Component statuses
}
