package output

import "time"

// MetricsCollector defines the secondary port for metrics collection.
type MetricsCollector interface {
	// IncLayersConverted increments the per-layer outcome counter.
	IncLayersConverted(success bool)

	// AddRecordsWritten adds to the written-records counter.
	AddRecordsWritten(n int64)

	// ObserveConversionDuration records a whole-job duration.
	ObserveConversionDuration(duration time.Duration)

	// ObserveChunkDuration records one chunk's read+write duration.
	ObserveChunkDuration(layer string, duration time.Duration)

	// SetActiveJobs sets the number of running conversion jobs.
	SetActiveJobs(count int)

	// IncStorageOperations increments storage operation counter.
	IncStorageOperations(operation string, success bool)

	// ObserveStorageDuration records storage operation duration.
	ObserveStorageDuration(operation string, duration time.Duration)
}

// NoOpMetrics is a no-op implementation of MetricsCollector.
type NoOpMetrics struct{}

// IncLayersConverted implements MetricsCollector.
func (n *NoOpMetrics) IncLayersConverted(_ bool) {}

// AddRecordsWritten implements MetricsCollector.
func (n *NoOpMetrics) AddRecordsWritten(_ int64) {}

// ObserveConversionDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveConversionDuration(_ time.Duration) {}

// ObserveChunkDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveChunkDuration(_ string, _ time.Duration) {}

// SetActiveJobs implements MetricsCollector.
func (n *NoOpMetrics) SetActiveJobs(_ int) {}

// IncStorageOperations implements MetricsCollector.
func (n *NoOpMetrics) IncStorageOperations(_ string, _ bool) {}

// ObserveStorageDuration implements MetricsCollector.
func (n *NoOpMetrics) ObserveStorageDuration(_ string, _ time.Duration) {}
