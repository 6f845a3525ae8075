package domain

import "time"

// LayerState is the lifecycle state of one layer conversion.
type LayerState string

// Layer conversion states. Failed is absorbing.
const (
	StatePending    LayerState = "pending"
	StateOpened     LayerState = "opened"
	StateStreaming  LayerState = "streaming"
	StateFinalizing LayerState = "finalizing"
	StateCompleted  LayerState = "completed"
	StateFailed     LayerState = "failed"
)

// Terminal returns true if the state is Completed or Failed.
func (s LayerState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// LayerResult is the outcome record for one layer.
type LayerResult struct {
	Layer       string        `json:"layer"`
	State       LayerState    `json:"state"`
	RecordCount int64         `json:"record_count"`
	Elapsed     time.Duration `json:"elapsed"`
	OutputFile  string        `json:"output_file,omitempty"` // Set when Completed
	OutputSize  int64         `json:"output_size,omitempty"`
	Failure     string        `json:"failure,omitempty"` // Set when Failed
}

// Completed returns true if the layer converted successfully.
func (r *LayerResult) Completed() bool {
	return r.State == StateCompleted
}

// ConversionResult is the job-level aggregate. It owns copies of all
// layer results and outlives the conversion call; it holds no live
// handles.
type ConversionResult struct {
	JobID           string        `json:"job_id"`
	Success         bool          `json:"success"`
	SourcePath      string        `json:"source_path"`
	OutputDir       string        `json:"output_dir"`
	LayersConverted []LayerResult `json:"layers_converted"`
	LayersFailed    []LayerResult `json:"layers_failed"`
	TotalRecords    int64         `json:"total_records"`
	TotalTime       time.Duration `json:"total_time"`
	ProcessingRate  float64       `json:"processing_rate"` // records per second
	OutputSize      int64         `json:"output_size"`
	Cancelled       bool          `json:"cancelled"`
}

// Aggregate folds a layer result into the job totals. Results must be
// added in the order layers were iterated.
func (r *ConversionResult) Aggregate(lr LayerResult) {
	if lr.Completed() {
		r.LayersConverted = append(r.LayersConverted, lr)
		r.TotalRecords += lr.RecordCount
		r.OutputSize += lr.OutputSize
	} else {
		r.LayersFailed = append(r.LayersFailed, lr)
	}
}

// Finalize computes the derived job fields. Success means at least one
// layer completed; a job over zero layers succeeds trivially.
func (r *ConversionResult) Finalize(elapsed time.Duration, totalLayers int) {
	r.TotalTime = elapsed
	r.Success = len(r.LayersConverted) > 0 || totalLayers == 0
	if secs := elapsed.Seconds(); secs > 0 {
		r.ProcessingRate = float64(r.TotalRecords) / secs
	}
}

// FailedLayerNames returns the names of all failed layers.
func (r *ConversionResult) FailedLayerNames() []string {
	names := make([]string, 0, len(r.LayersFailed))
	for i := range r.LayersFailed {
		names = append(names, r.LayersFailed[i].Layer)
	}
	return names
}
