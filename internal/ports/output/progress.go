package output

import "time"

// ProgressEvent is emitted after each chunk is written. Events are
// observational only and never affect control flow.
type ProgressEvent struct {
	Layer        string        // Layer being converted
	ChunkIndex   int           // Zero-based index of the finished chunk
	LayerRecords int64         // Records written so far in this layer
	TotalRecords int64         // Records written so far across all layers
	Elapsed      time.Duration // Wall time since the job started
	Rate         float64       // Smoothed records/second since job start
}

// ProgressSink receives progress events. Implementations must not
// block for long; a panicking or failing sink is swallowed by the
// reporter and surfaced only as a warning.
type ProgressSink interface {
	Progress(ev ProgressEvent)
}

// ProgressFunc adapts a function to the ProgressSink interface.
type ProgressFunc func(ev ProgressEvent)

// Progress implements ProgressSink.
func (f ProgressFunc) Progress(ev ProgressEvent) { f(ev) }
