package application

import (
	"log/slog"
	"time"

	"github.com/jobrunner/stratum/internal/ports/output"
)

// Tracker accumulates per-job progress counters and fans events out to
// an optional sink. It is owned by a single conversion goroutine and is
// not safe for concurrent use.
type Tracker struct {
	sink    output.ProgressSink
	logger  *slog.Logger
	started time.Time

	totalRecords int64
	layerRecords int64
	chunkIndex   int
}

// NewTracker creates a tracker for one conversion job. sink may be nil.
func NewTracker(sink output.ProgressSink, logger *slog.Logger) *Tracker {
	return &Tracker{
		sink:    sink,
		logger:  logger,
		started: time.Now(),
	}
}

// StartLayer resets the per-layer counters.
func (t *Tracker) StartLayer() {
	t.layerRecords = 0
	t.chunkIndex = 0
}

// ChunkDone records a finished chunk and emits a progress event. The
// sink runs under a recover so a misbehaving reporter can never fail
// the conversion.
func (t *Tracker) ChunkDone(layer string, records int64) {
	t.layerRecords += records
	t.totalRecords += records

	elapsed := time.Since(t.started)
	ev := output.ProgressEvent{
		Layer:        layer,
		ChunkIndex:   t.chunkIndex,
		LayerRecords: t.layerRecords,
		TotalRecords: t.totalRecords,
		Elapsed:      elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		ev.Rate = float64(t.totalRecords) / secs
	}
	t.chunkIndex++

	t.emit(ev)
}

// TotalRecords returns the number of records written across all layers.
func (t *Tracker) TotalRecords() int64 {
	return t.totalRecords
}

// Elapsed returns wall time since the job started.
func (t *Tracker) Elapsed() time.Duration {
	return time.Since(t.started)
}

func (t *Tracker) emit(ev output.ProgressEvent) {
	if t.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("progress sink panicked", "layer", ev.Layer, "panic", r)
		}
	}()
	t.sink.Progress(ev)
}
