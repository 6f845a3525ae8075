package application

import (
	"testing"

	"github.com/jobrunner/stratum/internal/ports/output"
)

func TestTrackerAccumulates(t *testing.T) {
	sink := &collectSink{}
	tracker := NewTracker(sink, testLogger())

	tracker.StartLayer()
	tracker.ChunkDone("roads", 100)
	tracker.ChunkDone("roads", 50)

	tracker.StartLayer()
	tracker.ChunkDone("rivers", 25)

	events := sink.all()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}

	// Layer counters reset between layers, job totals do not.
	if events[1].LayerRecords != 150 || events[1].TotalRecords != 150 {
		t.Errorf("event 1 = %+v", events[1])
	}
	if events[2].LayerRecords != 25 || events[2].TotalRecords != 175 {
		t.Errorf("event 2 = %+v", events[2])
	}
	if events[2].ChunkIndex != 0 {
		t.Errorf("chunk index after StartLayer = %d, want 0", events[2].ChunkIndex)
	}
	if tracker.TotalRecords() != 175 {
		t.Errorf("TotalRecords = %d, want 175", tracker.TotalRecords())
	}

	for i, ev := range events {
		if ev.Rate < 0 {
			t.Errorf("event %d rate = %f", i, ev.Rate)
		}
		if ev.Elapsed <= 0 {
			t.Errorf("event %d elapsed = %v", i, ev.Elapsed)
		}
	}
}

func TestTrackerNilSink(t *testing.T) {
	tracker := NewTracker(nil, testLogger())
	tracker.StartLayer()
	tracker.ChunkDone("roads", 10)

	if tracker.TotalRecords() != 10 {
		t.Errorf("TotalRecords = %d, want 10", tracker.TotalRecords())
	}
}

func TestTrackerSurvivesPanickingSink(t *testing.T) {
	sink := output.ProgressFunc(func(output.ProgressEvent) {
		panic("reporter bug")
	})
	tracker := NewTracker(sink, testLogger())

	tracker.StartLayer()
	tracker.ChunkDone("roads", 10)
	tracker.ChunkDone("roads", 10)

	// Counting continues past the panic.
	if tracker.TotalRecords() != 20 {
		t.Errorf("TotalRecords = %d, want 20", tracker.TotalRecords())
	}
}
