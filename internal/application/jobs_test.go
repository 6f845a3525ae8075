package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
)

func waitForTerminal(t *testing.T, m *JobManager, jobID string) *input.JobStatus {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		status, err := m.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if status.State != input.JobRunning {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("job %s never finished", jobID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJobManagerLifecycle(t *testing.T) {
	converter := &mockConversionService{block: make(chan struct{})}
	manager := NewJobManager(converter, newMockMetrics(), testLogger(), 1)

	jobID, err := manager.Submit(context.Background(), input.ConvertRequest{SourcePath: "a.gpkg"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if jobID == "" {
		t.Fatal("job ID should be assigned")
	}

	status, err := manager.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if status.State != input.JobRunning {
		t.Errorf("state = %s, want running", status.State)
	}

	close(converter.block)
	status = waitForTerminal(t, manager, jobID)
	if status.State != input.JobCompleted {
		t.Errorf("state = %s, want completed", status.State)
	}
	if status.Result == nil || status.Result.JobID != jobID {
		t.Errorf("result = %+v, want job ID %s", status.Result, jobID)
	}
	if manager.TotalJobs() != 1 {
		t.Errorf("TotalJobs = %d, want 1", manager.TotalJobs())
	}
}

func TestJobManagerFailedJob(t *testing.T) {
	converter := &mockConversionService{err: &domain.ValidationError{
		Field: "source_path", Message: "source path does not exist",
	}}
	manager := NewJobManager(converter, newMockMetrics(), testLogger(), 1)

	jobID, err := manager.Submit(context.Background(), input.ConvertRequest{SourcePath: "missing.gpkg"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status := waitForTerminal(t, manager, jobID)
	if status.State != input.JobFailed {
		t.Errorf("state = %s, want failed", status.State)
	}
	if status.Error == "" {
		t.Error("failed job should carry an error message")
	}
}

func TestJobManagerGetUnknown(t *testing.T) {
	manager := NewJobManager(&mockConversionService{}, newMockMetrics(), testLogger(), 1)

	_, err := manager.Get(context.Background(), "no-such-job")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		t.Error("job lookup misses must unwrap to ErrNotFound")
	}
}

func TestJobManagerListOrder(t *testing.T) {
	converter := &mockConversionService{}
	manager := NewJobManager(converter, newMockMetrics(), testLogger(), 1)

	first, _ := manager.Submit(context.Background(), input.ConvertRequest{SourcePath: "a.gpkg"})
	second, _ := manager.Submit(context.Background(), input.ConvertRequest{SourcePath: "b.gpkg"})

	waitForTerminal(t, manager, first)
	waitForTerminal(t, manager, second)

	jobs, err := manager.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}
	if jobs[0].ID != second || jobs[1].ID != first {
		t.Errorf("list order = [%s %s], want most recent first", jobs[0].ID, jobs[1].ID)
	}
}

func TestJobManagerConcurrencyBound(t *testing.T) {
	converter := &mockConversionService{block: make(chan struct{})}
	manager := NewJobManager(converter, newMockMetrics(), testLogger(), 1)

	a, _ := manager.Submit(context.Background(), input.ConvertRequest{SourcePath: "a.gpkg"})
	b, _ := manager.Submit(context.Background(), input.ConvertRequest{SourcePath: "b.gpkg"})

	// Only one conversion may start while the first is blocked.
	time.Sleep(20 * time.Millisecond)
	if got := converter.requestCount(); got != 1 {
		t.Errorf("conversions started = %d, want 1", got)
	}

	close(converter.block)
	waitForTerminal(t, manager, a)
	waitForTerminal(t, manager, b)

	if got := converter.requestCount(); got != 2 {
		t.Errorf("conversions run = %d, want 2", got)
	}
}

func TestHealthService(t *testing.T) {
	manager := NewJobManager(&mockConversionService{}, newMockMetrics(), testLogger(), 1)
	health := NewHealthService(manager)

	ctx := context.Background()
	if !health.IsHealthy(ctx) || !health.IsReady(ctx) {
		t.Error("idle service should be healthy and ready")
	}

	details := health.GetHealthDetails(ctx)
	if details.TotalJobs != 0 || details.ActiveJobs != 0 {
		t.Errorf("details = %+v", details)
	}

	jobID, _ := manager.Submit(ctx, input.ConvertRequest{SourcePath: "a.gpkg"})
	waitForTerminal(t, manager, jobID)

	details = health.GetHealthDetails(ctx)
	if details.TotalJobs != 1 {
		t.Errorf("TotalJobs = %d, want 1", details.TotalJobs)
	}
}
