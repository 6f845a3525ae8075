package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/jobrunner/stratum/internal/domain"
	"github.com/jobrunner/stratum/internal/ports/input"
	"github.com/jobrunner/stratum/internal/ports/output"
)

// JobManager tracks asynchronous conversion jobs in serve mode. Job
// records are kept in memory for the lifetime of the process; a
// restart forgets finished jobs, their reports stay on disk.
type JobManager struct {
	mu     sync.RWMutex
	jobs   map[string]*input.JobStatus
	order  []string // submission order, oldest first
	active int

	converter input.ConversionService
	metrics   output.MetricsCollector
	logger    *slog.Logger
	sem       chan struct{}
}

// NewJobManager creates a job manager. maxConcurrent bounds the number
// of conversions running at once; values below 1 mean one at a time.
func NewJobManager(
	converter input.ConversionService,
	metrics output.MetricsCollector,
	logger *slog.Logger,
	maxConcurrent int,
) *JobManager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &JobManager{
		jobs:      make(map[string]*input.JobStatus),
		converter: converter,
		metrics:   metrics,
		logger:    logger,
		sem:       make(chan struct{}, maxConcurrent),
	}
}

// Submit registers a job and starts it in the background. The job runs
// detached from the caller's context; an aborted HTTP request must not
// cancel a conversion already underway.
func (m *JobManager) Submit(_ context.Context, req input.ConvertRequest) (string, error) {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}

	m.mu.Lock()
	m.jobs[req.JobID] = &input.JobStatus{
		ID:         req.JobID,
		State:      input.JobRunning,
		SourcePath: req.SourcePath,
	}
	m.order = append(m.order, req.JobID)
	m.mu.Unlock()

	m.logger.Info("job submitted", "job_id", req.JobID, "source", req.SourcePath)
	go m.run(req)
	return req.JobID, nil
}

// Get returns the state of a job by ID.
func (m *JobManager) Get(_ context.Context, jobID string) (*input.JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", jobID, domain.ErrJobNotFound)
	}
	copied := *status
	return &copied, nil
}

// List returns all known jobs, most recent first.
func (m *JobManager) List(_ context.Context) ([]input.JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]input.JobStatus, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		jobs = append(jobs, *m.jobs[m.order[i]])
	}
	return jobs, nil
}

// ActiveJobs returns the number of conversions currently running.
func (m *JobManager) ActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// TotalJobs returns the number of jobs seen since start.
func (m *JobManager) TotalJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.jobs)
}

// run executes one job under the concurrency bound.
func (m *JobManager) run(req input.ConvertRequest) {
	m.sem <- struct{}{}
	defer func() { <-m.sem }()

	m.setActive(+1)
	defer m.setActive(-1)

	result, err := m.converter.Convert(context.Background(), req)

	m.mu.Lock()
	status := m.jobs[req.JobID]
	if err != nil {
		status.State = input.JobFailed
		status.Error = err.Error()
	} else {
		status.State = input.JobCompleted
		status.Result = result
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("job failed", "job_id", req.JobID, "error", err)
		return
	}
	m.logger.Info("job finished", "job_id", req.JobID, "success", result.Success)
}

func (m *JobManager) setActive(delta int) {
	m.mu.Lock()
	m.active += delta
	active := m.active
	m.mu.Unlock()
	m.metrics.SetActiveJobs(active)
}
