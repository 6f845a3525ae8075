package application

import (
	"context"

	"github.com/jobrunner/stratum/internal/ports/input"
)

// HealthService answers liveness and readiness probes for serve mode.
type HealthService struct {
	jobs *JobManager
}

// NewHealthService creates a health service backed by the job manager.
func NewHealthService(jobs *JobManager) *HealthService {
	return &HealthService{jobs: jobs}
}

// IsHealthy returns true if the service is healthy.
func (s *HealthService) IsHealthy(_ context.Context) bool {
	return true
}

// IsReady returns true if the service is ready to accept requests. The
// conversion service holds no warm state, so readiness follows
// liveness.
func (s *HealthService) IsReady(ctx context.Context) bool {
	return s.IsHealthy(ctx)
}

// GetHealthDetails returns detailed health information.
func (s *HealthService) GetHealthDetails(ctx context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:    s.IsHealthy(ctx),
		Ready:      s.IsReady(ctx),
		ActiveJobs: s.jobs.ActiveJobs(),
		TotalJobs:  s.jobs.TotalJobs(),
		Components: map[string]string{
			"jobs": "ok",
		},
	}
}
