// Package lifecycle drives jobs through their states and keeps the project
// counters in step with every transition.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// ConflictError reports a duplicate-id conflict with the message the API
// returns verbatim.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Manager validates transitions before handing them to the transactional
// store.
type Manager struct {
	store  interfaces.LifecycleStore
	logger arbor.ILogger
}

// NewManager creates a lifecycle manager.
func NewManager(store interfaces.LifecycleStore, logger arbor.ILogger) *Manager {
	return &Manager{store: store, logger: logger}
}

// AddJobs inserts a batch all-or-nothing. Exact re-posts are silently
// skipped; a duplicate id with a different payload aborts the batch with a
// ConflictError naming each offender.
func (m *Manager) AddJobs(ctx context.Context, project, creator string, jobs []*models.Job) (int64, error) {
	added, conflicts, err := m.store.InsertJobs(ctx, project, creator, jobs)
	if err != nil {
		return 0, err
	}
	if len(conflicts) > 0 {
		if len(jobs) == 1 {
			return 0, &ConflictError{
				Message: fmt.Sprintf("A job with id %s already exists.", conflicts[0].JobID),
			}
		}
		messages := make([]string, len(conflicts))
		for i, c := range conflicts {
			messages[i] = fmt.Sprintf("Job#%d: A job with id %s already exists.",
				c.Index, c.JobID)
		}
		return 0, &ConflictError{Message: strings.Join(messages, "\n")}
	}

	if added > 0 {
		m.logger.Info().Str("project", project).Int64("added", added).Msg("Jobs added")
	}
	return added, nil
}

// Claim assigns a job to a worker. Exactly one concurrent claimer wins.
func (m *Manager) Claim(ctx context.Context, project, jobID, worker string, now time.Time) error {
	if err := m.store.ClaimJob(ctx, project, jobID, worker, now); err != nil {
		return err
	}
	m.logger.Info().Str("project", project).Str("job_id", jobID).
		Str("worker", worker).Msg("Job claimed")
	return nil
}

// Release drops a claim so the job can be handed out again.
func (m *Manager) Release(ctx context.Context, project, jobID string) error {
	if err := m.store.ReleaseJob(ctx, project, jobID); err != nil {
		return err
	}
	m.logger.Info().Str("project", project).Str("job_id", jobID).Msg("Job released")
	return nil
}

// SetStatus applies a worker-reported status update. AVAILABLE is not a
// reportable state; it can only be reached by releasing a claim.
func (m *Manager) SetStatus(ctx context.Context, project, jobID string,
	status models.JobStatus, processingTime *float64, now time.Time) error {

	if status == models.StatusAvailable {
		return &models.ValidationError{
			Message: fmt.Sprintf("unsupported status: %q", string(status)),
		}
	}
	if err := m.store.SetStatus(ctx, project, jobID, status, processingTime, now); err != nil {
		return err
	}
	m.logger.Info().Str("project", project).Str("job_id", jobID).
		Str("status", string(status)).Msg("Job status updated")
	return nil
}
