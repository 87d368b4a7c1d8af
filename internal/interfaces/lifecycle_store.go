package interfaces

import (
	"context"
	"time"

	"github.com/molflow/microq/internal/models"
)

// JobConflict reports a duplicate id during a batch insert. Index is the
// position in the submitted list.
type JobConflict struct {
	Index int
	JobID string
}

// LifecycleStore runs the multi-row units of work that must stay atomic:
// job state transitions together with the project counters they touch
// (C3 + C5 storage side). Implementations wrap each call in one database
// transaction.
type LifecycleStore interface {
	// InsertJobs adds a batch all-or-nothing, creating the job table and
	// the project row (with creator) when missing. Exact duplicates of
	// existing jobs are skipped silently; same id with a different payload
	// is a conflict. On any conflict nothing is inserted. Returns the
	// number of rows actually added.
	InsertJobs(ctx context.Context, project, creator string, jobs []*models.Job) (int64, []JobConflict, error)

	// ClaimJob atomically claims a job for a worker via a conditional
	// update and bumps the project claim counters. ErrNotFound when the
	// job does not exist, ErrAlreadyClaimed when another worker holds it.
	ClaimJob(ctx context.Context, project, jobID, worker string, now time.Time) error

	// ReleaseJob drops a claim: claimed=false, worker cleared, status back
	// to AVAILABLE, nr_claimed decremented. When the job had already
	// reached FAILED the project's nr_failed is decremented too, so a
	// re-attempt does not double-count. No-op when not claimed.
	ReleaseJob(ctx context.Context, project, jobID string) error

	// SetStatus moves a job to the given state, stamping the matching
	// timestamp and recording the reported processing time. Counter
	// updates for FINISHED/FAILED happen in the same transaction, and are
	// skipped when the job is already in that final state.
	SetStatus(ctx context.Context, project, jobID string, status models.JobStatus,
		processingTime *float64, now time.Time) error

	// ReconcileProject recomputes the project's counters from its job rows
	// and rewrites them when they drifted. Returns true when a correction
	// was applied.
	ReconcileProject(ctx context.Context, project string) (bool, error)
}
