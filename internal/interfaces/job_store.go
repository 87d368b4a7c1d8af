package interfaces

import (
	"context"
	"time"

	"github.com/molflow/microq/internal/models"
)

// JobFilter narrows a job listing. Match keys are equality filters; when
// TimeField is set the listing is restricted to [Start, End) on that field
// and ordered by it ascending.
type JobFilter struct {
	Type      string
	Worker    string
	Status    models.JobStatus
	TimeField models.JobStatus // state whose timestamp bounds the window
	Start     *time.Time
	End       *time.Time
	Limit     int
}

// JobUpdate patches the mutable fields of a job row. Nil fields are left
// untouched. Identity and bookkeeping fields (id, claim state, timestamps)
// have no representation here; they only change through the lifecycle
// operations.
type JobUpdate struct {
	Type          *string
	SourceURL     *string
	TargetURL     *string
	ViewResultURL *string
	WorkerOutput  *string
}

// PeriodCount is one bucket of a time-grouped count.
type PeriodCount struct {
	Label string
	Start time.Time
	End   time.Time
	Count int64
}

// JobStore is the per-project job table (C1). Implementations are scoped to
// a single database; every operation names its project and the table is
// created lazily.
type JobStore interface {
	// EnsureTable creates the project's job table if it does not exist.
	EnsureTable(ctx context.Context, project string) error

	// Insert adds a job. ErrConflict when the id is taken.
	Insert(ctx context.Context, project string, job *models.Job) error

	// Get returns a job by id, ErrNotFound when absent.
	Get(ctx context.Context, project, jobID string) (*models.Job, error)

	// List returns jobs matching the filter.
	List(ctx context.Context, project string, filter JobFilter) ([]*models.Job, error)

	// FetchUnclaimed draws one unclaimed job at random from a bounded
	// window of unclaimed rows. ErrNotFound when none are available.
	FetchUnclaimed(ctx context.Context, project string, window int) (*models.Job, error)

	// CountByStatus returns row counts grouped by current_status.
	CountByStatus(ctx context.Context, project string) (map[models.JobStatus]int64, error)

	// CountByTimePeriod buckets jobs by the timestamp of the given state.
	// With distinctWorkers it counts distinct workers instead of rows.
	CountByTimePeriod(ctx context.Context, project string, state models.JobStatus,
		period models.TimePeriod, start, end *time.Time, distinctWorkers bool) ([]PeriodCount, error)

	// Update patches a job's mutable fields. ErrNotFound when absent.
	Update(ctx context.Context, project, jobID string, update JobUpdate) error

	// SetOutput replaces a job's worker output. ErrNotFound when absent.
	SetOutput(ctx context.Context, project, jobID, output string) error

	// Drop deletes the project's job table.
	Drop(ctx context.Context, project string) error
}
