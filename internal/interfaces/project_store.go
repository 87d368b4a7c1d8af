package interfaces

import (
	"context"

	"github.com/molflow/microq/internal/models"
)

// ProjectFilter narrows a project listing.
type ProjectFilter struct {
	CreatedBy  string
	OnlyActive bool // nr_added > nr_claimed
	Limit      int
}

// ProjectStore is the projects registry (C2). Counter mutations are always
// incremental updates, never overwrites.
type ProjectStore interface {
	// Insert registers a project. Name defaults to the id. ErrConflict on
	// duplicate id.
	Insert(ctx context.Context, id, creator string, update *models.ProjectUpdate) error

	// Get returns a project, ErrNotFound when absent.
	Get(ctx context.Context, id string) (*models.Project, error)

	// Exists reports whether the project is registered.
	Exists(ctx context.Context, id string) (bool, error)

	// List returns projects ordered by last_claimed_at.
	List(ctx context.Context, filter ProjectFilter) ([]*models.Project, error)

	// Update applies the user-settable fields. ErrNotFound when absent.
	Update(ctx context.Context, id string, update *models.ProjectUpdate) error

	// Remove deletes the registry row. Dropping the job table is the
	// caller's concern.
	Remove(ctx context.Context, id string) error
}
