package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// ProjectStorage implements interfaces.ProjectStore on the projects table.
type ProjectStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewProjectStorage creates a project storage instance.
func NewProjectStorage(db *DB, logger arbor.ILogger) *ProjectStorage {
	return &ProjectStorage{db: db.db, logger: logger}
}

const projectColumns = `id, name, created_at, created_by, processing_image_url,
	environment, deadline, nr_added, nr_claimed, nr_finished, nr_failed,
	processing_time_total, last_added_at, last_claimed_at`

// Insert registers a project. The name defaults to the id when the update
// carries none.
func (s *ProjectStorage) Insert(ctx context.Context, id, creator string, update *models.ProjectUpdate) error {
	return insertProject(ctx, s.db, id, creator, update)
}

func insertProject(ctx context.Context, db execer, id, creator string, update *models.ProjectUpdate) error {
	name := id
	env := map[string]interface{}{}
	var deadline sql.NullInt64
	var imageURL sql.NullString

	if update != nil {
		if update.Name != nil {
			name = *update.Name
		}
		if update.Environment != nil {
			env = update.Environment
		}
		deadline = nullUnix(update.Deadline)
		if update.ProcessingImageURL != nil {
			imageURL = nullString(*update.ProcessingImageURL)
		}
	}

	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode environment: %w", err)
	}

	query := `INSERT INTO projects (id, name, created_at, created_by, processing_image_url, environment, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, query,
		id, name, time.Now().Unix(), creator, imageURL, string(envJSON), deadline)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrConflict
		}
		return fmt.Errorf("failed to insert project: %w", err)
	}
	return nil
}

// Get returns a project by id.
func (s *ProjectStorage) Get(ctx context.Context, id string) (*models.Project, error) {
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE id = ?`, projectColumns)
	project, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return project, nil
}

// Exists reports whether the project is registered.
func (s *ProjectStorage) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check project: %w", err)
	}
	return true, nil
}

// List returns projects ordered by last_claimed_at, most recent first.
func (s *ProjectStorage) List(ctx context.Context, filter interfaces.ProjectFilter) ([]*models.Project, error) {
	var conditions []string
	var args []interface{}

	if filter.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.OnlyActive {
		conditions = append(conditions, "nr_added > nr_claimed")
	}

	query := fmt.Sprintf(`SELECT %s FROM projects`, projectColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY last_claimed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Update applies the user-settable fields.
func (s *ProjectStorage) Update(ctx context.Context, id string, update *models.ProjectUpdate) error {
	var sets []string
	var args []interface{}

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.DeadlineSet {
		sets = append(sets, "deadline = ?")
		args = append(args, nullUnix(update.Deadline))
	}
	if update.ProcessingImageURL != nil {
		sets = append(sets, "processing_image_url = ?")
		args = append(args, nullString(*update.ProcessingImageURL))
	}
	if update.Environment != nil {
		envJSON, err := json.Marshal(update.Environment)
		if err != nil {
			return fmt.Errorf("failed to encode environment: %w", err)
		}
		sets = append(sets, "environment = ?")
		args = append(args, string(envJSON))
	}
	if len(sets) == 0 {
		// Nothing to change, but the project must still exist.
		exists, err := s.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return interfaces.ErrNotFound
		}
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE projects SET %s WHERE id = ?`, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// Remove deletes the registry row.
func (s *ProjectStorage) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrNotFound
	}
	s.logger.Info().Str("project", id).Msg("Project removed")
	return nil
}

// Counter hooks. They take the caller's execer so lifecycle transactions can
// bump counters atomically with the job-row update. Counter mutations are
// always `col = col + ?`, never overwrites.

// jobAdded bumps the added counter and the last-added timestamp.
func jobAdded(ctx context.Context, db execer, id string, delta int64, lastAdded *time.Time) error {
	return bumpCounters(ctx, db, id,
		`UPDATE projects SET nr_added = nr_added + ?, last_added_at = ? WHERE id = ?`,
		delta, nullUnix(lastAdded), id)
}

// jobClaimed bumps the claimed counter and the last-claimed timestamp.
func jobClaimed(ctx context.Context, db execer, id string, now time.Time) error {
	return bumpCounters(ctx, db, id,
		`UPDATE projects SET nr_claimed = nr_claimed + 1, last_claimed_at = ? WHERE id = ?`,
		now.Unix(), id)
}

// jobUnclaimed reverses a claim. When the job had already failed the failure
// counter is reversed too, so a later re-attempt does not double-count.
func jobUnclaimed(ctx context.Context, db execer, id string, wasFailed bool) error {
	query := `UPDATE projects SET nr_claimed = nr_claimed - 1 WHERE id = ?`
	if wasFailed {
		query = `UPDATE projects SET nr_claimed = nr_claimed - 1, nr_failed = nr_failed - 1 WHERE id = ?`
	}
	return bumpCounters(ctx, db, id, query, id)
}

// jobFinished bumps the finished counter and the processing time total.
func jobFinished(ctx context.Context, db execer, id string, processingTime float64) error {
	return bumpCounters(ctx, db, id,
		`UPDATE projects SET nr_finished = nr_finished + 1, processing_time_total = processing_time_total + ? WHERE id = ?`,
		processingTime, id)
}

// jobFailed bumps the failed counter and the processing time total.
func jobFailed(ctx context.Context, db execer, id string, processingTime float64) error {
	return bumpCounters(ctx, db, id,
		`UPDATE projects SET nr_failed = nr_failed + 1, processing_time_total = processing_time_total + ? WHERE id = ?`,
		processingTime, id)
}

func bumpCounters(ctx context.Context, db execer, id, query string, args ...interface{}) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project counters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var createdAt int64
	var imageURL sql.NullString
	var envJSON string
	var deadline, lastAdded, lastClaimed sql.NullInt64

	err := row.Scan(
		&p.ID, &p.Name, &createdAt, &p.CreatedBy, &imageURL,
		&envJSON, &deadline, &p.NrAdded, &p.NrClaimed, &p.NrFinished,
		&p.NrFailed, &p.ProcessingTimeTotal, &lastAdded, &lastClaimed,
	)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.ProcessingImageURL = imageURL.String
	p.Deadline = unixPtr(deadline)
	p.LastAddedAt = unixPtr(lastAdded)
	p.LastClaimedAt = unixPtr(lastClaimed)

	p.Environment = map[string]interface{}{}
	if envJSON != "" {
		if err := json.Unmarshal([]byte(envJSON), &p.Environment); err != nil {
			return nil, fmt.Errorf("failed to decode environment: %w", err)
		}
	}
	return &p, nil
}
