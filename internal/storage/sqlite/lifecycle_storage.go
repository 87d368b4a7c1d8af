package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// LifecycleStorage implements interfaces.LifecycleStore. Every operation runs
// in one transaction so job rows and project counters never drift apart.
type LifecycleStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewLifecycleStorage creates a lifecycle storage instance.
func NewLifecycleStorage(db *DB, logger arbor.ILogger) *LifecycleStorage {
	return &LifecycleStorage{db: db.db, logger: logger}
}

// InsertJobs adds a batch all-or-nothing, creating the job table and project
// row when missing. Re-posting an identical job is skipped silently; the same
// id with a different payload is a conflict and aborts the whole batch.
func (s *LifecycleStorage) InsertJobs(ctx context.Context, project, creator string,
	jobs []*models.Job) (int64, []interfaces.JobConflict, error) {

	table, err := jobTable(project)
	if err != nil {
		return 0, nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, jobTableSQL(table)); err != nil {
		return 0, nil, fmt.Errorf("failed to create job table: %w", err)
	}

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, project).Scan(&one)
	if err == sql.ErrNoRows {
		if err := insertProject(ctx, tx, project, creator, nil); err != nil {
			return 0, nil, err
		}
		s.logger.Info().Str("project", project).Str("creator", creator).
			Msg("Project auto-created on job insert")
	} else if err != nil {
		return 0, nil, fmt.Errorf("failed to check project: %w", err)
	}

	var added int64
	var lastAdded *time.Time
	var conflicts []interfaces.JobConflict

	for i, job := range jobs {
		existing, err := getJob(ctx, tx, table, job.ID)
		if err != nil && err != interfaces.ErrNotFound {
			return 0, nil, err
		}
		if existing != nil {
			if !existing.SamePayload(job) {
				conflicts = append(conflicts, interfaces.JobConflict{Index: i, JobID: job.ID})
			}
			continue
		}
		if err := insertJob(ctx, tx, table, job); err != nil {
			if err == interfaces.ErrConflict {
				conflicts = append(conflicts, interfaces.JobConflict{Index: i, JobID: job.ID})
				continue
			}
			return 0, nil, err
		}
		added++
		if job.AddedAt != nil && (lastAdded == nil || job.AddedAt.After(*lastAdded)) {
			lastAdded = job.AddedAt
		}
	}

	if len(conflicts) > 0 {
		return 0, conflicts, nil
	}

	if added > 0 {
		if err := jobAdded(ctx, tx, project, added, lastAdded); err != nil {
			return 0, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("failed to commit: %w", err)
	}
	return added, nil, nil
}

// ClaimJob claims a job through a single conditional update. The update's row
// count decides the outcome, so two workers racing for the same job can never
// both win.
func (s *LifecycleStorage) ClaimJob(ctx context.Context, project, jobID, worker string, now time.Time) error {
	table, err := jobTable(project)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimed int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT claimed FROM %s WHERE id = ?`, table), jobID).Scan(&claimed)
	if err == sql.ErrNoRows {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}

	result, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET claimed = 1, claimed_at = ?, worker = ?, current_status = ? WHERE id = ? AND claimed = 0`,
		table), now.Unix(), worker, string(models.StatusClaimed), jobID)
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return interfaces.ErrAlreadyClaimed
	}

	if err := jobClaimed(ctx, tx, project, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ReleaseJob drops a claim and reverses the claim counters. Releasing an
// unclaimed job is a no-op.
func (s *LifecycleStorage) ReleaseJob(ctx context.Context, project, jobID string) error {
	table, err := jobTable(project)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var claimed int
	var status string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT claimed, current_status FROM %s WHERE id = ?`, table), jobID).
		Scan(&claimed, &status)
	if err == sql.ErrNoRows {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}
	if claimed == 0 {
		return nil
	}

	// A released job becomes claimable again; its status only resets when it
	// never reached a final state.
	newStatus := models.JobStatus(status)
	if newStatus == models.StatusClaimed || newStatus == models.StatusStarted {
		newStatus = models.StatusAvailable
	}
	wasFailed := models.JobStatus(status) == models.StatusFailed

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`UPDATE %s SET claimed = 0, worker = NULL, current_status = ? WHERE id = ?`,
		table), string(newStatus), jobID); err != nil {
		return fmt.Errorf("failed to release job: %w", err)
	}

	if err := jobUnclaimed(ctx, tx, project, wasFailed); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// SetStatus moves a job to the given state. Setting the state it already has
// is a no-op; moving away from one final state to another is a conflict.
func (s *LifecycleStorage) SetStatus(ctx context.Context, project, jobID string,
	status models.JobStatus, processingTime *float64, now time.Time) error {

	table, err := jobTable(project)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT current_status FROM %s WHERE id = ?`, table), jobID).Scan(&current)
	if err == sql.ErrNoRows {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check job: %w", err)
	}

	currentStatus := models.JobStatus(current)
	final := currentStatus == models.StatusFinished || currentStatus == models.StatusFailed
	if final {
		if currentStatus == status {
			return tx.Commit()
		}
		return interfaces.ErrConflict
	}
	if currentStatus == status {
		return tx.Commit()
	}

	switch status {
	case models.StatusFinished:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET current_status = ?, finished_at = ?, processing_time = ? WHERE id = ?`,
			table), string(status), now.Unix(), nullFloat(processingTime), jobID); err != nil {
			return fmt.Errorf("failed to set status: %w", err)
		}
		if err := jobFinished(ctx, tx, project, floatOrZero(processingTime)); err != nil {
			return err
		}
	case models.StatusFailed:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET current_status = ?, failed_at = ?, processing_time = ? WHERE id = ?`,
			table), string(status), now.Unix(), nullFloat(processingTime), jobID); err != nil {
			return fmt.Errorf("failed to set status: %w", err)
		}
		if err := jobFailed(ctx, tx, project, floatOrZero(processingTime)); err != nil {
			return err
		}
	default:
		// CLAIMED and STARTED share the claim timestamp, which was stamped
		// by the claim itself. Only the visible state changes here.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(
			`UPDATE %s SET current_status = ? WHERE id = ?`,
			table), string(status), jobID); err != nil {
			return fmt.Errorf("failed to set status: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// ReconcileProject recomputes the counters from the job rows and rewrites
// them on drift. Drift can only appear through out-of-band edits to the
// database, but the counters drive scheduling so they are worth checking.
func (s *LifecycleStorage) ReconcileProject(ctx context.Context, project string) (bool, error) {
	table, err := jobTable(project)
	if err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var added, claimed, finished, failed int64
	var processing float64
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT COUNT(*),
		       COALESCE(SUM(claimed), 0),
		       COALESCE(SUM(CASE WHEN current_status = 'FINISHED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN current_status = 'FAILED' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(processing_time), 0)
		FROM %s`, table)).Scan(&added, &claimed, &finished, &failed, &processing)
	if err != nil {
		return false, fmt.Errorf("failed to recount jobs: %w", err)
	}

	var curAdded, curClaimed, curFinished, curFailed int64
	var curProcessing float64
	err = tx.QueryRowContext(ctx, `
		SELECT nr_added, nr_claimed, nr_finished, nr_failed, processing_time_total
		FROM projects WHERE id = ?`, project).
		Scan(&curAdded, &curClaimed, &curFinished, &curFailed, &curProcessing)
	if err == sql.ErrNoRows {
		return false, interfaces.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read project counters: %w", err)
	}

	if added == curAdded && claimed == curClaimed && finished == curFinished &&
		failed == curFailed && processing == curProcessing {
		return false, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projects SET nr_added = ?, nr_claimed = ?, nr_finished = ?,
			nr_failed = ?, processing_time_total = ? WHERE id = ?`,
		added, claimed, finished, failed, processing, project); err != nil {
		return false, fmt.Errorf("failed to rewrite counters: %w", err)
	}

	s.logger.Warn().Str("project", project).
		Int64("nr_added", added).Int64("nr_claimed", claimed).
		Int64("nr_finished", finished).Int64("nr_failed", failed).
		Msg("Project counters reconciled")

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

func floatOrZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
