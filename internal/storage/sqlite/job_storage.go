package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/molflow/microq/internal/interfaces"
	"github.com/molflow/microq/internal/models"
)

// JobStorage implements interfaces.JobStore on per-project SQLite tables.
type JobStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

// NewJobStorage creates a job storage instance.
func NewJobStorage(db *DB, logger arbor.ILogger) *JobStorage {
	return &JobStorage{db: db.db, logger: logger}
}

// jobTable maps a project id to its table name, rejecting ids that could not
// come through validation.
func jobTable(project string) (string, error) {
	if !models.ValidProjectID(project) {
		return "", fmt.Errorf("invalid project id: %q", project)
	}
	return "jobs_" + project, nil
}

const jobColumns = `id, job_type, source_url, target_url, view_result_url,
	claimed, current_status, worker, worker_output,
	added_at, claimed_at, finished_at, failed_at, processing_time`

// EnsureTable creates the project's job table if it does not exist.
func (s *JobStorage) EnsureTable(ctx context.Context, project string) error {
	table, err := jobTable(project)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, jobTableSQL(table)); err != nil {
		return fmt.Errorf("failed to create job table: %w", err)
	}
	return nil
}

// Insert adds a job row.
func (s *JobStorage) Insert(ctx context.Context, project string, job *models.Job) error {
	table, err := jobTable(project)
	if err != nil {
		return err
	}
	return insertJob(ctx, s.db, table, job)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func insertJob(ctx context.Context, db execer, table string, job *models.Job) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		table, jobColumns)
	_, err := db.ExecContext(ctx, query,
		job.ID,
		nullString(job.Type),
		nullString(job.SourceURL),
		nullString(job.TargetURL),
		nullString(job.ViewResultURL),
		boolToInt(job.Claimed),
		string(job.CurrentStatus),
		nullString(job.Worker),
		nullString(job.WorkerOutput),
		nullUnix(job.AddedAt),
		nullUnix(job.ClaimedAt),
		nullUnix(job.FinishedAt),
		nullUnix(job.FailedAt),
		nullFloat(job.ProcessingTime),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrConflict
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get returns a job by id.
func (s *JobStorage) Get(ctx context.Context, project, jobID string) (*models.Job, error) {
	table, err := jobTable(project)
	if err != nil {
		return nil, err
	}
	return getJob(ctx, s.db, table, jobID)
}

func getJob(ctx context.Context, db querier, table, jobID string) (*models.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, jobColumns, table)
	job, err := scanJob(db.QueryRowContext(ctx, query, jobID))
	if err == sql.ErrNoRows {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns jobs matching the filter, ordered by the filter's time field
// when one is set, otherwise by added_at.
func (s *JobStorage) List(ctx context.Context, project string, filter interfaces.JobFilter) ([]*models.Job, error) {
	table, err := jobTable(project)
	if err != nil {
		return nil, err
	}

	var conditions []string
	var args []interface{}

	if filter.Type != "" {
		conditions = append(conditions, "job_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Worker != "" {
		conditions = append(conditions, "worker = ?")
		args = append(args, filter.Worker)
	}
	if filter.Status != "" {
		conditions = append(conditions, "current_status = ?")
		args = append(args, string(filter.Status))
	}

	orderBy := "added_at"
	if filter.TimeField != "" {
		col := filter.TimeField.TimestampField()
		orderBy = col
		conditions = append(conditions, col+" IS NOT NULL")
		if filter.Start != nil {
			conditions = append(conditions, col+" >= ?")
			args = append(args, filter.Start.Unix())
		}
		if filter.End != nil {
			conditions = append(conditions, col+" < ?")
			args = append(args, filter.End.Unix())
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, jobColumns, table)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY " + orderBy
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FetchUnclaimed draws one unclaimed job at random from a window of unclaimed
// rows, so concurrent workers rarely race for the same row.
func (s *JobStorage) FetchUnclaimed(ctx context.Context, project string, window int) (*models.Job, error) {
	table, err := jobTable(project)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		window = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE claimed = 0 LIMIT ?`, jobColumns, table)
	rows, err := s.db.QueryContext(ctx, query, window)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unclaimed jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return jobs[rand.Intn(len(jobs))], nil
}

// CountByStatus returns row counts grouped by current_status.
func (s *JobStorage) CountByStatus(ctx context.Context, project string) (map[models.JobStatus]int64, error) {
	table, err := jobTable(project)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT current_status, COUNT(*) FROM %s GROUP BY current_status`, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int64)
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[models.JobStatus(status)] = count
	}
	return counts, rows.Err()
}

// CountByTimePeriod buckets jobs by the timestamp of the given state using
// SQLite's strftime over the unix-seconds column.
func (s *JobStorage) CountByTimePeriod(ctx context.Context, project string, state models.JobStatus,
	period models.TimePeriod, start, end *time.Time, distinctWorkers bool) ([]interfaces.PeriodCount, error) {

	table, err := jobTable(project)
	if err != nil {
		return nil, err
	}

	col := state.TimestampField()
	agg := "COUNT(*)"
	if distinctWorkers {
		agg = "COUNT(DISTINCT worker)"
	}

	conditions := []string{col + " IS NOT NULL"}
	args := []interface{}{period.Strftime()}
	if start != nil {
		conditions = append(conditions, col+" >= ?")
		args = append(args, start.Unix())
	}
	if end != nil {
		conditions = append(conditions, col+" < ?")
		args = append(args, end.Unix())
	}

	query := fmt.Sprintf(
		`SELECT strftime(?, %s, 'unixepoch') AS period, %s FROM %s WHERE %s GROUP BY period ORDER BY period`,
		col, agg, table, strings.Join(conditions, " AND "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by period: %w", err)
	}
	defer rows.Close()

	var counts []interfaces.PeriodCount
	for rows.Next() {
		var label string
		var count int64
		if err := rows.Scan(&label, &count); err != nil {
			return nil, fmt.Errorf("failed to scan period count: %w", err)
		}
		bucketStart, err := period.ParseLabel(label)
		if err != nil {
			return nil, err
		}
		counts = append(counts, interfaces.PeriodCount{
			Label: label,
			Start: bucketStart,
			End:   period.Next(bucketStart),
			Count: count,
		})
	}
	return counts, rows.Err()
}

// Update patches a job's mutable fields. The update struct cannot name
// identity or bookkeeping columns, so those stay immutable here.
func (s *JobStorage) Update(ctx context.Context, project, jobID string, update interfaces.JobUpdate) error {
	table, err := jobTable(project)
	if err != nil {
		return err
	}

	var assignments []string
	var args []interface{}
	set := func(column string, value *string) {
		if value == nil {
			return
		}
		assignments = append(assignments, column+" = ?")
		args = append(args, nullString(*value))
	}
	set("job_type", update.Type)
	set("source_url", update.SourceURL)
	set("target_url", update.TargetURL)
	set("view_result_url", update.ViewResultURL)

	if update.WorkerOutput != nil {
		// Output is stored verbatim, empty string included.
		assignments = append(assignments, "worker_output = ?")
		args = append(args, *update.WorkerOutput)
	}

	if len(assignments) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`,
		table, strings.Join(assignments, ", "))
	args = append(args, jobID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
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

// SetOutput replaces a job's worker output.
func (s *JobStorage) SetOutput(ctx context.Context, project, jobID, output string) error {
	return s.Update(ctx, project, jobID, interfaces.JobUpdate{WorkerOutput: &output})
}

// Drop deletes the project's job table.
func (s *JobStorage) Drop(ctx context.Context, project string) error {
	table, err := jobTable(project)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return fmt.Errorf("failed to drop job table: %w", err)
	}
	s.logger.Info().Str("project", project).Msg("Job table dropped")
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var jobType, sourceURL, targetURL, viewResultURL sql.NullString
	var worker, workerOutput sql.NullString
	var claimed int
	var status string
	var addedAt, claimedAt, finishedAt, failedAt sql.NullInt64
	var processingTime sql.NullFloat64

	err := row.Scan(
		&job.ID, &jobType, &sourceURL, &targetURL, &viewResultURL,
		&claimed, &status, &worker, &workerOutput,
		&addedAt, &claimedAt, &finishedAt, &failedAt, &processingTime,
	)
	if err != nil {
		return nil, err
	}

	job.Type = jobType.String
	job.SourceURL = sourceURL.String
	job.TargetURL = targetURL.String
	job.ViewResultURL = viewResultURL.String
	job.Claimed = claimed != 0
	job.CurrentStatus = models.JobStatus(status)
	job.Worker = worker.String
	job.WorkerOutput = workerOutput.String
	job.AddedAt = unixPtr(addedAt)
	job.ClaimedAt = unixPtr(claimedAt)
	job.FinishedAt = unixPtr(finishedAt)
	job.FailedAt = unixPtr(failedAt)
	if processingTime.Valid {
		job.ProcessingTime = &processingTime.Float64
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
