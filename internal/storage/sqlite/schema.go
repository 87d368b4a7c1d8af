package sqlite

import "fmt"

const schemaSQL = `
-- Projects registry. Counters are maintained redundantly with the job rows
-- and only ever updated incrementally.
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	created_by TEXT NOT NULL,
	processing_image_url TEXT,
	environment TEXT NOT NULL DEFAULT '{}',
	deadline INTEGER,
	nr_added INTEGER NOT NULL DEFAULT 0,
	nr_claimed INTEGER NOT NULL DEFAULT 0,
	nr_finished INTEGER NOT NULL DEFAULT 0,
	nr_failed INTEGER NOT NULL DEFAULT 0,
	processing_time_total REAL NOT NULL DEFAULT 0,
	last_added_at INTEGER,
	last_claimed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_projects_last_claimed ON projects(last_claimed_at);
CREATE INDEX IF NOT EXISTS idx_projects_created_by ON projects(created_by);

-- Worker accounts
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL
);
`

// jobTableSQL returns the DDL for a project's job table. The table name is
// derived from the project id, which is validated against
// [A-Za-z][A-Za-z0-9]* before it gets here.
func jobTableSQL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	job_type TEXT,
	source_url TEXT,
	target_url TEXT,
	view_result_url TEXT,
	added_at INTEGER,
	claimed INTEGER NOT NULL DEFAULT 0,
	current_status TEXT NOT NULL DEFAULT 'AVAILABLE',
	worker TEXT,
	worker_output TEXT,
	claimed_at INTEGER,
	finished_at INTEGER,
	failed_at INTEGER,
	processing_time REAL
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_added ON %[1]s(added_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_claimed_at ON %[1]s(claimed_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_finished_at ON %[1]s(finished_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_failed_at ON %[1]s(failed_at);
CREATE INDEX IF NOT EXISTS idx_%[1]s_status ON %[1]s(current_status);
CREATE INDEX IF NOT EXISTS idx_%[1]s_worker ON %[1]s(worker);
CREATE INDEX IF NOT EXISTS idx_%[1]s_claimed_type ON %[1]s(claimed, job_type);
`, table)
}
