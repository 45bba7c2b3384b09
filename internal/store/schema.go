package store

// schema is applied once at startup. All tables that participate in
// optimistic concurrency carry a version column defaulting to 1.
const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	remote_url TEXT NOT NULL,
	organization TEXT NOT NULL,
	name TEXT NOT NULL,
	is_private INTEGER NOT NULL DEFAULT 0,
	account_name TEXT NOT NULL DEFAULT '',
	account_secret TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	primary_language TEXT NOT NULL DEFAULT '',
	last_update_check_at DATETIME,
	update_interval_minutes INTEGER,
	version INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	deleted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_repositories_status ON repositories(status, created_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_repositories_remote_url ON repositories(remote_url) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS repository_branches (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL REFERENCES repositories(id),
	name TEXT NOT NULL,
	last_commit_id TEXT NOT NULL DEFAULT '',
	last_processed_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_branches_repository ON repository_branches(repository_id, created_at);

CREATE TABLE IF NOT EXISTS branch_languages (
	id TEXT PRIMARY KEY,
	branch_id TEXT NOT NULL REFERENCES repository_branches(id),
	language TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_branch_languages_branch ON branch_languages(branch_id, created_at);

CREATE TABLE IF NOT EXISTS incremental_update_tasks (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL REFERENCES repositories(id),
	branch_id TEXT NOT NULL REFERENCES repository_branches(id),
	previous_commit_id TEXT NOT NULL DEFAULT '',
	target_commit_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	is_manual_trigger INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	completed_at DATETIME,
	version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_tasks_priority ON incremental_update_tasks(status, priority DESC, created_at ASC);
CREATE INDEX IF NOT EXISTS idx_tasks_repo_branch_active ON incremental_update_tasks(repository_id, branch_id, status);

CREATE TABLE IF NOT EXISTS repository_processing_logs (
	id TEXT PRIMARY KEY,
	repository_id TEXT NOT NULL REFERENCES repositories(id),
	step TEXT NOT NULL,
	message TEXT NOT NULL,
	is_ai_output INTEGER NOT NULL DEFAULT 0,
	tool_name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_logs_repository ON repository_processing_logs(repository_id, created_at);
`
