package store

// Schema is applied on every open. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS service_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL,
	outcome TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	job TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_service_log_ts ON service_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_service_log_outcome ON service_log(outcome);

CREATE TABLE IF NOT EXISTS command_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instruction TEXT NOT NULL,
	command TEXT NOT NULL,
	explanation TEXT NOT NULL DEFAULT '',
	success BOOLEAN NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	output TEXT NOT NULL DEFAULT '',
	executed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_command_history_ts ON command_history(executed_at);

CREATE TABLE IF NOT EXISTS audit_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT UNIQUE NOT NULL,
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	violations INTEGER NOT NULL DEFAULT 0,
	gaps TEXT NOT NULL DEFAULT '[]',
	report_path TEXT NOT NULL DEFAULT '',
	report TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT UNIQUE NOT NULL,
	run_id TEXT NOT NULL DEFAULT '',
	tool TEXT NOT NULL,
	arguments TEXT NOT NULL DEFAULT '{}',
	success BOOLEAN NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	result TEXT NOT NULL DEFAULT '',
	started_at DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id);

CREATE TABLE IF NOT EXISTS approval_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL DEFAULT '',
	tool TEXT NOT NULL,
	tier INTEGER NOT NULL,
	mode TEXT NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approval_run ON approval_decisions(run_id);
`
