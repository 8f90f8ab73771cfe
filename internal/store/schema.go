package store

// schemaVersion is stamped into PRAGMA user_version on first open. A
// database carrying a different non-zero version is from an
// incompatible build and is rejected.
const schemaVersion = 1

// schemaSQL creates the logical schema: one `run` row, one `path` row
// per relative path, and an append-only `conflict_log`.
// CREATE TABLE IF NOT EXISTS makes this safe to run on every Open,
// including against a database from a prior, interrupted run.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS run (
	id         TEXT PRIMARY KEY,
	a_root     TEXT NOT NULL,
	b_root     TEXT NOT NULL,
	dest_root  TEXT NOT NULL,
	phase      TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS path (
	rel_path        TEXT PRIMARY KEY,
	in_a            INTEGER NOT NULL DEFAULT 0,
	in_b            INTEGER NOT NULL DEFAULT 0,
	kind_a          TEXT NOT NULL DEFAULT 'absent',
	kind_b          TEXT NOT NULL DEFAULT 'absent',
	size_a          INTEGER NOT NULL DEFAULT 0,
	size_b          INTEGER NOT NULL DEFAULT 0,
	mtime_a         INTEGER NOT NULL DEFAULT 0,
	mtime_b         INTEGER NOT NULL DEFAULT 0,
	hash_a          INTEGER,
	hash_b          INTEGER,
	symlink_target_a TEXT NOT NULL DEFAULT '',
	symlink_target_b TEXT NOT NULL DEFAULT '',
	action          TEXT,
	action_source   TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	decision_choice TEXT,
	winner          TEXT,
	error           TEXT,
	awaiting_since  INTEGER
);

CREATE INDEX IF NOT EXISTS idx_path_status ON path(status);
CREATE INDEX IF NOT EXISTS idx_path_action ON path(action);

CREATE TABLE IF NOT EXISTS conflict_log (
	id               TEXT PRIMARY KEY,
	rel_path         TEXT NOT NULL,
	choice           TEXT NOT NULL,
	winner           TEXT NOT NULL,
	a_snapshot_json  TEXT NOT NULL,
	b_snapshot_json  TEXT NOT NULL,
	decided_at       INTEGER NOT NULL
);
`

// truncateSQL discards an existing Run and its rows; used by --reset.
const truncateSQL = `
DELETE FROM conflict_log;
DELETE FROM path;
DELETE FROM run;
`
