package history

const schemaVersion = 1

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS runs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	invocation_id    TEXT    NOT NULL,
	size             TEXT    NOT NULL,
	run              INTEGER NOT NULL,
	count_only       INTEGER NOT NULL DEFAULT 0,
	seed             INTEGER,
	status           TEXT    NOT NULL,
	detail           TEXT    NOT NULL DEFAULT '',
	total_latency_ms REAL    NOT NULL,
	per_stage        TEXT    NOT NULL DEFAULT '{}',
	bandwidth        TEXT    NOT NULL DEFAULT '{}',
	recorded_at      TEXT    NOT NULL,
	UNIQUE (invocation_id, run)
);
CREATE INDEX IF NOT EXISTS idx_runs_size ON runs(size, recorded_at);
`
