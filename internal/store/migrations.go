package store

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	business_name TEXT NOT NULL,
	resume_offset INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	message       TEXT NOT NULL DEFAULT '',
	synthesis_url TEXT NOT NULL DEFAULT '',
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	started_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS run_artifacts (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	step   INTEGER NOT NULL,
	title  TEXT NOT NULL,
	status TEXT NOT NULL,
	url    TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, step)
);

CREATE TABLE IF NOT EXISTS run_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	type          TEXT NOT NULL,
	step          INTEGER NOT NULL,
	message       TEXT NOT NULL,
	research_type TEXT NOT NULL DEFAULT '',
	notion_url    TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`
