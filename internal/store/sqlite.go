package store

import (
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/t-hamamura/market-research-system/internal/engine"
)

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database and applies the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "store: apply migrations")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// ---------- engine.RunStore ----------

func (s *SQLiteStore) CreateRun(rec engine.RunRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, business_name, resume_offset, status, started_at, updated_at)
		 VALUES (?,?,?,?,?,?)`,
		rec.ID, rec.BusinessName, rec.ResumeOffset, string(rec.Status), rec.StartedAt, rec.StartedAt,
	)
	return err
}

func (s *SQLiteStore) UpdateRunStatus(runID string, status engine.RunStatus, message string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, message = ?, updated_at = datetime('now') WHERE id = ?`,
		string(status), message, runID,
	)
	return err
}

func (s *SQLiteStore) SaveArtifact(runID string, a engine.ArtifactSummary) error {
	_, err := s.db.Exec(
		`INSERT INTO run_artifacts (run_id, step, title, status, url) VALUES (?,?,?,?,?)
		 ON CONFLICT(run_id, step) DO UPDATE SET title=excluded.title, status=excluded.status, url=excluded.url`,
		runID, a.Step, a.Title, string(a.Status), a.URL,
	)
	return err
}

func (s *SQLiteStore) SaveEvent(runID string, ev engine.ProgressEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO run_events (run_id, type, step, message, research_type, notion_url, created_at)
		 VALUES (?,?,?,?,?,?,?)`,
		runID, string(ev.Type), ev.Step, ev.Message, ev.ResearchType, ev.NotionURL, ev.Timestamp,
	)
	return err
}

func (s *SQLiteStore) CompleteRun(runID string, synthesisURL string, elapsed time.Duration) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, synthesis_url = ?, elapsed_ms = ?, updated_at = datetime('now') WHERE id = ?`,
		string(engine.RunCompleted), synthesisURL, elapsed.Milliseconds(), runID,
	)
	return err
}

// ---------- Read side ----------

func (s *SQLiteStore) ListRuns() ([]RunSummary, error) {
	rows, err := s.db.Query(
		`SELECT id, business_name, status, resume_offset, synthesis_url, elapsed_ms, started_at, updated_at
		 FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var rs RunSummary
		if err := rows.Scan(&rs.ID, &rs.BusinessName, &rs.Status, &rs.ResumeOffset,
			&rs.SynthesisURL, &rs.ElapsedMS, &rs.StartedAt, &rs.UpdatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) ListArtifacts(runID string) ([]engine.ArtifactSummary, error) {
	rows, err := s.db.Query(
		`SELECT step, title, status, url FROM run_artifacts WHERE run_id = ? ORDER BY step ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list artifacts")
	}
	defer rows.Close()

	var artifacts []engine.ArtifactSummary
	for rows.Next() {
		var a engine.ArtifactSummary
		var status string
		if err := rows.Scan(&a.Step, &a.Title, &status, &a.URL); err != nil {
			return nil, err
		}
		a.Status = engine.ArtifactStatus(status)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func (s *SQLiteStore) ListEvents(runID string) ([]engine.ProgressEvent, error) {
	rows, err := s.db.Query(
		`SELECT type, step, message, research_type, notion_url, created_at
		 FROM run_events WHERE run_id = ? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, eris.Wrap(err, "store: list events")
	}
	defer rows.Close()

	var events []engine.ProgressEvent
	for rows.Next() {
		var ev engine.ProgressEvent
		var typ string
		if err := rows.Scan(&typ, &ev.Step, &ev.Message, &ev.ResearchType, &ev.NotionURL, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Type = engine.EventType(typ)
		ev.Total = engine.TotalSteps
		events = append(events, ev)
	}
	return events, rows.Err()
}
