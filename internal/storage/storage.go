package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrNotInitialized is returned by queries on a nil Store.
var ErrNotInitialized = errors.New("store not initialized")

// Run statuses.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Store wraps SQLite-backed persistence for runs, jobs and engine history.
// A nil *Store accepts every Record call and does nothing.
type Store struct {
	DB     *sql.DB // Export for direct database access
	Driver string
}

// New opens (or creates) the database at path with the pure-Go driver.
func New(path string) (*Store, error) {
	return Open("sqlite", path)
}

// Open opens the database at path with driver "sqlite" (modernc, pure Go) or
// "sqlite3" (mattn, cgo) and ensures the schema.
func Open(driver, path string) (*Store, error) {
	switch driver {
	case "", "sqlite":
		driver = "sqlite"
	case "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between
	// the worker and the status server.
	db.SetMaxOpenConns(1)
	s := &Store{DB: db, Driver: driver}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            workspace TEXT,
            options_json TEXT,
            meta_json TEXT,
            created_at TEXT NOT NULL,
            started_at TEXT,
            finished_at TEXT,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS runs (
            id TEXT PRIMARY KEY,
            workspace TEXT NOT NULL,
            status TEXT NOT NULL,
            color_mode TEXT,
            sessions INTEGER,
            result_path TEXT,
            integration_seconds INTEGER,
            error_message TEXT,
            started_at TEXT NOT NULL,
            finished_at TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS session_states (
            run_id TEXT NOT NULL,
            session TEXT NOT NULL,
            state TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            PRIMARY KEY (run_id, session)
        );`,
		`CREATE TABLE IF NOT EXISTS engine_commands (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            session TEXT,
            dir TEXT,
            command TEXT NOT NULL,
            duration_ms INTEGER,
            error_message TEXT,
            created_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS frame_metadata (
            path TEXT PRIMARY KEY,
            run_id TEXT,
            session TEXT,
            frame_type TEXT,
            exposure REAL,
            temperature REAL,
            gain REAL,
            color_mode TEXT
        );`,
		`CREATE INDEX IF NOT EXISTS idx_runs_workspace ON runs(workspace, started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_commands_run ON engine_commands(run_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string         `json:"id"`
	JobType     string         `json:"job_type"`
	Status      string         `json:"status"`
	Workspace   string         `json:"workspace"`
	OptionsJSON string         `json:"-"`
	Meta        map[string]any `json:"meta,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   *time.Time     `json:"created_at,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO jobs (id, job_type, status, workspace, options_json, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, StatusQueued, rec.Workspace, rec.OptionsJSON, now())
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET status=?, started_at=? WHERE id=?;`, StatusRunning, now(), id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE jobs SET status=?, finished_at=?, error_message=?, meta_json=? WHERE id=?;`,
		status, now(), errMsg, string(metaJSON), id)
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, workspace, options_json, meta_json, created_at, started_at, finished_at, error_message
        FROM jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var workspace, opts, meta, created, started, finished, errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &workspace, &opts, &meta, &created, &started, &finished, &errMsg); err != nil {
			return nil, err
		}
		rec.Workspace = nullString(workspace)
		rec.OptionsJSON = nullString(opts)
		rec.Error = nullString(errMsg)
		rec.CreatedAt = parseTime(created)
		rec.StartedAt = parseTime(started)
		rec.FinishedAt = parseTime(finished)
		if m := nullString(meta); m != "" {
			if err := json.Unmarshal([]byte(m), &rec.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunRecord is one pipeline run over a workspace.
type RunRecord struct {
	ID                 string     `json:"id"`
	Workspace          string     `json:"workspace"`
	Status             string     `json:"status"`
	ColorMode          string     `json:"color_mode,omitempty"`
	Sessions           int        `json:"sessions"`
	ResultPath         string     `json:"result_path,omitempty"`
	IntegrationSeconds int        `json:"integration_seconds"`
	Error              string     `json:"error,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	FinishedAt         *time.Time `json:"finished_at,omitempty"`
}

// RecordRunStart inserts a run, or marks an existing one running again when resumed.
func (s *Store) RecordRunStart(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO runs (id, workspace, status, color_mode, sessions, started_at) VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET status=excluded.status, color_mode=excluded.color_mode, sessions=excluded.sessions, finished_at=NULL, error_message=NULL;`,
		rec.ID, rec.Workspace, StatusRunning, rec.ColorMode, rec.Sessions, now())
	return err
}

// RecordRunResult finalizes a run.
func (s *Store) RecordRunResult(id, status, resultPath string, integrationSeconds int, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE runs SET status=?, result_path=?, integration_seconds=?, error_message=?, finished_at=? WHERE id=?;`,
		status, resultPath, integrationSeconds, errMsg, now(), id)
	return err
}

const runColumns = `id, workspace, status, color_mode, sessions, result_path, integration_seconds, error_message, started_at, finished_at`

func scanRun(sc interface{ Scan(...any) error }) (RunRecord, error) {
	var rec RunRecord
	var mode, result, errMsg, started, finished sql.NullString
	var sessions, integration sql.NullInt64
	if err := sc.Scan(&rec.ID, &rec.Workspace, &rec.Status, &mode, &sessions, &result, &integration, &errMsg, &started, &finished); err != nil {
		return rec, err
	}
	rec.ColorMode = nullString(mode)
	rec.Sessions = int(sessions.Int64)
	rec.ResultPath = nullString(result)
	rec.IntegrationSeconds = int(integration.Int64)
	rec.Error = nullString(errMsg)
	rec.StartedAt = parseTime(started)
	rec.FinishedAt = parseTime(finished)
	return rec, nil
}

// Run fetches a single run. It returns sql.ErrNoRows when absent.
func (s *Store) Run(id string) (RunRecord, error) {
	if s == nil {
		return RunRecord{}, ErrNotInitialized
	}
	return scanRun(s.DB.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id=?;`, id))
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// LatestUnfinishedRun returns the most recent run for workspace when it did
// not complete, or nil when the latest run completed or none exists.
func (s *Store) LatestUnfinishedRun(workspace string) (*RunRecord, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rec, err := scanRun(s.DB.QueryRow(`SELECT `+runColumns+` FROM runs WHERE workspace=? ORDER BY started_at DESC LIMIT 1;`, workspace))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusCompleted {
		return nil, nil
	}
	return &rec, nil
}

// RecordSessionState stores the last state a session reached in a run.
func (s *Store) RecordSessionState(runID, session, state string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO session_states (run_id, session, state, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(run_id, session) DO UPDATE SET state=excluded.state, updated_at=excluded.updated_at;`,
		runID, session, state, now())
	return err
}

// SessionStates returns session name to last state for a run.
func (s *Store) SessionStates(runID string) (map[string]string, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT session, state FROM session_states WHERE run_id=?;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var session, state string
		if err := rows.Scan(&session, &state); err != nil {
			return nil, err
		}
		out[session] = state
	}
	return out, rows.Err()
}

// CommandRecord is one engine command issued during a run.
type CommandRecord struct {
	RunID      string     `json:"run_id"`
	Session    string     `json:"session,omitempty"`
	Dir        string     `json:"dir"`
	Command    string     `json:"command"`
	DurationMS int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// RecordEngineCommand appends a command to the run's history.
func (s *Store) RecordEngineCommand(rec CommandRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO engine_commands (run_id, session, dir, command, duration_ms, error_message, created_at) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.RunID, rec.Session, rec.Dir, rec.Command, rec.DurationMS, rec.Error, now())
	return err
}

// RunCommands returns a run's engine commands in issue order.
func (s *Store) RunCommands(runID string) ([]CommandRecord, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT run_id, session, dir, command, duration_ms, error_message, created_at FROM engine_commands WHERE run_id=? ORDER BY id;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []CommandRecord
	for rows.Next() {
		var rec CommandRecord
		var session, dir, errMsg, created sql.NullString
		var dur sql.NullInt64
		if err := rows.Scan(&rec.RunID, &session, &dir, &rec.Command, &dur, &errMsg, &created); err != nil {
			return nil, err
		}
		rec.Session = nullString(session)
		rec.Dir = nullString(dir)
		rec.DurationMS = dur.Int64
		rec.Error = nullString(errMsg)
		rec.CreatedAt = parseTime(created)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FrameRecord captures header values of an input frame.
type FrameRecord struct {
	Path        string   `json:"path"`
	RunID       string   `json:"run_id"`
	Session     string   `json:"session"`
	FrameType   string   `json:"frame_type"`
	Exposure    *float64 `json:"exposure,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Gain        *float64 `json:"gain,omitempty"`
	ColorMode   string   `json:"color_mode,omitempty"`
}

// RecordFrameMetadata stores header details of a frame.
func (s *Store) RecordFrameMetadata(rec FrameRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO frame_metadata (path, run_id, session, frame_type, exposure, temperature, gain, color_mode) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Path, rec.RunID, rec.Session, rec.FrameType, rec.Exposure, rec.Temperature, rec.Gain, rec.ColorMode)
	return err
}

// FrameMetadata returns the stored frames of a run, ordered by path.
func (s *Store) FrameMetadata(runID string) ([]FrameRecord, error) {
	if s == nil {
		return nil, ErrNotInitialized
	}
	rows, err := s.DB.Query(`SELECT path, run_id, session, frame_type, exposure, temperature, gain, color_mode FROM frame_metadata WHERE run_id=? ORDER BY path;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var session, typ, mode sql.NullString
		var exp, temp, gain sql.NullFloat64
		if err := rows.Scan(&rec.Path, &rec.RunID, &session, &typ, &exp, &temp, &gain, &mode); err != nil {
			return nil, err
		}
		rec.Session = nullString(session)
		rec.FrameType = nullString(typ)
		rec.ColorMode = nullString(mode)
		rec.Exposure = nullFloat(exp)
		rec.Temperature = nullFloat(temp)
		rec.Gain = nullFloat(gain)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}
