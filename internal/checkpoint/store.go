// Package checkpoint provides the durable SQLite store for plans and
// execution snapshots, so interrupted plans can resume from their last
// recorded progress.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/subplot-sh/subplot/pkg/models"
)

// Sentinel errors for the store.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCheckpointCorrupt indicates a checkpoint row could not be decoded.
	// A corrupt checkpoint is never silently treated as a fresh start.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")
)

// Store wraps an SQLite database holding plans and their checkpoints.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the path to the state database, honoring XDG_DATA_HOME.
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "subplot", "subplot.db")
}

// Open opens the SQLite database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets them; a PRAGMA
	// statement would only reach the one connection that executed it.
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Plans},
		{2, migrationV2Checkpoints},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Plans = `
CREATE TABLE IF NOT EXISTS plans (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	working_dir TEXT,
	subtasks TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'planning',
	failure_code TEXT,
	estimated_minutes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_status ON plans(status);
`

const migrationV2Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	plan_status TEXT NOT NULL,
	completed_subtasks TEXT NOT NULL,
	failed_subtasks TEXT NOT NULL,
	running_subtasks TEXT NOT NULL,
	passes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_plan ON checkpoints(plan_id, created_at);
`

// SavePlan inserts or replaces a plan row. Subtask definitions are stored
// as JSON alongside the plan.
func (s *Store) SavePlan(plan *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subtasks, err := json.Marshal(plan.Subtasks)
	if err != nil {
		return fmt.Errorf("encode subtasks: %w", err)
	}

	now := formatTime(time.Now())
	created := plan.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.conn.Exec(`
		INSERT INTO plans (id, description, working_dir, subtasks, status, estimated_minutes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			working_dir = excluded.working_dir,
			subtasks = excluded.subtasks,
			status = excluded.status,
			estimated_minutes = excluded.estimated_minutes,
			updated_at = excluded.updated_at
	`, plan.ID, plan.Description, plan.WorkingDir, string(subtasks), string(plan.Status), plan.EstimatedMinutes, formatTime(created), now)
	if err != nil {
		return fmt.Errorf("save plan %s: %w", plan.ID, err)
	}
	return nil
}

// UpdatePlanStatus sets a plan's status and optional failure code.
func (s *Store) UpdatePlanStatus(planID string, status models.PlanStatus, failureCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		UPDATE plans SET status = ?, failure_code = ?, updated_at = ? WHERE id = ?
	`, string(status), failureCode, formatTime(time.Now()), planID)
	if err != nil {
		return fmt.Errorf("update plan %s status: %w", planID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update plan %s status: %w", planID, ErrNotFound)
	}
	return nil
}

// PlanRecord is a stored plan plus its persisted failure code.
type PlanRecord struct {
	Plan        *models.Plan
	FailureCode string
	UpdatedAt   time.Time
}

// GetPlan loads a plan by ID. Returns ErrNotFound if it does not exist.
func (s *Store) GetPlan(planID string) (*PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, description, working_dir, subtasks, status, failure_code, estimated_minutes, created_at, updated_at
		FROM plans WHERE id = ?
	`, planID)

	rec, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return rec, err
}

// ListPlans returns all stored plans, most recently updated first.
func (s *Store) ListPlans() ([]*PlanRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, description, working_dir, subtasks, status, failure_code, estimated_minutes, created_at, updated_at
		FROM plans ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var recs []*PlanRecord
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*PlanRecord, error) {
	var (
		plan        models.Plan
		subtasksRaw string
		status      string
		failureCode sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := row.Scan(&plan.ID, &plan.Description, &plan.WorkingDir, &subtasksRaw, &status, &failureCode, &plan.EstimatedMinutes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(subtasksRaw), &plan.Subtasks); err != nil {
		return nil, fmt.Errorf("decode subtasks for plan %s: %w", plan.ID, err)
	}
	plan.Status = models.PlanStatus(status)
	if t, err := parseTime(createdAt); err == nil {
		plan.CreatedAt = t
	}

	rec := &PlanRecord{Plan: &plan, FailureCode: failureCode.String}
	if t, err := parseTime(updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return rec, nil
}

// Checkpoint is one durable snapshot of a plan's execution state.
type Checkpoint struct {
	// ID is the unique checkpoint identifier.
	ID string
	// PlanID is the plan this snapshot belongs to.
	PlanID string
	// PlanStatus is the plan's status at snapshot time.
	PlanStatus models.PlanStatus
	// State is the execution state at snapshot time.
	State models.StateSnapshot
	// CreatedAt is when the snapshot was written.
	CreatedAt time.Time
}

// SaveCheckpoint writes a checkpoint row. The three status sets are stored
// as JSON arrays.
func (s *Store) SaveCheckpoint(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed, err := json.Marshal(orEmpty(cp.State.CompletedSubtasks))
	if err != nil {
		return fmt.Errorf("encode completed set: %w", err)
	}
	failed, err := json.Marshal(orEmpty(cp.State.FailedSubtasks))
	if err != nil {
		return fmt.Errorf("encode failed set: %w", err)
	}
	running, err := json.Marshal(orEmpty(cp.State.RunningSubtasks))
	if err != nil {
		return fmt.Errorf("encode running set: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO checkpoints (id, plan_id, plan_status, completed_subtasks, failed_subtasks, running_subtasks, passes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, cp.ID, cp.PlanID, string(cp.PlanStatus), string(completed), string(failed), string(running), cp.State.Passes, formatTime(cp.CreatedAt))
	if err != nil {
		return fmt.Errorf("save checkpoint for plan %s: %w", cp.PlanID, err)
	}
	return nil
}

// LatestCheckpoint loads the most recent checkpoint for a plan.
// Returns ErrNotFound if no checkpoint exists and ErrCheckpointCorrupt if
// the stored snapshot cannot be decoded.
func (s *Store) LatestCheckpoint(planID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, plan_id, plan_status, completed_subtasks, failed_subtasks, running_subtasks, passes, created_at
		FROM checkpoints WHERE plan_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`, planID)

	var (
		cp        Checkpoint
		status    string
		completed string
		failed    string
		running   string
		createdAt string
	)
	err := row.Scan(&cp.ID, &cp.PlanID, &status, &completed, &failed, &running, &cp.State.Passes, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("checkpoint for plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint for plan %s: %w", planID, err)
	}

	cp.PlanStatus = models.PlanStatus(status)
	if !cp.PlanStatus.Valid() {
		return nil, fmt.Errorf("checkpoint %s has unknown plan status %q: %w", cp.ID, status, ErrCheckpointCorrupt)
	}
	if err := json.Unmarshal([]byte(completed), &cp.State.CompletedSubtasks); err != nil {
		return nil, fmt.Errorf("checkpoint %s completed set: %v: %w", cp.ID, err, ErrCheckpointCorrupt)
	}
	if err := json.Unmarshal([]byte(failed), &cp.State.FailedSubtasks); err != nil {
		return nil, fmt.Errorf("checkpoint %s failed set: %v: %w", cp.ID, err, ErrCheckpointCorrupt)
	}
	if err := json.Unmarshal([]byte(running), &cp.State.RunningSubtasks); err != nil {
		return nil, fmt.Errorf("checkpoint %s running set: %v: %w", cp.ID, err, ErrCheckpointCorrupt)
	}
	if t, err := parseTime(createdAt); err == nil {
		cp.CreatedAt = t
	}

	return &cp, nil
}

// DeleteCheckpoints removes every checkpoint for a plan. Called when a plan
// completes successfully: there is nothing left to resume.
func (s *Store) DeleteCheckpoints(planID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec("DELETE FROM checkpoints WHERE plan_id = ?", planID)
	if err != nil {
		return 0, fmt.Errorf("delete checkpoints for plan %s: %w", planID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CheckpointCount returns the number of checkpoints stored for a plan.
func (s *Store) CheckpointCount(planID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	row := s.conn.QueryRow("SELECT COUNT(*) FROM checkpoints WHERE plan_id = ?", planID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count checkpoints for plan %s: %w", planID, err)
	}
	return count, nil
}

// ReclaimOrphans marks plans stuck in the running state as paused. A plan
// can only be legitimately running while an orchestrator owns it, so any
// running row found at startup belongs to a dead process.
// Returns the number of plans reclaimed.
func (s *Store) ReclaimOrphans() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.conn.Exec(`
		UPDATE plans SET status = ?, updated_at = ? WHERE status = ?
	`, string(models.PlanStatusPaused), formatTime(time.Now()), string(models.PlanStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("reclaim orphaned plans: %w", err)
	}
	return res.RowsAffected()
}

// PurgeTerminal deletes terminal plans older than the given age, along with
// their checkpoints. Returns the number of plans deleted.
func (s *Store) PurgeTerminal(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))
	res, err := s.conn.Exec(`
		DELETE FROM plans WHERE status IN (?, ?) AND updated_at < ?
	`, string(models.PlanStatusCompleted), string(models.PlanStatusFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge terminal plans: %w", err)
	}
	return res.RowsAffected()
}

// orEmpty replaces a nil slice with an empty one so JSON encodes [] not null.
func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
