// Package store persists coaching state to SQLite: per-user snapshots,
// the state transition log, and the intervention log.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codecoach/internal/coachstate"
	"codecoach/internal/fusion"
	"codecoach/internal/intervene"
	"codecoach/internal/logging"
)

// Store manages the coaching database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewStore creates or opens the coaching store.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("opened database at %s", dbPath)
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	schema := `
	-- Per-user context snapshots, one row per user
	CREATE TABLE IF NOT EXISTS snapshots (
		user_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		burnout_score REAL NOT NULL,
		composite_score REAL NOT NULL,
		coach_state TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- State transition log
	CREATE TABLE IF NOT EXISTS transitions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		forced INTEGER NOT NULL DEFAULT 0,
		occurred_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_user ON transitions(user_id);
	CREATE INDEX IF NOT EXISTS idx_transitions_time ON transitions(occurred_at);

	-- Intervention log
	CREATE TABLE IF NOT EXISTS interventions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		message TEXT NOT NULL,
		priority INTEGER NOT NULL,
		triggered_by TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interventions_user ON interventions(user_id);
	CREATE INDEX IF NOT EXISTS idx_interventions_time ON interventions(occurred_at);

	-- Per-turn assessment history, for trend review
	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		burnout_score REAL NOT NULL,
		composite_score REAL NOT NULL,
		coach_state TEXT NOT NULL,
		alignment TEXT NOT NULL,
		intervention_level TEXT NOT NULL,
		occurred_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_user ON turns(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveSnapshot stores or replaces a user's context snapshot.
func (s *Store) SaveSnapshot(snap fusion.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO snapshots (user_id, version, burnout_score, composite_score,
			coach_state, snapshot_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			version = excluded.version,
			burnout_score = excluded.burnout_score,
			composite_score = excluded.composite_score,
			coach_state = excluded.coach_state,
			snapshot_json = excluded.snapshot_json,
			updated_at = excluded.updated_at
	`, snap.UserID, snap.Version, snap.BurnoutScore, snap.CompositeScore,
		snap.CoachState, data, snap.ExportedAt)

	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	logging.StoreDebug("saved snapshot user=%s state=%s", snap.UserID, snap.CoachState)
	return nil
}

// LoadSnapshot retrieves a user's snapshot. Returns nil when the user is
// unknown.
func (s *Store) LoadSnapshot(userID string) (*fusion.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow(`
		SELECT snapshot_json FROM snapshots WHERE user_id = ?
	`, userID).Scan(&data)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snap fusion.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

// Users returns the user IDs with stored snapshots.
func (s *Store) Users() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT user_id FROM snapshots ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// LogTransition appends one state transition to the log.
func (s *Store) LogTransition(userID string, tr coachstate.Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	forced := 0
	if tr.Forced {
		forced = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO transitions (id, user_id, from_state, to_state, trigger, forced, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, tr.ID, userID, tr.From, tr.To, tr.Trigger, forced, tr.At)

	if err != nil {
		return fmt.Errorf("failed to log transition: %w", err)
	}
	return nil
}

// RecentTransitions retrieves a user's latest transitions, newest first.
func (s *Store) RecentTransitions(userID string, limit int) ([]coachstate.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, from_state, to_state, trigger, forced, occurred_at
		FROM transitions WHERE user_id = ?
		ORDER BY occurred_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer rows.Close()

	var out []coachstate.Transition
	for rows.Next() {
		var tr coachstate.Transition
		var from, to string
		var forced int
		if err := rows.Scan(&tr.ID, &from, &to, &tr.Trigger, &forced, &tr.At); err != nil {
			return nil, err
		}
		tr.From = coachstate.State(from)
		tr.To = coachstate.State(to)
		tr.Forced = forced != 0
		out = append(out, tr)
	}
	return out, rows.Err()
}

// LogIntervention appends one delivered intervention to the log.
func (s *Store) LogIntervention(userID string, iv intervene.Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO interventions (user_id, type, message, priority, triggered_by, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, userID, iv.Type, iv.Message, iv.Priority, iv.TriggeredBy, iv.At)

	if err != nil {
		return fmt.Errorf("failed to log intervention: %w", err)
	}
	return nil
}

// RecentInterventions retrieves a user's latest interventions, newest first.
func (s *Store) RecentInterventions(userID string, limit int) ([]intervene.Intervention, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT type, message, priority, triggered_by, occurred_at
		FROM interventions WHERE user_id = ?
		ORDER BY occurred_at DESC, id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interventions: %w", err)
	}
	defer rows.Close()

	var out []intervene.Intervention
	for rows.Next() {
		var iv intervene.Intervention
		var typ string
		if err := rows.Scan(&typ, &iv.Message, &iv.Priority, &iv.TriggeredBy, &iv.At); err != nil {
			return nil, err
		}
		iv.Type = intervene.Type(typ)
		out = append(out, iv)
	}
	return out, rows.Err()
}

// LogTurn appends one turn assessment for later trend review.
func (s *Store) LogTurn(userID string, r *fusion.TurnResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO turns (user_id, burnout_score, composite_score, coach_state,
			alignment, intervention_level, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, r.BurnoutScore, r.CompositeScore, r.CoachState, r.Alignment,
		r.InterventionLevel, at)

	if err != nil {
		return fmt.Errorf("failed to log turn: %w", err)
	}
	return nil
}

// TurnScores returns a user's composite scores in chronological order,
// at most limit rows from the most recent history.
func (s *Store) TurnScores(userID string, limit int) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT composite_score FROM (
			SELECT id, composite_score FROM turns
			WHERE user_id = ? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
