package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (runs + checkpoints, UNIQUE(run_id, cycle))
const currentSchemaVersion = 1

// ErrNoCheckpoint is returned when a run has no checkpoint at the
// requested cycle (or none at all).
var ErrNoCheckpoint = errors.New("no checkpoint")

// Store provides durable storage for run checkpoints.
// Uses SQLite with WAL mode for concurrent read access.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRun registers a run identifier. Re-registering is a no-op.
func (s *Store) CreateRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id) VALUES (?)
		ON CONFLICT(run_id) DO NOTHING
	`, runID)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// Save persists a snapshot for (runID, cycle). Saving the same cycle twice
// replaces the state blob; an identical snapshot is a byte-identical
// no-op thanks to canonical JSON.
func (s *Store) Save(ctx context.Context, runID string, snap *Snapshot) error {
	state, err := snap.MarshalState()
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	if err := s.CreateRun(ctx, runID); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, cycle, state)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, cycle) DO UPDATE SET state = excluded.state
	`, runID, snap.Cycle, string(state))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load returns the snapshot for (runID, cycle).
func (s *Store) Load(ctx context.Context, runID string, cycle int) (*Snapshot, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM checkpoints
		WHERE run_id = ? AND cycle = ?
	`, runID, cycle).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q cycle %d: %w", runID, cycle, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return UnmarshalState([]byte(state))
}

// LoadLatest returns the snapshot with the highest cycle for runID.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*Snapshot, error) {
	var state string
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM checkpoints
		WHERE run_id = ?
		ORDER BY cycle DESC
		LIMIT 1
	`, runID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %q: %w", runID, ErrNoCheckpoint)
	}
	if err != nil {
		return nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	return UnmarshalState([]byte(state))
}

// Fork copies the checkpoint at (srcRunID, cycle) to a new run identifier.
// The source run is never mutated. Fails with ErrNoCheckpoint when the
// source cycle does not exist.
func (s *Store) Fork(ctx context.Context, srcRunID string, cycle int, dstRunID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("fork: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var state string
	err = tx.QueryRowContext(ctx, `
		SELECT state FROM checkpoints
		WHERE run_id = ? AND cycle = ?
	`, srcRunID, cycle).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("fork run %q cycle %d: %w", srcRunID, cycle, ErrNoCheckpoint)
	}
	if err != nil {
		return fmt.Errorf("fork: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id) VALUES (?)
		ON CONFLICT(run_id) DO NOTHING
	`, dstRunID); err != nil {
		return fmt.Errorf("fork: create run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, cycle, state)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, cycle) DO UPDATE SET state = excluded.state
	`, dstRunID, cycle, state); err != nil {
		return fmt.Errorf("fork: copy checkpoint: %w", err)
	}

	return tx.Commit()
}

// Cycles returns every checkpointed cycle for runID in ascending order.
// Empty slice (not nil) when the run has no checkpoints.
func (s *Store) Cycles(ctx context.Context, runID string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cycle FROM checkpoints
		WHERE run_id = ?
		ORDER BY cycle ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	cycles := []int{}
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return cycles, nil
}

// Runs returns every registered run identifier, ordered lexically for
// deterministic output.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM runs
		ORDER BY run_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
