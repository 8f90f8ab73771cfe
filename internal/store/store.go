// Package store wraps an embedded transactional SQL store (modernc.org/sqlite,
// a pure-Go driver — no cgo toolchain required) that holds everything the
// merge pipeline needs to survive a crash and resume: the active Run row,
// one PathRecord row per relative path, and an append-only ConflictLog.
//
// Contract: single-writer in practice (the pipeline's loops serialize
// commits through one mutex), many-reader. Mutating operations are
// grouped into transactions of bounded size to amortize fsync cost
// while keeping per-row loss on crash bounded.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/model"
)

// maxBatchRows bounds the number of rows grouped into a single
// transaction.
const maxBatchRows = 400

// Store is the single writer for the run/path/conflict_log tables.
// writeMu serializes commits from the Scanner, Fingerprinter, the
// Coordinator's classify and decision loops, and the Applier, which may
// all call into the Store from different
// goroutines; SQLite itself only allows one writer at a time, but the
// mutex avoids SQLITE_BUSY retries under load.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open creates or opens the Store at path, applying the schema and
// enabling WAL mode. The pool holds a single connection, so reads and
// writes take turns on it rather than running concurrently.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", errs.ErrStoreUnavailable, path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: enable WAL: %v", errs.ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", errs.ErrStoreUnavailable, err)
	}

	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate schema: %v", errs.ErrStoreUnavailable, err)
	}

	return &Store{db: db}, nil
}

// checkSchemaVersion stamps a fresh database with the current schema
// version and rejects one written by an incompatible version of this
// tool.
func checkSchemaVersion(db *sql.DB) error {
	var v int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&v); err != nil {
		return fmt.Errorf("%w: read schema version: %v", errs.ErrStoreUnavailable, err)
	}
	switch v {
	case 0:
		if _, err := db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, schemaVersion)); err != nil {
			return fmt.Errorf("%w: stamp schema version: %v", errs.ErrStoreUnavailable, err)
		}
		return nil
	case schemaVersion:
		return nil
	default:
		return fmt.Errorf("%w: store has schema version %d, this build expects %d", errs.ErrSchemaVersionMismatch, v, schemaVersion)
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction guarded by writeMu, committing on
// success and rolling back on error. Every mutating Store method is
// built on top of this so a crash mid-batch never leaves a partially
// written transaction committed.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", errs.ErrStoreUnavailable, err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// Reset discards any existing Run and its rows. The conflict log is
// append-only in every other circumstance; a full truncation here is
// the only way entries ever disappear.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, truncateSQL); err != nil {
			return fmt.Errorf("%w: reset: %v", errs.ErrStoreUnavailable, err)
		}
		return nil
	})
}

// BeginRun opens or resumes the Run for the given roots. If reset is
// set, any existing Run is discarded first. Otherwise, an
// existing Run must match a/b/dest exactly or this is a fatal
// ErrRootMismatch; if there is no existing Run, a fresh one is created.
func (s *Store) BeginRun(ctx context.Context, a, b, dest string, reset bool) (*model.Run, model.RunMode, error) {
	if reset {
		if err := s.Reset(ctx); err != nil {
			return nil, "", err
		}
	}

	existing, err := s.loadRun(ctx)
	if err != nil {
		return nil, "", err
	}

	if existing != nil {
		if existing.ARoot != a || existing.BRoot != b || existing.DestRoot != dest {
			return nil, "", errs.ErrRootMismatch
		}
		return existing, model.ModeResumed, nil
	}

	run := &model.Run{
		ID:        newRunID(),
		ARoot:     a,
		BRoot:     b,
		DestRoot:  dest,
		Phase:     model.PhaseScanning,
		CreatedAt: time.Now(),
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run (id, a_root, b_root, dest_root, phase, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, run.ARoot, run.BRoot, run.DestRoot, string(run.Phase), run.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("%w: insert run: %v", errs.ErrStoreUnavailable, err)
	}

	return run, model.ModeFresh, nil
}

func (s *Store) loadRun(ctx context.Context) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, a_root, b_root, dest_root, phase, created_at FROM run LIMIT 1`)

	var run model.Run
	var phase string
	var createdAt int64
	err := row.Scan(&run.ID, &run.ARoot, &run.BRoot, &run.DestRoot, &phase, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load run: %v", errs.ErrStoreUnavailable, err)
	}

	run.Phase = model.Phase(phase)
	run.CreatedAt = time.Unix(0, createdAt)
	return &run, nil
}

// MarkPhase advances the Run's phase (to hashing once both Scanner
// walks complete, and so on through done or aborted).
func (s *Store) MarkPhase(ctx context.Context, phase model.Phase) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE run SET phase = ?`, string(phase))
		return err
	})
}
