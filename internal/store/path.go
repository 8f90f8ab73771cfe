package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mergetree/mergetree/internal/errs"
	"github.com/mergetree/mergetree/internal/model"
)

// ScanUpsert is one Scanner observation for a single side of a path.
type ScanUpsert struct {
	RelPath       string
	Side          model.Side
	Kind          model.Kind
	Size          int64
	Mtime         time.Time
	SymlinkTarget string
}

// UpsertScanBatch writes up to maxBatchRows Scanner observations per
// transaction. Each row is inserted if new, or
// updated on only the touched side's columns — the other side's columns
// are left untouched, so the two independent tree walks never clobber
// each other's half of the row.
func (s *Store) UpsertScanBatch(ctx context.Context, entries []ScanUpsert) error {
	for start := 0; start < len(entries); start += maxBatchRows {
		end := start + maxBatchRows
		if end > len(entries) {
			end = len(entries)
		}
		if err := s.upsertScanChunk(ctx, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertScanChunk(ctx context.Context, chunk []ScanUpsert) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, e := range chunk {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO path (rel_path, in_a, in_b, kind_a, kind_b, symlink_target_a, symlink_target_b)
				 VALUES (?, 0, 0, 'absent', 'absent', '', '')
				 ON CONFLICT(rel_path) DO NOTHING`, e.RelPath); err != nil {
				return fmt.Errorf("%w: insert path %s: %v", errs.ErrStoreUnavailable, e.RelPath, err)
			}

			var q string
			if e.Side == model.SideA {
				q = `UPDATE path SET in_a=1, kind_a=?, size_a=?, mtime_a=?, symlink_target_a=? WHERE rel_path=?`
			} else {
				q = `UPDATE path SET in_b=1, kind_b=?, size_b=?, mtime_b=?, symlink_target_b=? WHERE rel_path=?`
			}
			if _, err := tx.ExecContext(ctx, q, string(e.Kind), e.Size, e.Mtime.UnixNano(), e.SymlinkTarget, e.RelPath); err != nil {
				return fmt.Errorf("%w: update path %s: %v", errs.ErrStoreUnavailable, e.RelPath, err)
			}
		}
		return nil
	})
}

// SetHash records the content fingerprint for one side of a path.
// Idempotent: re-hashing the same file and writing the same value twice
// is harmless.
func (s *Store) SetHash(ctx context.Context, relPath string, side model.Side, hash uint64) error {
	col := "hash_a"
	if side == model.SideB {
		col = "hash_b"
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE path SET `+col+` = ? WHERE rel_path = ?`, int64(hash), relPath)
		return err
	})
}

// SetAction records the Classifier's decision and advances status to
// either ready (non-conflict) or awaiting_decision (conflict), stamping
// awaiting_since so the Broker can serve conflicts in FIFO arrival
// order. action_source persists which side a copy_from/
// create_symlink action reads from; create_symlink's target is not
// stored separately since it's recoverable from symlink_target_a/b via
// that source side.
func (s *Store) SetAction(ctx context.Context, relPath string, action model.Action) error {
	status := model.StatusReady
	var awaitingSince any
	if action.Type == model.ActionConflict {
		status = model.StatusAwaitingDecision
		awaitingSince = time.Now().UnixNano()
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE path SET action=?, action_source=?, status=?, awaiting_since=? WHERE rel_path=?`,
			string(action.Type), actionSourceColumn(action), string(status), awaitingSince, relPath)
		return err
	})
}

// actionSourceColumn renders an Action's Source side as the 'A'/'B'
// string stored in action_source, or "" for actions with no side.
func actionSourceColumn(action model.Action) string {
	switch action.Type {
	case model.ActionCopyFrom, model.ActionCreateSymlink:
		return action.Source.String()
	default:
		return ""
	}
}

// SetStatus transitions a row along the status state machine.
func (s *Store) SetStatus(ctx context.Context, relPath string, status model.Status, errText string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE path SET status=?, error=? WHERE rel_path=?`, string(status), errText, relPath)
		return err
	})
}

// RecordDecision atomically (a) sets status=ready, the decision fields,
// and the concrete resolved Action (the Classifier's original action
// column only ever said "conflict"; resolvedAction is what the
// Resolver's winner actually makes the Applier do) on the path row, and
// (b) appends the full audit snapshot to conflict_log. Partial failure
// rolls both back.
func (s *Store) RecordDecision(ctx context.Context, d model.ConflictDecision, resolvedAction model.Action, aSnapshotJSON, bSnapshotJSON string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE path SET status=?, decision_choice=?, winner=?, action=?, action_source=? WHERE rel_path=? AND status=?`,
			string(model.StatusReady), string(d.Choice), d.Winner.String(), string(resolvedAction.Type), actionSourceColumn(resolvedAction), d.RelPath, string(model.StatusAwaitingDecision))
		if err != nil {
			return fmt.Errorf("%w: update decision: %v", errs.ErrStoreUnavailable, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: path %s not awaiting decision", errs.ErrStoreUnavailable, d.RelPath)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conflict_log (id, rel_path, choice, winner, a_snapshot_json, b_snapshot_json, decided_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			newConflictLogID(), d.RelPath, string(d.Choice), d.Winner.String(), aSnapshotJSON, bSnapshotJSON, d.DecidedAt.UnixNano()); err != nil {
			return fmt.Errorf("%w: append conflict_log: %v", errs.ErrStoreUnavailable, err)
		}
		return nil
	})
}

const pathColumns = `rel_path, in_a, in_b, kind_a, kind_b, size_a, size_b, mtime_a, mtime_b,
	hash_a, hash_b, symlink_target_a, symlink_target_b, action, action_source, status, decision_choice, winner, error`

func parseSide(s string) model.Side {
	if s == "B" {
		return model.SideB
	}
	return model.SideA
}

func scanPathRow(scanner interface{ Scan(...any) error }) (*model.PathRecord, error) {
	var p model.PathRecord
	var kindA, kindB, status string
	var hashA, hashB sql.NullInt64
	var action, actionSource, decisionChoice, winner, errText sql.NullString

	err := scanner.Scan(&p.RelPath, &p.InA, &p.InB, &kindA, &kindB, &p.SizeA, &p.SizeB, &p.MtimeA, &p.MtimeB,
		&hashA, &hashB, &p.SymlinkTargetA, &p.SymlinkTargetB, &action, &actionSource, &status, &decisionChoice, &winner, &errText)
	if err != nil {
		return nil, err
	}

	p.KindA = model.Kind(kindA)
	p.KindB = model.Kind(kindB)
	p.Status = model.Status(status)
	p.Error = errText.String

	if hashA.Valid {
		h := uint64(hashA.Int64)
		p.HashA = &h
	}
	if hashB.Valid {
		h := uint64(hashB.Int64)
		p.HashB = &h
	}
	if action.Valid {
		a := model.Action{Type: model.ActionType(action.String)}
		if actionSource.Valid && actionSource.String != "" {
			a.Source = parseSide(actionSource.String)
			if a.Type == model.ActionCreateSymlink {
				if a.Source == model.SideA {
					a.SymlinkTarget = p.SymlinkTargetA
				} else {
					a.SymlinkTarget = p.SymlinkTargetB
				}
			}
		}
		p.Action = &a
	}
	if decisionChoice.Valid {
		c := model.Choice(decisionChoice.String)
		p.DecisionChoice = &c
	}
	if winner.Valid {
		side := parseSide(winner.String)
		p.Winner = &side
	}

	return &p, nil
}

// GetPath loads a single row, or nil if it doesn't exist.
func (s *Store) GetPath(ctx context.Context, relPath string) (*model.PathRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pathColumns+` FROM path WHERE rel_path = ?`, relPath)
	p, err := scanPathRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get path %s: %v", errs.ErrStoreUnavailable, relPath, err)
	}
	return p, nil
}

func (s *Store) queryPaths(ctx context.Context, query string, args ...any) ([]*model.PathRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query paths: %v", errs.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []*model.PathRecord
	for rows.Next() {
		p, err := scanPathRow(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan path: %v", errs.ErrStoreUnavailable, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClaimClassifiable returns up to limit pending rows that have no Action
// yet and whose hashing prerequisites (if any) are already satisfied:
// neither side needs a hash, because either the row isn't a
// both-sides-file case, the sizes already differ, or both hashes are
// populated. Rows whose hashing failed are excluded — they are terminal.
func (s *Store) ClaimClassifiable(ctx context.Context, limit int) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `
		SELECT `+pathColumns+` FROM path
		WHERE status = 'pending' AND action IS NULL
		  AND NOT (kind_a = 'file' AND kind_b = 'file' AND size_a = size_b AND hash_a IS NULL)
		  AND NOT (kind_a = 'file' AND kind_b = 'file' AND size_a = size_b AND hash_b IS NULL)
		LIMIT ?`, limit)
}

// ClaimHashJobs returns up to limit pending rows that still need a hash
// on at least one side (both sides files of equal size).
// A row stays in this set until its hash commits, so an empty result
// means every hash this run will ever need has been durably written.
func (s *Store) ClaimHashJobs(ctx context.Context, limit int) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `
		SELECT `+pathColumns+` FROM path
		WHERE status = 'pending'
		  AND kind_a = 'file' AND kind_b = 'file' AND size_a = size_b
		  AND (hash_a IS NULL OR hash_b IS NULL)
		LIMIT ?`, limit)
}

// ClaimReady returns up to limit rows with status=ready, for the
// Applier's single dispatcher goroutine.
func (s *Store) ClaimReady(ctx context.Context, limit int) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `SELECT `+pathColumns+` FROM path WHERE status = 'ready' LIMIT ?`, limit)
}

// ResumablePending returns every row with status in
// {pending, awaiting_decision, ready} — the set re-offered to the
// pipeline on resume.
func (s *Store) ResumablePending(ctx context.Context) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `SELECT `+pathColumns+` FROM path WHERE status IN ('pending', 'awaiting_decision', 'ready')`)
}

// AwaitingDecisionOrdered returns rows currently awaiting a decision,
// ordered by arrival time, for the Broker to re-populate its queue on
// resume.
func (s *Store) AwaitingDecisionOrdered(ctx context.Context) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `SELECT `+pathColumns+` FROM path WHERE status = 'awaiting_decision' ORDER BY awaiting_since ASC`)
}

// CountOutstanding returns the number of rows not yet in a terminal
// state (applied or failed); the Coordinator polls this to detect
// completion.
func (s *Store) CountOutstanding(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM path WHERE status NOT IN ('applied', 'failed')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count outstanding: %v", errs.ErrStoreUnavailable, err)
	}
	return n, nil
}

// QueryFailed returns every row that ended in status=failed, for the
// end-of-run summary's per-path error list.
func (s *Store) QueryFailed(ctx context.Context) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `SELECT `+pathColumns+` FROM path WHERE status = 'failed' ORDER BY rel_path`)
}

// AppliedCopies returns rows already applied as file copies, so a
// resumed run can verify the destination content still matches the
// recorded hash before trusting the applied marker.
func (s *Store) AppliedCopies(ctx context.Context) ([]*model.PathRecord, error) {
	return s.queryPaths(ctx, `SELECT `+pathColumns+` FROM path WHERE status = 'applied' AND action = 'copy_from'`)
}

// CountConflictLog returns the number of audit entries recorded so far.
func (s *Store) CountConflictLog(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflict_log`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count conflict_log: %v", errs.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Counts returns the tuple behind the progress event stream.
func (s *Store) Counts(ctx context.Context) (total, classified, awaiting, applied, failed int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE action IS NOT NULL),
		COUNT(*) FILTER (WHERE status = 'awaiting_decision'),
		COUNT(*) FILTER (WHERE status = 'applied'),
		COUNT(*) FILTER (WHERE status = 'failed')
		FROM path`)
	err = row.Scan(&total, &classified, &awaiting, &applied, &failed)
	if err != nil {
		err = fmt.Errorf("%w: counts: %v", errs.ErrStoreUnavailable, err)
	}
	return
}
