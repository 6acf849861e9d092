package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// RunRepo handles persistence for BatchRunState rows.
type RunRepo struct{}

// CreateTx inserts a new run within an existing transaction.
func (r *RunRepo) CreateTx(ctx context.Context, tx *sql.Tx, state domain.BatchRunState) error {
	const q = `INSERT INTO batch_runs (run_id, mode, status, total, succeeded, failed, canceled, state_version, last_event_seq, created_at, updated_at_unix)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		state.RunID,
		string(state.Mode),
		string(state.Status),
		state.Total,
		state.Succeeded,
		state.Failed,
		state.Canceled,
		state.StateVersion,
		state.LastEventSeq,
		state.CreatedAt,
		state.UpdatedAtUnix,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.ErrDuplicateRun
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateStateTx updates a run within a transaction using optimistic locking.
// The update only succeeds if the current state_version matches the expected version.
func (r *RunRepo) UpdateStateTx(ctx context.Context, tx *sql.Tx, state domain.BatchRunState) error {
	const q = `UPDATE batch_runs SET
		status = ?,
		succeeded = ?,
		failed = ?,
		canceled = ?,
		state_version = state_version + 1,
		last_event_seq = ?,
		updated_at_unix = ?
	WHERE run_id = ? AND state_version = ?`

	res, err := tx.ExecContext(ctx, q,
		string(state.Status),
		state.Succeeded,
		state.Failed,
		state.Canceled,
		state.LastEventSeq,
		state.UpdatedAtUnix,
		state.RunID,
		state.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrOptimisticLock
	}
	return nil
}

const runColumns = `run_id, mode, status, total, succeeded, failed, canceled, state_version, last_event_seq, created_at, updated_at_unix`

// GetByID retrieves a run by its ID.
func (r *RunRepo) GetByID(ctx context.Context, db *sql.DB, runID string) (*domain.BatchRunState, error) {
	return scanRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM batch_runs WHERE run_id = ?`, runID))
}

// GetByIDTx retrieves a run inside a transaction.
func (r *RunRepo) GetByIDTx(ctx context.Context, tx *sql.Tx, runID string) (*domain.BatchRunState, error) {
	return scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM batch_runs WHERE run_id = ?`, runID))
}

func scanRun(row *sql.Row) (*domain.BatchRunState, error) {
	var s domain.BatchRunState
	var mode, status string
	err := row.Scan(&s.RunID, &mode, &status, &s.Total, &s.Succeeded, &s.Failed, &s.Canceled,
		&s.StateVersion, &s.LastEventSeq, &s.CreatedAt, &s.UpdatedAtUnix)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrBatchNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	s.Mode = domain.RunMode(mode)
	s.Status = domain.RunStatus(status)
	return &s, nil
}
