package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// EventRepo handles persistence for BatchEvent records.
type EventRepo struct{}

// AppendTx inserts a batch event within an existing transaction.
// A reused (run_id, seq_no) pair returns ErrDuplicateEvent.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, event domain.BatchEvent) error {
	const q = `INSERT INTO batch_events (run_id, seq_no, event_type, view_id, item_index, total, outcome, reason, record_id, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, q,
		event.RunID,
		event.SeqNo,
		event.EventType,
		event.ViewID,
		event.ItemIndex,
		event.Total,
		string(event.Outcome),
		event.Reason,
		event.RecordID,
		event.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListByRun returns events for a run with sequence numbers greater than sinceSeq,
// ordered by sequence number ascending.
func (r *EventRepo) ListByRun(ctx context.Context, db *sql.DB, runID string, sinceSeq int64) ([]domain.BatchEvent, error) {
	const q = `SELECT id, run_id, seq_no, event_type, view_id, item_index, total, outcome, reason, record_id, created_at
FROM batch_events
WHERE run_id = ? AND seq_no > ?
ORDER BY seq_no ASC`

	rows, err := db.QueryContext(ctx, q, runID, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.BatchEvent
	for rows.Next() {
		var e domain.BatchEvent
		var outcome string
		if err := rows.Scan(&e.ID, &e.RunID, &e.SeqNo, &e.EventType, &e.ViewID, &e.ItemIndex,
			&e.Total, &outcome, &e.Reason, &e.RecordID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Outcome = domain.Outcome(outcome)
		events = append(events, e)
	}
	return events, rows.Err()
}
