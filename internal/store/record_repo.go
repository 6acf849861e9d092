package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// RecordRepo handles persistence for GeneratedRecord rows and the reference role.
type RecordRepo struct{}

const recordColumns = `id, run_id, view_id, view_label, sequence_index, attempts, kind, payload, units_json, promoted, created_at`

// Save inserts a record, assigning a new ID when it has none, and returns the ID.
func (r *RecordRepo) Save(ctx context.Context, db *sql.DB, rec domain.GeneratedRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if err := r.Create(ctx, db, rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Create inserts a record. The caller assigns the ID.
func (r *RecordRepo) Create(ctx context.Context, db *sql.DB, rec domain.GeneratedRecord) error {
	units := rec.Units
	if units == nil {
		units = []domain.StructuredUnit{}
	}
	unitsJSON, err := json.Marshal(units)
	if err != nil {
		return fmt.Errorf("marshal units: %w", err)
	}

	const q = `INSERT INTO records (` + recordColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = db.ExecContext(ctx, q,
		rec.ID,
		rec.RunID,
		rec.ViewID,
		rec.ViewLabel,
		rec.SequenceIndex,
		rec.Attempts,
		string(rec.Kind),
		rec.Payload,
		string(unitsJSON),
		boolToInt(rec.Reference),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	return nil
}

// GetByID retrieves a record by its ID.
func (r *RecordRepo) GetByID(ctx context.Context, db *sql.DB, id string) (*domain.GeneratedRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// ListByRun returns a run's records ordered by sequence index.
func (r *RecordRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.GeneratedRecord, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records
WHERE run_id = ?
ORDER BY sequence_index ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []domain.GeneratedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// PromoteReference makes the record the reference, overwriting any prior one.
func (r *RecordRepo) PromoteReference(ctx context.Context, db *sql.DB, id string, now int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE records SET promoted = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark promoted: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrRecordNotFound
	}

	const q = `INSERT INTO reference_role (role_key, record_id, promoted_at) VALUES (?, ?, ?)
ON CONFLICT(role_key) DO UPDATE SET record_id = excluded.record_id, promoted_at = excluded.promoted_at`
	if _, err := tx.ExecContext(ctx, q, domain.ReferenceKey, id, now); err != nil {
		return fmt.Errorf("upsert reference: %w", err)
	}
	return tx.Commit()
}

// GetReference returns the current reference record, or ErrRecordNotFound.
func (r *RecordRepo) GetReference(ctx context.Context, db *sql.DB) (*domain.GeneratedRecord, error) {
	row := db.QueryRowContext(ctx, `SELECT r.id, r.run_id, r.view_id, r.view_label, r.sequence_index, r.attempts,
r.kind, r.payload, r.units_json, r.promoted, r.created_at
FROM reference_role ref JOIN records r ON r.id = ref.record_id
WHERE ref.role_key = ?`, domain.ReferenceKey)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, fmt.Errorf("get reference: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.GeneratedRecord, error) {
	var rec domain.GeneratedRecord
	var kind, unitsJSON string
	var promoted int
	if err := row.Scan(&rec.ID, &rec.RunID, &rec.ViewID, &rec.ViewLabel, &rec.SequenceIndex,
		&rec.Attempts, &kind, &rec.Payload, &unitsJSON, &promoted, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = domain.RecordKind(kind)
	rec.Reference = promoted != 0
	if unitsJSON != "" && unitsJSON != "[]" {
		if err := json.Unmarshal([]byte(unitsJSON), &rec.Units); err != nil {
			return nil, fmt.Errorf("decode units: %w", err)
		}
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
