package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// AuditFilter narrows an audit listing. Empty fields match everything.
type AuditFilter struct {
	RunID    string
	Category string
	Severity string
	// Limit caps the number of rows returned, newest last. Zero means no cap.
	Limit int
}

// AuditRepo stores reference promotions and batch outcomes.
type AuditRepo struct{}

// Record appends one audit row.
func (r *AuditRepo) Record(ctx context.Context, db *sql.DB, rec domain.AuditRecord) error {
	if rec.Severity == "" {
		rec.Severity = domain.SeverityInfo
	}
	if rec.DetailJSON == "" {
		rec.DetailJSON = "{}"
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO audit_records (id, run_id, category, actor, action, detail_json, severity, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Category, rec.Actor, rec.Action, rec.DetailJSON, rec.Severity, rec.CreatedAt,
	)
	if err != nil {
		return domain.WrapEngineError(domain.ErrStoreWrite.Code, "record audit "+rec.Action, err)
	}
	return nil
}

// List returns the audit rows matching f in creation order. With a limit,
// the newest rows are kept.
func (r *AuditRepo) List(ctx context.Context, db *sql.DB, f AuditFilter) ([]domain.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	for _, c := range []struct{ col, val string }{
		{"run_id", f.RunID},
		{"category", f.Category},
		{"severity", f.Severity},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}

	q := `SELECT id, run_id, category, actor, action, detail_json, severity, created_at FROM audit_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, rowid DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "list audit records", err)
	}
	defer rows.Close()

	var out []domain.AuditRecord
	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(&a.ID, &a.RunID, &a.Category, &a.Actor, &a.Action,
			&a.DetailJSON, &a.Severity, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListByRun returns every audit row of one run.
func (r *AuditRepo) ListByRun(ctx context.Context, db *sql.DB, runID string) ([]domain.AuditRecord, error) {
	return r.List(ctx, db, AuditFilter{RunID: runID})
}
