// Package bridge connects the batch orchestrator to the store, persisting
// records, the reference role, run counters, progress events and audit rows.
package bridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/batch"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
	"github.com/Rogers-F/storyboard-engine/internal/store"
)

// Event types appended to a run's event log.
const (
	EventRunStarted   = "run_started"
	EventItemStarted  = "item_started"
	EventItemFinished = "item_finished"
	EventRunFinished  = "run_finished"
)

// Bridge is the integration layer between the orchestrator and persistence.
// It implements batch.Sink, batch.Observer and batch.Tracker.
type Bridge struct {
	DB         *sql.DB
	RecordRepo *store.RecordRepo
	RunRepo    *store.RunRepo
	EventRepo  *store.EventRepo
	AuditRepo  *store.AuditRepo
	Logger     *zap.Logger
}

var (
	_ batch.Sink     = (*Bridge)(nil)
	_ batch.Observer = (*Bridge)(nil)
	_ batch.Tracker  = (*Bridge)(nil)
)

// NewBridge creates a Bridge over db.
func NewBridge(db *sql.DB, logger *zap.Logger) *Bridge {
	return &Bridge{
		DB:         db,
		RecordRepo: &store.RecordRepo{},
		RunRepo:    &store.RunRepo{},
		EventRepo:  &store.EventRepo{},
		AuditRepo:  &store.AuditRepo{},
		Logger:     logging.OrNop(logger),
	}
}

// Save persists a generated record and returns its ID.
func (b *Bridge) Save(ctx context.Context, rec domain.GeneratedRecord) (string, error) {
	id, err := b.RecordRepo.Save(ctx, b.DB, rec)
	if err != nil {
		return "", domain.WrapEngineError(domain.ErrStoreWrite.Code, "save record", err)
	}
	return id, nil
}

// PromoteReference makes recordID the reference record and audits it.
func (b *Bridge) PromoteReference(ctx context.Context, recordID string) error {
	now := time.Now().Unix()
	if err := b.RecordRepo.PromoteReference(ctx, b.DB, recordID, now); err != nil {
		return err
	}

	runID := ""
	if rec, err := b.RecordRepo.GetByID(ctx, b.DB, recordID); err == nil {
		runID = rec.RunID
	}
	b.audit(ctx, domain.AuditRecord{
		RunID:      runID,
		Category:   domain.AuditReference,
		Action:     "promote",
		DetailJSON: mustJSON(map[string]string{"record_id": recordID, "role": domain.ReferenceKey}),
		Severity:   domain.SeverityInfo,
		CreatedAt:  now,
	})
	return nil
}

// CurrentReference returns the reference record, or nil when none exists.
func (b *Bridge) CurrentReference(ctx context.Context) (*domain.GeneratedRecord, error) {
	rec, err := b.RecordRepo.GetReference(ctx, b.DB)
	if errors.Is(err, domain.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrStoreQuery.Code, "load reference", err)
	}
	return rec, nil
}

// BeginRun creates the run row and its first event in one transaction.
func (b *Bridge) BeginRun(ctx context.Context, runID string, mode domain.RunMode, total int) error {
	now := time.Now().Unix()
	state := domain.BatchRunState{
		RunID:         runID,
		Mode:          mode,
		Status:        domain.RunRunning,
		Total:         total,
		StateVersion:  1,
		LastEventSeq:  1, // run_started uses seq 1.
		CreatedAt:     now,
		UpdatedAtUnix: now,
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := b.RunRepo.CreateTx(ctx, tx, state); err != nil {
		return err
	}
	event := domain.BatchEvent{
		RunID:     runID,
		SeqNo:     1,
		EventType: EventRunStarted,
		Total:     total,
		CreatedAt: now,
	}
	if err := b.EventRepo.AppendTx(ctx, tx, event); err != nil {
		return fmt.Errorf("append start event: %w", err)
	}
	return tx.Commit()
}

// Progress records that an item was dispatched.
func (b *Bridge) Progress(ctx context.Context, runID string, view domain.ViewSpec, index, total int) {
	err := b.appendEvent(ctx, runID, domain.BatchEvent{
		EventType: EventItemStarted,
		ViewID:    view.ID,
		ItemIndex: index,
		Total:     total,
	}, nil)
	if err != nil {
		b.Logger.Warn("record progress event", zap.String("run_id", runID), zap.Int("index", index), zap.Error(err))
	}
}

// Result records an item's outcome and bumps the run counters.
func (b *Bridge) Result(ctx context.Context, runID string, res batch.ItemResult, total int) {
	ev := domain.BatchEvent{
		EventType: EventItemFinished,
		ViewID:    res.View.ID,
		ItemIndex: res.Index,
		Total:     total,
		Outcome:   res.Outcome,
		Reason:    res.Reason,
	}
	if res.Record != nil {
		ev.RecordID = res.Record.ID
	}
	err := b.appendEvent(ctx, runID, ev, func(s *domain.BatchRunState) {
		switch res.Status {
		case domain.ItemSucceeded:
			s.Succeeded++
		case domain.ItemCanceled:
			s.Canceled++
		default:
			s.Failed++
		}
	})
	if err != nil {
		b.Logger.Warn("record result event", zap.String("run_id", runID), zap.Int("index", res.Index), zap.Error(err))
	}
}

// FinishRun stores the final status, appends the closing event and audits
// batch-level failures.
func (b *Bridge) FinishRun(ctx context.Context, runID string, rep *batch.Report, runErr error) error {
	status := domain.RunFailed
	if rep != nil {
		status = rep.Status()
	}
	reason := ""
	if runErr != nil {
		reason = runErr.Error()
	}

	err := b.appendEvent(ctx, runID, domain.BatchEvent{
		EventType: EventRunFinished,
		Reason:    reason,
	}, func(s *domain.BatchRunState) {
		s.Status = status
		s.Total = max(s.Total, s.Succeeded+s.Failed+s.Canceled)
	})
	if err != nil {
		return err
	}

	severity := domain.SeverityInfo
	if runErr != nil {
		severity = domain.SeverityWarn
	}
	detail := map[string]any{"status": status}
	if rep != nil {
		detail["succeeded"] = rep.Succeeded
		detail["failed"] = rep.Failed
		detail["canceled"] = rep.Canceled
	}
	if reason != "" {
		detail["reason"] = reason
	}
	b.audit(ctx, domain.AuditRecord{
		RunID:      runID,
		Category:   domain.AuditBatch,
		Action:     "finish",
		DetailJSON: mustJSON(detail),
		Severity:   severity,
		CreatedAt:  time.Now().Unix(),
	})
	return nil
}

// Run returns the stored state of a run.
func (b *Bridge) Run(ctx context.Context, runID string) (*domain.BatchRunState, error) {
	return b.RunRepo.GetByID(ctx, b.DB, runID)
}

// Events returns a run's events after sinceSeq.
func (b *Bridge) Events(ctx context.Context, runID string, sinceSeq int64) ([]domain.BatchEvent, error) {
	return b.EventRepo.ListByRun(ctx, b.DB, runID, sinceSeq)
}

// Records returns a run's persisted records in sequence order.
func (b *Bridge) Records(ctx context.Context, runID string) ([]domain.GeneratedRecord, error) {
	return b.RecordRepo.ListByRun(ctx, b.DB, runID)
}

// Audit lists audit rows matching f.
func (b *Bridge) Audit(ctx context.Context, f store.AuditFilter) ([]domain.AuditRecord, error) {
	return b.AuditRepo.List(ctx, b.DB, f)
}

// appendEvent assigns the next sequence number, applies mutate to the run
// counters and writes both in one transaction.
func (b *Bridge) appendEvent(ctx context.Context, runID string, ev domain.BatchEvent, mutate func(*domain.BatchRunState)) error {
	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	state, err := b.RunRepo.GetByIDTx(ctx, tx, runID)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	ev.RunID = runID
	ev.SeqNo = state.LastEventSeq + 1
	ev.CreatedAt = now
	if err := b.EventRepo.AppendTx(ctx, tx, ev); err != nil {
		return err
	}

	if mutate != nil {
		mutate(state)
	}
	state.LastEventSeq = ev.SeqNo
	state.UpdatedAtUnix = now
	if err := b.RunRepo.UpdateStateTx(ctx, tx, *state); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Bridge) audit(ctx context.Context, rec domain.AuditRecord) {
	rec.ID = "aud-" + uuid.NewString()
	rec.Actor = "batch"
	if err := b.AuditRepo.Record(ctx, b.DB, rec); err != nil {
		b.Logger.Warn("write audit record", zap.String("action", rec.Action), zap.Error(err))
	}
}

// mustJSON marshals v to a JSON string, returning "{}" on error.
func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
