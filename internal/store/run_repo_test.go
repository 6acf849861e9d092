package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

func createRun(t *testing.T, db *sql.DB, runID string) domain.BatchRunState {
	t.Helper()
	now := time.Now().Unix()
	state := domain.BatchRunState{
		RunID:         runID,
		Mode:          domain.RunParallel,
		Status:        domain.RunRunning,
		Total:         5,
		StateVersion:  1,
		CreatedAt:     now,
		UpdatedAtUnix: now,
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	if err := (&RunRepo{}).CreateTx(context.Background(), tx, state); err != nil {
		tx.Rollback()
		t.Fatalf("CreateTx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return state
}

func TestRunRepo_CreateAndGet(t *testing.T) {
	db := openTestDB(t)
	createRun(t, db, "run-001")

	got, err := (&RunRepo{}).GetByID(context.Background(), db, "run-001")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Mode != domain.RunParallel {
		t.Errorf("Mode = %q, want parallel", got.Mode)
	}
	if got.Status != domain.RunRunning {
		t.Errorf("Status = %q, want running", got.Status)
	}
	if got.Total != 5 {
		t.Errorf("Total = %d, want 5", got.Total)
	}
	if got.StateVersion != 1 {
		t.Errorf("StateVersion = %d, want 1", got.StateVersion)
	}
}

func TestRunRepo_CreateDuplicate(t *testing.T) {
	db := openTestDB(t)
	state := createRun(t, db, "run-dup")

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}
	defer tx.Rollback()
	err = (&RunRepo{}).CreateTx(context.Background(), tx, state)
	if !errors.Is(err, domain.ErrDuplicateRun) {
		t.Errorf("err = %v, want ErrDuplicateRun", err)
	}
}

func TestRunRepo_GetNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := (&RunRepo{}).GetByID(context.Background(), db, "nope")
	if !errors.Is(err, domain.ErrBatchNotFound) {
		t.Errorf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestRunRepo_UpdateStateOptimisticLock(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &RunRepo{}
	state := createRun(t, db, "run-lock")

	state.Succeeded = 2
	state.Status = domain.RunSucceeded
	tx, _ := db.Begin()
	if err := repo.UpdateStateTx(ctx, tx, state); err != nil {
		t.Fatalf("UpdateStateTx: %v", err)
	}
	tx.Commit()

	// Same (now stale) version must conflict.
	tx, _ = db.Begin()
	err := repo.UpdateStateTx(ctx, tx, state)
	tx.Rollback()
	if !errors.Is(err, domain.ErrOptimisticLock) {
		t.Fatalf("err = %v, want ErrOptimisticLock", err)
	}

	got, err := repo.GetByID(ctx, db, "run-lock")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.StateVersion != 2 {
		t.Errorf("StateVersion = %d, want 2", got.StateVersion)
	}
	if got.Succeeded != 2 || got.Status != domain.RunSucceeded {
		t.Errorf("got %+v, want succeeded=2 status=succeeded", got)
	}
}
