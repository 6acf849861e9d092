package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

func sampleRecord(runID string, idx int) domain.GeneratedRecord {
	return domain.GeneratedRecord{
		RunID:         runID,
		ViewID:        "front",
		ViewLabel:     "Front",
		SequenceIndex: idx,
		Attempts:      2,
		Kind:          domain.KindScenes,
		Payload:       `[{"visual":"v"}]`,
		Units:         []domain.StructuredUnit{{Visual: "v", SFX: []string{"whoosh"}, Transition: "cut"}},
		CreatedAt:     time.Now().Unix(),
	}
}

func TestRecordRepo_SaveAndGet(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &RecordRepo{}

	rec := sampleRecord("run-1", 0)
	id, err := repo.Save(ctx, db, rec)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatal("Save returned empty id")
	}

	got, err := repo.GetByID(ctx, db, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	rec.ID = id
	if diff := cmp.Diff(rec, *got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestRecordRepo_GetNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := (&RecordRepo{}).GetByID(context.Background(), db, "missing")
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestRecordRepo_ListByRunOrdered(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &RecordRepo{}

	for _, idx := range []int{2, 0, 1} {
		if _, err := repo.Save(ctx, db, sampleRecord("run-1", idx)); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, err := repo.Save(ctx, db, sampleRecord("run-2", 0)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.ListByRun(ctx, db, "run-1")
	if err != nil {
		t.Fatalf("ListByRun: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, rec := range got {
		if rec.SequenceIndex != i {
			t.Errorf("got[%d].SequenceIndex = %d", i, rec.SequenceIndex)
		}
	}
}

func TestRecordRepo_ReferenceOverwrites(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	repo := &RecordRepo{}

	if _, err := repo.GetReference(ctx, db); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("GetReference on empty db: %v", err)
	}

	first, _ := repo.Save(ctx, db, sampleRecord("run-1", 0))
	second, _ := repo.Save(ctx, db, sampleRecord("run-2", 0))

	if err := repo.PromoteReference(ctx, db, first, 100); err != nil {
		t.Fatalf("PromoteReference first: %v", err)
	}
	if err := repo.PromoteReference(ctx, db, second, 200); err != nil {
		t.Fatalf("PromoteReference second: %v", err)
	}

	ref, err := repo.GetReference(ctx, db)
	if err != nil {
		t.Fatalf("GetReference: %v", err)
	}
	if ref.ID != second {
		t.Errorf("reference = %q, want %q", ref.ID, second)
	}
	if !ref.Reference {
		t.Error("reference record not flagged as promoted")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM reference_role").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("reference_role rows = %d, want 1", count)
	}
}

func TestRecordRepo_PromoteUnknown(t *testing.T) {
	db := openTestDB(t)
	err := (&RecordRepo{}).PromoteReference(context.Background(), db, "ghost", 1)
	if !errors.Is(err, domain.ErrRecordNotFound) {
		t.Errorf("err = %v, want ErrRecordNotFound", err)
	}
}
