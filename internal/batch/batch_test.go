package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/generate"
	"github.com/Rogers-F/storyboard-engine/internal/oracle/oracletest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func views(n int) []domain.ViewSpec {
	out := make([]domain.ViewSpec, n)
	for i := range out {
		out[i] = domain.ViewSpec{ID: fmt.Sprintf("v%d", i+1), Label: fmt.Sprintf("View %d", i+1)}
	}
	return out
}

type memSink struct {
	mu       sync.Mutex
	saved    []domain.GeneratedRecord
	promoted []string
	saveErr  error
}

func (s *memSink) Save(_ context.Context, rec domain.GeneratedRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return "", s.saveErr
	}
	rec.ID = fmt.Sprintf("rec-%d", len(s.saved)+1)
	s.saved = append(s.saved, rec)
	return rec.ID, nil
}

func (s *memSink) PromoteReference(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoted = append(s.promoted, id)
	return nil
}

// countingUnit succeeds except at the listed indexes, where it returns err.
type countingUnit struct {
	calls   atomic.Int32
	failAt  map[int]error
	payload string
}

func (u *countingUnit) Generate(_ context.Context, view domain.ViewSpec, index int, _ *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
	u.calls.Add(1)
	if err, ok := u.failAt[index]; ok {
		return domain.GeneratedRecord{}, err
	}
	payload := u.payload
	if payload == "" {
		payload = "payload for " + view.ID
	}
	return domain.GeneratedRecord{Payload: payload, Attempts: 1}, nil
}

func transportErr() error {
	return &domain.OracleError{Cause: domain.CauseTransport, Err: errors.New("connection reset")}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to domain.ItemStatus
		want     bool
	}{
		{domain.ItemPending, domain.ItemRunning, true},
		{domain.ItemPending, domain.ItemCanceled, true},
		{domain.ItemRunning, domain.ItemSucceeded, true},
		{domain.ItemRunning, domain.ItemFailed, true},
		{domain.ItemRunning, domain.ItemCanceled, true},
		{domain.ItemPending, domain.ItemSucceeded, false},
		{domain.ItemSucceeded, domain.ItemFailed, false},
		{domain.ItemFailed, domain.ItemRunning, false},
		{domain.ItemCanceled, domain.ItemRunning, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestCancelFlag(t *testing.T) {
	var nilFlag *CancelFlag
	assert.False(t, nilFlag.IsSet())
	nilFlag.Cancel()

	f := NewCancelFlag()
	assert.False(t, f.IsSet())
	f.Cancel()
	f.Cancel()
	assert.True(t, f.IsSet())
	select {
	case <-f.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestRun_PartialFailureKeepsOrder(t *testing.T) {
	for _, mode := range []domain.RunMode{domain.RunSequential, domain.RunParallel} {
		t.Run(string(mode), func(t *testing.T) {
			unit := &countingUnit{failAt: map[int]error{1: transportErr(), 3: transportErr()}}
			sink := &memSink{}
			rep, err := NewRunner(sink, nil, 0, nil).Run(context.Background(), unit, views(5), Options{Mode: mode})

			require.NoError(t, err)
			assert.Equal(t, 3, rep.Succeeded)
			assert.Equal(t, 2, rep.Failed)
			require.Len(t, rep.Items, 5)
			for i, it := range rep.Items {
				assert.Equal(t, i, it.Index)
				assert.Equal(t, fmt.Sprintf("v%d", i+1), it.View.ID)
			}
			assert.Equal(t, domain.OutcomeNetwork, rep.Items[1].Outcome)
			assert.Equal(t, domain.ItemFailed, rep.Items[3].Status)
			assert.NotEmpty(t, rep.Items[3].Reason)

			require.Len(t, rep.Records, 3)
			for i, idx := range []int{0, 2, 4} {
				assert.Equal(t, idx, rep.Records[i].SequenceIndex)
			}
			assert.Len(t, sink.promoted, 1)
		})
	}
}

func TestRun_CancelAfterSecondItem(t *testing.T) {
	unit := &countingUnit{}
	flag := NewCancelFlag()
	var results []ItemResult
	obs := ObserverFuncs{OnResult: func(res ItemResult, total int) {
		results = append(results, res)
		if res.Index == 1 {
			flag.Cancel()
		}
	}}

	rep, err := NewRunner(nil, obs, 0, nil).Run(context.Background(), unit, views(5), Options{
		Mode:   domain.RunSequential,
		Cancel: flag,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), unit.calls.Load())
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 3, rep.Canceled)
	for _, it := range rep.Items[2:] {
		assert.Equal(t, domain.ItemCanceled, it.Status)
		assert.Equal(t, domain.OutcomeCanceled, it.Outcome)
	}
	require.Len(t, results, 5)
	assert.Equal(t, domain.OutcomeCanceled, results[4].Outcome)
}

func TestRun_CancelDuringDelay(t *testing.T) {
	unit := &countingUnit{}
	flag := NewCancelFlag()
	obs := ObserverFuncs{OnResult: func(res ItemResult, _ int) {
		if res.Index == 0 {
			flag.Cancel()
		}
	}}

	start := time.Now()
	rep, err := NewRunner(nil, obs, 0, nil).Run(context.Background(), unit, views(3), Options{
		Delay:  time.Hour,
		Cancel: flag,
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), unit.calls.Load())
	assert.Equal(t, 2, rep.Canceled)
}

func TestRun_DelayBetweenSuccesses(t *testing.T) {
	unit := &countingUnit{}
	start := time.Now()
	rep, err := NewRunner(nil, nil, 0, nil).Run(context.Background(), unit, views(3), Options{Delay: 20 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, 3, rep.Succeeded)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRun_ProgressBeforeResult(t *testing.T) {
	var events []string
	obs := ObserverFuncs{
		OnProgress: func(v domain.ViewSpec, index, total int) {
			events = append(events, fmt.Sprintf("progress %d/%d", index, total))
		},
		OnResult: func(res ItemResult, total int) {
			events = append(events, fmt.Sprintf("result %d/%d %s", res.Index, total, res.Outcome))
		},
	}
	_, err := NewRunner(nil, obs, 0, nil).Run(context.Background(), &countingUnit{}, views(2), Options{})

	require.NoError(t, err)
	assert.Equal(t, []string{
		"progress 0/2", "result 0/2 success",
		"progress 1/2", "result 1/2 success",
	}, events)
}

func TestRun_ReferenceRequired(t *testing.T) {
	unit := &countingUnit{}
	vs := views(2)
	vs[0].RequiresReference = true

	_, err := NewRunner(nil, nil, 0, nil).Run(context.Background(), unit, vs, Options{})
	assert.True(t, errors.Is(err, domain.ErrReferenceRequired))
	assert.Equal(t, int32(0), unit.calls.Load())

	rep, err := NewRunner(nil, nil, 0, nil).Run(context.Background(), unit, vs, Options{
		Reference: &domain.GeneratedRecord{ID: "old", Payload: "ref"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Empty(t, rep.ReferenceID)
}

func TestRun_ExistingReferenceNotReplaced(t *testing.T) {
	sink := &memSink{}
	var seen []*domain.GeneratedRecord
	unit := UnitFunc(func(_ context.Context, v domain.ViewSpec, _ int, ref *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		seen = append(seen, ref)
		return domain.GeneratedRecord{Payload: v.ID}, nil
	})

	_, err := NewRunner(sink, nil, 0, nil).Run(context.Background(), unit, views(2), Options{
		Reference: &domain.GeneratedRecord{ID: "old", Payload: "ref"},
	})
	require.NoError(t, err)
	assert.Empty(t, sink.promoted)
	require.Len(t, seen, 2)
	assert.Equal(t, "old", seen[1].ID)
}

func TestRun_FirstSuccessPromoted(t *testing.T) {
	sink := &memSink{}
	var seen []*domain.GeneratedRecord
	unit := UnitFunc(func(_ context.Context, v domain.ViewSpec, i int, ref *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		seen = append(seen, ref)
		if i == 0 {
			return domain.GeneratedRecord{}, transportErr()
		}
		return domain.GeneratedRecord{Payload: v.ID}, nil
	})

	rep, err := NewRunner(sink, nil, 0, nil).Run(context.Background(), unit, views(3), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, sink.promoted)
	assert.Equal(t, "rec-1", rep.ReferenceID)
	assert.True(t, rep.Items[1].Record.Reference)
	assert.False(t, rep.Items[2].Record.Reference)
	require.Len(t, seen, 3)
	assert.Nil(t, seen[1])
	require.NotNil(t, seen[2])
	assert.Equal(t, "rec-1", seen[2].ID)
}

func TestRun_AllFailed(t *testing.T) {
	unit := &countingUnit{failAt: map[int]error{0: transportErr(), 1: domain.ErrEnvelopeParse}}
	rep, err := NewRunner(nil, nil, 0, nil).Run(context.Background(), unit, views(2), Options{})

	assert.True(t, errors.Is(err, domain.ErrBatchFailed))
	require.NotNil(t, rep)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, domain.OutcomeFailed, rep.Items[1].Outcome)
	assert.Equal(t, domain.RunFailed, rep.Status())
}

func TestRun_CanceledWithoutSuccessIsNotFatal(t *testing.T) {
	flag := NewCancelFlag()
	flag.Cancel()
	rep, err := NewRunner(nil, nil, 0, nil).Run(context.Background(), &countingUnit{}, views(3), Options{Cancel: flag})

	require.NoError(t, err)
	assert.Equal(t, 3, rep.Canceled)
	assert.Equal(t, domain.RunCanceled, rep.Status())
}

func TestRun_EmptyPayloadFails(t *testing.T) {
	unit := UnitFunc(func(context.Context, domain.ViewSpec, int, *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		return domain.GeneratedRecord{Payload: "   "}, nil
	})
	rep, err := NewRunner(nil, nil, 0, nil).Run(context.Background(), unit, views(1), Options{})

	assert.True(t, errors.Is(err, domain.ErrBatchFailed))
	assert.Equal(t, domain.OutcomeFailed, rep.Items[0].Outcome)
}

func TestRun_SaveFailureFailsItem(t *testing.T) {
	sink := &memSink{saveErr: errors.New("disk full")}
	rep, err := NewRunner(sink, nil, 0, nil).Run(context.Background(), &countingUnit{}, views(1), Options{})

	assert.True(t, errors.Is(err, domain.ErrBatchFailed))
	assert.Equal(t, domain.OutcomeError, rep.Items[0].Outcome)
	assert.Contains(t, rep.Items[0].Reason, "disk full")
}

func TestPreflight(t *testing.T) {
	r := NewRunner(nil, nil, 2, nil)
	assert.True(t, errors.Is(r.Preflight(nil, Options{}), domain.ErrBatchEmpty))
	assert.True(t, errors.Is(r.Preflight(views(3), Options{}), domain.ErrBatchTooLarge))
	assert.True(t, errors.Is(r.Preflight(views(1), Options{Mode: "shuffled"}), domain.ErrValidationInput))
	assert.NoError(t, r.Preflight(views(2), Options{Mode: domain.RunParallel}))
}

func TestRun_ParallelResultsIndexStable(t *testing.T) {
	unit := UnitFunc(func(_ context.Context, v domain.ViewSpec, i int, _ *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		time.Sleep(time.Duration(5-i) * 5 * time.Millisecond)
		return domain.GeneratedRecord{Payload: v.ID}, nil
	})
	rep, err := NewRunner(&memSink{}, nil, 0, nil).Run(context.Background(), unit, views(5), Options{Mode: domain.RunParallel})

	require.NoError(t, err)
	for i, rec := range rep.Records {
		assert.Equal(t, i, rec.SequenceIndex)
		assert.Equal(t, fmt.Sprintf("v%d", i+1), rec.Payload)
	}
}

func TestRun_SingleSceneAlwaysMiscounted(t *testing.T) {
	stub := oracletest.New(oracletest.Text(oracletest.Scenes(2)))
	unit := &generate.ViewUnit{
		Gen:   generate.New(stub, nil),
		Brief: domain.Brief{Text: "a cat", Count: 1, DurationSec: 5, Language: "en"},
		Kind:  domain.KindScenes,
	}

	rep, err := NewRunner(&memSink{}, nil, 0, nil).Run(context.Background(), unit, views(3), Options{Mode: domain.RunSequential})
	require.NoError(t, err)
	require.Len(t, rep.Records, 3)
	for _, rec := range rep.Records {
		assert.Equal(t, 3, rec.Attempts)
		assert.Len(t, rec.Units, 1)
	}
	assert.Equal(t, 9, stub.Calls())
}

func TestManager_StartWaitCancel(t *testing.T) {
	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	defer m.StopAll()

	id, err := m.Start(context.Background(), &countingUnit{}, views(2), Options{})
	require.NoError(t, err)

	rep, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Succeeded)
	assert.True(t, errors.Is(m.Cancel(id), domain.ErrBatchNotFound))
	assert.True(t, errors.Is(m.Cancel("nope"), domain.ErrBatchNotFound))
	assert.Empty(t, m.Running())
}

func TestManager_DuplicateRun(t *testing.T) {
	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	defer m.StopAll()

	_, err := m.Start(context.Background(), &countingUnit{}, views(1), Options{RunID: "r1"})
	require.NoError(t, err)
	_, err = m.Start(context.Background(), &countingUnit{}, views(1), Options{RunID: "r1"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateRun))
}

func TestManager_PreflightRejected(t *testing.T) {
	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	_, err := m.Start(context.Background(), &countingUnit{}, nil, Options{})
	assert.True(t, errors.Is(err, domain.ErrBatchEmpty))
}

func TestManager_CancelStopsDispatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	unit := UnitFunc(func(_ context.Context, v domain.ViewSpec, i int, _ *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		calls.Add(1)
		if i == 0 {
			close(started)
			<-release
		}
		return domain.GeneratedRecord{Payload: v.ID}, nil
	})

	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	defer m.StopAll()
	id, err := m.Start(context.Background(), unit, views(4), Options{})
	require.NoError(t, err)

	<-started
	assert.Equal(t, []string{id}, m.Running())
	require.NoError(t, m.Cancel(id))
	close(release)

	rep, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 3, rep.Canceled)
	assert.Equal(t, int32(1), calls.Load())
}

type recordingTracker struct {
	mu       sync.Mutex
	begun    []string
	finished map[string]error
}

func (r *recordingTracker) BeginRun(_ context.Context, runID string, _ domain.RunMode, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.begun = append(r.begun, runID)
	return nil
}

func (r *recordingTracker) FinishRun(_ context.Context, runID string, _ *Report, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished == nil {
		r.finished = make(map[string]error)
	}
	r.finished[runID] = runErr
	return nil
}

func TestManager_StopAllAbortsInFlight(t *testing.T) {
	tracker := &recordingTracker{}
	started := make(chan struct{})
	unit := UnitFunc(func(ctx context.Context, _ domain.ViewSpec, _ int, _ *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		close(started)
		<-ctx.Done()
		return domain.GeneratedRecord{}, ctx.Err()
	})

	m := NewManager(NewRunner(nil, nil, 0, nil), tracker, nil)
	id, err := m.Start(context.Background(), unit, views(2), Options{})
	require.NoError(t, err)

	<-started
	m.StopAll()

	rep, err := m.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Canceled)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Equal(t, []string{id}, tracker.begun)
	assert.Contains(t, tracker.finished, id)
}

func TestManager_FinishedRunsAreBounded(t *testing.T) {
	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	defer m.StopAll()

	var ids []string
	for i := 0; i < RetainFinished+6; i++ {
		id, err := m.Start(context.Background(), &countingUnit{}, views(3), Options{})
		require.NoError(t, err)
		_, err = m.Wait(context.Background(), id)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	m.mu.RLock()
	active, retained := len(m.runs), len(m.finished)
	m.mu.RUnlock()
	assert.Zero(t, active)
	assert.Equal(t, RetainFinished, retained)

	_, err := m.Wait(context.Background(), ids[0])
	assert.True(t, errors.Is(err, domain.ErrBatchNotFound))

	rep, err := m.Wait(context.Background(), ids[len(ids)-1])
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Nil(t, rep.Records)
	for _, it := range rep.Items {
		assert.Nil(t, it.Record)
		assert.Equal(t, domain.ItemSucceeded, it.Status)
	}
	assert.True(t, errors.Is(m.Cancel(ids[len(ids)-1]), domain.ErrBatchNotFound))
}

func TestManager_WaitingCallerGetsRecords(t *testing.T) {
	release := make(chan struct{})
	unit := UnitFunc(func(_ context.Context, v domain.ViewSpec, _ int, _ *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
		<-release
		return domain.GeneratedRecord{Payload: v.ID}, nil
	})

	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	defer m.StopAll()
	id, err := m.Start(context.Background(), unit, views(2), Options{Mode: domain.RunParallel})
	require.NoError(t, err)

	type result struct {
		rep *Report
		err error
	}
	got := make(chan result, 1)
	go func() {
		rep, err := m.Wait(context.Background(), id)
		got <- result{rep, err}
	}()
	// Let the waiter pick up the active run before it finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)

	r := <-got
	require.NoError(t, r.err)
	assert.Len(t, r.rep.Records, 2)
}

func TestManager_StartAfterStopAll(t *testing.T) {
	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	m.StopAll()

	_, err := m.Start(context.Background(), &countingUnit{}, views(1), Options{})
	assert.True(t, errors.Is(err, domain.ErrManagerStopped))
	assert.Empty(t, m.Running())
}

func TestManager_DuplicateOfFinishedRun(t *testing.T) {
	m := NewManager(NewRunner(nil, nil, 0, nil), nil, nil)
	defer m.StopAll()

	_, err := m.Start(context.Background(), &countingUnit{}, views(1), Options{RunID: "r1"})
	require.NoError(t, err)
	_, err = m.Wait(context.Background(), "r1")
	require.NoError(t, err)

	_, err = m.Start(context.Background(), &countingUnit{}, views(1), Options{RunID: "r1"})
	assert.True(t, errors.Is(err, domain.ErrDuplicateRun))
}
