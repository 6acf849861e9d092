package batch

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
)

// Tracker records run-level bookkeeping around a background run.
type Tracker interface {
	BeginRun(ctx context.Context, runID string, mode domain.RunMode, total int) error
	FinishRun(ctx context.Context, runID string, rep *Report, runErr error) error
}

// RetainFinished bounds how many finished run summaries a Manager keeps for
// late Wait calls.
const RetainFinished = 64

type activeRun struct {
	flag   *CancelFlag
	cancel context.CancelFunc
	done   chan struct{}
	report *Report
	err    error
}

// Manager starts runs in the background and tracks them by run id.
type Manager struct {
	runner  *Runner
	tracker Tracker
	logger  *zap.Logger

	mu       sync.RWMutex
	runs     map[string]*activeRun
	finished map[string]*activeRun
	order    []string
	stopping bool
	wg       sync.WaitGroup
}

// NewManager creates a manager. tracker may be nil.
func NewManager(runner *Runner, tracker Tracker, logger *zap.Logger) *Manager {
	return &Manager{
		runner:   runner,
		tracker:  tracker,
		logger:   logging.OrNop(logger),
		runs:     make(map[string]*activeRun),
		finished: make(map[string]*activeRun),
	}
}

// Start checks the batch-fatal preconditions and launches the run. The run
// outlives ctx; stop it with Cancel or StopAll.
func (m *Manager) Start(ctx context.Context, unit Unit, views []domain.ViewSpec, opts Options) (string, error) {
	if err := m.runner.Preflight(views, opts); err != nil {
		return "", err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Mode == "" {
		opts.Mode = domain.RunSequential
	}
	if opts.Cancel == nil {
		opts.Cancel = NewCancelFlag()
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ar := &activeRun{flag: opts.Cancel, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		cancel()
		return "", domain.ErrManagerStopped
	}
	if _, exists := m.runs[opts.RunID]; exists {
		m.mu.Unlock()
		cancel()
		return "", domain.ErrDuplicateRun
	}
	if _, exists := m.finished[opts.RunID]; exists {
		m.mu.Unlock()
		cancel()
		return "", domain.ErrDuplicateRun
	}
	m.runs[opts.RunID] = ar
	m.wg.Add(1)
	m.mu.Unlock()

	if m.tracker != nil {
		if err := m.tracker.BeginRun(ctx, opts.RunID, opts.Mode, len(views)); err != nil {
			m.mu.Lock()
			delete(m.runs, opts.RunID)
			m.mu.Unlock()
			m.wg.Done()
			cancel()
			return "", err
		}
	}

	go func() {
		defer m.wg.Done()
		defer cancel()

		rep, err := m.runner.Run(runCtx, unit, views, opts)
		ar.report, ar.err = rep, err
		if m.tracker != nil {
			if terr := m.tracker.FinishRun(context.WithoutCancel(runCtx), opts.RunID, rep, err); terr != nil {
				m.logger.Error("finish run bookkeeping failed", zap.String("run_id", opts.RunID), zap.Error(terr))
			}
		}
		m.retire(opts.RunID, ar)
		close(ar.done)
	}()
	return opts.RunID, nil
}

// retire moves a finished run out of the active set. Only a summary without
// record payloads is kept, and only for the newest RetainFinished runs.
func (m *Manager) retire(runID string, ar *activeRun) {
	done := &activeRun{flag: ar.flag, done: ar.done, report: summarize(ar.report), err: ar.err}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, runID)
	m.finished[runID] = done
	m.order = append(m.order, runID)
	for len(m.order) > RetainFinished {
		delete(m.finished, m.order[0])
		m.order = m.order[1:]
	}
}

// summarize copies rep without generated payloads. Records stay readable
// through the store.
func summarize(rep *Report) *Report {
	if rep == nil {
		return nil
	}
	out := *rep
	out.Records = nil
	out.Items = make([]ItemResult, len(rep.Items))
	for i, it := range rep.Items {
		it.Record = nil
		out.Items[i] = it
	}
	return &out
}

func (m *Manager) lookup(runID string) (*activeRun, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ar, ok := m.runs[runID]; ok {
		return ar, true
	}
	ar, ok := m.finished[runID]
	return ar, ok
}

// Cancel sets the cancel flag of a running batch. The in-flight item
// finishes; nothing further is dispatched. Unknown or finished runs return
// ErrBatchNotFound.
func (m *Manager) Cancel(runID string) error {
	ar, ok := m.lookup(runID)
	if !ok {
		return domain.ErrBatchNotFound
	}
	select {
	case <-ar.done:
		return domain.ErrBatchNotFound
	default:
	}
	ar.flag.Cancel()
	m.logger.Info("batch cancel requested", zap.String("run_id", runID))
	return nil
}

// Wait blocks until the run finishes or ctx ends, and returns its report.
// A run that already finished yields its summary, without records.
func (m *Manager) Wait(ctx context.Context, runID string) (*Report, error) {
	ar, ok := m.lookup(runID)
	if !ok {
		return nil, domain.ErrBatchNotFound
	}
	select {
	case <-ar.done:
		return ar.report, ar.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Running returns the ids of unfinished runs in sorted order.
func (m *Manager) Running() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []string
	for id := range m.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll cancels every run, aborts in-flight calls and waits for the
// background goroutines to exit. Later Start calls fail with
// ErrManagerStopped.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.stopping = true
	for _, ar := range m.runs {
		ar.flag.Cancel()
		ar.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
