package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
	"github.com/Rogers-F/storyboard-engine/internal/metrics"
)

// Unit generates the record for one view. ref is the current reference
// record, or nil.
type Unit interface {
	Generate(ctx context.Context, view domain.ViewSpec, index int, ref *domain.GeneratedRecord) (domain.GeneratedRecord, error)
}

// UnitFunc adapts a function to the Unit interface.
type UnitFunc func(ctx context.Context, view domain.ViewSpec, index int, ref *domain.GeneratedRecord) (domain.GeneratedRecord, error)

// Generate implements Unit.
func (f UnitFunc) Generate(ctx context.Context, view domain.ViewSpec, index int, ref *domain.GeneratedRecord) (domain.GeneratedRecord, error) {
	return f(ctx, view, index, ref)
}

// Sink persists successful records and the reference role.
type Sink interface {
	Save(ctx context.Context, rec domain.GeneratedRecord) (string, error)
	PromoteReference(ctx context.Context, recordID string) error
}

// Observer receives per-item progress and result notifications. Calls for
// one run never overlap.
type Observer interface {
	Progress(ctx context.Context, runID string, view domain.ViewSpec, index, total int)
	Result(ctx context.Context, runID string, res ItemResult, total int)
}

// ObserverFuncs adapts optional callbacks to the Observer interface.
type ObserverFuncs struct {
	OnProgress func(view domain.ViewSpec, index, total int)
	OnResult   func(res ItemResult, total int)
}

// Progress implements Observer.
func (o ObserverFuncs) Progress(_ context.Context, _ string, view domain.ViewSpec, index, total int) {
	if o.OnProgress != nil {
		o.OnProgress(view, index, total)
	}
}

// Result implements Observer.
func (o ObserverFuncs) Result(_ context.Context, _ string, res ItemResult, total int) {
	if o.OnResult != nil {
		o.OnResult(res, total)
	}
}

type tee []Observer

// Tee fans notifications out to every non-nil observer in order.
func Tee(obs ...Observer) Observer {
	var t tee
	for _, o := range obs {
		if o != nil {
			t = append(t, o)
		}
	}
	return t
}

func (t tee) Progress(ctx context.Context, runID string, view domain.ViewSpec, index, total int) {
	for _, o := range t {
		o.Progress(ctx, runID, view, index, total)
	}
}

func (t tee) Result(ctx context.Context, runID string, res ItemResult, total int) {
	for _, o := range t {
		o.Result(ctx, runID, res, total)
	}
}

// Options controls one run.
type Options struct {
	RunID string
	Mode  domain.RunMode
	// Delay is the pause after each successful sequential item.
	Delay  time.Duration
	Cancel *CancelFlag
	// Reference is the reference record that existed before the run, or nil.
	Reference *domain.GeneratedRecord
}

// Runner drives views through a Unit.
type Runner struct {
	sink     Sink
	observer Observer
	maxViews int
	logger   *zap.Logger
}

// NewRunner creates a Runner. sink and observer may be nil. maxViews of 0
// means no limit.
func NewRunner(sink Sink, observer Observer, maxViews int, logger *zap.Logger) *Runner {
	if observer == nil {
		observer = ObserverFuncs{}
	}
	return &Runner{sink: sink, observer: observer, maxViews: maxViews, logger: logging.OrNop(logger)}
}

// Preflight reports the batch-fatal conditions detectable before dispatch.
func (r *Runner) Preflight(views []domain.ViewSpec, opts Options) error {
	if len(views) == 0 {
		return domain.ErrBatchEmpty
	}
	if r.maxViews > 0 && len(views) > r.maxViews {
		return domain.NewEngineError(domain.ErrBatchTooLarge.Code,
			fmt.Sprintf("%s: %d > %d", domain.ErrBatchTooLarge.Message, len(views), r.maxViews))
	}
	switch opts.Mode {
	case "", domain.RunSequential, domain.RunParallel:
	default:
		return &domain.InputError{Fields: []domain.FieldError{{Field: "mode", Message: "must be sequential or parallel"}}}
	}
	if views[0].RequiresReference && opts.Reference == nil {
		return domain.ErrReferenceRequired
	}
	return nil
}

// Run executes views and returns the index-stable report. Item failures are
// recorded, not returned. The error is ErrBatchFailed when every item was
// attempted and none succeeded.
func (r *Runner) Run(ctx context.Context, unit Unit, views []domain.ViewSpec, opts Options) (*Report, error) {
	if err := r.Preflight(views, opts); err != nil {
		return nil, err
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Mode == "" {
		opts.Mode = domain.RunSequential
	}
	st := newRun(opts.RunID, views, opts.Cancel, opts.Reference)

	logger := r.logger.With(zap.String("run_id", st.id), zap.String("mode", string(opts.Mode)))
	logger.Info("batch started", zap.Int("views", len(views)))

	if opts.Mode == domain.RunParallel {
		r.runParallel(ctx, unit, st)
	} else {
		r.runSequential(ctx, unit, st, opts.Delay)
	}

	rep := st.report(opts.Mode)
	logger.Info("batch finished",
		zap.Int("succeeded", rep.Succeeded),
		zap.Int("failed", rep.Failed),
		zap.Int("canceled", rep.Canceled),
	)
	if rep.Succeeded == 0 && rep.Canceled == 0 {
		return rep, domain.ErrBatchFailed
	}
	return rep, nil
}

func (r *Runner) runSequential(ctx context.Context, unit Unit, st *run, delay time.Duration) {
	for i := range st.views {
		if st.flag.IsSet() || ctx.Err() != nil {
			r.cancelFrom(ctx, st, i)
			return
		}
		ok := r.runItem(ctx, unit, st, i)
		if ok && delay > 0 && i < len(st.views)-1 {
			if !pause(ctx, delay, st.flag) {
				r.cancelFrom(ctx, st, i+1)
				return
			}
		}
	}
}

func (r *Runner) runParallel(ctx context.Context, unit Unit, st *run) {
	var g errgroup.Group
	for i := range st.views {
		if st.flag.IsSet() || ctx.Err() != nil {
			r.cancelFrom(ctx, st, i)
			break
		}
		g.Go(func() error {
			if st.flag.IsSet() || ctx.Err() != nil {
				st.mu.Lock()
				r.cancelItem(ctx, st, i)
				st.mu.Unlock()
				return nil
			}
			r.runItem(ctx, unit, st, i)
			return nil
		})
	}
	_ = g.Wait()
}

// pause sleeps for d unless the run is canceled first.
func pause(ctx context.Context, d time.Duration, flag *CancelFlag) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-flag.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) runItem(ctx context.Context, unit Unit, st *run, i int) bool {
	view := st.views[i]
	total := len(st.views)
	notify := context.WithoutCancel(ctx)

	st.mu.Lock()
	if err := st.transition(i, domain.ItemRunning); err != nil {
		st.mu.Unlock()
		r.logger.Error("item not dispatchable", zap.Error(err))
		return false
	}
	ref := st.reference
	r.observer.Progress(notify, st.id, view, i, total)
	st.mu.Unlock()

	rec, err := unit.Generate(ctx, view, i, ref)
	if err == nil && strings.TrimSpace(rec.Payload) == "" {
		err = domain.ErrEmptyPayload
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err == nil {
		rec.RunID = st.id
		rec.ViewID = view.ID
		rec.ViewLabel = view.Label
		rec.SequenceIndex = i
		rec.Reference = false
		if rec.CreatedAt == 0 {
			rec.CreatedAt = time.Now().Unix()
		}
		err = r.save(notify, &rec)
	}
	if err != nil {
		r.fail(ctx, st, i, err)
		return false
	}

	if st.reference == nil {
		r.promote(notify, st, &rec)
	}

	_ = st.transition(i, domain.ItemSucceeded)
	st.items[i].Outcome = domain.OutcomeSuccess
	st.items[i].Record = &rec
	metrics.BatchItems.WithLabelValues(string(domain.OutcomeSuccess)).Inc()
	r.logger.Debug("item succeeded",
		zap.String("run_id", st.id),
		zap.Int("index", i),
		zap.String("record_id", rec.ID),
		zap.Int("attempts", rec.Attempts),
	)
	r.observer.Result(notify, st.id, st.items[i], total)
	return true
}

func (r *Runner) save(ctx context.Context, rec *domain.GeneratedRecord) error {
	if r.sink == nil {
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		return nil
	}
	id, err := r.sink.Save(ctx, *rec)
	if err != nil {
		return fmt.Errorf("persist record: %w", err)
	}
	rec.ID = id
	return nil
}

// promote makes rec the reference when the run has none. Caller holds st.mu.
func (r *Runner) promote(ctx context.Context, st *run, rec *domain.GeneratedRecord) {
	if r.sink != nil {
		if err := r.sink.PromoteReference(ctx, rec.ID); err != nil {
			r.logger.Warn("reference promotion failed", zap.String("record_id", rec.ID), zap.Error(err))
			return
		}
	}
	rec.Reference = true
	ref := *rec
	st.reference = &ref
	st.refID = rec.ID
	r.logger.Info("reference promoted", zap.String("run_id", st.id), zap.String("record_id", rec.ID))
}

// fail records a failed or canceled item. Caller holds st.mu.
func (r *Runner) fail(ctx context.Context, st *run, i int, err error) {
	outcome := classify(ctx, err)
	status := domain.ItemFailed
	if outcome == domain.OutcomeCanceled {
		status = domain.ItemCanceled
	}
	_ = st.transition(i, status)
	st.items[i].Outcome = outcome
	st.items[i].Reason = err.Error()
	metrics.BatchItems.WithLabelValues(string(outcome)).Inc()
	r.logger.Warn("item failed",
		zap.String("run_id", st.id),
		zap.Int("index", i),
		zap.String("outcome", string(outcome)),
		zap.Error(err),
	)
	r.observer.Result(context.WithoutCancel(ctx), st.id, st.items[i], len(st.views))
}

// cancelFrom marks every pending item from index i on as canceled.
func (r *Runner) cancelFrom(ctx context.Context, st *run, i int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for j := i; j < len(st.items); j++ {
		r.cancelItem(ctx, st, j)
	}
}

// cancelItem cancels one pending item. Caller holds st.mu.
func (r *Runner) cancelItem(ctx context.Context, st *run, i int) {
	if st.items[i].Status != domain.ItemPending {
		return
	}
	_ = st.transition(i, domain.ItemCanceled)
	st.items[i].Outcome = domain.OutcomeCanceled
	st.items[i].Reason = "canceled before dispatch"
	metrics.BatchItems.WithLabelValues(string(domain.OutcomeCanceled)).Inc()
	r.observer.Result(context.WithoutCancel(ctx), st.id, st.items[i], len(st.views))
}

func classify(ctx context.Context, err error) domain.Outcome {
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return domain.OutcomeCanceled
	case errors.Is(err, domain.ErrTransport):
		return domain.OutcomeNetwork
	case errors.Is(err, domain.ErrEnvelopeParse),
		errors.Is(err, domain.ErrEmptyPayload),
		errors.Is(err, domain.ErrValidationInput):
		return domain.OutcomeFailed
	default:
		return domain.OutcomeError
	}
}
