// Package batch runs a list of views through a generation unit, sequentially
// or in parallel, with cooperative cancellation and partial-success reporting.
package batch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// validTransitions defines the legal item status transitions.
// Terminal statuses have no entry.
var validTransitions = map[domain.ItemStatus]map[domain.ItemStatus]bool{
	domain.ItemPending: {domain.ItemRunning: true, domain.ItemCanceled: true},
	domain.ItemRunning: {domain.ItemSucceeded: true, domain.ItemFailed: true, domain.ItemCanceled: true},
}

// IsValidTransition checks if an item status transition is legal.
func IsValidTransition(from, to domain.ItemStatus) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// CancelFlag is a one-way cancellation signal shared by a run.
// A nil *CancelFlag is never set.
type CancelFlag struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewCancelFlag creates an unset flag.
func NewCancelFlag() *CancelFlag {
	return &CancelFlag{done: make(chan struct{})}
}

// Cancel sets the flag. Further calls are no-ops.
func (c *CancelFlag) Cancel() {
	if c == nil {
		return
	}
	c.once.Do(func() {
		c.set.Store(true)
		close(c.done)
	})
}

// IsSet reports whether Cancel has been called.
func (c *CancelFlag) IsSet() bool {
	return c != nil && c.set.Load()
}

// Done returns a channel closed by Cancel. It is nil for a nil flag.
func (c *CancelFlag) Done() <-chan struct{} {
	if c == nil {
		return nil
	}
	return c.done
}

// ItemResult is the reported outcome of one view, at the view's input index.
type ItemResult struct {
	View    domain.ViewSpec         `json:"view"`
	Index   int                     `json:"index"`
	Status  domain.ItemStatus       `json:"status"`
	Outcome domain.Outcome          `json:"outcome,omitempty"`
	Reason  string                  `json:"reason,omitempty"`
	Record  *domain.GeneratedRecord `json:"record,omitempty"`
}

// Report aggregates a finished run.
type Report struct {
	RunID       string                   `json:"run_id"`
	Mode        domain.RunMode           `json:"mode"`
	Items       []ItemResult             `json:"items"`
	Records     []domain.GeneratedRecord `json:"records"`
	Succeeded   int                      `json:"succeeded"`
	Failed      int                      `json:"failed"`
	Canceled    int                      `json:"canceled"`
	ReferenceID string                   `json:"reference_id,omitempty"`
}

// Status summarizes the run from its counters.
func (r *Report) Status() domain.RunStatus {
	switch {
	case r.Succeeded > 0:
		return domain.RunSucceeded
	case r.Canceled > 0:
		return domain.RunCanceled
	default:
		return domain.RunFailed
	}
}

// run is the state owned by one Run call. Each item only writes its own slot.
type run struct {
	id    string
	views []domain.ViewSpec
	items []ItemResult
	flag  *CancelFlag

	// mu serializes sink and observer calls and reference promotion.
	mu        sync.Mutex
	reference *domain.GeneratedRecord
	refID     string
}

func newRun(id string, views []domain.ViewSpec, flag *CancelFlag, ref *domain.GeneratedRecord) *run {
	items := make([]ItemResult, len(views))
	for i, v := range views {
		items[i] = ItemResult{View: v, Index: i, Status: domain.ItemPending}
	}
	r := &run{id: id, views: views, items: items, flag: flag, reference: ref}
	if ref != nil {
		r.refID = ref.ID
	}
	return r
}

func (r *run) transition(i int, to domain.ItemStatus) error {
	from := r.items[i].Status
	if !IsValidTransition(from, to) {
		return domain.NewEngineError(domain.ErrInvalidItemTransition.Code,
			fmt.Sprintf("item %d: %s -> %s", i, from, to))
	}
	r.items[i].Status = to
	return nil
}

func (r *run) report(mode domain.RunMode) *Report {
	rep := &Report{RunID: r.id, Mode: mode, Items: r.items, Records: []domain.GeneratedRecord{}}
	for _, it := range r.items {
		switch it.Status {
		case domain.ItemSucceeded:
			rep.Succeeded++
			rep.Records = append(rep.Records, *it.Record)
		case domain.ItemFailed:
			rep.Failed++
		case domain.ItemCanceled:
			rep.Canceled++
		}
	}
	if r.reference != nil && r.reference.RunID == r.id {
		rep.ReferenceID = r.refID
	}
	return rep
}
