// Package oracletest provides scripted oracle clients for tests.
package oracletest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
)

// Step is one scripted reply: Text on success, or a failure with Cause.
type Step struct {
	Text  string
	Cause domain.FailureCause
}

// Text scripts a successful reply.
func Text(s string) Step { return Step{Text: s} }

// Fail scripts a classified failure.
func Fail(cause domain.FailureCause) Step { return Step{Cause: cause} }

// Scripted replays its steps in order and repeats the last one when exhausted.
// It records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	requests []domain.GenerationRequest
}

// New creates a scripted oracle.
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Call implements oracle.Client.
func (s *Scripted) Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error) {
	s.mu.Lock()
	idx := len(s.requests)
	req.Messages = append([]domain.Message(nil), req.Messages...)
	s.requests = append(s.requests, req)
	var step Step
	switch {
	case len(s.steps) == 0:
		step = Fail(domain.CauseEmptyBody)
	case idx < len(s.steps):
		step = s.steps[idx]
	default:
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		oe := &domain.OracleError{Cause: domain.CauseTransport, Err: err}
		return oe.Response(), oe
	}
	if step.Cause != domain.CauseNone {
		oe := &domain.OracleError{Cause: step.Cause, Status: statusFor(step.Cause)}
		return oe.Response(), oe
	}
	return domain.OracleResponse{Text: step.Text, OK: true}, nil
}

// Calls returns how many requests were received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every received request.
func (s *Scripted) Requests() []domain.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.GenerationRequest(nil), s.requests...)
}

func statusFor(cause domain.FailureCause) int {
	if cause == domain.CauseNon2xx {
		return 503
	}
	return 0
}

// Scenes renders an envelope holding n distinct scenes.
func Scenes(n int) string {
	units := make([]domain.StructuredUnit, n)
	for i := range units {
		units[i] = domain.StructuredUnit{
			Visual:     fmt.Sprintf("scene %d visual", i+1),
			Dialogue:   fmt.Sprintf("line %d", i+1),
			SFX:        []string{fmt.Sprintf("sfx-%d", i+1)},
			Transition: "cut",
		}
	}
	b, _ := json.Marshal(map[string]any{"scenes": units})
	return string(b)
}
