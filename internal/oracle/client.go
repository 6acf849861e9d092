// Package oracle sends generation requests to an external text backend and
// classifies its failures.
package oracle

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
	"github.com/Rogers-F/storyboard-engine/internal/metrics"
)

// Client performs one generation request. A failed call returns a
// *domain.OracleError, which matches domain.ErrTransport.
type Client interface {
	Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error)
}

// Func adapts a function to the Client interface.
type Func func(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error)

// Call implements Client.
func (f Func) Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error) {
	return f(ctx, req)
}

// Succeed returns an OK response for text, or an empty-body failure when
// text is blank.
func Succeed(text string) (domain.OracleResponse, error) {
	if strings.TrimSpace(text) == "" {
		return Fail(domain.CauseEmptyBody, 0, "", nil)
	}
	return domain.OracleResponse{Text: text, OK: true}, nil
}

// Fail builds a classified failure.
func Fail(cause domain.FailureCause, status int, body string, err error) (domain.OracleResponse, error) {
	oe := &domain.OracleError{Cause: cause, Status: status, Body: body, Err: err}
	return oe.Response(), oe
}

// asOracleError makes sure any error leaving a decorator is classified.
func asOracleError(err error) error {
	var oe *domain.OracleError
	if errors.As(err, &oe) {
		return err
	}
	return &domain.OracleError{Cause: domain.CauseTransport, Err: err}
}

type timeoutClient struct {
	next    Client
	timeout time.Duration
}

// WithTimeout bounds every call to next by d. A zero d disables the bound.
func WithTimeout(next Client, d time.Duration) Client {
	if d <= 0 {
		return next
	}
	return &timeoutClient{next: next, timeout: d}
}

func (c *timeoutClient) Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.next.Call(ctx, req)
	if err != nil {
		return resp, asOracleError(err)
	}
	return resp, nil
}

type instrumented struct {
	next    Client
	backend string
	logger  *zap.Logger
}

// Instrument records call counts and latency for backend and logs failures.
func Instrument(next Client, backend string, logger *zap.Logger) Client {
	return &instrumented{next: next, backend: backend, logger: logging.OrNop(logger)}
}

func (c *instrumented) Call(ctx context.Context, req domain.GenerationRequest) (domain.OracleResponse, error) {
	start := time.Now()
	resp, err := c.next.Call(ctx, req)
	elapsed := time.Since(start)
	metrics.OracleDuration.WithLabelValues(c.backend).Observe(elapsed.Seconds())

	if err != nil {
		err = asOracleError(err)
		var oe *domain.OracleError
		errors.As(err, &oe)
		metrics.OracleCalls.WithLabelValues(c.backend, string(oe.Cause)).Inc()
		c.logger.Warn("oracle call failed",
			zap.String("backend", c.backend),
			zap.String("cause", string(oe.Cause)),
			zap.Int("status", oe.Status),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return oe.Response(), err
	}

	metrics.OracleCalls.WithLabelValues(c.backend, "ok").Inc()
	c.logger.Debug("oracle call",
		zap.String("backend", c.backend),
		zap.String("shape", string(req.Shape.Kind)),
		zap.Int("messages", len(req.Messages)),
		zap.Duration("elapsed", elapsed),
	)
	return resp, nil
}
