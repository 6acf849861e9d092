package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEngineError_IsMatchesByCode(t *testing.T) {
	remessaged := NewEngineError(ErrBatchNotFound.Code, "batch run abc not found")
	if !errors.Is(remessaged, ErrBatchNotFound) {
		t.Fatal("expected re-messaged error to match its sentinel")
	}
	if errors.Is(remessaged, ErrRecordNotFound) {
		t.Fatal("different codes must not match")
	}

	wrapped := fmt.Errorf("load run: %w", WrapEngineError(ErrStoreQuery.Code, "get run", errors.New("disk")))
	if !errors.Is(wrapped, ErrStoreQuery) {
		t.Fatal("expected wrapped error to match ErrStoreQuery")
	}
	if !strings.Contains(wrapped.Error(), "disk") {
		t.Errorf("cause missing from message: %q", wrapped.Error())
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"engine", ErrBatchFailed, ErrBatchFailed.Code},
		{"wrapped engine", fmt.Errorf("x: %w", ErrDuplicateRun), ErrDuplicateRun.Code},
		{"oracle", &OracleError{Cause: CauseNon2xx, Status: 503}, ErrTransport.Code},
		{"input", &InputError{}, ErrValidationInput.Code},
		{"plain", errors.New("boom"), 0},
		{"nil", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestOracleError(t *testing.T) {
	err := &OracleError{Cause: CauseNon2xx, Status: 429, Body: strings.Repeat("x", 300)}
	if !errors.Is(err, ErrTransport) {
		t.Fatal("OracleError must match ErrTransport")
	}
	if errors.Is(err, ErrEnvelopeParse) {
		t.Fatal("OracleError must not match ErrEnvelopeParse")
	}
	msg := err.Error()
	if !strings.Contains(msg, "status 429") || !strings.HasSuffix(msg, "...") {
		t.Errorf("unexpected message %q", msg)
	}

	resp := err.Response()
	if resp.OK || resp.Cause != CauseNon2xx || resp.Status != 429 {
		t.Errorf("unexpected response %+v", resp)
	}

	cause := errors.New("connection refused")
	transport := &OracleError{Cause: CauseTransport, Err: cause}
	if !errors.Is(transport, cause) {
		t.Error("Unwrap should expose the underlying cause")
	}
}

func TestInputError(t *testing.T) {
	err := &InputError{Fields: []FieldError{
		{Field: "scene_count", Message: "must be at least 1"},
		{Field: "dialogue", Message: "must be one of: auto none"},
	}}
	if !errors.Is(err, ErrValidationInput) {
		t.Fatal("InputError must match ErrValidationInput")
	}
	if !strings.Contains(err.Error(), "scene_count") {
		t.Errorf("message should name the first field: %q", err.Error())
	}
	if (&InputError{}).Error() != ErrValidationInput.Message {
		t.Error("empty InputError should use the sentinel message")
	}
}
