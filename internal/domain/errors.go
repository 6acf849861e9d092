package domain

import (
	"errors"
	"fmt"
)

// EngineError is the unified error type for the engine.
// Each error has a numeric code and human-readable message.
type EngineError struct {
	Code    int
	Message string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

// Is reports whether target is an EngineError with the same code, so a
// re-messaged copy still matches its sentinel.
func (e *EngineError) Is(target error) bool {
	var t *EngineError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewEngineError creates a new EngineError.
func NewEngineError(code int, msg string) *EngineError {
	return &EngineError{Code: code, Message: msg}
}

// WrapEngineError creates an EngineError that includes a cause.
func WrapEngineError(code int, msg string, cause error) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause)}
}

// CodeOf returns the EngineError code carried by err, or 0.
func CodeOf(err error) int {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	var o *OracleError
	if errors.As(err, &o) {
		return ErrTransport.Code
	}
	var in *InputError
	if errors.As(err, &in) {
		return ErrValidationInput.Code
	}
	return 0
}

// ---- Batch / item state errors (-32010 to -32039) ----

var (
	ErrInvalidItemTransition = &EngineError{Code: -32010, Message: "invalid batch item transition"}
	ErrReferenceRequired     = &EngineError{Code: -32011, Message: "first view requires a reference record and none exists"}
	ErrBatchFailed           = &EngineError{Code: -32012, Message: "batch produced no successful items"}
	ErrBatchNotFound         = &EngineError{Code: -32013, Message: "batch run not found"}
	ErrBatchEmpty            = &EngineError{Code: -32014, Message: "batch has no views"}
	ErrBatchTooLarge         = &EngineError{Code: -32015, Message: "batch exceeds the maximum number of views"}
	ErrOptimisticLock        = &EngineError{Code: -32016, Message: "optimistic lock conflict: state was modified concurrently"}
	ErrEmptyPayload          = &EngineError{Code: -32017, Message: "generated record has an empty payload"}
	ErrDuplicateRun          = &EngineError{Code: -32018, Message: "batch run already exists"}
	ErrManagerStopped        = &EngineError{Code: -32019, Message: "batch manager is shutting down"}
)

// ---- Oracle errors (-32070 to -32099) ----

var (
	ErrTransport          = &EngineError{Code: -32070, Message: "oracle transport failure"}
	ErrEnvelopeParse      = &EngineError{Code: -32071, Message: "oracle response does not match the requested shape"}
	ErrOracleUnconfigured = &EngineError{Code: -32072, Message: "oracle backend is not configured"}
	ErrUnknownBackend     = &EngineError{Code: -32073, Message: "unknown oracle backend"}
)

// ---- Guard errors (-32100 to -32129) ----

var (
	ErrRateLimitExceeded = &EngineError{Code: -32103, Message: "rate limit exceeded"}
)

// ---- Store / Input / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit       = &EngineError{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery      = &EngineError{Code: -32131, Message: "store query failed"}
	ErrStoreWrite      = &EngineError{Code: -32132, Message: "store write failed"}
	ErrRecordNotFound  = &EngineError{Code: -32134, Message: "record not found"}
	ErrConfigInvalid   = &EngineError{Code: -32136, Message: "invalid configuration"}
	ErrDuplicateEvent  = &EngineError{Code: -32137, Message: "duplicate event sequence number"}
	ErrValidationInput = &EngineError{Code: -32140, Message: "request violates the input contract"}
)

// OracleError is a classified failure of a single oracle call.
// It matches ErrTransport under errors.Is.
type OracleError struct {
	Cause  FailureCause
	Status int
	Body   string
	Err    error
}

// Error implements the error interface.
func (e *OracleError) Error() string {
	msg := fmt.Sprintf("oracle %s", e.Cause)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	} else if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, truncate(e.Body, 200))
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *OracleError) Unwrap() error { return e.Err }

// Is makes every OracleError a TransportError.
func (e *OracleError) Is(target error) bool {
	return target == ErrTransport
}

// Response renders the failure as an OracleResponse.
func (e *OracleError) Response() OracleResponse {
	return OracleResponse{OK: false, Cause: e.Cause, Status: e.Status, Body: e.Body}
}

// FieldError is one field-level inbound contract violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// InputError is a ValidationInputError carrying per-field messages.
type InputError struct {
	Fields []FieldError
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidationInput.Message
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidationInput.Message, e.Fields[0].Field, e.Fields[0].Message)
}

// Is makes every InputError a ValidationInputError.
func (e *InputError) Is(target error) bool {
	return target == ErrValidationInput
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
