// Package ipc provides the HTTP API for the storyboard engine.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Rogers-F/storyboard-engine/internal/batch"
	"github.com/Rogers-F/storyboard-engine/internal/bridge"
	"github.com/Rogers-F/storyboard-engine/internal/config"
	"github.com/Rogers-F/storyboard-engine/internal/domain"
	"github.com/Rogers-F/storyboard-engine/internal/generate"
	"github.com/Rogers-F/storyboard-engine/internal/guard"
	"github.com/Rogers-F/storyboard-engine/internal/logging"
	"github.com/Rogers-F/storyboard-engine/internal/store"
)

// ClientHeader identifies the caller for rate limiting. The remote host is
// used when it is absent.
const ClientHeader = "X-Client-ID"

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	// Gen is nil when no oracle backend is configured.
	Gen     *generate.Generator
	Manager *batch.Manager
	Bridge  *bridge.Bridge
	Guard   *guard.Guard
	Limits  Limits
	Batch   config.BatchConfig
	Logger  *zap.Logger
	// PollInterval is how often the event stream checks for new events.
	PollInterval time.Duration

	once     sync.Once
	validate *validator.Validate
}

// APIError is a structured error response.
type APIError struct {
	OK     bool                `json:"ok"`
	Code   int                 `json:"code,omitempty"`
	Reason string              `json:"reason"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

// ScenesResponse is the json-output response of POST /api/v1/generate.
type ScenesResponse struct {
	OK       bool                    `json:"ok"`
	Scenes   []domain.StructuredUnit `json:"scenes"`
	Attempts int                     `json:"attempts"`
	Repaired string                  `json:"repaired,omitempty"`
}

// TemplateResponse is the natural-output response of POST /api/v1/generate.
type TemplateResponse struct {
	OK          bool     `json:"ok"`
	Template    string   `json:"template"`
	Compliant   bool     `json:"compliant"`
	Reasons     []string `json:"reasons"`
	Regenerated bool     `json:"regenerated"`
	Attempts    int      `json:"attempts"`
	Label       string   `json:"label,omitempty"`
}

// BatchAccepted is the response for an accepted or canceled batch.
type BatchAccepted struct {
	OK    bool   `json:"ok"`
	RunID string `json:"run_id"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string   `json:"status"`
	Oracle  bool     `json:"oracle"`
	Running []string `json:"running"`
}

func (h *Handler) validator() *validator.Validate {
	h.once.Do(func() { h.validate = newValidator(h.Limits) })
	return h.validate
}

func (h *Handler) logger() *zap.Logger { return logging.OrNop(h.Logger) }

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	running := []string{}
	if h.Manager != nil {
		if ids := h.Manager.Running(); ids != nil {
			running = ids
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Oracle: h.Gen != nil, Running: running})
}

// Generate handles POST /api/v1/generate.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	if err := h.Guard.CheckRateLimit(clientKey(r)); err != nil {
		writeError(w, err)
		return
	}

	var req GenerateRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := RunGenerate(r.Context(), h.Gen, req)
	if err != nil {
		h.logger().Warn("generation failed", zap.String("output", req.Output), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunGenerate runs one validated request through the path its output field
// selects and returns a ScenesResponse or a TemplateResponse.
func RunGenerate(ctx context.Context, gen *generate.Generator, req GenerateRequest) (interface{}, error) {
	if gen == nil {
		return nil, domain.ErrOracleUnconfigured
	}

	b := req.ToBrief()
	if req.Natural() {
		res, err := gen.Template(ctx, generate.TemplatePrompt(b, ""), generate.TemplateSpecFor(b))
		if err != nil {
			return nil, err
		}
		reasons := res.Reasons
		if reasons == nil {
			reasons = []string{}
		}
		return TemplateResponse{
			OK:          true,
			Template:    res.Text,
			Compliant:   res.Compliant,
			Reasons:     reasons,
			Regenerated: res.Regenerated,
			Attempts:    res.Attempts,
			Label:       res.Label,
		}, nil
	}

	res, err := gen.Scenes(ctx, generate.ScenesPrompt(b, ""), b.Count)
	if err != nil {
		return nil, err
	}
	return ScenesResponse{
		OK:       true,
		Scenes:   generate.ApplyModes(res.Units, b.Dialogue, b.SFX),
		Attempts: res.Attempts,
		Repaired: res.Repair,
	}, nil
}

// CreateBatch handles POST /api/v1/batches.
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.Guard.CheckRateLimit(clientKey(r)); err != nil {
		writeError(w, err)
		return
	}

	var req BatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.Gen == nil {
		writeError(w, domain.ErrOracleUnconfigured)
		return
	}

	ref, err := h.Bridge.CurrentReference(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	kind := domain.KindScenes
	if req.Natural() {
		kind = domain.KindTemplate
	}
	mode := domain.RunMode(req.Mode)
	if mode == "" {
		mode = domain.RunMode(h.Batch.DefaultMode)
	}
	delayMS := h.Batch.InterRequestDelayMS
	if req.DelayMS != nil {
		delayMS = *req.DelayMS
	}

	unit := &generate.ViewUnit{Gen: h.Gen, Brief: req.ToBrief(), Kind: kind}
	runID, err := h.Manager.Start(r.Context(), unit, req.ViewSpecs(), batch.Options{
		Mode:      mode,
		Delay:     time.Duration(delayMS) * time.Millisecond,
		Reference: ref,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, BatchAccepted{OK: true, RunID: runID})
}

// GetBatch handles GET /api/v1/batches/{runID}.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	state, err := h.Bridge.Run(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// CancelBatch handles POST /api/v1/batches/{runID}/cancel.
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if err := h.Manager.Cancel(runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, BatchAccepted{OK: true, RunID: runID})
}

// ListEvents handles GET /api/v1/batches/{runID}/events?since_seq=N.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	if _, err := h.Bridge.Run(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}

	events, err := h.Bridge.Events(r.Context(), runID, sinceSeq(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.BatchEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListRecords handles GET /api/v1/batches/{runID}/records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Bridge.Records(r.Context(), r.PathValue("runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.GeneratedRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// GetReference handles GET /api/v1/records/reference.
func (h *Handler) GetReference(w http.ResponseWriter, r *http.Request) {
	ref, err := h.Bridge.CurrentReference(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ref == nil {
		writeError(w, domain.ErrRecordNotFound)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

// StreamEvents handles GET /api/v1/batches/{runID}/events/stream (SSE).
// The stream ends after the run_finished event.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Reason: "streaming not supported"})
		return
	}
	if _, err := h.Bridge.Run(r.Context(), runID); err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx := r.Context()
	lastSeq := sinceSeq(r)
	flush := func() (done bool, err error) {
		events, err := h.Bridge.Events(ctx, runID, lastSeq)
		if err != nil {
			return false, err
		}
		for _, ev := range events {
			writeSSEEvent(w, flusher, ev)
			lastSeq = ev.SeqNo
			if ev.EventType == bridge.EventRunFinished {
				return true, nil
			}
		}
		return false, nil
	}

	if done, err := flush(); err != nil {
		writeSSEError(w, flusher, err)
		return
	} else if done {
		return
	}

	interval := h.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			done, err := flush()
			if err != nil {
				writeSSEError(w, flusher, err)
				return
			}
			if done {
				return
			}
		}
	}
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{
			Code:   domain.ErrValidationInput.Code,
			Reason: "invalid request body",
		})
		return false
	}
	if err := h.validator().Struct(dst); err != nil {
		writeError(w, inputError(err))
		return false
	}
	return true
}

// Audit listing bounds.
const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// ListAudit handles GET /api/v1/audit with optional run_id, category,
// severity and limit query parameters.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.AuditFilter{
		RunID:    q.Get("run_id"),
		Category: q.Get("category"),
		Severity: q.Get("severity"),
		Limit:    defaultAuditLimit,
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxAuditLimit {
			writeError(w, &domain.InputError{Fields: []domain.FieldError{{
				Field:   "limit",
				Message: fmt.Sprintf("must be between 1 and %d", maxAuditLimit),
			}}})
			return
		}
		f.Limit = n
	}

	records, err := h.Bridge.Audit(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func sinceSeq(r *http.Request) int64 {
	if s := r.URL.Query().Get("since_seq"); s != "" {
		if parsed, err := strconv.ParseInt(s, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return 0
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get(ClientHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidationInput),
		errors.Is(err, domain.ErrBatchEmpty),
		errors.Is(err, domain.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBatchNotFound),
		errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateRun),
		errors.Is(err, domain.ErrReferenceRequired):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrTransport),
		errors.Is(err, domain.ErrEnvelopeParse),
		errors.Is(err, domain.ErrBatchFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrManagerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	resp := APIError{Code: domain.CodeOf(err), Reason: err.Error()}

	var engErr *domain.EngineError
	var inErr *domain.InputError
	switch {
	case errors.As(err, &inErr):
		resp.Reason = domain.ErrValidationInput.Message
		resp.Fields = inErr.Fields
	case errors.As(err, &engErr):
		resp.Reason = engErr.Message
	}
	writeJSON(w, statusFor(err), resp)
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, ev domain.BatchEvent) {
	data, _ := json.Marshal(ev)
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.SeqNo, data)
	f.Flush()
}

func writeSSEError(w http.ResponseWriter, f http.Flusher, err error) {
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
	f.Flush()
}
