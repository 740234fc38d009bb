package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/jurisdiction"
	"github.com/opensource-finance/kestrel/internal/rating"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// maxWait bounds the wait query parameter of recalculation submits.
const maxWait = 10 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	rating  *rating.Orchestrator
	worker  *worker.Worker
	repo    pinger
	cache   *cache.Strategy
	bus     pinger
	version string
}

// NewHandler creates a new API handler. worker, repo and bus may be nil.
func NewHandler(orch *rating.Orchestrator, w *worker.Worker, repo domain.Repository, c *cache.Strategy, bus domain.EventBus, version string) *Handler {
	h := &Handler{
		rating:  orch,
		worker:  w,
		cache:   c,
		version: version,
	}
	if repo != nil {
		h.repo = repo
	}
	if bus != nil {
		h.bus = bus
	}
	return h
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error       string            `json:"error"`
	Kind        domain.ErrorKind  `json:"kind,omitempty"`
	Remediation string            `json:"remediation,omitempty"`
	Violations  domain.Violations `json:"violations,omitempty"`
}

// CalculatePremium handles POST /v1/premiums.
func (h *Handler) CalculatePremium(w http.ResponseWriter, r *http.Request) {
	var req domain.RatingRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.rating.CalculatePremium(r.Context(), &req)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Performance handles GET /v1/performance.
func (h *Handler) Performance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rating.PerformanceMetrics())
}

// WarmRequest is the body of POST /v1/cache/warm. An empty list warms every
// supported jurisdiction.
type WarmRequest struct {
	Jurisdictions []string `json:"jurisdictions"`
}

// WarmResponse reports a warming run.
type WarmResponse struct {
	Reports []domain.WarmReport `json:"reports"`
	Errors  []string            `json:"errors,omitempty"`
}

// WarmCaches handles POST /v1/cache/warm.
func (h *Handler) WarmCaches(w http.ResponseWriter, r *http.Request) {
	var req WarmRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}

	reports, err := h.rating.WarmCaches(r.Context(), req.Jurisdictions)
	resp := WarmResponse{Reports: reports}
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{err.Error()}
		}
	}
	if resp.Reports == nil {
		resp.Reports = []domain.WarmReport{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// PublishRate handles PUT /v1/rates.
func (h *Handler) PublishRate(w http.ResponseWriter, r *http.Request) {
	var rate domain.RateTable
	if !decode(w, r, &rate) {
		return
	}
	if err := h.rating.Rates().Publish(r.Context(), &rate); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rate)
}

// PublishMinimumPremium handles PUT /v1/minimum-premiums.
func (h *Handler) PublishMinimumPremium(w http.ResponseWriter, r *http.Request) {
	var mp domain.MinimumPremium
	if !decode(w, r, &mp) {
		return
	}
	if err := h.rating.Rates().PublishMinimumPremium(r.Context(), &mp); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mp)
}

// ListTerritories handles GET /v1/territories/{jurisdiction}.
func (h *Handler) ListTerritories(w http.ResponseWriter, r *http.Request) {
	j := jurisdiction.Normalize(chi.URLParam(r, "jurisdiction"))
	defs, err := h.rating.Territories().List(r.Context(), j)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if defs == nil {
		defs = []*domain.TerritoryDefinition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jurisdiction": j,
		"territories":  defs,
		"count":        len(defs),
	})
}

// GetTerritory handles GET /v1/territories/{jurisdiction}/{id}.
func (h *Handler) GetTerritory(w http.ResponseWriter, r *http.Request) {
	j := jurisdiction.Normalize(chi.URLParam(r, "jurisdiction"))
	def, err := h.rating.Territories().Get(r.Context(), j, chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// PutTerritory handles PUT /v1/territories/{jurisdiction}/{id}. The path
// decides the jurisdiction and id.
func (h *Handler) PutTerritory(w http.ResponseWriter, r *http.Request) {
	var def domain.TerritoryDefinition
	if !decode(w, r, &def) {
		return
	}
	def.Jurisdiction = jurisdiction.Normalize(chi.URLParam(r, "jurisdiction"))
	def.ID = chi.URLParam(r, "id")

	if err := h.rating.Territories().Upsert(r.Context(), &def); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// DeleteTerritory handles DELETE /v1/territories/{jurisdiction}/{id}.
func (h *Handler) DeleteTerritory(w http.ResponseWriter, r *http.Request) {
	j := jurisdiction.Normalize(chi.URLParam(r, "jurisdiction"))
	if err := h.rating.Territories().Delete(r.Context(), j, chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TaskResponse describes a recalculation task.
type TaskResponse struct {
	TaskID       string               `json:"taskId"`
	Jurisdiction string               `json:"jurisdiction"`
	Status       worker.TaskStatus    `json:"status"`
	SubmittedAt  time.Time            `json:"submittedAt"`
	Result       *domain.RatingResult `json:"result,omitempty"`
	Error        *ErrorResponse       `json:"error,omitempty"`
}

// SubmitRecalculation handles POST /v1/recalculations. With ?wait=<duration>
// it holds the response until the task finishes or the wait elapses.
func (h *Handler) SubmitRecalculation(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeError(w, http.StatusServiceUnavailable, "recalculation worker not available")
		return
	}

	var wait time.Duration
	if v := r.URL.Query().Get("wait"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "wait must be a positive duration")
			return
		}
		wait = min(d, maxWait)
	}

	var req domain.RatingRequest
	if !decode(w, r, &req) {
		return
	}

	task, err := h.worker.Submit(r.Context(), &req)
	if err != nil {
		writeFailure(w, err)
		return
	}

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-task.Done():
		case <-timer.C:
		case <-r.Context().Done():
		}
	}

	status := http.StatusAccepted
	if task.Status() != worker.TaskPending {
		status = http.StatusOK
	}
	writeJSON(w, status, taskResponse(task))
}

// GetRecalculation handles GET /v1/recalculations/{id}.
func (h *Handler) GetRecalculation(w http.ResponseWriter, r *http.Request) {
	if h.worker == nil {
		writeError(w, http.StatusServiceUnavailable, "recalculation worker not available")
		return
	}
	task, ok := h.worker.Task(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "recalculation not found")
		return
	}
	writeJSON(w, http.StatusOK, taskResponse(task))
}

func taskResponse(t *worker.Task) TaskResponse {
	resp := TaskResponse{
		TaskID:       t.ID,
		Jurisdiction: t.Jurisdiction,
		Status:       t.Status(),
		SubmittedAt:  t.SubmittedAt,
	}
	result, err := t.Result()
	resp.Result = result
	if err != nil {
		e := errorResponse(err)
		resp.Error = &e
	}
	return resp
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	for _, err := range h.ping(r.Context()) {
		if err != nil {
			status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports 503 until every dependency answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true
	for name, err := range h.ping(r.Context()) {
		checks[name] = "ok"
		if err != nil {
			checks[name] = err.Error()
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func (h *Handler) ping(ctx context.Context) map[string]error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	out := map[string]error{}
	if h.repo != nil {
		out["repository"] = h.repo.Ping(ctx)
	}
	if h.cache != nil {
		out["cache"] = h.cache.Ping(ctx)
	}
	if h.bus != nil {
		out["event_bus"] = h.bus.Ping(ctx)
	}
	return out
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

// statusFor maps a failure to an HTTP status.
func statusFor(err error) int {
	var re *domain.RatingError
	if errors.As(err, &re) {
		switch re.Kind {
		case domain.KindValidationFailed:
			return http.StatusBadRequest
		case domain.KindConfigurationMissing, domain.KindRegulatoryViolation:
			return http.StatusUnprocessableEntity
		case domain.KindDependencyUnavailable:
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func errorResponse(err error) ErrorResponse {
	var re *domain.RatingError
	if errors.As(err, &re) {
		return ErrorResponse{
			Error:       re.Message,
			Kind:        re.Kind,
			Remediation: re.Remediation,
			Violations:  re.Violations,
		}
	}
	return ErrorResponse{Error: err.Error()}
}

func writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse(err))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
