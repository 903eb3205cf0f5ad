package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/salonflow/billingkit/pkg/lifecycle"
	"github.com/salonflow/billingkit/pkg/webhook"
)

// Handler provides HTTP endpoints for operational inspection and
// intervention. Handlers are plain net/http; Routes wires them on a chi
// router for convenience.
type Handler struct {
	config Config
}

// Routes returns a chi router with all ops endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/webhooks/dead-letter", h.ListDeadLetter)
	r.Post("/webhooks/dead-letter/{id}/retry", h.RetryEvent)
	r.Post("/webhooks/dead-letter/{id}/dismiss", h.DismissEvent)
	r.Get("/webhooks/stats", h.GetStats)
	r.Get("/tenants/{tenantID}/usage", h.GetUsage)
	r.Get("/tenants/{tenantID}/block-status", h.GetBlockStatus)
	return r
}

// ListDeadLetter returns dead-lettered events, optionally filtered by
// provider, event_type and tenant_id query parameters.
func (h *Handler) ListDeadLetter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := webhook.DLQFilter{
		Provider:  q.Get("provider"),
		EventType: q.Get("event_type"),
		TenantID:  q.Get("tenant_id"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}

	events, err := h.config.DLQ.List(r.Context(), filter)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := DLQListResponse{Events: make([]EventSummary, 0, len(events)), Count: len(events)}
	for _, ev := range events {
		resp.Events = append(resp.Events, summarize(ev))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// RetryEvent puts a dead-lettered event back on the retry queue.
func (h *Handler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	if id == "" {
		h.handleError(w, r, errors.New("event id is required"), http.StatusBadRequest)
		return
	}

	ev, err := h.config.DLQ.Retry(r.Context(), id)
	if err != nil {
		h.handleError(w, r, err, dlqErrorStatus(err))
		return
	}
	h.writeJSON(w, http.StatusOK, RetryResponse{Event: summarize(ev)})
}

// DismissEvent permanently discards a dead-lettered event.
func (h *Handler) DismissEvent(w http.ResponseWriter, r *http.Request) {
	id := eventID(r)
	if id == "" {
		h.handleError(w, r, errors.New("event id is required"), http.StatusBadRequest)
		return
	}

	var req DismissRequest
	if r.Body != nil {
		// A missing or empty body is allowed; reason defaults to empty.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.config.DLQ.Dismiss(r.Context(), id, req.Reason); err != nil {
		h.handleError(w, r, err, dlqErrorStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetStats returns per-provider delivery statistics over a rolling window
// (query parameter "window", Go duration syntax, default 24h).
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	window := webhook.DefaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			h.handleError(w, r, err, http.StatusBadRequest)
			return
		}
		window = parsed
	}

	stats, err := h.config.DLQ.Stats(r.Context(), window)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{WindowHours: window.Hours()}
	for _, ps := range stats {
		counts := make(map[string]int, len(ps.Counts))
		for status, n := range ps.Counts {
			counts[string(status)] = n
		}
		resp.Providers = append(resp.Providers, ProviderStatsResponse{
			Provider:        ps.Provider,
			Counts:          counts,
			AvgProcessingMs: ps.AvgProcessingMs,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetUsage returns the tenant's usage snapshot: counts, limits and current
// violations.
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDParam(r)
	if tenantID == "" {
		h.handleError(w, r, errors.New("tenant id is required"), http.StatusBadRequest)
		return
	}

	snap, err := h.config.Meter.Snapshot(r.Context(), tenantID)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, UsageResponse{
		TenantID:   snap.TenantID,
		Usage:      snap.Usage,
		Limits:     snap.Limits,
		Violations: snap.Violations,
	})
}

// GetBlockStatus returns whether the tenant's requests are currently blocked.
func (h *Handler) GetBlockStatus(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantIDParam(r)
	if tenantID == "" {
		h.handleError(w, r, errors.New("tenant id is required"), http.StatusBadRequest)
		return
	}

	blocked, err := h.config.Machine.BlockStatus(r.Context(), tenantID)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}

	resp := BlockStatusResponse{TenantID: tenantID, Blocked: blocked}
	if sub, err := h.config.Machine.Current(r.Context(), tenantID); err == nil {
		resp.Status = sub.Status
	} else if !errors.Is(err, lifecycle.ErrSubscriptionNotFound) {
		h.handleError(w, r, err, http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// eventID reads the event id from the chi URL param, falling back to the
// "id" query parameter for callers wiring the handlers on another router.
func eventID(r *http.Request) string {
	if id := chi.URLParam(r, "id"); id != "" {
		return id
	}
	return r.URL.Query().Get("id")
}

func tenantIDParam(r *http.Request) string {
	if id := chi.URLParam(r, "tenantID"); id != "" {
		return id
	}
	return r.URL.Query().Get("tenant_id")
}

func dlqErrorStatus(err error) int {
	switch {
	case errors.Is(err, webhook.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, webhook.ErrNotDeadLettered):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, code int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err, code)
		return
	}
	h.writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}
