// Package quotaapi exposes the quota tracker's HTTP surface: increment,
// check, limit configuration, per-tenant and all-tenant snapshots, and
// manual reset.
package quotaapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/quotatracker"
	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
)

// API wires the /api/quota surface around a quotatracker.Tracker.
type API struct {
	tracker *quotatracker.Tracker
}

// New builds an API backed by tracker.
func New(tracker *quotatracker.Tracker) *API {
	return &API{tracker: tracker}
}

// Router mounts the quota HTTP surface.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Post("/api/quota/increment", a.handleIncrement)
	r.Post("/api/quota/check", a.handleCheck)
	r.Post("/api/quota/limits", a.handleSetLimits)
	r.Get("/api/quota", a.handleListAll)
	r.Get("/api/quota/{tenant_id}", a.handleGet)
	r.Post("/api/quota/{tenant_id}/reset", a.handleReset)
	return r
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func metricsResponse(m quotatracker.Metrics) map[string]any {
	return map[string]any{
		"tenant_id":             m.TenantID,
		"message_count":         m.MessageCount,
		"bytes_sent":            m.BytesSent,
		"message_limit":         m.MessageLimit,
		"bandwidth_limit_bytes": m.BandwidthLimitBytes,
		"last_reset":            m.LastReset,
		"period":                m.Period,
	}
}

type incrementRequest struct {
	TenantID string `json:"tenant_id"`
	Messages int64  `json:"messages"`
	Bytes    int64  `json:"bytes"`
}

func (a *API) handleIncrement(w http.ResponseWriter, r *http.Request) {
	var req incrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := abac.ValidateTenantID(req.TenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_TENANT_ID", err.Error())
		return
	}
	if err := a.tracker.Increment(r.Context(), req.TenantID, req.Messages, req.Bytes); err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse(a.tracker.Metrics(req.TenantID)))
}

type checkRequest struct {
	TenantID string `json:"tenant_id"`
}

func (a *API) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	err := a.tracker.Check(r.Context(), req.TenantID)
	if err == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	var exceeded *quotatracker.LimitExceeded
	if errors.As(err, &exceeded) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "limit_exceeded",
			"type":    exceeded.Type,
			"limit":   exceeded.Limit,
			"current": exceeded.Current,
		})
		return
	}
	writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

type setLimitsRequest struct {
	TenantID         string  `json:"tenant_id"`
	MessageLimit     int64   `json:"message_limit"`
	BandwidthLimitGB float64 `json:"bandwidth_limit_gb"`
}

func (a *API) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	var req setLimitsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := a.tracker.SetLimits(r.Context(), req.TenantID, req.MessageLimit, req.BandwidthLimitGB); err != nil {
		if errors.Is(err, quotatracker.ErrInvalidLimit) {
			writeErr(w, http.StatusBadRequest, "INVALID_LIMIT", err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse(a.tracker.Metrics(req.TenantID)))
}

func (a *API) handleListAll(w http.ResponseWriter, r *http.Request) {
	ids := a.tracker.ListTenants()
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		out = append(out, metricsResponse(a.tracker.Metrics(id)))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	writeJSON(w, http.StatusOK, metricsResponse(a.tracker.Metrics(tenantID)))
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenant_id")
	if err := a.tracker.Reset(r.Context(), tenantID); err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metricsResponse(a.tracker.Metrics(tenantID)))
}
