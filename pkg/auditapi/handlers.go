// Package auditapi exposes the audit store's HTTP surface: record
// ingestion, filtered query, the unuploaded-batch view the deferred
// uploader's clients can poll, and manual mark-uploaded.
package auditapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
)

func newLogID() string { return uuid.New().String() }

// API wires the /api/audit surface around a durable Store and signing
// Pipeline.
type API struct {
	store    *auditlog.Store
	pipeline *auditlog.Pipeline
}

// New builds an API. store serves queries; pipeline signs and persists
// newly submitted records.
func New(store *auditlog.Store, pipeline *auditlog.Pipeline) *API {
	return &API{store: store, pipeline: pipeline}
}

// Router mounts the /api/audit surface.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Post("/api/audit/logs", a.handleCreate)
	r.Get("/api/audit/logs", a.handleQuery)
	r.Get("/api/audit/logs/unuploaded", a.handleUnuploaded)
	r.Post("/api/audit/logs/mark-uploaded", a.handleMarkUploaded)
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

type createRequest struct {
	LogID         string           `json:"log_id,omitempty"`
	TenantID      string           `json:"tenant_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Decision      bool             `json:"decision"`
	Protocol      string           `json:"protocol"`
	Subject       abac.Subject     `json:"subject"`
	Action        string           `json:"action"`
	Resource      abac.Resource    `json:"resource"`
	Environment   abac.Environment `json:"environment"`
	PolicyVersion string           `json:"policy_version,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := abac.ValidateTenantID(req.TenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_TENANT_ID", err.Error())
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now().UTC()
	}
	rec := auditlog.Record{
		LogID:         req.LogID,
		TenantID:      req.TenantID,
		Timestamp:     req.Timestamp,
		Decision:      req.Decision,
		Protocol:      req.Protocol,
		Subject:       req.Subject,
		Action:        req.Action,
		Resource:      req.Resource,
		Environment:   req.Environment,
		PolicyVersion: req.PolicyVersion,
		Reason:        req.Reason,
	}
	if rec.LogID == "" {
		rec.LogID = newLogID()
	}
	if err := a.pipeline.Dispatch(r.Context(), rec); err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"log_id": rec.LogID})
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if err := abac.ValidateTenantID(tenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_TENANT_ID", err.Error())
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	recs, err := a.store.Query(r.Context(), tenantID, filter)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseFilter(r *http.Request) (auditlog.QueryFilter, error) {
	q := r.URL.Query()
	var filter auditlog.QueryFilter

	if s := q.Get("start_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, err
		}
		filter.StartTime = &t
	}
	if s := q.Get("end_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, err
		}
		filter.EndTime = &t
	}
	if s := q.Get("decision"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return filter, err
		}
		filter.Decision = &b
	}
	filter.Protocol = q.Get("protocol")
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return filter, err
		}
		filter.Limit = n
	}
	return filter, nil
}

func (a *API) handleUnuploaded(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if err := abac.ValidateTenantID(tenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_TENANT_ID", err.Error())
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
		limit = n
	}
	recs, err := a.store.Unuploaded(r.Context(), tenantID, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

type markUploadedRequest struct {
	TenantID string   `json:"tenant_id"`
	LogIDs   []string `json:"log_ids"`
}

func (a *API) handleMarkUploaded(w http.ResponseWriter, r *http.Request) {
	var req markUploadedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := abac.ValidateTenantID(req.TenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_TENANT_ID", err.Error())
		return
	}
	if err := a.store.MarkUploaded(r.Context(), req.TenantID, req.LogIDs); err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
