// Package bundleapi exposes the bundle store's HTTP surface (create,
// list, fetch, activate, archive) and performs the filesystem publication
// that activation triggers: writing the active version's rule source to
// the directory tree watched by bundlewatcher.
package bundleapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/bundlestore"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
)

const ruleExtension = ".rego"

// API wires the bundle store's HTTP endpoints.
type API struct {
	store       *bundlestore.Store
	bundlesRoot string
	log         *logging.Logger
}

// New builds an API backed by store, publishing activated bundles under
// bundlesRoot (the same directory tree bundlewatcher watches).
func New(store *bundlestore.Store, bundlesRoot string) *API {
	return &API{store: store, bundlesRoot: bundlesRoot, log: logging.New("bundleapi")}
}

// Router mounts the /api/bundles surface.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Post("/api/bundles", a.handleCreate)
	r.Get("/api/bundles", a.handleList)
	r.Get("/api/bundles/{id}", a.handleGet)
	r.Post("/api/bundles/{id}/activate", a.handleActivate)
	r.Post("/api/bundles/{id}/archive", a.handleArchive)
	return r
}

type createRequest struct {
	TenantID   string `json:"tenant_id"`
	RuleSource string `json:"rule_source"`
	Metadata   string `json:"metadata,omitempty"`
	Status     string `json:"status,omitempty"`
}

type recordResponse struct {
	BundleID    string  `json:"bundle_id"`
	TenantID    string  `json:"tenant_id"`
	Version     int64   `json:"version"`
	RuleSource  string  `json:"rule_source"`
	Metadata    string  `json:"metadata,omitempty"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	ActivatedAt *string `json:"activated_at,omitempty"`
}

func toResponse(r *bundlestore.Record) recordResponse {
	out := recordResponse{
		BundleID:   r.BundleID,
		TenantID:   r.TenantID,
		Version:    r.Version,
		RuleSource: r.RuleSource,
		Metadata:   r.Metadata,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if r.ActivatedAt != nil {
		s := r.ActivatedAt.Format("2006-01-02T15:04:05Z07:00")
		out.ActivatedAt = &s
	}
	return out
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
	if req.RuleSource == "" {
		writeErr(w, http.StatusBadRequest, "MISSING_RULE_SOURCE", "rule_source is required")
		return
	}
	status := bundlestore.StatusDraft
	if req.Status != "" {
		status = bundlestore.Status(req.Status)
	}
	rec, err := a.store.Store(r.Context(), req.TenantID, req.RuleSource, req.Metadata, status)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(rec))
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if err := abac.ValidateTenantID(tenantID); err != nil {
		writeErr(w, http.StatusBadRequest, "INVALID_TENANT_ID", err.Error())
		return
	}
	recs, err := a.store.ListByTenant(r.Context(), tenantID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		a.writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.Activate(r.Context(), id); err != nil {
		a.writeStoreErr(w, err)
		return
	}
	rec, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		a.writeStoreErr(w, err)
		return
	}
	if err := a.publish(rec); err != nil {
		a.log.Error(logging.WithTenant(rec.TenantID, "failed to publish activated bundle: %v"), err)
		writeErr(w, http.StatusInternalServerError, "PUBLISH_FAILED", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (a *API) handleArchive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.store.Archive(r.Context(), id); err != nil {
		a.writeStoreErr(w, err)
		return
	}
	rec, err := a.store.GetByID(r.Context(), id)
	if err != nil {
		a.writeStoreErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(rec))
}

func (a *API) writeStoreErr(w http.ResponseWriter, err error) {
	if err == bundlestore.ErrBundleNotFound {
		writeErr(w, http.StatusNotFound, "BUNDLE_NOT_FOUND", err.Error())
		return
	}
	writeErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
}

// publish renders the activated record's rule source (and sibling
// metadata.json) into the on-disk layout the watcher and engine consume:
// <bundles_root>/<tenant_id>/policy_v<version>.rego. Only one version's
// rule file may be present at a time, since the loader merges every
// *.rego file in the tenant directory into a single rule set: every
// *.rego file directly in the tenant directory is removed before the new
// one is written.
func (a *API) publish(rec *bundlestore.Record) error {
	dir := filepath.Join(a.bundlesRoot, rec.TenantID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("bundleapi: mkdir %s: %w", dir, err)
	}
	if err := removeOldPolicyFiles(dir); err != nil {
		return err
	}

	policyPath := filepath.Join(dir, fmt.Sprintf("policy_v%d%s", rec.Version, ruleExtension))
	if err := os.WriteFile(policyPath, []byte(rec.RuleSource), 0o644); err != nil {
		return fmt.Errorf("bundleapi: write %s: %w", policyPath, err)
	}

	if rec.Metadata != "" {
		metaPath := filepath.Join(dir, "metadata.json")
		if err := os.WriteFile(metaPath, []byte(rec.Metadata), 0o644); err != nil {
			return fmt.Errorf("bundleapi: write %s: %w", metaPath, err)
		}
	}
	return nil
}

func removeOldPolicyFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("bundleapi: read %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ruleExtension {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("bundleapi: remove %s: %w", entry.Name(), err)
		}
	}
	return nil
}
