package auditlog

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrEmptyTenantID is returned when an export is requested without a tenant.
var ErrEmptyTenantID = errors.New("auditlog: tenant_id must not be empty")

// ErrInvalidTimeRange is returned when start_time is after end_time.
var ErrInvalidTimeRange = errors.New("auditlog: start_time must be before end_time")

// ExportRequest describes an evidence pack export.
type ExportRequest struct {
	TenantID  string
	StartTime time.Time
	EndTime   time.Time
}

// Exporter produces evidence-pack zip archives from a Store, bundling a
// tenant's audit records with a manifest and checksum for handoff to an
// external auditor.
type Exporter struct {
	store *Store
}

// NewExporter builds an Exporter backed by store.
func NewExporter(store *Store) *Exporter {
	return &Exporter{store: store}
}

// Generate produces a zip archive containing events.json, manifest.json,
// and README.txt, plus the SHA-256 checksum of the archive's bytes.
func (e *Exporter) Generate(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if req.TenantID == "" {
		return nil, "", ErrEmptyTenantID
	}
	if !req.StartTime.IsZero() && !req.EndTime.IsZero() && req.StartTime.After(req.EndTime) {
		return nil, "", ErrInvalidTimeRange
	}

	filter := QueryFilter{Limit: 1 << 30}
	if !req.StartTime.IsZero() {
		filter.StartTime = &req.StartTime
	}
	if !req.EndTime.IsZero() {
		filter.EndTime = &req.EndTime
	}
	records, err := e.store.Query(ctx, req.TenantID, filter)
	if err != nil {
		return nil, "", fmt.Errorf("auditlog: export query: %w", err)
	}

	eventsJSON, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, "", err
	}

	manifest := map[string]any{
		"tenant_id":   req.TenantID,
		"event_count": len(records),
		"period": map[string]any{
			"start": req.StartTime,
			"end":   req.EndTime,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("auditlog: export manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	f, err := w.Create("events.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := f.Write(eventsJSON); err != nil {
		return nil, "", err
	}

	f, err = w.Create("manifest.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := f.Write(manifestJSON); err != nil {
		return nil, "", err
	}

	f, err = w.Create("README.txt")
	if err != nil {
		return nil, "", err
	}
	if _, err := fmt.Fprintf(f, "Audit evidence pack for tenant %s\nEvents: %d\n", req.TenantID, len(records)); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}
