package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultQueryLimit is applied to Query when the caller does not specify one.
const DefaultQueryLimit = 100

// Store is the durable, per-tenant SQLite-backed audit log store. Each
// tenant gets its own database file under dataDir, migrated on first use.
type Store struct {
	dataDir string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewStore creates a Store rooted at dataDir, creating the directory if
// necessary.
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("auditlog: create data dir: %w", err)
	}
	return &Store{dataDir: dataDir, dbs: make(map[string]*sql.DB)}, nil
}

func (s *Store) dbFor(tenantID string) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.dbs[tenantID]; ok {
		return db, nil
	}

	path := filepath.Join(s.dataDir, tenantID+".db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS audit_logs (
	log_id         TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	timestamp      TEXT NOT NULL,
	decision       INTEGER NOT NULL,
	protocol       TEXT NOT NULL,
	subject        TEXT NOT NULL,
	action         TEXT NOT NULL,
	resource       TEXT NOT NULL,
	environment    TEXT NOT NULL,
	policy_version TEXT,
	reason         TEXT,
	signature      TEXT NOT NULL,
	uploaded       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant_ts ON audit_logs(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_uploaded ON audit_logs(uploaded);
`); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: migrate %s: %w", path, err)
	}

	s.dbs[tenantID] = db
	return db, nil
}

// Close closes every opened per-tenant database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Write persists r, which must already carry its signature computed by the
// caller before the record reaches the store.
func (s *Store) Write(ctx context.Context, r Record) error {
	db, err := s.dbFor(r.TenantID)
	if err != nil {
		return err
	}
	subjectJSON, _ := json.Marshal(r.Subject)
	resourceJSON, _ := json.Marshal(r.Resource)
	envJSON, _ := json.Marshal(r.Environment)

	_, err = db.ExecContext(ctx, `
INSERT INTO audit_logs (log_id, tenant_id, timestamp, decision, protocol, subject, action, resource, environment, policy_version, reason, signature, uploaded)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		r.LogID, r.TenantID, r.Timestamp.UTC().Format(time.RFC3339Nano), boolToInt(r.Decision), r.Protocol,
		string(subjectJSON), r.Action, string(resourceJSON), string(envJSON), r.PolicyVersion, r.Reason, r.Signature)
	if err != nil {
		return fmt.Errorf("auditlog: write: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// QueryFilter narrows Query results.
type QueryFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	Decision  *bool
	Protocol  string
	Limit     int
}

// Query returns tenantID's logs matching filter, ordered by timestamp
// descending, bounded by filter.Limit (DefaultQueryLimit if unset).
func (s *Store) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Record, error) {
	db, err := s.dbFor(tenantID)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	var where []string
	var args []any
	if filter.StartTime != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if filter.EndTime != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC().Format(time.RFC3339Nano))
	}
	if filter.Decision != nil {
		where = append(where, "decision = ?")
		args = append(args, boolToInt(*filter.Decision))
	}
	if filter.Protocol != "" {
		where = append(where, "protocol = ?")
		args = append(args, filter.Protocol)
	}

	query := `SELECT log_id, tenant_id, timestamp, decision, protocol, subject, action, resource, environment, policy_version, reason, signature, uploaded FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Unuploaded returns up to limit of tenantID's logs with uploaded=0,
// ordered by timestamp ascending (oldest first, for at-least-once delivery
// in arrival order).
func (s *Store) Unuploaded(ctx context.Context, tenantID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	db, err := s.dbFor(tenantID)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
SELECT log_id, tenant_id, timestamp, decision, protocol, subject, action, resource, environment, policy_version, reason, signature, uploaded
FROM audit_logs WHERE uploaded = 0 ORDER BY timestamp ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("auditlog: unuploaded: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// MarkUploaded sets uploaded=1 for logIDs. Marking an already-uploaded log
// again is a no-op, not an error.
func (s *Store) MarkUploaded(ctx context.Context, tenantID string, logIDs []string) error {
	if len(logIDs) == 0 {
		return nil
	}
	db, err := s.dbFor(tenantID)
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(logIDs)), ",")
	args := make([]any, len(logIDs))
	for i, id := range logIDs {
		args[i] = id
	}
	_, err = db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE audit_logs SET uploaded = 1 WHERE log_id IN (%s)`, placeholders), args...)
	if err != nil {
		return fmt.Errorf("auditlog: mark uploaded: %w", err)
	}
	return nil
}

// ListTenants enumerates tenant ids with an existing database file.
func (s *Store) ListTenants() ([]string, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("auditlog: list tenants: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".db"))
	}
	return out, nil
}

// PurgeOlderThan deletes every already-uploaded record older than cutoff,
// across all tenants, and reports how many rows were removed. Records not
// yet uploaded are retained regardless of age so at-least-once delivery
// survives long outages.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tenants, err := s.ListTenants()
	if err != nil {
		return 0, err
	}
	var purged int64
	for _, tenantID := range tenants {
		db, err := s.dbFor(tenantID)
		if err != nil {
			return purged, err
		}
		res, err := db.ExecContext(ctx,
			`DELETE FROM audit_logs WHERE uploaded = 1 AND timestamp < ?`,
			cutoff.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return purged, fmt.Errorf("auditlog: purge %s: %w", tenantID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			purged += n
		}
	}
	return purged, nil
}

func scanRows(rows *sql.Rows) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var r Record
		var ts, subjectJSON, resourceJSON, envJSON string
		var decision, uploaded int
		var policyVersion, reason sql.NullString
		if err := rows.Scan(&r.LogID, &r.TenantID, &ts, &decision, &r.Protocol, &subjectJSON, &r.Action,
			&resourceJSON, &envJSON, &policyVersion, &reason, &r.Signature, &uploaded); err != nil {
			return nil, err
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			r.Timestamp = t
		}
		r.Decision = decision != 0
		r.Uploaded = uploaded != 0
		r.PolicyVersion = policyVersion.String
		r.Reason = reason.String
		_ = json.Unmarshal([]byte(subjectJSON), &r.Subject)
		_ = json.Unmarshal([]byte(resourceJSON), &r.Resource)
		_ = json.Unmarshal([]byte(envJSON), &r.Environment)
		out = append(out, r)
	}
	return out, rows.Err()
}
