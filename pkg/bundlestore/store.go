// Package bundlestore is the durable, SQLite-backed store for versioned
// policy bundles with a draft/active/archived lifecycle. Activation demotes
// any prior active bundle and promotes the target in a single transaction,
// so an external observer never sees two active versions for one tenant.
package bundlestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is a BundleRecord's lifecycle state.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusArchived Status = "archived"
)

// ErrBundleNotFound is returned by operations addressing a bundle id that
// does not exist.
var ErrBundleNotFound = errors.New("bundlestore: bundle not found")

// Record is a versioned policy bundle.
type Record struct {
	BundleID    string
	TenantID    string
	Version     int64
	RuleSource  string
	Metadata    string // JSON document, empty string if absent
	Status      Status
	CreatedAt   time.Time
	ActivatedAt *time.Time
}

// Store is the durable bundle store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("bundlestore: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS bundles (
	bundle_id    TEXT PRIMARY KEY,
	tenant_id    TEXT NOT NULL,
	version      INTEGER NOT NULL,
	rule_source  TEXT NOT NULL,
	metadata     TEXT,
	status       TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	activated_at TEXT,
	UNIQUE(tenant_id, version)
);
CREATE INDEX IF NOT EXISTS idx_bundles_tenant ON bundles(tenant_id);
`)
	if err != nil {
		return fmt.Errorf("bundlestore: migrate: %w", err)
	}
	return nil
}

// Store assigns the next monotonic version for tenantID and inserts
// the record with the supplied status (typically draft).
func (s *Store) Store(ctx context.Context, tenantID, ruleSource, metadata string, status Status) (*Record, error) {
	var maxVersion sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM bundles WHERE tenant_id = ?`, tenantID,
	).Scan(&maxVersion); err != nil {
		return nil, fmt.Errorf("bundlestore: store: %w", err)
	}

	rec := &Record{
		BundleID:   uuid.New().String(),
		TenantID:   tenantID,
		Version:    maxVersion.Int64 + 1,
		RuleSource: ruleSource,
		Metadata:   metadata,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bundles (bundle_id, tenant_id, version, rule_source, metadata, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.BundleID, rec.TenantID, rec.Version, rec.RuleSource, rec.Metadata, rec.Status,
		rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("bundlestore: store: %w", err)
	}
	return rec, nil
}

// GetByID retrieves a bundle by id.
func (s *Store) GetByID(ctx context.Context, bundleID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bundle_id, tenant_id, version, rule_source, metadata, status, created_at, activated_at
		 FROM bundles WHERE bundle_id = ?`, bundleID)
	return scanRecord(row)
}

// ListByTenant returns all bundles for tenantID, version descending.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT bundle_id, tenant_id, version, rule_source, metadata, status, created_at, activated_at
		 FROM bundles WHERE tenant_id = ? ORDER BY version DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("bundlestore: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetActive returns the currently active bundle for tenantID, if any.
func (s *Store) GetActive(ctx context.Context, tenantID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT bundle_id, tenant_id, version, rule_source, metadata, status, created_at, activated_at
		 FROM bundles WHERE tenant_id = ? AND status = ?`, tenantID, StatusActive)
	return scanRecord(row)
}

// Activate demotes any currently active bundle for the target's tenant and
// promotes the target, within a single transaction.
func (s *Store) Activate(ctx context.Context, bundleID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bundlestore: activate: %w", err)
	}
	defer tx.Rollback()

	var tenantID string
	if err := tx.QueryRowContext(ctx, `SELECT tenant_id FROM bundles WHERE bundle_id = ?`, bundleID).
		Scan(&tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrBundleNotFound
		}
		return fmt.Errorf("bundlestore: activate: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE bundles SET status = ?, activated_at = NULL WHERE tenant_id = ? AND status = ?`,
		StatusInactive, tenantID, StatusActive); err != nil {
		return fmt.Errorf("bundlestore: activate: demote: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE bundles SET status = ?, activated_at = ? WHERE bundle_id = ?`,
		StatusActive, now, bundleID); err != nil {
		return fmt.Errorf("bundlestore: activate: promote: %w", err)
	}

	return tx.Commit()
}

// Archive marks bundleID archived.
func (s *Store) Archive(ctx context.Context, bundleID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE bundles SET status = ? WHERE bundle_id = ?`, StatusArchived, bundleID)
	if err != nil {
		return fmt.Errorf("bundlestore: archive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bundlestore: archive: %w", err)
	}
	if n == 0 {
		return ErrBundleNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (*Record, error) {
	rec, err := scanRecordScanner(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBundleNotFound
	}
	return rec, err
}

func scanRecordRows(rows *sql.Rows) (*Record, error) {
	return scanRecordScanner(rows)
}

func scanRecordScanner(s scanner) (*Record, error) {
	var rec Record
	var metadata sql.NullString
	var createdAt string
	var activatedAt sql.NullString
	var status string

	if err := s.Scan(&rec.BundleID, &rec.TenantID, &rec.Version, &rec.RuleSource,
		&metadata, &status, &createdAt, &activatedAt); err != nil {
		return nil, err
	}

	rec.Status = Status(status)
	rec.Metadata = metadata.String
	if t, err := parseTime(createdAt); err == nil {
		rec.CreatedAt = t
	}
	if activatedAt.Valid {
		if t, err := parseTime(activatedAt.String); err == nil {
			rec.ActivatedAt = &t
		}
	}
	return &rec, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
