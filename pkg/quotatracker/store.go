package quotatracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// ErrTenantNotFound is returned when a durable-store lookup addresses a
// tenant with no limits row.
var ErrTenantNotFound = errors.New("quotatracker: tenant not found")

// Store is the durable SQLite backing for quota limits and per-period usage.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("quotatracker: open %s: %w", path, err)
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
CREATE TABLE IF NOT EXISTS quota_limits (
	tenant_id             TEXT PRIMARY KEY,
	message_limit         INTEGER NOT NULL DEFAULT 0,
	bandwidth_limit_bytes INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS quota_usage (
	tenant_id  TEXT NOT NULL,
	period     TEXT NOT NULL,
	quota_type TEXT NOT NULL,
	used       INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (tenant_id, period, quota_type)
);
`)
	if err != nil {
		return fmt.Errorf("quotatracker: migrate: %w", err)
	}
	return nil
}

// Limits is a tenant's configured durable limits.
type Limits struct {
	TenantID            string
	MessageLimit        int64
	BandwidthLimitBytes int64
}

// GetLimits returns tenantID's durable limits, ErrTenantNotFound if absent.
func (s *Store) GetLimits(ctx context.Context, tenantID string) (*Limits, error) {
	var l Limits
	l.TenantID = tenantID
	err := s.db.QueryRowContext(ctx,
		`SELECT message_limit, bandwidth_limit_bytes FROM quota_limits WHERE tenant_id = ?`, tenantID,
	).Scan(&l.MessageLimit, &l.BandwidthLimitBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("quotatracker: get limits: %w", err)
	}
	return &l, nil
}

// SetLimits upserts tenantID's durable limits.
func (s *Store) SetLimits(ctx context.Context, tenantID string, messageLimit, bandwidthLimitBytes int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO quota_limits (tenant_id, message_limit, bandwidth_limit_bytes)
VALUES (?, ?, ?)
ON CONFLICT(tenant_id) DO UPDATE SET message_limit = excluded.message_limit,
	bandwidth_limit_bytes = excluded.bandwidth_limit_bytes`,
		tenantID, messageLimit, bandwidthLimitBytes)
	if err != nil {
		return fmt.Errorf("quotatracker: set limits: %w", err)
	}
	return nil
}

// GetUsage returns the durable usage counter for tenantID/period/quotaType,
// 0 if no row exists yet.
func (s *Store) GetUsage(ctx context.Context, tenantID, period, quotaType string) (int64, error) {
	var used int64
	err := s.db.QueryRowContext(ctx,
		`SELECT used FROM quota_usage WHERE tenant_id = ? AND period = ? AND quota_type = ?`,
		tenantID, period, quotaType,
	).Scan(&used)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quotatracker: get usage: %w", err)
	}
	return used, nil
}

// SetUsage upserts the durable usage counter for tenantID/period/quotaType.
func (s *Store) SetUsage(ctx context.Context, tenantID, period, quotaType string, used int64) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO quota_usage (tenant_id, period, quota_type, used)
VALUES (?, ?, ?, ?)
ON CONFLICT(tenant_id, period, quota_type) DO UPDATE SET used = excluded.used`,
		tenantID, period, quotaType, used)
	if err != nil {
		return fmt.Errorf("quotatracker: set usage: %w", err)
	}
	return nil
}

// ListTenants returns every tenant id with a durable limits row, used to
// rehydrate the in-memory cache on startup.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM quota_limits`)
	if err != nil {
		return nil, fmt.Errorf("quotatracker: list tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
