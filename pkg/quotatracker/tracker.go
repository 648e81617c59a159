// Package quotatracker holds in-memory per-tenant message and bandwidth
// counters with day/month rollover, periodic durable persistence, and
// Increment and Check calls that are each atomic per tenant; there is no
// combined check-then-increment call. Each tenant gets its own lock so
// cross-tenant operations never contend.
package quotatracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/observability"
)

const (
	quotaTypeMessages  = "message_count"
	quotaTypeBandwidth = "bandwidth"

	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// LimitExceeded is returned by Check when a tenant has met or exceeded a
// non-zero limit.
type LimitExceeded struct {
	Type    string // "message_count" or "bandwidth"
	Limit   int64
	Current int64
}

func (e *LimitExceeded) Error() string {
	return fmt.Sprintf("quotatracker: %s limit exceeded: %d >= %d", e.Type, e.Current, e.Limit)
}

// ErrInvalidLimit is returned by SetLimits for negative values. A zero
// limit is accepted and means unenforced.
var ErrInvalidLimit = errors.New("quotatracker: limits must not be negative")

// Metrics is the QuotaMetrics data-model snapshot for one tenant.
type Metrics struct {
	TenantID            string
	MessageCount        int64
	BytesSent           int64
	MessageLimit        int64
	BandwidthLimitBytes int64
	LastReset           time.Time
	Period              string
}

type tenantQuota struct {
	mu sync.Mutex

	messageCount int64
	byteCount    int64

	messagePeriod   string
	bandwidthPeriod string
	lastReset       time.Time

	messageLimit        int64
	bandwidthLimitBytes int64
}

// Tracker is the in-memory quota cache with a durable backing Store.
type Tracker struct {
	mu      sync.RWMutex
	tenants map[string]*tenantQuota

	store *Store
	log   *logging.Logger
	obs   *observability.Provider

	defaultMessageLimit        int64
	defaultBandwidthLimitBytes int64
	autoReset                  bool

	flushing int32
}

// Instrument attaches telemetry; quota rejections are counted through p.
func (t *Tracker) Instrument(p *observability.Provider) {
	t.obs = p
}

// New creates a Tracker backed by store, using defaults for tenants with no
// durable limits row yet. autoReset enables the day/month period rollover;
// with it off, counters accumulate until an explicit Reset.
func New(store *Store, defaultMessageLimit, defaultBandwidthLimitBytes int64, autoReset bool) *Tracker {
	return &Tracker{
		tenants:                    make(map[string]*tenantQuota),
		store:                      store,
		log:                        logging.New("quotatracker"),
		defaultMessageLimit:        defaultMessageLimit,
		defaultBandwidthLimitBytes: defaultBandwidthLimitBytes,
		autoReset:                  autoReset,
	}
}

func dayLabel(t time.Time) string   { return t.UTC().Format(dayLayout) }
func monthLabel(t time.Time) string { return t.UTC().Format(monthLayout) }

// Rehydrate loads every known tenant's durable counters using the current
// day/month period; usage rows from earlier periods are ignored.
func (t *Tracker) Rehydrate(ctx context.Context) error {
	ids, err := t.store.ListTenants(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	day := dayLabel(now)
	month := monthLabel(now)

	for _, id := range ids {
		limits, err := t.store.GetLimits(ctx, id)
		if err != nil {
			t.log.Warn(logging.WithTenant(id, "rehydrate: limits: %v"), err)
			continue
		}
		msgUsed, err := t.store.GetUsage(ctx, id, day, quotaTypeMessages)
		if err != nil {
			t.log.Warn(logging.WithTenant(id, "rehydrate: message usage: %v"), err)
		}
		bwUsed, err := t.store.GetUsage(ctx, id, month, quotaTypeBandwidth)
		if err != nil {
			t.log.Warn(logging.WithTenant(id, "rehydrate: bandwidth usage: %v"), err)
		}

		tq := &tenantQuota{
			messageCount:        msgUsed,
			byteCount:           bwUsed,
			messagePeriod:       day,
			bandwidthPeriod:     month,
			lastReset:           now,
			messageLimit:        limits.MessageLimit,
			bandwidthLimitBytes: limits.BandwidthLimitBytes,
		}

		t.mu.Lock()
		t.tenants[id] = tq
		t.mu.Unlock()
	}
	return nil
}

// entry returns (creating lazily with configured defaults) the tenant's
// in-memory state.
func (t *Tracker) entry(tenantID string) *tenantQuota {
	t.mu.RLock()
	tq, ok := t.tenants[tenantID]
	t.mu.RUnlock()
	if ok {
		return tq
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if tq, ok := t.tenants[tenantID]; ok {
		return tq
	}
	now := time.Now()
	tq = &tenantQuota{
		messagePeriod:       dayLabel(now),
		bandwidthPeriod:     monthLabel(now),
		lastReset:           now,
		messageLimit:        t.defaultMessageLimit,
		bandwidthLimitBytes: t.defaultBandwidthLimitBytes,
	}
	t.tenants[tenantID] = tq
	return tq
}

// Increment atomically adds messages/bytes to tenantID's counters, rolling
// each counter over first if its period label no longer matches now.
func (t *Tracker) Increment(ctx context.Context, tenantID string, messages, bytesSent int64) error {
	tq := t.entry(tenantID)
	now := time.Now()

	tq.mu.Lock()
	t.rollover(tq, now)
	tq.messageCount += messages
	tq.byteCount += bytesSent
	tq.mu.Unlock()
	return nil
}

func (t *Tracker) rollover(tq *tenantQuota, now time.Time) {
	if !t.autoReset {
		return
	}
	day := dayLabel(now)
	month := monthLabel(now)
	if tq.messagePeriod != day {
		tq.messagePeriod = day
		tq.messageCount = 0
	}
	if tq.bandwidthPeriod != month {
		tq.bandwidthPeriod = month
		tq.byteCount = 0
	}
}

// Check reports LimitExceeded if either counter has met or exceeded its
// non-zero limit. A zero limit means unenforced.
func (t *Tracker) Check(ctx context.Context, tenantID string) error {
	tq := t.entry(tenantID)
	now := time.Now()

	tq.mu.Lock()
	t.rollover(tq, now)
	messageCount, messageLimit := tq.messageCount, tq.messageLimit
	byteCount, bandwidthLimit := tq.byteCount, tq.bandwidthLimitBytes
	tq.mu.Unlock()

	if messageLimit > 0 && messageCount >= messageLimit {
		if t.obs != nil {
			t.obs.RecordQuotaRejection(ctx, tenantID, quotaTypeMessages)
		}
		return &LimitExceeded{Type: quotaTypeMessages, Limit: messageLimit, Current: messageCount}
	}
	if bandwidthLimit > 0 && byteCount >= bandwidthLimit {
		if t.obs != nil {
			t.obs.RecordQuotaRejection(ctx, tenantID, quotaTypeBandwidth)
		}
		return &LimitExceeded{Type: quotaTypeBandwidth, Limit: bandwidthLimit, Current: byteCount}
	}
	return nil
}

// SetLimits validates and updates both the durable store and the cache.
func (t *Tracker) SetLimits(ctx context.Context, tenantID string, messageLimit int64, bandwidthLimitGB float64) error {
	if messageLimit < 0 || bandwidthLimitGB < 0 {
		return ErrInvalidLimit
	}
	bandwidthLimitBytes := int64(bandwidthLimitGB * (1 << 30))

	if err := t.store.SetLimits(ctx, tenantID, messageLimit, bandwidthLimitBytes); err != nil {
		return err
	}

	tq := t.entry(tenantID)
	tq.mu.Lock()
	tq.messageLimit = messageLimit
	tq.bandwidthLimitBytes = bandwidthLimitBytes
	tq.mu.Unlock()
	return nil
}

// Reset zeroes both counters, re-stamps the period and last_reset, and
// writes zeros to durable usage.
func (t *Tracker) Reset(ctx context.Context, tenantID string) error {
	tq := t.entry(tenantID)
	now := time.Now()

	tq.mu.Lock()
	tq.messageCount = 0
	tq.byteCount = 0
	tq.messagePeriod = dayLabel(now)
	tq.bandwidthPeriod = monthLabel(now)
	tq.lastReset = now
	tq.mu.Unlock()

	if err := t.store.SetUsage(ctx, tenantID, dayLabel(now), quotaTypeMessages, 0); err != nil {
		return err
	}
	return t.store.SetUsage(ctx, tenantID, monthLabel(now), quotaTypeBandwidth, 0)
}

// Metrics returns a QuotaMetrics snapshot for tenantID.
func (t *Tracker) Metrics(tenantID string) Metrics {
	tq := t.entry(tenantID)
	tq.mu.Lock()
	defer tq.mu.Unlock()
	return Metrics{
		TenantID:            tenantID,
		MessageCount:        tq.messageCount,
		BytesSent:           tq.byteCount,
		MessageLimit:        tq.messageLimit,
		BandwidthLimitBytes: tq.bandwidthLimitBytes,
		LastReset:           tq.lastReset,
		Period:              tq.messagePeriod,
	}
}

// ListTenants returns the tenant ids currently cached in memory.
func (t *Tracker) ListTenants() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.tenants))
	for id := range t.tenants {
		out = append(out, id)
	}
	return out
}

// StartFlushLoop runs a background flush of the in-memory cache to durable
// usage every interval, skipping a tick if the previous flush is still
// running (missed-tick policy: skip, not catch up — Go's time.Ticker has no
// native MissedTickBehavior, so an atomic in-flight guard reproduces it).
// A non-positive interval starts no loop.
func (t *Tracker) StartFlushLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !atomic.CompareAndSwapInt32(&t.flushing, 0, 1) {
					continue
				}
				t.flush(ctx)
				atomic.StoreInt32(&t.flushing, 0)
			}
		}
	}()
}

func (t *Tracker) flush(ctx context.Context) {
	for _, id := range t.ListTenants() {
		tq := t.entry(id)
		tq.mu.Lock()
		day, month := tq.messagePeriod, tq.bandwidthPeriod
		messages, bytesSent := tq.messageCount, tq.byteCount
		tq.mu.Unlock()

		if err := t.store.SetUsage(ctx, id, day, quotaTypeMessages, messages); err != nil {
			t.log.Warn(logging.WithTenant(id, "flush: message usage: %v"), err)
		}
		if err := t.store.SetUsage(ctx, id, month, quotaTypeBandwidth, bytesSent); err != nil {
			t.log.Warn(logging.WithTenant(id, "flush: bandwidth usage: %v"), err)
		}
	}
}
