package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/observability"
)

const (
	maxUploadRetries  = 3
	initialBackoff    = 100 * time.Millisecond
	defaultMaxBackoff = 5 * time.Second
	jitterFraction    = 0.5

	// uploadRequestsPerSecond caps POST attempts so flushing a large
	// backlog cannot saturate an edge uplink.
	uploadRequestsPerSecond = 5
)

// uploadRecord is the wire shape POSTed to the upload endpoint.
type uploadRecord struct {
	LogID         string `json:"log_id"`
	TenantID      string `json:"tenant_id"`
	Timestamp     string `json:"timestamp"`
	Decision      bool   `json:"decision"`
	Protocol      string `json:"protocol"`
	Action        string `json:"action"`
	PolicyVersion string `json:"policy_version,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Signature     string `json:"signature"`
}

func toUploadRecord(r Record) uploadRecord {
	return uploadRecord{
		LogID:         r.LogID,
		TenantID:      r.TenantID,
		Timestamp:     r.Timestamp.UTC().Format(time.RFC3339Nano),
		Decision:      r.Decision,
		Protocol:      r.Protocol,
		Action:        r.Action,
		PolicyVersion: r.PolicyVersion,
		Reason:        r.Reason,
		Signature:     r.Signature,
	}
}

// Uploader drives the deferred batch upload of unuploaded audit logs. If no
// endpoint is configured it is inert: logs still accumulate in the Store,
// they are simply never marked uploaded.
type Uploader struct {
	store      *Store
	endpoint   string
	batchSize  int
	maxBackoff time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	obs        *observability.Provider
	log        *logging.Logger

	running int32
}

// NewUploader creates an Uploader. endpoint may be empty, in which case Run
// still starts but every cycle is a no-op.
func NewUploader(store *Store, endpoint string, batchSize int) *Uploader {
	return &Uploader{
		store:      store,
		endpoint:   endpoint,
		batchSize:  batchSize,
		maxBackoff: defaultMaxBackoff,
		client:     &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(uploadRequestsPerSecond), 1),
		log:        logging.New("auditlog"),
	}
}

// Instrument attaches telemetry; upload cycles and delivered record counts
// are reported through p.
func (u *Uploader) Instrument(p *observability.Provider) {
	u.obs = p
}

// Run wakes on a fixed interval (missed-tick policy: skip, not catch up —
// an in-flight guard stands in for Go's lack of a native
// MissedTickBehavior) and drives one upload cycle per tick until ctx is
// canceled.
func (u *Uploader) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !atomic.CompareAndSwapInt32(&u.running, 0, 1) {
					continue
				}
				u.cycle(ctx)
				atomic.StoreInt32(&u.running, 0)
			}
		}
	}()
}

// cycle pulls at most batchSize unuploaded rows for every known tenant and
// attempts to deliver them.
func (u *Uploader) cycle(ctx context.Context) {
	if u.endpoint == "" {
		return
	}
	tenants, err := u.store.ListTenants()
	if err != nil {
		u.log.Warn("upload cycle: list tenants: %v", err)
		return
	}
	uploaded := 0
	var cycleErr error
	for _, tenantID := range tenants {
		records, err := u.store.Unuploaded(ctx, tenantID, u.batchSize)
		if err != nil {
			u.log.Warn(logging.WithTenant(tenantID, "upload cycle: list unuploaded: %v"), err)
			cycleErr = err
			continue
		}
		if len(records) == 0 {
			continue
		}
		if err := u.deliverBatch(ctx, tenantID, records); err != nil {
			u.log.Warn(logging.WithTenant(tenantID, "upload cycle: %v"), err)
			cycleErr = err
			continue
		}
		uploaded += len(records)
	}
	if u.obs != nil {
		u.obs.RecordUploadCycle(ctx, uploaded, cycleErr)
	}
}

// deliverBatch POSTs records as a JSON array, retrying 5xx responses and
// transport errors with exponential backoff and jitter, for at most
// maxUploadRetries attempts in all (the first one included); a 4xx stops
// retrying the batch immediately (it is left unuploaded for the operator to
// investigate, not retried again this cycle).
func (u *Uploader) deliverBatch(ctx context.Context, tenantID string, records []Record) error {
	payload := make([]uploadRecord, len(records))
	for i, r := range records {
		payload[i] = toUploadRecord(r)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt < maxUploadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jittered(backoff, u.maxBackoff)):
			}
			backoff *= 2
		}

		status, err := u.post(ctx, body)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 200 && status < 300 {
			ids := make([]string, len(records))
			for i, r := range records {
				ids[i] = r.LogID
			}
			return u.store.MarkUploaded(ctx, tenantID, ids)
		}
		if status >= 400 && status < 500 {
			return fmt.Errorf("upload rejected with status %d, not retrying", status)
		}
		lastErr = fmt.Errorf("upload failed with status %d", status)
	}
	return fmt.Errorf("exhausted retries: %w", lastErr)
}

func (u *Uploader) post(ctx context.Context, body []byte) (int, error) {
	if err := u.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// jittered caps backoff at maxBackoff and adds 0-50% jitter.
func jittered(backoff, maxBackoff time.Duration) time.Duration {
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	jitter := time.Duration(rand.Float64() * jitterFraction * float64(backoff))
	return backoff + jitter
}
