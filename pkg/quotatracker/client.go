package quotatracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is an HTTP client for a remote quota tracker service, satisfying
// the same Check/Increment/Metrics shape the in-process Tracker exposes.
// It lets the HTTP and MQTT enforcement adapters couple to quota
// enforcement running in a separate deployable service (QUOTA_HOST/PORT).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against a quota service listening at baseURL
// (e.g. "http://quota.internal:8445").
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

type limitExceededWire struct {
	Status  string `json:"status"`
	Type    string `json:"type"`
	Limit   int64  `json:"limit"`
	Current int64  `json:"current"`
}

// Check queries the remote service's /api/quota/check endpoint.
func (c *Client) Check(ctx context.Context, tenantID string) error {
	body, _ := json.Marshal(map[string]string{"tenant_id": tenantID})
	var wire limitExceededWire
	if err := c.post(ctx, "/api/quota/check", body, &wire); err != nil {
		return err
	}
	if wire.Status == "limit_exceeded" {
		return &LimitExceeded{Type: wire.Type, Limit: wire.Limit, Current: wire.Current}
	}
	return nil
}

// Increment calls the remote service's /api/quota/increment endpoint.
func (c *Client) Increment(ctx context.Context, tenantID string, messages, bytesSent int64) error {
	body, _ := json.Marshal(map[string]any{"tenant_id": tenantID, "messages": messages, "bytes": bytesSent})
	return c.post(ctx, "/api/quota/increment", body, nil)
}

// Metrics fetches the remote service's current snapshot for tenantID.
// Errors are swallowed to zero-value Metrics since callers treat this as
// a best-effort enrichment, never a request-failing step.
func (c *Client) Metrics(tenantID string) Metrics {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/api/quota/"+tenantID, nil)
	if err != nil {
		return Metrics{TenantID: tenantID}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Metrics{TenantID: tenantID}
	}
	defer resp.Body.Close()

	var wire struct {
		TenantID            string    `json:"tenant_id"`
		MessageCount        int64     `json:"message_count"`
		BytesSent           int64     `json:"bytes_sent"`
		MessageLimit        int64     `json:"message_limit"`
		BandwidthLimitBytes int64     `json:"bandwidth_limit_bytes"`
		LastReset           time.Time `json:"last_reset"`
		Period              string    `json:"period"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Metrics{TenantID: tenantID}
	}
	return Metrics{
		TenantID:            wire.TenantID,
		MessageCount:        wire.MessageCount,
		BytesSent:           wire.BytesSent,
		MessageLimit:        wire.MessageLimit,
		BandwidthLimitBytes: wire.BandwidthLimitBytes,
		LastReset:           wire.LastReset,
		Period:              wire.Period,
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("quotatracker: client: %s returned %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
