package auditlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is an HTTP client for a remote audit store service, satisfying
// the same Dispatch shape the in-process Pipeline exposes. It lets the
// enforcement adapters couple to audit logging running in a separate
// deployable service (AUDIT_HOST/PORT).
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against an audit service listening at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 5 * time.Second}}
}

// Dispatch POSTs rec to the remote service's /api/audit/logs endpoint.
// Signing happens server-side; the wire record carries no signature.
func (c *Client) Dispatch(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("auditlog: client: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/audit/logs", bytes.NewReader(body))
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
		return fmt.Errorf("auditlog: client: dispatch returned %d", resp.StatusCode)
	}
	return nil
}
