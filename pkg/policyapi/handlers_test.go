package policyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
)

type fakeEngine struct {
	decision  abac.Decision
	evalErr   error
	reloadErr error
	reloaded  string
}

func (f *fakeEngine) Evaluate(_ context.Context, _ string, _ abac.Input) (abac.Decision, error) {
	return f.decision, f.evalErr
}

func (f *fakeEngine) ReloadTenant(_ context.Context, tenantID string) error {
	f.reloaded = tenantID
	return f.reloadErr
}

func TestHandleAllow_ReturnsDecisionAndMetrics(t *testing.T) {
	eng := &fakeEngine{decision: abac.Decision{Allow: true}}
	api := New(eng, nil)

	body, _ := json.Marshal(allowRequest{Input: abac.Input{Subject: abac.Subject{TenantID: "tenant-a"}, Action: "read"}})
	req := httptest.NewRequest("POST", "/v1/data/tenants/tenant-a/allow", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	require.Equal(t, 200, rr.Code)
	var resp allowResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Result.Allow)
	assert.Equal(t, "tenant-a", resp.Metrics.TenantID)
}

func TestHandleAllow_TenantMismatchRejected(t *testing.T) {
	eng := &fakeEngine{decision: abac.Decision{Allow: true}}
	api := New(eng, nil)

	body, _ := json.Marshal(allowRequest{Input: abac.Input{Subject: abac.Subject{TenantID: "other"}, Action: "read"}})
	req := httptest.NewRequest("POST", "/v1/data/tenants/tenant-a/allow", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	assert.Equal(t, 400, rr.Code)
}

func TestHandleAllow_TenantNotFound(t *testing.T) {
	eng := &fakeEngine{evalErr: errors.New("tenantregistry: tenant not found")}
	api := New(eng, nil)

	body, _ := json.Marshal(allowRequest{Input: abac.Input{Subject: abac.Subject{TenantID: "ghost"}, Action: "read"}})
	req := httptest.NewRequest("POST", "/v1/data/tenants/ghost/allow", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	assert.Equal(t, 404, rr.Code)
}

func TestHandleAllow_EvalTimeoutReported(t *testing.T) {
	eng := &fakeEngine{evalErr: errors.New("ruleengine: evaluation timeout")}
	api := New(eng, nil)

	body, _ := json.Marshal(allowRequest{Input: abac.Input{Subject: abac.Subject{TenantID: "tenant-a"}, Action: "read"}})
	req := httptest.NewRequest("POST", "/v1/data/tenants/tenant-a/allow", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	require.Equal(t, 503, rr.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "EVALUATION_TIMEOUT", resp["code"])
}

func TestHandleReload_DrivesEngineReload(t *testing.T) {
	eng := &fakeEngine{}
	api := New(eng, nil)

	req := httptest.NewRequest("PUT", "/v1/tenants/tenant-a/reload", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	assert.Equal(t, 200, rr.Code)
	assert.Equal(t, "tenant-a", eng.reloaded)
}

func TestHandleReload_FailurePropagates(t *testing.T) {
	eng := &fakeEngine{reloadErr: errors.New("bundle load error")}
	api := New(eng, nil)

	req := httptest.NewRequest("PUT", "/v1/tenants/tenant-a/reload", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	assert.Equal(t, 422, rr.Code)
}

func TestHandleStream_UnconfiguredBusReturns503(t *testing.T) {
	eng := &fakeEngine{}
	api := New(eng, nil)

	req := httptest.NewRequest("GET", "/v1/stream/decisions", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	assert.Equal(t, 503, rr.Code)
}
