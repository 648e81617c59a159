package httpenforcer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
	"github.com/Mindburn-Labs/edgepolicy/pkg/quotatracker"
	"github.com/Mindburn-Labs/edgepolicy/pkg/ruleengine"
)

type fakeEngine struct {
	decision abac.Decision
	err      error
}

func (f *fakeEngine) Evaluate(_ context.Context, _ string, _ abac.Input) (abac.Decision, error) {
	return f.decision, f.err
}

type fakeQuota struct {
	mu         sync.Mutex
	checkErr   error
	increments int
}

func (f *fakeQuota) Check(_ context.Context, _ string) error { return f.checkErr }
func (f *fakeQuota) Increment(_ context.Context, _ string, _, _ int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments++
	return nil
}
func (f *fakeQuota) Metrics(tenantID string) quotatracker.Metrics {
	return quotatracker.Metrics{TenantID: tenantID}
}

type fakeAudit struct {
	mu      sync.Mutex
	records []auditlog.Record
}

func (f *fakeAudit) Dispatch(_ context.Context, rec auditlog.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeAudit) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeBus struct {
	mu     sync.Mutex
	events []abac.Event
}

func (f *fakeBus) Publish(ev abac.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func newTestEnforcer(t *testing.T, upstream string, engine PolicyEngine, quota QuotaAccountant, audit AuditDispatcher, bus DecisionPublisher) *Enforcer {
	t.Helper()
	u, err := url.Parse(upstream)
	require.NoError(t, err)
	cfg := Config{
		Identity:     IdentityConfig{AllowTenantIDFallback: true},
		Upstream:     u,
		MaxBodyBytes: 1 << 20,
	}
	return New(cfg, engine, quota, audit, bus)
}

func TestServeHTTP_AllowForwardsToUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	audit := &fakeAudit{}
	bus := &fakeBus{}
	e := newTestEnforcer(t, upstream.URL, &fakeEngine{decision: abac.Decision{Allow: true}}, nil, audit, bus)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor_data/1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"ok":true`)
	assert.Equal(t, 1, audit.count())
	assert.Len(t, bus.events, 1)
	assert.True(t, bus.events[0].Decision.Allow)
}

func TestServeHTTP_EvalTimeoutMapsToEvaluationTimeout(t *testing.T) {
	e := newTestEnforcer(t, "http://upstream.invalid", &fakeEngine{err: ruleengine.ErrTimeout}, nil, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor_data/1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "EVALUATION_TIMEOUT")
}

func TestServeHTTP_DenyNeverReachesUpstream(t *testing.T) {
	upstreamHit := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamHit = true
	}))
	defer upstream.Close()

	audit := &fakeAudit{}
	e := newTestEnforcer(t, upstream.URL, &fakeEngine{decision: abac.Decision{Allow: false, Reason: "denied by policy"}}, nil, audit, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor_data/1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.False(t, upstreamHit)
	assert.Contains(t, rr.Body.String(), "POLICY_DENIED")
	assert.Equal(t, 1, audit.count())
}

func TestServeHTTP_QuotaExceededDenies(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be called when quota is exceeded")
	}))
	defer upstream.Close()

	quota := &fakeQuota{checkErr: &quotatracker.LimitExceeded{Type: "message_count", Limit: 10, Current: 10}}
	e := newTestEnforcer(t, upstream.URL, &fakeEngine{decision: abac.Decision{Allow: true}}, quota, &fakeAudit{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor_data/1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestServeHTTP_RedactsConfiguredFields(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ssn":"123-45-6789","name":"Ada"}`))
	}))
	defer upstream.Close()

	e := newTestEnforcer(t, upstream.URL, &fakeEngine{decision: abac.Decision{Allow: true, Redact: []string{"ssn"}}}, nil, &fakeAudit{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor_data/1", nil)
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"[REDACTED]"`)
	assert.Contains(t, rr.Body.String(), `"Ada"`)
}

func TestServeHTTP_BodyTooLarge(t *testing.T) {
	e := newTestEnforcer(t, "http://example.invalid", &fakeEngine{decision: abac.Decision{Allow: true}}, nil, &fakeAudit{}, nil)
	e.cfg.MaxBodyBytes = 4

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sensor_data", httptest.NewRequest(http.MethodPost, "/", nil).Body)
	req.ContentLength = 1000
	req.Header.Set("X-Tenant-ID", "tenant-a")
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestServeHTTP_NoIdentitySourceIsUnauthorized(t *testing.T) {
	e := newTestEnforcer(t, "http://example.invalid", &fakeEngine{decision: abac.Decision{Allow: true}}, nil, &fakeAudit{}, nil)
	e.cfg.Identity = IdentityConfig{}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sensor_data/1", nil)
	rr := httptest.NewRecorder()

	e.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
