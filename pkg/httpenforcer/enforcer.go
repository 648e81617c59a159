package httpenforcer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/quotatracker"
	"github.com/Mindburn-Labs/edgepolicy/pkg/requestid"
)

// PolicyEngine is the subset of tenantregistry.Registry the adapter needs.
type PolicyEngine interface {
	Evaluate(ctx context.Context, tenantID string, input abac.Input) (abac.Decision, error)
}

// QuotaAccountant is the subset of quotatracker.Tracker the adapter needs.
// It is optional: a nil QuotaAccountant disables bandwidth accounting and
// quota-based environment enrichment.
type QuotaAccountant interface {
	Check(ctx context.Context, tenantID string) error
	Increment(ctx context.Context, tenantID string, messages, bytesSent int64) error
	Metrics(tenantID string) quotatracker.Metrics
}

// AuditDispatcher is the subset of the audit pipeline the adapter needs. It
// is optional: a nil AuditDispatcher disables audit logging.
type AuditDispatcher interface {
	Dispatch(ctx context.Context, rec auditlog.Record) error
}

// DecisionPublisher is the subset of decisionbus.Bus the adapter needs. It
// is optional.
type DecisionPublisher interface {
	Publish(ev abac.Event)
}

// hopByHopHeaders are stripped from both the inbound request before
// forwarding and are never copied from the upstream response.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"TE", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Config configures one Enforcer instance.
type Config struct {
	Identity          IdentityConfig
	Upstream          *url.URL
	ForwardAuthHeader bool
	MaxBodyBytes      int64
	PipelineTimeout   time.Duration
}

// Enforcer is the HTTP enforcement adapter: an http.Handler implementing
// the full identity -> ABAC -> policy -> forward -> redact -> account ->
// audit pipeline.
type Enforcer struct {
	cfg       Config
	engine    PolicyEngine
	quota     QuotaAccountant
	auditSink AuditDispatcher
	bus       DecisionPublisher
	log       *logging.Logger
	proxy     *httputil.ReverseProxy
}

// New builds an Enforcer. quota, audit, and bus may be nil to disable the
// corresponding optional stage.
func New(cfg Config, engine PolicyEngine, quota QuotaAccountant, audit AuditDispatcher, bus DecisionPublisher) *Enforcer {
	e := &Enforcer{
		cfg:       cfg,
		engine:    engine,
		quota:     quota,
		auditSink: audit,
		bus:       bus,
		log:       logging.New("httpenforcer"),
	}
	e.proxy = &httputil.ReverseProxy{
		Director:       e.direct,
		ModifyResponse: e.modifyResponse,
		ErrorHandler:   e.proxyError,
	}
	return e
}

// ServeHTTP implements the full per-request pipeline described in the
// adapter's design: identity extraction, ABAC assembly, policy query,
// upstream forwarding with redaction, bandwidth accounting, and audit
// dispatch.
func (e *Enforcer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := requestid.From(r.Context())
	if requestID == "" {
		requestID = uuid.New().String()
	}
	ctx := r.Context()
	if e.cfg.PipelineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.PipelineTimeout)
		defer cancel()
		r = r.WithContext(ctx)
	}

	if e.cfg.MaxBodyBytes > 0 && r.ContentLength > e.cfg.MaxBodyBytes {
		writeBodyTooLarge(w, requestID)
		return
	}

	peerIP := r.RemoteAddr
	if idx := strings.LastIndex(peerIP, ":"); idx != -1 {
		peerIP = peerIP[:idx]
	}

	tc, err := ExtractIdentity(ctx, e.cfg.Identity, r.TLS, r.Header.Get("Authorization"), r.Header.Get("X-Tenant-ID"), peerIP)
	if err != nil {
		writeUnauthorized(w, requestID, err)
		return
	}

	var bandwidthUsed int64
	if e.quota != nil {
		bandwidthUsed = e.quota.Metrics(tc.TenantID).BytesSent
	}

	input := BuildInput(r, tc, bandwidthUsed)
	if err := input.Validate(tc.TenantID); err != nil {
		writeUnauthorized(w, requestID, err)
		return
	}

	var reqBody []byte
	if r.Body != nil {
		limit := e.effectiveMaxBody()
		if e.cfg.MaxBodyBytes > 0 {
			limit++ // one extra byte reveals a body without Content-Length that is over the limit
		}
		reqBody, err = io.ReadAll(io.LimitReader(r.Body, limit))
		if err != nil {
			writeInternalError(w, requestID)
			return
		}
		if e.cfg.MaxBodyBytes > 0 && int64(len(reqBody)) > e.cfg.MaxBodyBytes {
			writeBodyTooLarge(w, requestID)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	if e.quota != nil {
		if err := e.quota.Check(ctx, tc.TenantID); err != nil {
			e.recordAudit(ctx, tc, input, abac.Decision{Allow: false, Reason: "quota exceeded"}, "http")
			writePolicyDenied(w, requestID, "quota exceeded")
			return
		}
	}

	decision, err := e.engine.Evaluate(ctx, tc.TenantID, input)
	if err != nil {
		e.handleEvaluateError(w, requestID, ctx, tc, input, err)
		return
	}

	e.publish(tc.TenantID, input, decision)

	if !decision.Allow {
		e.recordAudit(ctx, tc, input, decision, "http")
		writePolicyDenied(w, requestID, decision.Reason)
		return
	}

	rec := &requestRecording{redact: decision.Redact, requestID: requestID}
	ctx = context.WithValue(ctx, recordingKey{}, rec)
	r = r.WithContext(ctx)

	e.proxy.ServeHTTP(w, r)

	if e.quota != nil {
		respBytes := rec.responseBytes
		go func() {
			bgCtx := context.Background()
			if err := e.quota.Increment(bgCtx, tc.TenantID, 1, int64(len(reqBody))+respBytes); err != nil {
				e.log.Warn(logging.WithTenant(tc.TenantID, "bandwidth accounting failed: %v"), err)
			}
		}()
	}

	e.recordAudit(ctx, tc, input, decision, "http")
}

func (e *Enforcer) effectiveMaxBody() int64 {
	if e.cfg.MaxBodyBytes > 0 {
		return e.cfg.MaxBodyBytes
	}
	return 10 << 20
}

func (e *Enforcer) handleEvaluateError(w http.ResponseWriter, requestID string, ctx context.Context, tc *TenantContext, input abac.Input, err error) {
	switch {
	case isEvalTimeout(err):
		writeEvaluationTimeout(w, requestID)
	case isTenantNotFound(err):
		writeTenantNotFound(w, requestID)
	default:
		writeEnforcerUnreachable(w, requestID)
	}
	e.recordAudit(ctx, tc, input, abac.Decision{Allow: false, Reason: err.Error()}, "http")
}

// isTenantNotFound and isEvalTimeout avoid a hard dependency on the
// registry's and evaluator's sentinel errors, since the adapter depends
// only on the narrow PolicyEngine interface; they match on the well-known
// messages instead.
func isTenantNotFound(err error) bool {
	return strings.Contains(err.Error(), "tenant not found")
}

func isEvalTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "evaluation timeout")
}

func (e *Enforcer) publish(tenantID string, input abac.Input, decision abac.Decision) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(abac.Event{
		EventID:        uuid.New().String(),
		TenantID:       tenantID,
		Timestamp:      time.Now().UTC(),
		Decision:       decision,
		SanitizedInput: abac.SanitizeInput(input, decision.Redact),
	})
}

// recordAudit builds and dispatches an auditlog.Record. Dispatch failures
// are logged, never surfaced to the caller: auditing must not fail a
// request.
func (e *Enforcer) recordAudit(ctx context.Context, tc *TenantContext, input abac.Input, decision abac.Decision, protocol string) {
	if e.auditSink == nil {
		return
	}
	rec := auditlog.Record{
		LogID:       uuid.New().String(),
		TenantID:    tc.TenantID,
		Timestamp:   time.Now().UTC(),
		Decision:    decision.Allow,
		Protocol:    protocol,
		Subject:     input.Subject,
		Action:      input.Action,
		Resource:    input.Resource,
		Environment: input.Environment,
		Reason:      decision.Reason,
	}
	if err := e.auditSink.Dispatch(ctx, rec); err != nil {
		e.log.Warn(logging.WithTenant(tc.TenantID, "audit dispatch failed: %v"), err)
	}
}
