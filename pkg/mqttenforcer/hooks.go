package mqttenforcer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
)

// PolicyEngine is the subset of tenantregistry.Registry the adapter needs.
// The tenant's rule package receives the full ABAC input (including
// action=publish|subscribe) at its one generic entry point, so a
// dedicated mqtt/publish or mqtt/subscribe entry point is not required for
// correct branching — tenants that define one are free to route on
// input.action themselves.
type PolicyEngine interface {
	Evaluate(ctx context.Context, tenantID string, input abac.Input) (abac.Decision, error)
}

// QuotaAccountant is the subset of quotatracker.Tracker the adapter needs.
type QuotaAccountant interface {
	Check(ctx context.Context, tenantID string) error
	Increment(ctx context.Context, tenantID string, messages, bytesSent int64) error
}

// AuditDispatcher is the subset of the audit pipeline the adapter needs.
type AuditDispatcher interface {
	Dispatch(ctx context.Context, rec auditlog.Record) error
}

// DecisionPublisher is the subset of decisionbus.Bus the adapter needs.
type DecisionPublisher interface {
	Publish(ev abac.Event)
}

// ErrDenied is returned by HandlePublish/HandleSubscribe when the tenant's
// policy denies the action. The reason is available on the returned
// Result.
var ErrDenied = errors.New("mqttenforcer: denied")

// ErrQuotaExceeded is returned when the quota tracker reports the tenant
// over its limit, short-circuiting before a policy query is made.
var ErrQuotaExceeded = errors.New("mqttenforcer: quota exceeded")

// Config configures one Hooks instance.
type Config struct {
	AllowWildcards bool
}

// Hooks is the broker-agnostic enforcement entry point: HandleConnect,
// HandlePublish, HandleSubscribe, and HandleDisconnect are called directly
// by whatever broker integration or test harness owns the wire protocol.
type Hooks struct {
	cfg      Config
	engine   PolicyEngine
	quota    QuotaAccountant
	audit    AuditDispatcher
	bus      DecisionPublisher
	sessions *SessionStore
	log      *logging.Logger
}

// NewHooks builds a Hooks instance. quota, audit, and bus may be nil to
// disable the corresponding optional stage.
func NewHooks(cfg Config, engine PolicyEngine, quota QuotaAccountant, audit AuditDispatcher, bus DecisionPublisher) *Hooks {
	return &Hooks{
		cfg:      cfg,
		engine:   engine,
		quota:    quota,
		audit:    audit,
		bus:      bus,
		sessions: NewSessionStore(),
		log:      logging.New("mqttenforcer"),
	}
}

// HandleConnect resolves and binds the session's tenant identity. Returns
// an error if identity resolution fails; the broker should refuse the
// connection in that case.
func (h *Hooks) HandleConnect(_ context.Context, p ConnectParams) (*TenantContext, error) {
	tc, err := resolveIdentity(p)
	if err != nil {
		return nil, err
	}
	h.sessions.Bind(p.ClientID, tc)
	return tc, nil
}

// HandleDisconnect releases clientID's session.
func (h *Hooks) HandleDisconnect(_ context.Context, clientID string) {
	h.sessions.Unbind(clientID)
}

// Result is returned by HandlePublish/HandleSubscribe.
type Result struct {
	Allow   bool
	Reason  string
	Payload []byte // transformed payload, publish only
}

// PublishParams carries one publish attempt's parameters.
type PublishParams struct {
	ClientID string
	Topic    string
	Payload  []byte
	QoS      int
	Retain   bool
}

// HandlePublish validates the topic namespace, fast-fails on quota,
// queries the tenant's policy, applies the transform pipeline on allow,
// and accounts the message against the quota tracker.
func (h *Hooks) HandlePublish(ctx context.Context, p PublishParams) (Result, error) {
	tc, ok := h.sessions.Lookup(p.ClientID)
	if !ok {
		return Result{}, ErrNoIdentity
	}

	if err := ValidateTopic(p.Topic, tc.TenantID, h.cfg.AllowWildcards); err != nil {
		return Result{}, err
	}

	if h.quota != nil {
		if err := h.quota.Check(ctx, tc.TenantID); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
	}

	input := abac.Input{
		Subject: abac.Subject{TenantID: tc.TenantID, UserID: tc.UserID, DeviceID: tc.DeviceID},
		Action:  "publish",
		Resource: abac.Resource{
			Type:        "mqtt_topic",
			OwnerTenant: ownerTenant(p.Topic),
			Extra: map[string]any{
				"topic":  p.Topic,
				"qos":    p.QoS,
				"retain": p.Retain,
			},
		},
		Environment: abac.Environment{Time: time.Now().UTC()},
	}

	decision, err := h.engine.Evaluate(ctx, tc.TenantID, input)
	if err != nil {
		return Result{}, err
	}

	h.publish(tc.TenantID, input, decision)
	h.recordAudit(ctx, tc, input, decision, "publish")

	if !decision.Allow {
		return Result{Allow: false, Reason: decision.Reason}, nil
	}

	payload := ApplyTransforms(p.Payload, decision.RedactFields, decision.RemoveFields, decision.Redact, decision.StripCoordinates)

	if h.quota != nil {
		if err := h.quota.Increment(ctx, tc.TenantID, 1, int64(len(payload))); err != nil {
			h.log.Warn(logging.WithTenant(tc.TenantID, "quota increment failed: %v"), err)
		}
	}

	return Result{Allow: true, Payload: payload}, nil
}

// SubscribeParams carries one subscribe attempt's parameters.
type SubscribeParams struct {
	ClientID string
	Filter   string
	QoS      int
}

// HandleSubscribe validates the topic filter and queries policy. No
// payload transformation applies to subscriptions.
func (h *Hooks) HandleSubscribe(ctx context.Context, p SubscribeParams) (Result, error) {
	tc, ok := h.sessions.Lookup(p.ClientID)
	if !ok {
		return Result{}, ErrNoIdentity
	}

	if err := ValidateTopic(p.Filter, tc.TenantID, h.cfg.AllowWildcards); err != nil {
		return Result{}, err
	}

	input := abac.Input{
		Subject: abac.Subject{TenantID: tc.TenantID, UserID: tc.UserID, DeviceID: tc.DeviceID},
		Action:  "subscribe",
		Resource: abac.Resource{
			Type:        "mqtt_topic",
			OwnerTenant: ownerTenant(p.Filter),
			Extra: map[string]any{
				"topic": p.Filter,
				"qos":   p.QoS,
			},
		},
		Environment: abac.Environment{Time: time.Now().UTC()},
	}

	decision, err := h.engine.Evaluate(ctx, tc.TenantID, input)
	if err != nil {
		return Result{}, err
	}

	h.publish(tc.TenantID, input, decision)
	h.recordAudit(ctx, tc, input, decision, "subscribe")

	return Result{Allow: decision.Allow, Reason: decision.Reason}, nil
}

func (h *Hooks) publish(tenantID string, input abac.Input, decision abac.Decision) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(abac.Event{
		EventID:        uuid.New().String(),
		TenantID:       tenantID,
		Timestamp:      time.Now().UTC(),
		Decision:       decision,
		SanitizedInput: abac.SanitizeInput(input, decision.Redact),
	})
}

func (h *Hooks) recordAudit(ctx context.Context, tc *TenantContext, input abac.Input, decision abac.Decision, action string) {
	if h.audit == nil {
		return
	}
	rec := auditlog.Record{
		LogID:       uuid.New().String(),
		TenantID:    tc.TenantID,
		Timestamp:   time.Now().UTC(),
		Decision:    decision.Allow,
		Protocol:    "mqtt",
		Subject:     input.Subject,
		Action:      action,
		Resource:    input.Resource,
		Environment: input.Environment,
		Reason:      decision.Reason,
	}
	if err := h.audit.Dispatch(ctx, rec); err != nil {
		h.log.Warn(logging.WithTenant(tc.TenantID, "audit dispatch failed: %v"), err)
	}
}
