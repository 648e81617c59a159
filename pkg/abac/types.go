// Package abac defines the shared attribute-based access control input and
// decision document types consumed by the rule evaluator, the enforcement
// adapters, the decision bus, and the audit pipeline.
package abac

import (
	"errors"
	"regexp"
	"time"
)

// ErrInvalidTenantID is returned when a tenant identifier fails the format
// invariant: non-empty, at most 64 bytes, ASCII alphanumerics plus - and _.
var ErrInvalidTenantID = errors.New("abac: invalid tenant id")

// ErrTenantMismatch is returned when two independently derived tenant ids
// (e.g. URL-scoped vs. subject-scoped, or mTLS vs. JWT) disagree.
var ErrTenantMismatch = errors.New("abac: tenant id mismatch")

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateTenantID enforces the TenantId invariant from the data model.
func ValidateTenantID(id string) error {
	if id == "" || len(id) > 64 || !tenantIDPattern.MatchString(id) {
		return ErrInvalidTenantID
	}
	return nil
}

// Subject describes the caller making the request.
type Subject struct {
	TenantID       string   `json:"tenant_id"`
	UserID         string   `json:"user_id,omitempty"`
	DeviceID       string   `json:"device_id,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	ClearanceLevel string   `json:"clearance_level,omitempty"`
}

// Resource describes the thing being acted on. Extra carries
// protocol-specific fields (e.g. topic, qos, retain for MQTT).
type Resource struct {
	Type           string         `json:"type"`
	ID             string         `json:"id,omitempty"`
	Classification string         `json:"classification,omitempty"`
	Region         string         `json:"region,omitempty"`
	OwnerTenant    string         `json:"owner_tenant,omitempty"`
	Extra          map[string]any `json:"-"`
}

// Environment describes ambient conditions at evaluation time.
type Environment struct {
	Time          time.Time      `json:"time"`
	Country       string         `json:"country,omitempty"`
	Network       string         `json:"network,omitempty"`
	RiskScore     float64        `json:"risk_score,omitempty"`
	BandwidthUsed int64          `json:"bandwidth_used,omitempty"`
	Extra         map[string]any `json:"-"`
}

// Input is the ABAC input document submitted to the rule evaluator.
type Input struct {
	Subject     Subject     `json:"subject"`
	Action      string      `json:"action"`
	Resource    Resource    `json:"resource"`
	Environment Environment `json:"environment"`
}

// Validate enforces that the input's subject tenant matches the URL-scoped
// tenant the query was issued against.
func (in Input) Validate(urlTenantID string) error {
	if err := ValidateTenantID(in.Subject.TenantID); err != nil {
		return err
	}
	if in.Subject.TenantID != urlTenantID {
		return ErrTenantMismatch
	}
	return nil
}

// Decision is the rule evaluator's verdict, optionally carrying
// transformation directives. When Allow is false, directives must be
// ignored by every caller.
type Decision struct {
	Allow            bool     `json:"allow"`
	Redact           []string `json:"redact,omitempty"`
	Reason           string   `json:"reason,omitempty"`
	RedactFields     []string `json:"redact_fields,omitempty"`
	RemoveFields     []string `json:"remove_fields,omitempty"`
	StripCoordinates bool     `json:"strip_coordinates,omitempty"`
}

// Metrics accompanies a Decision when returned over the policy query
// HTTP endpoint.
type Metrics struct {
	EvalDurationMicros int64  `json:"eval_duration_micros"`
	TenantID           string `json:"tenant_id"`
}

// Event is a DecisionEvent published on the decision bus.
type Event struct {
	EventID        string         `json:"event_id"`
	TenantID       string         `json:"tenant_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Decision       Decision       `json:"decision"`
	SanitizedInput map[string]any `json:"sanitized_input"`
	Metrics        Metrics        `json:"metrics"`
}
