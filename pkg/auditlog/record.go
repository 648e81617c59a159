package auditlog

import (
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
)

// Record is one AuditLog entry: a signed, tamper-evident account of a
// single enforcement decision.
type Record struct {
	LogID         string           `json:"log_id"`
	TenantID      string           `json:"tenant_id"`
	Timestamp     time.Time        `json:"timestamp"`
	Decision      bool             `json:"decision"`
	Protocol      string           `json:"protocol"` // "http" or "mqtt"
	Subject       abac.Subject     `json:"subject"`
	Action        string           `json:"action"`
	Resource      abac.Resource    `json:"resource"`
	Environment   abac.Environment `json:"environment"`
	PolicyVersion string           `json:"policy_version,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Signature     string           `json:"signature,omitempty"`
	Uploaded      bool             `json:"uploaded"`
}

// canonical builds the pipe-joined canonical serialization signed over:
// log_id | tenant_id | timestamp | decision | protocol | subject_json |
// action | resource_json | environment_json | policy_version_str |
// reason_str. Optional scalars render as empty string when absent; every
// JSON field has its keys recursively sorted so nested key ordering never
// changes the signature.
func (r Record) canonical() string {
	fields := []string{
		r.LogID,
		r.TenantID,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatBool(r.Decision),
		r.Protocol,
		sortedJSONString(r.Subject),
		r.Action,
		sortedJSONString(r.Resource),
		sortedJSONString(r.Environment),
		r.PolicyVersion,
		r.Reason,
	}
	return strings.Join(fields, "|")
}
