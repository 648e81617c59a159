package abac

import (
	"encoding/json"
	"time"
)

// MarshalJSON merges Extra protocol-specific fields into the top-level
// resource object so rules can reference e.g. resource.topic directly.
func (r Resource) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": r.Type}
	if r.ID != "" {
		out["id"] = r.ID
	}
	if r.Classification != "" {
		out["classification"] = r.Classification
	}
	if r.Region != "" {
		out["region"] = r.Region
	}
	if r.OwnerTenant != "" {
		out["owner_tenant"] = r.OwnerTenant
	}
	for k, v := range r.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known fields and retains the rest in Extra.
func (r *Resource) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Extra = make(map[string]any)
	for k, v := range raw {
		switch k {
		case "type":
			r.Type, _ = v.(string)
		case "id":
			r.ID, _ = v.(string)
		case "classification":
			r.Classification, _ = v.(string)
		case "region":
			r.Region, _ = v.(string)
		case "owner_tenant":
			r.OwnerTenant, _ = v.(string)
		default:
			r.Extra[k] = v
		}
	}
	return nil
}

// MarshalJSON merges Extra protocol-specific fields into the top-level
// environment object.
func (e Environment) MarshalJSON() ([]byte, error) {
	out := map[string]any{"time": e.Time}
	if e.Country != "" {
		out["country"] = e.Country
	}
	if e.Network != "" {
		out["network"] = e.Network
	}
	if e.RiskScore != 0 {
		out["risk_score"] = e.RiskScore
	}
	if e.BandwidthUsed != 0 {
		out["bandwidth_used"] = e.BandwidthUsed
	}
	for k, v := range e.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes known fields and retains the rest in Extra.
func (e *Environment) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Extra = make(map[string]any)
	for k, v := range raw {
		switch k {
		case "time":
			if s, ok := v.(string); ok {
				if t, err := time.Parse(time.RFC3339, s); err == nil {
					e.Time = t
				}
			}
		case "country":
			e.Country, _ = v.(string)
		case "network":
			e.Network, _ = v.(string)
		case "risk_score":
			if f, ok := v.(float64); ok {
				e.RiskScore = f
			}
		case "bandwidth_used":
			if f, ok := v.(float64); ok {
				e.BandwidthUsed = int64(f)
			}
		default:
			e.Extra[k] = v
		}
	}
	return nil
}
