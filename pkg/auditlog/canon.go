// Package auditlog canonically signs audit log records with HMAC-SHA256 and
// drives their per-tenant durable storage and deferred batch upload.
package auditlog

import (
	"fmt"

	"github.com/Mindburn-Labs/edgepolicy/pkg/canon"
)

// sortedJSON canonicalizes v with all object keys recursively sorted, so
// that two semantically equal values with differently-ordered maps
// canonicalize to identical bytes.
func sortedJSON(v any) ([]byte, error) {
	s, err := canon.SortedJSON(v)
	if err != nil {
		return nil, fmt.Errorf("auditlog: canonicalize: %w", err)
	}
	return []byte(s), nil
}

// sortedJSONString is sortedJSON rendered as a string, empty string if v is
// nil (used for optional nested documents like resource/environment that
// may be absent on some protocols).
func sortedJSONString(v any) string {
	if v == nil {
		return ""
	}
	b, err := sortedJSON(v)
	if err != nil {
		return ""
	}
	return string(b)
}
