package ruleengine

import (
	"encoding/json"

	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
)

// newInmemStore builds an OPA in-memory data store seeded with doc, used to
// supply the tenant-namespaced data document at compile time.
func newInmemStore(doc map[string]any) (storage.Store, error) {
	return inmem.NewFromObject(doc), nil
}

// jsonRoundTrip converts v to the plain map[string]any/[]any/scalar shape
// OPA's evaluator expects by marshaling then unmarshaling through JSON.
func jsonRoundTrip(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
