// Package ruleengine compiles per-tenant Rego rule bundles into an
// immutable, cheaply clonable evaluation handle and evaluates ABAC input
// documents against it under a hard wall-clock deadline.
package ruleengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/open-policy-agent/opa/rego"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
)

// EvalDeadline is the hard wall-clock ceiling every evaluation runs under.
// Exceeding it yields ErrTimeout, never an allow.
const EvalDeadline = 10 * time.Millisecond

var (
	// ErrInvalidPolicy is returned when rule sources fail to parse/compile,
	// or the entry point does not resolve after load.
	ErrInvalidPolicy = errors.New("ruleengine: invalid policy")
	// ErrTimeout is returned when evaluation exceeds EvalDeadline.
	ErrTimeout = errors.New("ruleengine: evaluation timeout")
	// ErrEvaluationFailed is returned for any other runtime evaluation error.
	ErrEvaluationFailed = errors.New("ruleengine: evaluation failed")
)

// Engine is an immutable, compiled rule set for one tenant plus its derived
// entry point. It performs no I/O and is safe for concurrent evaluation.
type Engine struct {
	tenantID   string
	entrypoint string
	prepared   rego.PreparedEvalQuery
}

// Compile parses and links ruleSources (unit name -> Rego module source)
// for tenantID, optionally merging data under data.tenants.<tenant_id>, and
// verifies the entry point data.tenants.<tenant_id>.allow resolves.
func Compile(ctx context.Context, tenantID string, ruleSources map[string]string, data map[string]any) (*Engine, error) {
	if err := abac.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if len(ruleSources) == 0 {
		return nil, fmt.Errorf("%w: no rule units supplied", ErrInvalidPolicy)
	}

	entrypoint := fmt.Sprintf("data.tenants.%s.allow", tenantID)

	opts := []func(*rego.Rego){
		rego.Query(entrypoint),
	}
	for name, src := range ruleSources {
		opts = append(opts, rego.Module(name, src))
	}
	if len(data) > 0 {
		namespaced := map[string]any{"tenants": map[string]any{tenantID: data}}
		store, err := newInmemStore(namespaced)
		if err != nil {
			return nil, fmt.Errorf("%w: data document: %v", ErrInvalidPolicy, err)
		}
		opts = append(opts, rego.Store(store))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	eng := &Engine{tenantID: tenantID, entrypoint: entrypoint, prepared: prepared}
	if err := eng.verifyEntrypoint(ctx); err != nil {
		return nil, err
	}
	return eng, nil
}

// verifyEntrypoint evaluates the entry point with an empty input and errors
// if the result set is empty (the rego analogue of "undefined").
func (e *Engine) verifyEntrypoint(ctx context.Context) error {
	rs, err := e.prepared.Eval(ctx, rego.EvalInput(map[string]any{}))
	if err != nil {
		return fmt.Errorf("%w: entrypoint %s: %v", ErrInvalidPolicy, e.entrypoint, err)
	}
	if len(rs) == 0 {
		return fmt.Errorf("%w: entrypoint %s did not resolve", ErrInvalidPolicy, e.entrypoint)
	}
	return nil
}

// TenantID returns the tenant this engine was compiled for.
func (e *Engine) TenantID() string { return e.tenantID }

// Evaluate runs input against the engine's entry point under EvalDeadline,
// on a goroutine that does not block the caller's own scheduling context.
func Evaluate(ctx context.Context, e *Engine, input abac.Input) (abac.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, EvalDeadline)
	defer cancel()

	type result struct {
		decision abac.Decision
		err      error
	}
	done := make(chan result, 1)

	go func() {
		doc, err := toDocument(input)
		if err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrEvaluationFailed, err)}
			return
		}
		rs, err := e.prepared.Eval(ctx, rego.EvalInput(doc))
		if err != nil {
			done <- result{err: fmt.Errorf("%w: %v", ErrEvaluationFailed, err)}
			return
		}
		done <- result{decision: decodeResult(rs)}
	}()

	select {
	case <-ctx.Done():
		return abac.Decision{Allow: false}, ErrTimeout
	case r := <-done:
		return r.decision, r.err
	}
}

// decodeResult implements the three-way decision decode: boolean, object,
// or anything else (rendered as a deny with a fixed reason).
func decodeResult(rs rego.ResultSet) abac.Decision {
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return abac.Decision{Allow: false, Reason: "policy returned undefined result"}
	}
	val := rs[0].Expressions[0].Value

	switch v := val.(type) {
	case bool:
		return abac.Decision{Allow: v}
	case map[string]any:
		d := abac.Decision{}
		if b, ok := v["allow"].(bool); ok {
			d.Allow = b
		}
		if arr, ok := v["redact"].([]any); ok && len(arr) > 0 {
			d.Redact = toStringSlice(arr)
		}
		if reason, ok := v["reason"].(string); ok {
			d.Reason = reason
		}
		if arr, ok := v["redact_fields"].([]any); ok {
			d.RedactFields = toStringSlice(arr)
		}
		if arr, ok := v["remove_fields"].([]any); ok {
			d.RemoveFields = toStringSlice(arr)
		}
		if b, ok := v["strip_coordinates"].(bool); ok {
			d.StripCoordinates = b
		}
		return d
	default:
		return abac.Decision{Allow: false, Reason: "policy returned undefined result"}
	}
}

func toStringSlice(arr []any) []string {
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// toDocument converts the ABAC input to the plain map shape rego.EvalInput
// expects, round-tripping through JSON so the Extra protocol-specific
// fields on Resource/Environment are flattened in.
func toDocument(input abac.Input) (map[string]any, error) {
	return jsonRoundTrip(input)
}
