// Package tenantregistry holds one compiled rule engine per tenant and
// provides atomic swap-on-reload semantics: a reload is built and verified
// before the prior engine is replaced, so any single evaluate call observes
// exactly one engine.
package tenantregistry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/bundleloader"
	"github.com/Mindburn-Labs/edgepolicy/pkg/logging"
	"github.com/Mindburn-Labs/edgepolicy/pkg/ruleengine"
)

// ErrTenantNotFound is returned by Evaluate for an unregistered tenant,
// without attempting any disk I/O.
var ErrTenantNotFound = errors.New("tenantregistry: tenant not found")

// Registry maps tenant id to its current compiled engine.
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]*ruleengine.Engine
	bundlesRoot string
	log         *logging.Logger
}

// New creates a registry that loads tenant bundles from bundlesRoot.
func New(bundlesRoot string) *Registry {
	return &Registry{
		engines:     make(map[string]*ruleengine.Engine),
		bundlesRoot: bundlesRoot,
		log:         logging.New("tenantregistry"),
	}
}

// LoadAllTenants enumerates bundlesRoot and loads each subdirectory as a
// tenant in parallel. Per-tenant failures are logged and do not abort
// startup.
func (r *Registry) LoadAllTenants(ctx context.Context) error {
	entries, err := os.ReadDir(r.bundlesRoot)
	if err != nil {
		return fmt.Errorf("tenantregistry: read bundles root %s: %w", r.bundlesRoot, err)
	}

	var wg sync.WaitGroup
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		tenantID := entry.Name()
		wg.Add(1)
		go func(tenantID string) {
			defer wg.Done()
			if err := r.ReloadTenant(ctx, tenantID); err != nil {
				r.log.Warn(logging.WithTenant(tenantID, "initial load failed: %v"), err)
			}
		}(tenantID)
	}
	wg.Wait()
	return nil
}

// ReloadTenant builds and verifies a fresh engine for tenantID from its
// bundle directory, then atomically swaps it in. On failure the prior
// engine, if any, is left intact.
func (r *Registry) ReloadTenant(ctx context.Context, tenantID string) error {
	if err := abac.ValidateTenantID(tenantID); err != nil {
		return err
	}

	dir := filepath.Join(r.bundlesRoot, tenantID)
	bundle, err := bundleloader.Load(dir)
	if err != nil {
		return err
	}

	engine, err := ruleengine.Compile(ctx, tenantID, bundle.RuleSources, bundle.Data)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.engines[tenantID] = engine
	r.mu.Unlock()
	return nil
}

// Evaluate looks up tenantID's current engine and evaluates input against
// it. Returns ErrTenantNotFound without I/O if the tenant is unregistered.
func (r *Registry) Evaluate(ctx context.Context, tenantID string, input abac.Input) (abac.Decision, error) {
	r.mu.RLock()
	engine, ok := r.engines[tenantID]
	r.mu.RUnlock()
	if !ok {
		return abac.Decision{}, ErrTenantNotFound
	}
	return ruleengine.Evaluate(ctx, engine, input)
}

// ListTenants returns the currently registered tenant ids.
func (r *Registry) ListTenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.engines))
	for id := range r.engines {
		out = append(out, id)
	}
	return out
}
