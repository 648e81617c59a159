package bundlewatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingReloader struct {
	mu      sync.Mutex
	tenants []string
}

func (r *recordingReloader) ReloadTenant(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants = append(r.tenants, tenantID)
	return nil
}

func (r *recordingReloader) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.tenants...)
}

func TestWatcher_DispatchesReloadForChangedTenant(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme"), 0o755))

	reloader := &recordingReloader{}
	w, err := New(root, reloader, 10*time.Millisecond)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "policy.rego"),
		[]byte("package tenants.acme\n"), 0o644))

	require.Eventually(t, func() bool {
		for _, tid := range reloader.seen() {
			if tid == "acme" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
