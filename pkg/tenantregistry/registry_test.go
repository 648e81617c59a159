package tenantregistry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
)

func writeBundle(t *testing.T, root, tenantID, policy string) {
	t.Helper()
	dir := filepath.Join(root, tenantID)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(policy), 0o644))
}

func TestEvaluate_UnknownTenant(t *testing.T) {
	reg := New(t.TempDir())
	_, err := reg.Evaluate(context.Background(), "nope", abac.Input{})
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestReloadAndEvaluate(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme", "package tenants.acme\ndefault allow = false\nallow { input.action == \"read\" }\n")

	reg := New(root)
	require.NoError(t, reg.ReloadTenant(context.Background(), "acme"))

	d, err := reg.Evaluate(context.Background(), "acme", abac.Input{
		Subject: abac.Subject{TenantID: "acme"},
		Action:  "read",
	})
	require.NoError(t, err)
	require.True(t, d.Allow)
}

func TestReloadTenant_FailedReloadKeepsPriorEngine(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme", "package tenants.acme\ndefault allow = true\n")

	reg := New(root)
	require.NoError(t, reg.ReloadTenant(context.Background(), "acme"))

	// Corrupt the bundle: wrong package, entrypoint won't resolve.
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "policy.rego"),
		[]byte("package tenants.someone_else\n"), 0o644))
	err := reg.ReloadTenant(context.Background(), "acme")
	require.Error(t, err)

	d, err := reg.Evaluate(context.Background(), "acme", abac.Input{Subject: abac.Subject{TenantID: "acme"}})
	require.NoError(t, err)
	require.True(t, d.Allow, "prior engine should still be installed")
}

func TestLoadAllTenants_PerTenantFailureDoesNotAbort(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "good", "package tenants.good\ndefault allow = true\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bad"), 0o755)) // no rule files

	reg := New(root)
	require.NoError(t, reg.LoadAllTenants(context.Background()))

	require.Contains(t, reg.ListTenants(), "good")
	require.NotContains(t, reg.ListTenants(), "bad")
}
