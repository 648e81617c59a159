package bundlestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundles.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_MonotonicVersioning(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r1, err := s.Store(ctx, "acme", "package tenants.acme\n", "", StatusDraft)
	require.NoError(t, err)
	require.Equal(t, int64(1), r1.Version)

	r2, err := s.Store(ctx, "acme", "package tenants.acme\n", "", StatusDraft)
	require.NoError(t, err)
	require.Equal(t, int64(2), r2.Version)

	other, err := s.Store(ctx, "other", "package tenants.other\n", "", StatusDraft)
	require.NoError(t, err)
	require.Equal(t, int64(1), other.Version)
}

func TestStore_ActivateIsAtomicAndExclusive(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	r1, err := s.Store(ctx, "acme", "v1", "", StatusDraft)
	require.NoError(t, err)
	r2, err := s.Store(ctx, "acme", "v2", "", StatusDraft)
	require.NoError(t, err)

	require.NoError(t, s.Activate(ctx, r1.BundleID))
	active, err := s.GetActive(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, r1.BundleID, active.BundleID)

	require.NoError(t, s.Activate(ctx, r2.BundleID))
	active, err = s.GetActive(ctx, "acme")
	require.NoError(t, err)
	require.Equal(t, r2.BundleID, active.BundleID)

	got1, err := s.GetByID(ctx, r1.BundleID)
	require.NoError(t, err)
	require.Equal(t, StatusInactive, got1.Status)
}

func TestStore_ActivateUnknownBundleErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.Activate(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestStore_ListByTenantVersionDescending(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Store(ctx, "acme", "v1", "", StatusDraft)
	require.NoError(t, err)
	_, err = s.Store(ctx, "acme", "v2", "", StatusDraft)
	require.NoError(t, err)
	_, err = s.Store(ctx, "acme", "v3", "", StatusDraft)
	require.NoError(t, err)

	list, err := s.ListByTenant(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, int64(3), list[0].Version)
	require.Equal(t, int64(2), list[1].Version)
	require.Equal(t, int64(1), list[2].Version)
}

func TestStore_ArchiveUnknownBundleErrors(t *testing.T) {
	s := openTestStore(t)
	err := s.Archive(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrBundleNotFound)
}

func TestStore_RoundTripByteIdentical(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	src := "package tenants.acme\ndefault allow = false\n"
	r, err := s.Store(ctx, "acme", src, `{"author":"a"}`, StatusDraft)
	require.NoError(t, err)

	got, err := s.GetByID(ctx, r.BundleID)
	require.NoError(t, err)
	require.Equal(t, src, got.RuleSource)
	require.Equal(t, `{"author":"a"}`, got.Metadata)
}
