package quotatracker_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/edgepolicy/pkg/quotatracker"
)

func newTestTracker(t *testing.T) *quotatracker.Tracker {
	t.Helper()
	store, err := quotatracker.Open(filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return quotatracker.New(store, 0, 0, true)
}

func TestIncrement_AccumulatesWithinPeriod(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Increment(ctx, "tenant-a", 1, 100))
	}

	m := tr.Metrics("tenant-a")
	assert.Equal(t, int64(3), m.MessageCount)
	assert.Equal(t, int64(300), m.BytesSent)
}

func TestCheck_LimitExceeded(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.SetLimits(ctx, "tenant-b", 5, 0))
	for i := 0; i < 5; i++ {
		require.NoError(t, tr.Increment(ctx, "tenant-b", 1, 0))
	}

	err := tr.Check(ctx, "tenant-b")
	require.Error(t, err)
	var exceeded *quotatracker.LimitExceeded
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "message_count", exceeded.Type)
	assert.Equal(t, int64(5), exceeded.Limit)
	assert.Equal(t, int64(5), exceeded.Current)
}

func TestCheck_ZeroLimitUnenforced(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		require.NoError(t, tr.Increment(ctx, "tenant-c", 1, 0))
	}
	assert.NoError(t, tr.Check(ctx, "tenant-c"))
}

func TestSetLimits_RejectsNegative(t *testing.T) {
	tr := newTestTracker(t)
	err := tr.SetLimits(context.Background(), "tenant-d", -1, 0)
	assert.ErrorIs(t, err, quotatracker.ErrInvalidLimit)
}

func TestReset_ZeroesCounters(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.Increment(ctx, "tenant-e", 5, 500))
	require.NoError(t, tr.Reset(ctx, "tenant-e"))

	m := tr.Metrics("tenant-e")
	assert.Zero(t, m.MessageCount)
	assert.Zero(t, m.BytesSent)
}

func TestRehydrate_LoadsCurrentPeriodUsage(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "quota.db")
	store, err := quotatracker.Open(dbPath)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SetLimits(ctx, "tenant-f", 10, 0))
	tr := quotatracker.New(store, 0, 0, true)
	require.NoError(t, tr.Increment(ctx, "tenant-f", 3, 0))
	tr.StartFlushLoop(ctx, 0) // a zero interval starts no loop; the flushed value is written directly below
	require.NoError(t, store.Close())

	store2, err := quotatracker.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store2.Close() })

	// Since Increment only updates in-memory state, simulate a flushed value
	// durably before rehydrating a fresh tracker.
	require.NoError(t, store2.SetUsage(ctx, "tenant-f", time.Now().UTC().Format("2006-01-02"), "message_count", 3))

	tr2 := quotatracker.New(store2, 0, 0, true)
	require.NoError(t, tr2.Rehydrate(ctx))

	m := tr2.Metrics("tenant-f")
	assert.Equal(t, int64(3), m.MessageCount)
	assert.Equal(t, int64(10), m.MessageLimit)
}
