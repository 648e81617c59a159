package auditlog_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
	"github.com/Mindburn-Labs/edgepolicy/pkg/auditlog"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901"))
}

func sampleRecord() auditlog.Record {
	return auditlog.Record{
		LogID:     "log-1",
		TenantID:  "tenant-a",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Decision:  true,
		Protocol:  "http",
		Subject: abac.Subject{
			TenantID: "tenant-a",
			UserID:   "u-1",
			Roles:    []string{"reader", "writer"},
		},
		Action: "read",
		Resource: abac.Resource{
			Type:   "sensor_data",
			Region: "EU",
			Extra:  map[string]any{"owner_tenant": "tenant-a"},
		},
		Environment: abac.Environment{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
}

func TestSignVerify_RoundTrips(t *testing.T) {
	signer, err := auditlog.NewSigner(testKey())
	require.NoError(t, err)

	rec := sampleRecord()
	rec.Signature = signer.Sign(rec)

	ok, err := signer.Verify(rec)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSign_KeyOrderIndependent(t *testing.T) {
	signer, err := auditlog.NewSigner(testKey())
	require.NoError(t, err)

	a := sampleRecord()
	b := sampleRecord()
	// Rebuild b's Resource.Extra as a separate map with the same content;
	// the canonical form sorts JSON keys recursively, so the signatures
	// must match.
	b.Resource.Extra = map[string]any{"owner_tenant": "tenant-a"}

	sigA := signer.Sign(a)
	sigB := signer.Sign(b)
	assert.Equal(t, sigA, sigB)
}

func TestSign_DifferentContentDiffers(t *testing.T) {
	signer, err := auditlog.NewSigner(testKey())
	require.NoError(t, err)

	a := sampleRecord()
	b := sampleRecord()
	b.Reason = "changed"

	assert.NotEqual(t, signer.Sign(a), signer.Sign(b))
}

func TestNewSigner_RejectsShortKey(t *testing.T) {
	_, err := auditlog.NewSigner("tooshort")
	assert.ErrorIs(t, err, auditlog.ErrKeyTooShort)
}

func TestStore_WriteQueryMarkUploaded(t *testing.T) {
	ctx := context.Background()
	store, err := auditlog.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	signer, err := auditlog.NewSigner(testKey())
	require.NoError(t, err)

	recA := sampleRecord()
	recA.LogID = "log-a"
	recA.Signature = signer.Sign(recA)
	recB := sampleRecord()
	recB.LogID = "log-b"
	recB.Timestamp = recA.Timestamp.Add(time.Minute)
	recB.Signature = signer.Sign(recB)

	require.NoError(t, store.Write(ctx, recA))
	require.NoError(t, store.Write(ctx, recB))

	all, err := store.Query(ctx, "tenant-a", auditlog.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "log-b", all[0].LogID) // newest first

	unuploaded, err := store.Unuploaded(ctx, "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, unuploaded, 2)

	require.NoError(t, store.MarkUploaded(ctx, "tenant-a", []string{"log-a"}))
	// Idempotent re-mark is a no-op, not an error.
	require.NoError(t, store.MarkUploaded(ctx, "tenant-a", []string{"log-a"}))

	remaining, err := store.Unuploaded(ctx, "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "log-b", remaining[0].LogID)
}

func TestStore_PurgeOlderThanKeepsUnuploaded(t *testing.T) {
	ctx := context.Background()
	store, err := auditlog.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	old := sampleRecord()
	old.LogID = "log-old"
	old.Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	oldUnuploaded := sampleRecord()
	oldUnuploaded.LogID = "log-old-pending"
	oldUnuploaded.Timestamp = old.Timestamp
	fresh := sampleRecord()
	fresh.LogID = "log-fresh"
	fresh.Timestamp = time.Now().UTC()

	require.NoError(t, store.Write(ctx, old))
	require.NoError(t, store.Write(ctx, oldUnuploaded))
	require.NoError(t, store.Write(ctx, fresh))
	require.NoError(t, store.MarkUploaded(ctx, "tenant-a", []string{"log-old", "log-fresh"}))

	purged, err := store.PurgeOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	all, err := store.Query(ctx, "tenant-a", auditlog.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	ids := []string{all[0].LogID, all[1].LogID}
	assert.ElementsMatch(t, []string{"log-fresh", "log-old-pending"}, ids)
}

func TestUploader_MarksBatchUploadedOn2xx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received [][]map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch []map[string]any
		_ = json.NewDecoder(r.Body).Decode(&batch)
		received = append(received, batch)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store, err := auditlog.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	signer, err := auditlog.NewSigner(testKey())
	require.NoError(t, err)
	rec := sampleRecord()
	rec.Signature = signer.Sign(rec)
	require.NoError(t, store.Write(ctx, rec))

	uploader := auditlog.NewUploader(store, srv.URL, 10)
	uploader.Run(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		remaining, err := store.Unuploaded(ctx, "tenant-a", 10)
		return err == nil && len(remaining) == 0
	}, time.Second, 10*time.Millisecond)

	assert.NotEmpty(t, received)
}

func TestExporter_GeneratesZip(t *testing.T) {
	ctx := context.Background()
	store, err := auditlog.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	signer, err := auditlog.NewSigner(testKey())
	require.NoError(t, err)
	rec := sampleRecord()
	rec.Signature = signer.Sign(rec)
	require.NoError(t, store.Write(ctx, rec))

	exporter := auditlog.NewExporter(store)
	data, checksum, err := exporter.Generate(ctx, auditlog.ExportRequest{TenantID: "tenant-a"})
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Len(t, checksum, 64)
}

func TestExporter_RejectsEmptyTenant(t *testing.T) {
	store, err := auditlog.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exporter := auditlog.NewExporter(store)
	_, _, err = exporter.Generate(context.Background(), auditlog.ExportRequest{})
	assert.ErrorIs(t, err, auditlog.ErrEmptyTenantID)
}
