package bundleapi

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/edgepolicy/pkg/bundlestore"
)

func newTestAPI(t *testing.T) (*API, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bundles.db")
	store, err := bundlestore.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	root := t.TempDir()
	return New(store, root), root
}

func createBundle(t *testing.T, api *API, tenantID, source string) recordResponse {
	t.Helper()
	body, _ := json.Marshal(createRequest{TenantID: tenantID, RuleSource: source})
	req := httptest.NewRequest("POST", "/api/bundles", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	require.Equal(t, 201, rr.Code)
	var rec recordResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	return rec
}

func TestCreateAndGet(t *testing.T) {
	api, _ := newTestAPI(t)
	rec := createBundle(t, api, "tenant-a", "package tenants.tenant_a\nallow = true")
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "draft", rec.Status)

	req := httptest.NewRequest("GET", "/api/bundles/"+rec.BundleID, nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)
}

func TestActivate_PublishesFileAndReplacesPriorVersion(t *testing.T) {
	api, root := newTestAPI(t)
	v1 := createBundle(t, api, "tenant-a", "package tenants.tenant_a\nallow = true")

	req := httptest.NewRequest("POST", "/api/bundles/"+v1.BundleID+"/activate", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	policyPath := filepath.Join(root, "tenant-a", "policy_v1.rego")
	data, err := os.ReadFile(policyPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "allow = true")

	v2 := createBundle(t, api, "tenant-a", "package tenants.tenant_a\nallow = false")
	req = httptest.NewRequest("POST", "/api/bundles/"+v2.BundleID+"/activate", nil)
	rr = httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	_, err = os.ReadFile(policyPath)
	assert.True(t, os.IsNotExist(err), "prior version's rule file must be removed on re-activation")

	data, err = os.ReadFile(filepath.Join(root, "tenant-a", "policy_v2.rego"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "allow = false")
}

func TestActivate_UnknownBundleRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	req := httptest.NewRequest("POST", "/api/bundles/does-not-exist/activate", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	assert.Equal(t, 404, rr.Code)
}

func TestListByTenant_SortedVersionDescending(t *testing.T) {
	api, _ := newTestAPI(t)
	createBundle(t, api, "tenant-a", "v1")
	createBundle(t, api, "tenant-a", "v2")

	req := httptest.NewRequest("GET", "/api/bundles?tenant_id=tenant-a", nil)
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	var recs []recordResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, int64(2), recs[0].Version)
	assert.Equal(t, int64(1), recs[1].Version)
}
