package httpenforcer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionForMethod(t *testing.T) {
	assert.Equal(t, "read", actionForMethod(http.MethodGet))
	assert.Equal(t, "read", actionForMethod(http.MethodHead))
	assert.Equal(t, "write", actionForMethod(http.MethodPost))
	assert.Equal(t, "write", actionForMethod(http.MethodPatch))
	assert.Equal(t, "delete", actionForMethod(http.MethodDelete))
}

func TestResourceTypeAndID_SkipsVersionPrefix(t *testing.T) {
	rt, id := resourceTypeAndID("/api/v1/sensor_data/42")
	assert.Equal(t, "sensor_data", rt)
	assert.Equal(t, "42", id)
}

func TestResourceTypeAndID_NoPrefix(t *testing.T) {
	rt, id := resourceTypeAndID("/devices/abc")
	assert.Equal(t, "devices", rt)
	assert.Equal(t, "abc", id)
}

func TestBuildInput_HeadersOverrideQueryParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v2/sensor_data/1?region=US&class=public", nil)
	req.Header.Set("X-Region", "EU")
	req.Header.Set("X-Classification", "restricted")
	req.Header.Set("X-Geo-Country", "DE")

	tc := &TenantContext{TenantID: "tenant-a", Roles: []string{"reader"}}
	input := BuildInput(req, tc, 1024)

	assert.Equal(t, "tenant-a", input.Subject.TenantID)
	assert.Equal(t, "read", input.Action)
	assert.Equal(t, "sensor_data", input.Resource.Type)
	assert.Equal(t, "1", input.Resource.ID)
	assert.Equal(t, "EU", input.Resource.Region)
	assert.Equal(t, "restricted", input.Resource.Classification)
	assert.Equal(t, "DE", input.Environment.Country)
	assert.Equal(t, int64(1024), input.Environment.BandwidthUsed)
}
