package httpenforcer

import (
	"net/http"
	"strings"
	"time"

	"github.com/Mindburn-Labs/edgepolicy/pkg/abac"
)

// skipSegments are path segments ignored when locating the resource type
// segment (an API version prefix).
var skipSegments = map[string]bool{"api": true, "v1": true, "v2": true}

// actionForMethod maps an HTTP method to the ABAC action vocabulary.
func actionForMethod(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return "read"
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return "write"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// resourceTypeAndID walks path, skipping leading api/v1/v2 segments, and
// returns the first remaining segment as the resource type and the next as
// its id (empty if absent).
func resourceTypeAndID(path string) (resourceType, resourceID string) {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		segments = append(segments, seg)
	}

	i := 0
	for i < len(segments) && skipSegments[segments[i]] {
		i++
	}
	if i < len(segments) {
		resourceType = segments[i]
	}
	if i+1 < len(segments) {
		resourceID = segments[i+1]
	}
	return resourceType, resourceID
}

// BuildInput assembles the ABAC input document for r under tc, per the
// method-to-action mapping, path-derived resource type/id, and the region,
// classification, and id overrides carried on query parameters and
// headers. bandwidthUsed is the tenant's current accounted usage, zero if
// no quota tracker is configured.
func BuildInput(r *http.Request, tc *TenantContext, bandwidthUsed int64) abac.Input {
	resourceType, resourceID := resourceTypeAndID(r.URL.Path)

	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		resourceID = id
	}

	region := q.Get("region")
	if h := r.Header.Get("X-Region"); h != "" {
		region = h
	}

	classification := q.Get("class")
	if classification == "" {
		classification = q.Get("classification")
	}
	if h := r.Header.Get("X-Classification"); h != "" {
		classification = h
	}

	country := r.Header.Get("X-Geo-Country")

	return abac.Input{
		Subject: abac.Subject{
			TenantID: tc.TenantID,
			UserID:   tc.UserID,
			Roles:    tc.Roles,
		},
		Action: actionForMethod(r.Method),
		Resource: abac.Resource{
			Type:           resourceType,
			ID:             resourceID,
			Classification: classification,
			Region:         region,
		},
		Environment: abac.Environment{
			Time:          time.Now().UTC(),
			Country:       country,
			BandwidthUsed: bandwidthUsed,
		},
	}
}
