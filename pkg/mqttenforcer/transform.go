package mqttenforcer

import "encoding/json"

// maxTransformDepth bounds the recursive payload walk.
const maxTransformDepth = 10

// coordinateLeafKeys are removed wherever they occur, but their containing
// object is kept even if it becomes empty.
var coordinateLeafKeys = map[string]bool{
	"latitude": true, "longitude": true, "lat": true, "lon": true,
	"lng": true, "gps": true, "coordinates": true,
}

// ApplyTransforms runs the publish transformation pipeline in the required
// order: redact_fields, then remove_fields (and legacy redact), then
// strip_coordinates. Non-JSON payloads are returned unchanged.
func ApplyTransforms(payload []byte, redactFields, removeFields, legacyRedact []string, stripCoordinates bool) []byte {
	if len(redactFields) == 0 && len(removeFields) == 0 && len(legacyRedact) == 0 && !stripCoordinates {
		return payload
	}

	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return payload
	}

	for _, path := range redactFields {
		redactPath(doc, splitPath(path), 0)
	}
	for _, path := range removeFields {
		removePath(doc, splitPath(path), 0)
	}
	for _, path := range legacyRedact {
		removePath(doc, splitPath(path), 0)
	}
	if stripCoordinates {
		stripCoordinatesRecursive(doc, 0)
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return payload
	}
	return out
}

func splitPath(path string) []string {
	var segments []string
	start := 0
	for i := 0; i <= len(path); i++ {
		if i == len(path) || path[i] == '.' {
			if i > start {
				segments = append(segments, path[start:i])
			}
			start = i + 1
		}
	}
	return segments
}

// redactPath walks v following segments and replaces the final key with
// the placeholder. Arrays are transparent to the path: every element is
// visited with the same remaining segments.
func redactPath(v any, segments []string, depth int) {
	if depth > maxTransformDepth || len(segments) == 0 {
		return
	}
	if len(segments) == 1 {
		switch t := v.(type) {
		case map[string]any:
			if _, ok := t[segments[0]]; ok {
				t[segments[0]] = "[REDACTED]"
			}
		case []any:
			for _, item := range t {
				if m, ok := item.(map[string]any); ok {
					if _, ok := m[segments[0]]; ok {
						m[segments[0]] = "[REDACTED]"
					}
				}
			}
		}
		return
	}
	switch t := v.(type) {
	case map[string]any:
		if child, ok := t[segments[0]]; ok {
			redactPath(child, segments[1:], depth+1)
		}
	case []any:
		for _, item := range t {
			redactPath(item, segments, depth+1)
		}
	}
}

// removePath walks v following segments and deletes the final key, with
// the same array traversal as redactPath.
func removePath(v any, segments []string, depth int) {
	if depth > maxTransformDepth || len(segments) == 0 {
		return
	}
	if len(segments) == 1 {
		switch t := v.(type) {
		case map[string]any:
			delete(t, segments[0])
		case []any:
			for _, item := range t {
				if m, ok := item.(map[string]any); ok {
					delete(m, segments[0])
				}
			}
		}
		return
	}
	switch t := v.(type) {
	case map[string]any:
		if child, ok := t[segments[0]]; ok {
			removePath(child, segments[1:], depth+1)
		}
	case []any:
		for _, item := range t {
			removePath(item, segments, depth+1)
		}
	}
}

// stripCoordinatesRecursive removes coordinate leaf keys wherever found
// and descends into location/position containers (and any other nested
// object or array) without removing the containers themselves.
func stripCoordinatesRecursive(v any, depth int) {
	if depth >= maxTransformDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		for k := range t {
			if coordinateLeafKeys[k] {
				delete(t, k)
			}
		}
		for _, child := range t {
			stripCoordinatesRecursive(child, depth+1)
		}
	case []any:
		for _, child := range t {
			stripCoordinatesRecursive(child, depth+1)
		}
	}
}
