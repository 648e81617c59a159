package abac

import (
	"encoding/json"
	"strings"
)

// sanitizeMaxDepth bounds the nested-depth walk when masking input
// documents for decision events.
const sanitizeMaxDepth = 10

// RedactedPlaceholder replaces the value at every masked path.
const RedactedPlaceholder = "[REDACTED]"

// SanitizeInput renders in as a document with every path in redact masked
// to the fixed placeholder, both from the document root and at any nested
// depth. With no redact paths the document is returned unmasked.
func SanitizeInput(in Input, redact []string) map[string]any {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	for _, path := range redact {
		segments := strings.Split(path, ".")
		maskPath(doc, segments)
		maskAtAnyDepth(doc, segments, 0)
	}
	return doc
}

func maskAtAnyDepth(v any, segments []string, depth int) {
	if depth >= sanitizeMaxDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		maskPath(t, segments)
		for _, child := range t {
			maskAtAnyDepth(child, segments, depth+1)
		}
	case []any:
		for _, child := range t {
			maskAtAnyDepth(child, segments, depth+1)
		}
	}
}

func maskPath(obj map[string]any, segments []string) {
	if len(segments) == 0 {
		return
	}
	cur := obj
	for i, seg := range segments {
		if i == len(segments)-1 {
			if _, ok := cur[seg]; ok {
				cur[seg] = RedactedPlaceholder
			}
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}
