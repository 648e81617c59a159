package httpenforcer

import "strings"

// maxRedactionDepth bounds the nested-depth redaction walk so a malicious
// or pathological response body cannot drive unbounded recursion.
const maxRedactionDepth = 10

// redactedPlaceholder replaces the value at every matched path.
const redactedPlaceholder = "[REDACTED]"

// RedactJSON mutates doc in place, replacing the value at each dot-path in
// paths with the fixed placeholder. A path matches both from the document
// root and at any nested depth (depth-first), up to maxRedactionDepth.
func RedactJSON(doc map[string]any, paths []string) {
	if len(doc) == 0 || len(paths) == 0 {
		return
	}
	for _, path := range paths {
		segments := strings.Split(path, ".")
		redactAtRoot(doc, segments)
		redactAtAnyDepth(doc, segments, 0)
	}
}

// redactAtRoot applies segments starting from doc itself.
func redactAtRoot(doc map[string]any, segments []string) {
	applyPath(doc, segments)
}

// redactAtAnyDepth recurses into every nested object/array looking for a
// position where segments also matches, independent of the root match.
func redactAtAnyDepth(v any, segments []string, depth int) {
	if depth >= maxRedactionDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		applyPath(t, segments)
		for _, child := range t {
			redactAtAnyDepth(child, segments, depth+1)
		}
	case []any:
		for _, child := range t {
			redactAtAnyDepth(child, segments, depth+1)
		}
	}
}

// applyPath descends obj following segments and, if the full path resolves
// to an existing key, replaces its value with the placeholder.
func applyPath(obj map[string]any, segments []string) {
	if len(segments) == 0 {
		return
	}
	cur := obj
	for i, seg := range segments {
		if i == len(segments)-1 {
			if _, ok := cur[seg]; ok {
				cur[seg] = redactedPlaceholder
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
