// Package canon provides recursive key-sorted JSON serialization used to
// build the canonical per-field representation audit logs are signed over.
//
// Unlike a whole-document JCS canonicalizer, each field here is
// independently sorted and then pipe-joined by the caller (see pkg/auditlog),
// matching the source system's canonical payload construction.
package canon

import (
	"bytes"
	"encoding/json"
	"sort"
)

// SortedJSON marshals v with all object keys recursively sorted
// lexicographically. A nil v marshals to "null".
func SortedJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := encodeSorted(&buf, generic); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func encodeSorted(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeSorted(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeSorted(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		// Encoder.Encode appends a trailing newline; trim it.
		var tmp bytes.Buffer
		tmpEnc := json.NewEncoder(&tmp)
		tmpEnc.SetEscapeHTML(false)
		if err := tmpEnc.Encode(val); err != nil {
			return err
		}
		buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
		return nil
	}
}
