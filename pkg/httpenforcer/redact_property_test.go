//go:build property
// +build property

package httpenforcer

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Redaction must be idempotent: applying the same path set twice yields
// the same document as applying it once.
func TestRedactJSONIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("apply(apply(D,P),P) == apply(D,P)", prop.ForAll(
		func(keys []string, values []string, pathKeys []string) bool {
			doc := make(map[string]any)
			for i := 0; i < len(keys) && i < len(values); i++ {
				if keys[i] == "" {
					continue
				}
				if i%2 == 0 {
					doc[keys[i]] = map[string]any{"leaf": values[i]}
				} else {
					doc[keys[i]] = values[i]
				}
			}
			paths := make([]string, 0, len(pathKeys))
			for _, k := range pathKeys {
				if k != "" {
					paths = append(paths, k)
					paths = append(paths, k+".leaf")
				}
			}

			RedactJSON(doc, paths)
			once := deepCopy(doc)
			RedactJSON(doc, paths)
			return reflect.DeepEqual(once, doc)
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

func deepCopy(doc map[string]any) map[string]any {
	raw, _ := json.Marshal(doc)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}
