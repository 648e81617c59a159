// Package bundleloader reads a tenant bundle directory into the triple the
// rule evaluator compiles: a map of rule-source units, an optional data
// document, and optional metadata. It does not validate policy semantics —
// that is deferred to ruleengine.Compile.
package bundleloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrBundleLoad covers every failure mode: path not a directory, unreadable
// file, or malformed data/metadata JSON.
var ErrBundleLoad = errors.New("bundleloader: load failed")

const ruleExtension = ".rego"

// Bundle is the raw, uncompiled contents of a tenant bundle directory.
type Bundle struct {
	// RuleSources maps root-relative unit name (e.g. "publish/topics.rego")
	// to file contents.
	RuleSources map[string]string
	// Data is the optional data.json document, nil if absent.
	Data map[string]any
	// Metadata is the optional metadata.json document, nil if absent.
	Metadata map[string]any
}

// Load reads dir into a Bundle. dir must be a directory; missing
// data.json/metadata.json are not errors, malformed ones are.
func Load(dir string) (*Bundle, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBundleLoad, dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrBundleLoad, dir)
	}

	sources, err := collectRuleFiles(dir)
	if err != nil {
		return nil, err
	}

	data, err := loadOptionalJSON(filepath.Join(dir, "data.json"))
	if err != nil {
		return nil, err
	}
	metadata, err := loadOptionalJSON(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return nil, err
	}

	return &Bundle{RuleSources: sources, Data: data, Metadata: metadata}, nil
}

// collectRuleFiles recursively collects every *.rego file under dir,
// keyed by its root-relative path.
func collectRuleFiles(dir string) (map[string]string, error) {
	sources := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBundleLoad, path, err)
		}
		if d.IsDir() || filepath.Ext(path) != ruleExtension {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBundleLoad, path, err)
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrBundleLoad, path, err)
		}
		sources[rel] = string(contents)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}

// loadOptionalJSON reads and parses path as a JSON object. A missing file
// is not an error (nil, nil is returned); a malformed one is.
func loadOptionalJSON(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrBundleLoad, path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: malformed json: %v", ErrBundleLoad, path, err)
	}
	return doc, nil
}
