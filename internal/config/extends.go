package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/hatchctl/hatch/internal/cerr"
)

// resolveExtendsChain loads the devcontainer.json at path and, if it declares
// "extends", resolves the referenced file(s) first and merges the current
// file over them. Resolution is depth-first: each extends reference is fully
// resolved (including its own extends chain) before later references or the
// current file are merged on top. visiting tracks the absolute paths on the
// current resolution stack so a cycle is detected without needing to hold
// references to the cyclic nodes themselves.
func resolveExtendsChain(path string, visiting []string) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	for _, v := range visiting {
		if v == absPath {
			chain := append(append([]string{}, visiting...), absPath)
			return nil, cerr.New(cerr.ExtendsCycle, "extends cycle: "+strings.Join(chain, " -> "))
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", absPath, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, cerr.Wrap(cerr.ConfigParse, "parsing "+absPath, err)
	}

	refs := extendsRefs(doc["extends"])
	if len(refs) == 0 {
		return doc, nil
	}

	nextVisiting := append(append([]string{}, visiting...), absPath)
	baseDir := filepath.Dir(absPath)

	var merged map[string]any
	for _, ref := range refs {
		refPath := ref
		if !filepath.IsAbs(refPath) {
			refPath = filepath.Join(baseDir, refPath)
		}
		layer, err := resolveExtendsChain(refPath, nextVisiting)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			merged = layer
		} else {
			merged = shallowMergeLayer(merged, layer)
		}
	}

	merged = shallowMergeLayer(merged, doc)
	delete(merged, "extends")
	return merged, nil
}

// extendsRefs normalizes the "extends" field value (string or array of
// strings) into a list of references, in declaration order.
func extendsRefs(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		var out []string
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// shallowMergeLayer merges override over base: scalars and objects are
// shallow-merged key by key (override wins per key), arrays are
// ordered-appended (base entries first, then override's).
func shallowMergeLayer(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if bv, ok := result[k]; ok {
			if barr, isArr := bv.([]any); isArr {
				if oarr, ok2 := v.([]any); ok2 {
					combined := make([]any, 0, len(barr)+len(oarr))
					combined = append(combined, barr...)
					combined = append(combined, oarr...)
					result[k] = combined
					continue
				}
			}
			if bmap, isMap := bv.(map[string]any); isMap {
				if omap, ok2 := v.(map[string]any); ok2 {
					mergedMap := make(map[string]any, len(bmap)+len(omap))
					for kk, vv := range bmap {
						mergedMap[kk] = vv
					}
					for kk, vv := range omap {
						mergedMap[kk] = vv
					}
					result[k] = mergedMap
					continue
				}
			}
		}
		result[k] = v
	}
	return result
}

// applyOverrideConfig applies the --override-config overlay: the same
// shallow-merge/ordered-append rules as an extends layer, but unconditionally
// layered on top regardless of whether the override file itself declares
// "extends".
func applyOverrideConfig(doc map[string]any, overridePath string) (map[string]any, error) {
	overrideLayer, err := resolveExtendsChain(overridePath, nil)
	if err != nil {
		return nil, err
	}
	return shallowMergeLayer(doc, overrideLayer), nil
}
