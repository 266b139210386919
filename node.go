package haven

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/copystructure"
)

// Tree is the untyped mapping form of a configuration document: string keys,
// values that are nil, bool, int, float64, string, []any, or nested Trees.
// It is exactly the shape gopkg.in/yaml.v3 produces when decoding into any,
// and the sole interchange format between the engine and the text layer.
type Tree = map[string]any

// copyValue returns a deep copy of an untyped node so that merged or
// passed-through values never alias the caller's data.
func copyValue(v any) any {
	if v == nil {
		return nil
	}
	out, err := copystructure.Copy(v)
	if err != nil {
		// Untyped nodes are plain maps, slices, and scalars; a copy failure
		// means something that is not a node leaked into the tree.
		panic(fmt.Sprintf("haven: cannot copy untyped node of type %T: %v", v, err))
	}
	return out
}

// Merge merges src into dst, mutating dst. Mappings merge recursively; every
// other kind of value in src replaces the value in dst. Merged-in values are
// deep copies, so later mutation of src never shows through dst.
func Merge(dst, src Tree) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				Merge(dm, sm)
				continue
			}
		}
		dst[k] = copyValue(sv)
	}
}

// Flatten converts nested mappings into a single-level mapping with dotted
// keys. Sequences and scalars are kept as leaf values.
func Flatten(t Tree) map[string]any {
	flat := make(map[string]any)
	flattenInto(flat, "", t)
	return flat
}

func flattenInto(flat map[string]any, prefix string, t Tree) {
	for k, v := range t {
		key := joinPath(prefix, k)
		if m, ok := v.(map[string]any); ok {
			flattenInto(flat, key, m)
			continue
		}
		flat[key] = v
	}
}

// Deflatten is the inverse of Flatten: dotted keys become nested mappings.
// Keys are processed in sorted order so the result is deterministic; a key
// whose path runs through a non-mapping value is an error.
func Deflatten(flat map[string]any) (Tree, error) {
	out := make(Tree)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		segs := strings.Split(k, ".")
		cur := out
		for _, seg := range segs[:len(segs)-1] {
			next, ok := cur[seg]
			if !ok {
				m := make(Tree)
				cur[seg] = m
				cur = m
				continue
			}
			m, ok := next.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: key %q collides with a non-mapping value at %q", ErrInvalidPath, k, seg)
			}
			cur = m
		}
		cur[segs[len(segs)-1]] = flat[k]
	}
	return out, nil
}

// setPath assigns v at the dotted path, creating intermediate mappings as
// needed. Intermediate values that are not mappings are replaced, matching
// the override-wins behavior of Merge.
func setPath(t Tree, segs []string, v any) {
	cur := t
	for _, seg := range segs[:len(segs)-1] {
		m, ok := cur[seg].(map[string]any)
		if !ok {
			m = make(Tree)
			cur[seg] = m
		}
		cur = m
	}
	cur[segs[len(segs)-1]] = v
}
