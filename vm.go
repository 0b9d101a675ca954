package projection

import (
	"reflect"
)

// Vm is the json-like view-model tree published to the renderer.
// Values are strings, bools, integers, doubles, lists, or nested mappings.
type Vm = map[string]any

// structural equality over view-model values. numeric types are distinct:
// the integer 1 and the double 1.0 render differently and patch differently.
func vmEqual(a any, b any) bool {
	if am, ok := a.(map[string]any); ok {
		bm, ok := b.(map[string]any)
		if !ok || len(am) != len(bm) {
			return false
		}
		for key, av := range am {
			bv, ok := bm[key]
			if !ok || !vmEqual(av, bv) {
				return false
			}
		}
		return true
	}
	if as, ok := a.([]any); ok {
		bs, ok := b.([]any)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i, av := range as {
			if !vmEqual(av, bs[i]) {
				return false
			}
		}
		return true
	}
	switch b.(type) {
	case map[string]any, []any:
		return false
	}
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}

// resolve a token path inside a view-model tree. a missing intermediate
// node short-circuits to absent.
func vmResolve(root map[string]any, tokens []string) (any, bool) {
	var node any = root
	for _, token := range tokens {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[token]
		if !ok {
			return nil, false
		}
	}
	return node, true
}
