package projection

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"projection.dev/projection/protocol"
)

// structural differ between two view-model trees. traversal is
// deterministic: union of keys sorted by string form.

// Diff computes the minimal op list that transforms prev into next.
func Diff(prev map[string]any, next map[string]any) []protocol.PatchOp {
	return diffValue(prev, next, nil)
}

func diffValue(prev any, next any, tokens []string) []protocol.PatchOp {
	if vmEqual(prev, next) {
		return nil
	}
	prevMap, prevIsMap := prev.(map[string]any)
	nextMap, nextIsMap := next.(map[string]any)
	if !prevIsMap || !nextIsMap {
		return []protocol.PatchOp{
			protocol.RequireReplaceOp(protocol.Pointer(tokens...), next),
		}
	}

	keys := map[string]bool{}
	for key := range prevMap {
		keys[key] = true
	}
	for key := range nextMap {
		keys[key] = true
	}
	sortedKeys := maps.Keys(keys)
	slices.Sort(sortedKeys)

	ops := []protocol.PatchOp{}
	for _, key := range sortedKeys {
		keyTokens := append(slices.Clone(tokens), key)
		prevValue, inPrev := prevMap[key]
		nextValue, inNext := nextMap[key]
		switch {
		case !inPrev:
			ops = append(ops, protocol.RequireAddOp(protocol.Pointer(keyTokens...), nextValue))
		case !inNext:
			ops = append(ops, protocol.RequireRemoveOp(protocol.Pointer(keyTokens...)))
		default:
			ops = append(ops, diffValue(prevValue, nextValue, keyTokens)...)
		}
	}
	return ops
}

// DiffAtPaths computes ops only for the given subtrees. The caller asserts
// that everything outside these paths is unchanged.
func DiffAtPaths(prev map[string]any, next map[string]any, paths [][]string) []protocol.PatchOp {
	ops := []protocol.PatchOp{}
	for _, tokens := range paths {
		prevValue, inPrev := vmResolve(prev, tokens)
		nextValue, inNext := vmResolve(next, tokens)
		switch {
		case !inPrev && !inNext:
		case !inPrev:
			ops = append(ops, protocol.RequireAddOp(protocol.Pointer(tokens...), nextValue))
		case !inNext:
			ops = append(ops, protocol.RequireRemoveOp(protocol.Pointer(tokens...)))
		default:
			ops = append(ops, diffValue(prevValue, nextValue, tokens)...)
		}
	}
	return ops
}
