// Package freshness implements the per-field freshness-tracked state tree.
//
// A freshness tree mirrors the structure of a plain payload, except that every
// scalar leaf is wrapped as {"value": v, "ts": "<stored timestamp>"} recording
// when the value was last observed to change. Inner nodes are plain maps.
// Trees survive JSON round trips, so all operations work on map[string]any.
package freshness

import (
	"math"
	"reflect"
	"time"

	"github.com/hoarderd/hoarderd/internal/timefmt"
)

// Tree is a freshness-annotated payload.
type Tree = map[string]any

// IsLeaf reports whether node is a {value, ts} wrapper rather than an inner node.
func IsLeaf(node map[string]any) bool {
	if len(node) != 2 {
		return false
	}
	_, hasValue := node["value"]
	_, hasTS := node["ts"]
	return hasValue && hasTS
}

// Reconstruct converts a freshness tree back into the plain payload,
// dropping the per-leaf timestamps.
func Reconstruct(tree Tree) map[string]any {
	plain := make(map[string]any, len(tree))
	for k, v := range tree {
		child, ok := v.(map[string]any)
		if !ok {
			// Untracked scalar, kept as-is.
			plain[k] = v
			continue
		}
		if IsLeaf(child) {
			plain[k] = child["value"]
			continue
		}
		plain[k] = Reconstruct(child)
	}
	return plain
}

// Convert wraps every non-nil scalar of a plain payload as a {value, ts} leaf
// carrying the given timestamp. Nil scalars are omitted.
func Convert(plain map[string]any, ts string) Tree {
	tree := make(Tree, len(plain))
	for k, v := range plain {
		if v == nil {
			continue
		}
		if child, ok := v.(map[string]any); ok {
			tree[k] = Convert(child, ts)
			continue
		}
		tree[k] = map[string]any{"value": v, "ts": ts}
	}
	return tree
}

// Update merges a new plain payload onto a base freshness tree. A leaf's
// timestamp advances iff its value changed in this payload; unchanged leaves
// keep their original timestamps, and keys absent from the payload are
// preserved untouched. Neither input is mutated.
func Update(base Tree, plain map[string]any, ts string) Tree {
	next := make(Tree, len(base)+len(plain))
	for k, v := range base {
		next[k] = v
	}

	for k, v := range plain {
		if v == nil {
			// Undefined means "unknown in this record", not deletion.
			continue
		}

		if child, ok := v.(map[string]any); ok {
			baseChild, isMap := next[k].(map[string]any)
			if isMap && !IsLeaf(baseChild) {
				next[k] = Update(baseChild, child, ts)
			} else {
				next[k] = Convert(child, ts)
			}
			continue
		}

		if leaf, isMap := next[k].(map[string]any); isMap && IsLeaf(leaf) && valueEqual(leaf["value"], v) {
			continue
		}
		next[k] = map[string]any{"value": v, "ts": ts}
	}
	return next
}

// Prune removes base keys that are absent from plain, recursing into inner
// nodes. Update keeps base-only keys, so deletions made upstream have to be
// mirrored onto the tree with this before merging. Neither input is mutated.
func Prune(base Tree, plain map[string]any) Tree {
	next := make(Tree, len(base))
	for k, bv := range base {
		pv, ok := plain[k]
		if !ok {
			continue
		}
		if baseChild, isMap := bv.(map[string]any); isMap && !IsLeaf(baseChild) {
			if plainChild, isMap := pv.(map[string]any); isMap {
				next[k] = Prune(baseChild, plainChild)
				continue
			}
		}
		next[k] = bv
	}
	return next
}

// ParseWithAges reconstructs the plain payload and produces a parallel tree
// where each leaf key k becomes k_age_in_seconds relative to now. Untracked
// scalars age as "untracked".
func ParseWithAges(tree Tree, now time.Time) (plain, ages map[string]any) {
	plain = make(map[string]any, len(tree))
	ages = make(map[string]any, len(tree))

	for k, v := range tree {
		child, ok := v.(map[string]any)
		if !ok {
			plain[k] = v
			ages[k+"_age_in_seconds"] = "untracked"
			continue
		}
		if IsLeaf(child) {
			plain[k] = child["value"]
			ages[k+"_age_in_seconds"] = leafAge(child, now)
			continue
		}
		childPlain, childAges := ParseWithAges(child, now)
		plain[k] = childPlain
		ages[k] = childAges
	}
	return plain, ages
}

func leafAge(leaf map[string]any, now time.Time) any {
	tsStr, _ := leaf["ts"].(string)
	ts, err := timefmt.Parse(tsStr)
	if err != nil {
		return "untracked"
	}
	return int64(math.Round(now.Sub(ts).Seconds()))
}

// Diff computes the recursive delta between two plain payloads: changed or
// added keys carry the new value, keys present only in old carry nil, and
// subtrees with no differences collapse to absent.
func Diff(newPlain, oldPlain map[string]any) map[string]any {
	delta := make(map[string]any)

	for k, nv := range newPlain {
		ov, inOld := oldPlain[k]
		if !inOld {
			delta[k] = nv
			continue
		}

		nm, nIsMap := nv.(map[string]any)
		om, oIsMap := ov.(map[string]any)
		if nIsMap && oIsMap {
			if sub := Diff(nm, om); len(sub) > 0 {
				delta[k] = sub
			}
			continue
		}

		if !valueEqual(nv, ov) {
			delta[k] = nv
		}
	}

	for k := range oldPlain {
		if _, inNew := newPlain[k]; !inNew {
			delta[k] = nil
		}
	}
	return delta
}

// valueEqual compares scalar leaf values, treating all numeric types as
// equivalent so that in-memory values survive a JSON round trip unchanged.
func valueEqual(a, b any) bool {
	af, aNum := asFloat(a)
	bf, bNum := asFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !valueEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
