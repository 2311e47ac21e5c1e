// Package analysis derives heuristic context from a device's structured
// state: cellular connection health and altitude above ground. Both carry a
// small profile between events through the device's stored state.
package analysis

import (
	"strconv"
	"strings"
)

func valueAt(state map[string]any, path string) any {
	cur := any(state)
	for _, part := range strings.Split(path, ".") {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func floatAt(state map[string]any, path string) (float64, bool) {
	return toFloat(valueAt(state, path))
}

func stringAt(state map[string]any, path string) string {
	s, _ := valueAt(state, path).(string)
	return s
}

// toFloat normalizes numeric state values, which arrive as native ints from
// the transformer or as float64 after a JSON round trip.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func floatSlice(v any) []float64 {
	switch s := v.(type) {
	case []float64:
		return append([]float64(nil), s...)
	case []any:
		out := make([]float64, 0, len(s))
		for _, e := range s {
			if f, ok := toFloat(e); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return nil
}
