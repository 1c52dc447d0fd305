package audit

import (
	"encoding/json"
	"math"
	"reflect"
	"strconv"
)

// ComputeChanges returns the transitions for keys present in both snapshots
// whose values differ. Keys only on one side are not changes. The result is
// nil when either snapshot is missing.
func ComputeChanges(before, after Fields) map[string]Change {
	if before == nil || after == nil {
		return nil
	}
	changes := make(map[string]Change)
	for key, from := range before {
		to, ok := after[key]
		if !ok {
			continue
		}
		if !equalValues(from, to) {
			changes[key] = Change{From: from, To: to}
		}
	}
	return changes
}

// equalValues compares JSON-like values, treating numeric kinds as equal when
// they hold the same number so a snapshot decoded from JSON (float64) matches
// one built in Go (int). Integers compare exactly; a float equals an integer
// only when it is integral and the conversion is exact.
func equalValues(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize maps every number onto one of three canonical kinds: int64 for
// integers in its range, uint64 for integers above it, float64 otherwise.
func normalize(v any) any {
	switch t := v.(type) {
	case Fields:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = normalize(item)
		}
		return out
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return normalizeFloat(float64(t))
	case float64:
		return normalizeFloat(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return normalizeUint(u)
		}
		if f, err := t.Float64(); err == nil {
			return normalizeFloat(f)
		}
		return string(t)
	default:
		return v
	}
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

const (
	two63 = float64(1 << 63)
	two64 = two63 * 2
)

func normalizeFloat(f float64) any {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return f
	}
	switch {
	case f >= -two63 && f < two63:
		return int64(f)
	case f >= two63 && f < two64:
		return uint64(f)
	default:
		return f
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}
