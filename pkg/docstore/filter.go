package docstore

import "reflect"

// FilterSpec maps a metadata field name to the set of values that satisfy
// it. A document matches iff, for every field in the spec, its meta contains
// that field with a value in the given set. Conjunctive across fields; nil
// or empty specs match everything. A nil value set matches nothing for that
// field.
type FilterSpec map[string][]any

// Matches is the engine-agnostic filter evaluator. Backends with native
// filtering must produce results identical to this function; backends
// without it apply it as a post-filter.
func (f FilterSpec) Matches(doc *Document) bool {
	if len(f) == 0 {
		return true
	}
	if doc == nil {
		return false
	}
	for field, allowed := range f {
		v, ok := doc.Meta[field]
		if !ok {
			return false
		}
		if !containsValue(allowed, v) {
			return false
		}
	}
	return true
}

// Apply returns the subset of docs matching the spec, preserving order.
func (f FilterSpec) Apply(docs []*Document) []*Document {
	if len(f) == 0 {
		return docs
	}
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if f.Matches(d) {
			out = append(out, d)
		}
	}
	return out
}

func containsValue(allowed []any, v any) bool {
	for _, a := range allowed {
		if valuesEqual(a, v) {
			return true
		}
	}
	return false
}

// valuesEqual compares filter values against meta values. Numbers compare by
// value across int/float kinds since JSON round trips turn ints into
// float64. Values of non-comparable types never match.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}

	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
