package docstore

import (
	"sort"
)

// Compare orders two field values. Numbers compare numerically regardless of
// their Go kind and strings compare lexically. ok is false when the values are
// not comparable with each other.
func Compare(a, b any) (cmp int, ok bool) {
	if x, isNum := toFloat(a); isNum {
		y, isNum := toFloat(b)
		if !isNum {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, isStr := a.(string); isStr {
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, isBool := a.(bool); isBool {
		y, isBool := b.(bool)
		if !isBool {
			return 0, false
		}
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	}
	return 0, false
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
	}
	return 0, false
}

// Match reports whether fields satisfy every filter of q.
func Match(fields map[string]any, q Query) bool {
	for _, f := range q.Filters {
		v, present := fields[f.Field]
		if !present {
			return false
		}
		cmp, ok := Compare(v, f.Value)
		if !ok {
			return false
		}
		var pass bool
		switch f.Op {
		case OpEq:
			pass = cmp == 0
		case OpGt:
			pass = cmp > 0
		case OpGte:
			pass = cmp >= 0
		case OpLt:
			pass = cmp < 0
		case OpLte:
			pass = cmp <= 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// Apply evaluates q over docs in memory. docs must be in insertion order; ties
// on OrderBy keep that order. Documents lacking the OrderBy field are dropped.
func Apply(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if !Match(d.Fields, q) {
			continue
		}
		if q.OrderBy != "" {
			if _, ok := d.Fields[q.OrderBy]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			cmp, ok := Compare(out[i].Fields[q.OrderBy], out[j].Fields[q.OrderBy])
			return ok && cmp < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// CloneFields returns a shallow copy of fields.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
