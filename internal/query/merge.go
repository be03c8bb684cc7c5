package query

import "strings"

// MergeFilters deep merges a sanitized client filter onto the caller's base
// conditions. Logical combinators always come from base. Nested objects merge
// recursively, lists are unioned, and any other client value replaces the base
// value. Neither input is modified.
func MergeFilters(base, sanitized Filter) Filter {
	out := cloneFilter(base)

	for key, qv := range sanitized {
		if isLogical(key) {
			continue
		}

		bv, exists := out[key]
		if !exists {
			out[key] = cloneValue(qv)
			continue
		}

		bf, baseIsObject := AsFilter(bv)
		qf, queryIsObject := AsFilter(qv)
		bl, baseIsList := bv.([]any)
		ql, queryIsList := qv.([]any)

		switch {
		case baseIsObject && queryIsObject:
			out[key] = MergeFilters(bf, qf)
		case baseIsList && queryIsList:
			out[key] = union(bl, ql)
		default:
			out[key] = cloneValue(qv)
		}
	}

	return out
}

func union(a, b []any) []any {
	out := make([]any, 0, len(a)+len(b))
	for _, v := range a {
		if !containsValue(out, v) {
			out = append(out, cloneValue(v))
		}
	}
	for _, v := range b {
		if !containsValue(out, v) {
			out = append(out, cloneValue(v))
		}
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ApplySearch adds a case-insensitive partial match on every searchable dotted
// field. The matches are ORed together. If filter already carries its own $or,
// the two disjunctions are combined with $and so search never widens it.
func ApplySearch(filter Filter, term string, searchable []string) Filter {
	term = strings.TrimSpace(term)
	if term == "" || len(searchable) == 0 {
		return filter
	}

	pattern := "%" + likeEscaper.Replace(term) + "%"
	conds := make([]Filter, 0, len(searchable))
	for _, field := range searchable {
		conds = append(conds, Unflatten(map[string]any{
			field: Filter{string(OpILike): pattern},
		}))
	}

	out := cloneFilter(filter)
	existing, hasOr := out[OpOr]
	if !hasOr {
		out[OpOr] = conds
		return out
	}

	and := FilterList(out[OpAnd])
	and = append(and, Filter{OpOr: existing}, Filter{OpOr: conds})
	delete(out, OpOr)
	out[OpAnd] = and
	return out
}

// FilterList normalises the value of a $and/$or key.
func FilterList(v any) []Filter {
	switch t := v.(type) {
	case []Filter:
		return t
	case []map[string]any:
		out := make([]Filter, len(t))
		for i, m := range t {
			out[i] = Filter(m)
		}
		return out
	case []any:
		out := make([]Filter, 0, len(t))
		for _, e := range t {
			if f, ok := AsFilter(e); ok {
				out = append(out, f)
			}
		}
		return out
	case Filter:
		return []Filter{t}
	case map[string]any:
		return []Filter{Filter(t)}
	}
	return nil
}
