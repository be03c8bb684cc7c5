package query

import "log/slog"

// SanitizeFilter keeps only the fields and operators allowed by spec.
// Disallowed input is dropped silently so callers cannot probe which fields
// are filterable. Bare values are treated as $eq.
func SanitizeFilter(spec FilterSpec, parsed Filter) Filter {
	out := Filter{}

	for field, value := range parsed {
		rule, ok := spec[field]
		if !ok {
			slog.Debug("dropping filter on unlisted field", slog.String("field", field))
			continue
		}

		switch r := rule.(type) {
		case Ops:
			if conds := sanitizeConditions(r, value); len(conds) > 0 {
				out[field] = conds
			}
		case Nested:
			nested, ok := AsFilter(value)
			if !ok {
				continue
			}
			if sub := SanitizeFilter(FilterSpec(r), nested); len(sub) > 0 {
				out[field] = sub
			}
		}
	}

	return out
}

func sanitizeConditions(ops Ops, value any) Filter {
	conds, ok := AsFilter(value)
	if !ok {
		if ops.Allows(OpEq) {
			return Filter{string(OpEq): cloneValue(value)}
		}
		return nil
	}

	out := Filter{}
	for key, v := range conds {
		op := Operator(key)
		if !op.Valid() || op == OpBetween || !ops.Allows(op) {
			continue
		}
		out[key] = cloneValue(v)
	}
	return out
}
