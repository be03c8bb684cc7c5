package query

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// Filter is a condition tree. Keys are field names, operators ("$gte") or
// logical combinators ("$or"). Field values are nested Filters; operator
// values are scalars or []any.
type Filter map[string]any

var numberPattern = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)

var errPathConflict = errors.New("path is used both as a field and as a relation")

// TransformFilterParams parses raw filter parameters keyed by dotted field path.
// A value holds one or more ";" separated conditions, each "$op:value" or a
// bare value meaning $eq. Repeated $gte, $lte and $btw bounds intersect;
// for other operators the last condition wins. Unknown operators are dropped. Malformed input
// yields a *models.ValidationError wrapping the cause.
func TransformFilterParams(raw map[string]string) (Filter, error) {
	out := Filter{}

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path, err := splitPath(key)
		if err != nil {
			return nil, malformed(key, err)
		}

		conds, err := parseConditions(key, raw[key])
		if err != nil {
			return nil, malformed(key, err)
		}
		if len(conds) == 0 {
			continue
		}

		if err := insertConditions(out, path, conds); err != nil {
			return nil, malformed(key, err)
		}
	}

	return out, nil
}

func malformed(field string, err error) error {
	return &models.ValidationError{Field: field, Message: "malformed filter", Err: err}
}

func splitPath(key string) ([]string, error) {
	parts := strings.Split(key, ".")
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("empty segment in %q", key)
		}
		if isOperatorKey(part) {
			return nil, fmt.Errorf("segment %q may not start with $", part)
		}
	}
	return parts, nil
}

func parseConditions(field, value string) (Filter, error) {
	conds := Filter{}

	for _, part := range strings.Split(value, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		op, rawValue := OpEq, part
		if part[0] == '$' {
			i := strings.IndexByte(part, ':')
			if i < 0 {
				slog.Warn("dropping filter condition without value",
					slog.String("field", field),
					slog.String("condition", part))
				continue
			}
			op, rawValue = Operator(part[:i]), part[i+1:]
		}

		if !op.Valid() {
			slog.Warn("dropping unsupported filter operator",
				slog.String("field", field),
				slog.String("operator", string(op)))
			continue
		}

		val := parseValue(rawValue)

		switch op {
		case OpBetween:
			lower, upper, err := betweenBounds(val)
			if err != nil {
				return nil, err
			}
			tighten(conds, lower, upper)
		case OpGte:
			raiseLower(conds, val)
		case OpLte:
			lowerUpper(conds, val)
		case OpIn, OpNotIn:
			conds[string(op)] = asList(val)
		default:
			conds[string(op)] = val
		}
	}

	return conds, nil
}

// parseValue coerces a raw condition value into a bool, number, string or []any.
func parseValue(raw string) any {
	s := strings.TrimSpace(raw)

	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}

	if strings.Contains(s, ",") {
		parts := strings.Split(s, ",")
		list := make([]any, 0, len(parts))
		for _, part := range parts {
			list = append(list, coerceScalar(strings.TrimSpace(part)))
		}
		return list
	}

	return coerceScalar(s)
}

func coerceScalar(s string) any {
	if !numberPattern.MatchString(s) || hasLeadingZero(s) {
		return s
	}
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// hasLeadingZero reports identifiers such as "007" that only look numeric.
func hasLeadingZero(s string) bool {
	s = strings.TrimPrefix(s, "-")
	return len(s) > 1 && s[0] == '0' && s[1] >= '0' && s[1] <= '9'
}

func asList(val any) []any {
	if list, ok := val.([]any); ok {
		return list
	}
	return []any{val}
}

func betweenBounds(val any) (any, any, error) {
	list, ok := val.([]any)
	if !ok || len(list) != 2 {
		return nil, nil, fmt.Errorf("%s expects exactly two comma separated bounds, got %v", OpBetween, val)
	}
	return list[0], list[1], nil
}

// tighten narrows the $gte/$lte range on conds to the intersection with [lower, upper].
func tighten(conds Filter, lower, upper any) {
	raiseLower(conds, lower)
	lowerUpper(conds, upper)
}

// raiseLower keeps the greater of the existing $gte and lower.
func raiseLower(conds Filter, lower any) {
	if cur, ok := conds[string(OpGte)]; ok && compareValues(cur, lower) > 0 {
		return
	}
	conds[string(OpGte)] = lower
}

// lowerUpper keeps the smaller of the existing $lte and upper.
func lowerUpper(conds Filter, upper any) {
	if cur, ok := conds[string(OpLte)]; ok && compareValues(cur, upper) < 0 {
		return
	}
	conds[string(OpLte)] = upper
}

// compareValues orders numbers numerically and everything else lexically.
func compareValues(a, b any) int {
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if aok && bok {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func insertConditions(root Filter, path []string, conds Filter) error {
	node := root
	for _, seg := range path[:len(path)-1] {
		child, ok := node[seg]
		if !ok {
			next := Filter{}
			node[seg] = next
			node = next
			continue
		}
		next, ok := AsFilter(child)
		if !ok || next.IsCondition() {
			return errPathConflict
		}
		node = next
	}

	leaf := path[len(path)-1]
	existing, ok := node[leaf]
	if !ok {
		node[leaf] = conds
		return nil
	}
	current, ok := AsFilter(existing)
	if !ok || !current.IsCondition() {
		return errPathConflict
	}
	for op, v := range conds {
		current[op] = v
	}
	return nil
}

// IsCondition reports whether f holds operator conditions for a single field
// rather than nested fields.
func (f Filter) IsCondition() bool {
	for key := range f {
		if isOperatorKey(key) && !isLogical(key) {
			return true
		}
	}
	return false
}

// AsFilter accepts both Filter and plain map[string]any values.
func AsFilter(v any) (Filter, bool) {
	switch f := v.(type) {
	case Filter:
		return f, true
	case map[string]any:
		return Filter(f), true
	}
	return nil, false
}

// Unflatten expands dotted keys into nested Filters: {"a.b": 1} becomes {"a": {"b": 1}}.
// Later keys win when two paths collide.
func Unflatten(flat map[string]any) Filter {
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := Filter{}
	for _, key := range keys {
		parts := strings.Split(key, ".")
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := AsFilter(node[part])
			if !ok {
				next = Filter{}
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = flat[key]
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Filter:
		return cloneFilter(t)
	case map[string]any:
		return cloneFilter(Filter(t))
	case []Filter:
		out := make([]Filter, len(t))
		for i, f := range t {
			out[i] = cloneFilter(f)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

func cloneFilter(f Filter) Filter {
	if f == nil {
		return Filter{}
	}
	out := make(Filter, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func containsValue(list []any, v any) bool {
	for _, e := range list {
		if reflect.DeepEqual(e, v) {
			return true
		}
	}
	return false
}
