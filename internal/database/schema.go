package database

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/google/uuid"
)

// ColumnKind is the SQL type family of a column. Filter values are converted
// to it before they are bound.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindTimestamp
	KindUUID
	KindNumber
	KindBool
)

// Column is a SQL column expression and its kind.
type Column struct {
	Expr string
	Kind ColumnKind
}

func Text(expr string) Column { return Column{Expr: expr, Kind: KindText} }
func Timestamp(expr string) Column { return Column{Expr: expr, Kind: KindTimestamp} }
func UUID(expr string) Column { return Column{Expr: expr, Kind: KindUUID} }
func Number(expr string) Column { return Column{Expr: expr, Kind: KindNumber} }
func Bool(expr string) Column { return Column{Expr: expr, Kind: KindBool} }

// Schema maps dotted API field paths to SQL columns. Only mapped paths can be
// filtered or sorted on, so it doubles as the last line of allow-listing
// before a filter reaches SQL.
type Schema map[string]Column

// Column resolves a dotted path.
func (s Schema) Column(path string) (Column, bool) {
	col, ok := s[path]
	return col, ok
}

// Where compiles filter into a SQL boolean expression. Placeholders start at
// $argOffset+1. An empty filter compiles to TRUE.
func (s Schema) Where(filter query.Filter, argOffset int) (string, []any, error) {
	b := &whereBuilder{schema: s, next: argOffset}

	clauses, err := b.filter(filter, "")
	if err != nil {
		return "", nil, err
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(clauses, " AND "), b.args, nil
}

// OrderBy compiles sort into an ORDER BY clause, or "" for an empty sort.
func (s Schema) OrderBy(sort query.Sort) (string, error) {
	fields := sort.Flatten()
	if len(fields) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		col, ok := s.Column(f.Path)
		if !ok {
			return "", unknownField(f.Path)
		}
		dir, ok := query.ParseDirection(string(f.Direction))
		if !ok {
			return "", models.NewValidationError(f.Path, "invalid sort direction")
		}
		parts = append(parts, col.Expr+" "+string(dir))
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}

func unknownField(path string) error {
	return &models.ValidationError{
		Field:   path,
		Message: "field cannot be queried",
		Err:     fmt.Errorf("no column mapped for %q", path),
	}
}

type whereBuilder struct {
	schema Schema
	args   []any
	next   int
}

func (b *whereBuilder) bind(v any) string {
	b.args = append(b.args, v)
	b.next++
	return "$" + strconv.Itoa(b.next)
}

// bindAs converts v to the column's kind and binds it. A value the column
// cannot hold is the client's mistake, not a query failure.
func (b *whereBuilder) bindAs(path string, col Column, v any) (string, error) {
	converted, err := convert(col.Kind, v)
	if err != nil {
		return "", &models.ValidationError{Field: path, Message: "invalid filter value", Err: err}
	}
	return b.bind(converted), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

func convert(kind ColumnKind, v any) (any, error) {
	switch kind {
	case KindNumber:
		switch n := v.(type) {
		case int64, float64, int:
			return n, nil
		case string:
			if i, err := strconv.ParseInt(n, 10, 64); err == nil {
				return i, nil
			}
			if f, err := strconv.ParseFloat(n, 64); err == nil {
				return f, nil
			}
		}
		return nil, fmt.Errorf("%v is not a number", v)
	case KindBool:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			if parsed, err := strconv.ParseBool(t); err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("%v is not a boolean", v)
	case KindTimestamp:
		text := scalarText(v)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, fmt.Errorf("%q is not a timestamp", text)
	case KindUUID:
		id, err := uuid.Parse(scalarText(v))
		if err != nil {
			return nil, fmt.Errorf("%q is not a uuid", scalarText(v))
		}
		return id.String(), nil
	}
	return scalarText(v), nil
}

// scalarText renders a coerced filter value back to the text the client sent.
func scalarText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return fmt.Sprint(v)
}

// filter returns one clause per key of f. Keys are visited in sorted order so
// the same filter always produces the same SQL.
func (b *whereBuilder) filter(f query.Filter, prefix string) ([]string, error) {
	keys := make([]string, 0, len(f))
	for key := range f {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var clauses []string
	for _, key := range keys {
		value := f[key]

		var (
			clause string
			err    error
		)
		switch {
		case key == query.OpAnd:
			clause, err = b.group(query.FilterList(value), prefix, " AND ", "TRUE")
		case key == query.OpOr:
			clause, err = b.group(query.FilterList(value), prefix, " OR ", "FALSE")
		case key == query.OpNot:
			clause, err = b.not(value, prefix)
		case strings.HasPrefix(key, "$"):
			return nil, &models.ValidationError{
				Field:   prefix,
				Message: "malformed filter",
				Err:     fmt.Errorf("operator %s outside of a field", key),
			}
		default:
			clause, err = b.field(joinPath(prefix, key), value)
		}
		if err != nil {
			return nil, err
		}
		if clause != "" {
			clauses = append(clauses, clause)
		}
	}
	return clauses, nil
}

func (b *whereBuilder) group(items []query.Filter, prefix, sep, empty string) (string, error) {
	if len(items) == 0 {
		return empty, nil
	}

	parts := make([]string, 0, len(items))
	for _, item := range items {
		clauses, err := b.filter(item, prefix)
		if err != nil {
			return "", err
		}
		if len(clauses) == 0 {
			parts = append(parts, "TRUE")
			continue
		}
		parts = append(parts, "("+strings.Join(clauses, " AND ")+")")
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *whereBuilder) not(value any, prefix string) (string, error) {
	inner, ok := query.AsFilter(value)
	if !ok {
		return "", models.NewValidationError(query.OpNot, "expects an object")
	}
	clauses, err := b.filter(inner, prefix)
	if err != nil || len(clauses) == 0 {
		return "", err
	}
	return "NOT (" + strings.Join(clauses, " AND ") + ")", nil
}

func (b *whereBuilder) field(path string, value any) (string, error) {
	f, ok := query.AsFilter(value)
	if !ok {
		return b.conditions(path, query.Filter{string(query.OpEq): value})
	}
	if f.IsCondition() {
		return b.conditions(path, f)
	}

	clauses, err := b.filter(f, path)
	if err != nil || len(clauses) == 0 {
		return "", err
	}
	return strings.Join(clauses, " AND "), nil
}

func (b *whereBuilder) conditions(path string, conds query.Filter) (string, error) {
	col, ok := b.schema.Column(path)
	if !ok {
		return "", unknownField(path)
	}

	ops := make([]string, 0, len(conds))
	for op := range conds {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	parts := make([]string, 0, len(ops))
	for _, op := range ops {
		part, err := b.condition(path, col, query.Operator(op), conds[op])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, " AND "), nil
}

var comparisons = map[query.Operator]string{
	query.OpGt:  ">",
	query.OpGte: ">=",
	query.OpLt:  "<",
	query.OpLte: "<=",
}

func (b *whereBuilder) condition(path string, col Column, op query.Operator, v any) (string, error) {
	switch op {
	case query.OpEq, query.OpNe:
		if v == nil {
			if op == query.OpEq {
				return col.Expr + " IS NULL", nil
			}
			return col.Expr + " IS NOT NULL", nil
		}
		placeholder, err := b.bindAs(path, col, v)
		if err != nil {
			return "", err
		}
		if op == query.OpEq {
			return col.Expr + " = " + placeholder, nil
		}
		return col.Expr + " <> " + placeholder, nil
	case query.OpGt, query.OpGte, query.OpLt, query.OpLte:
		placeholder, err := b.bindAs(path, col, v)
		if err != nil {
			return "", err
		}
		return col.Expr + " " + comparisons[op] + " " + placeholder, nil
	case query.OpIn, query.OpNotIn:
		list, ok := v.([]any)
		if !ok {
			list = []any{v}
		}
		if len(list) == 0 {
			if op == query.OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		placeholders := make([]string, len(list))
		for i, item := range list {
			placeholder, err := b.bindAs(path, col, item)
			if err != nil {
				return "", err
			}
			placeholders[i] = placeholder
		}
		kw := " IN ("
		if op == query.OpNotIn {
			kw = " NOT IN ("
		}
		return col.Expr + kw + strings.Join(placeholders, ", ") + ")", nil
	case query.OpLike:
		return col.Expr + "::text LIKE " + b.bind(scalarText(v)), nil
	case query.OpILike:
		return col.Expr + "::text ILIKE " + b.bind(scalarText(v)), nil
	case query.OpExists:
		exists, ok := v.(bool)
		if !ok {
			return "", models.NewValidationError(path, "$exists expects true or false")
		}
		if exists {
			return col.Expr + " IS NOT NULL", nil
		}
		return col.Expr + " IS NULL", nil
	}

	return "", &models.ValidationError{
		Field:   path,
		Message: "malformed filter",
		Err:     fmt.Errorf("operator %s cannot be compiled", op),
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
