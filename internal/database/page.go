package database

import (
	"context"
	"fmt"
	"strconv"

	"github.com/BradenHooton/gatekeeper/internal/query"
	"github.com/jackc/pgx/v5"
)

// Listing describes the SELECT a repository pages over.
type Listing struct {
	// Columns is the select list, e.g. "u.id, u.email".
	Columns string
	// From is the FROM clause body including joins, e.g. "users u LEFT JOIN attachments a ON ...".
	From string
	// Scope is an optional fixed predicate ANDed with the compiled filter.
	Scope string
	// ScopeArgs are bound before the filter arguments.
	ScopeArgs []any
	Schema    Schema
}

// FetchPage runs the count and page queries for opts and scans each row with scan.
func FetchPage[T any](ctx context.Context, q Querier, l Listing, opts query.FindOptions, scan func(pgx.Row) (T, error)) ([]T, int, error) {
	where, args, err := l.Schema.Where(opts.Where, len(l.ScopeArgs))
	if err != nil {
		return nil, 0, err
	}
	if l.Scope != "" {
		where = "(" + l.Scope + ") AND (" + where + ")"
	}
	args = append(append([]any{}, l.ScopeArgs...), args...)

	orderBy, err := l.Schema.OrderBy(opts.OrderBy)
	if err != nil {
		return nil, 0, err
	}

	var total int
	countSQL := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", l.From, where)
	if err := q.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, MapPostgresError("count "+l.From, err)
	}
	if total == 0 {
		return []T{}, 0, nil
	}

	limitAt := len(args) + 1
	pageSQL := fmt.Sprintf("SELECT %s FROM %s WHERE %s %s LIMIT $%s OFFSET $%s",
		l.Columns, l.From, where, orderBy, strconv.Itoa(limitAt), strconv.Itoa(limitAt+1))
	args = append(args, opts.Limit, opts.Offset)

	rows, err := q.Query(ctx, pageSQL, args...)
	if err != nil {
		return nil, 0, MapPostgresError("list "+l.From, err)
	}
	defer rows.Close()

	items := make([]T, 0, opts.Limit)
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, 0, MapPostgresError("scan "+l.From, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, MapPostgresError("list "+l.From, err)
	}

	return items, total, nil
}
