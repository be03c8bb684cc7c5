// Package query turns untrusted listing parameters (filters, sorting, search and
// paging) into bounded, allow-listed query trees.
package query

import "strings"

// Operator is a comparison operator accepted in filter conditions.
type Operator string

const (
	OpEq      Operator = "$eq"
	OpGt      Operator = "$gt"
	OpGte     Operator = "$gte"
	OpLt      Operator = "$lt"
	OpLte     Operator = "$lte"
	OpNe      Operator = "$ne"
	OpIn      Operator = "$in"
	OpNotIn   Operator = "$nin"
	OpLike    Operator = "$like"
	OpILike   Operator = "$ilike"
	OpBetween Operator = "$btw"
	OpExists  Operator = "$exists"
)

// Logical combinators. They are never accepted from clients.
const (
	OpAnd = "$and"
	OpOr  = "$or"
	OpNot = "$not"
)

var operators = map[Operator]struct{}{
	OpEq: {}, OpGt: {}, OpGte: {}, OpLt: {}, OpLte: {}, OpNe: {},
	OpIn: {}, OpNotIn: {}, OpLike: {}, OpILike: {}, OpBetween: {}, OpExists: {},
}

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

func isLogical(key string) bool {
	return key == OpAnd || key == OpOr || key == OpNot
}

func isOperatorKey(key string) bool {
	return strings.HasPrefix(key, "$")
}

// IsLogical reports whether key is $and, $or or $not.
func IsLogical(key string) bool {
	return isLogical(key)
}
