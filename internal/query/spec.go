package query

// FieldRule is either an operator allow-list (Ops) or a nested FilterSpec (Nested).
type FieldRule interface {
	fieldRule()
}

// Ops allow-lists the operators a leaf field accepts. Listing OpBetween
// allows both bounds it expands into.
type Ops []Operator

func (Ops) fieldRule() {}

// Allows reports whether op may be applied to the field.
func (o Ops) Allows(op Operator) bool {
	for _, allowed := range o {
		if allowed == op {
			return true
		}
		if allowed == OpBetween && (op == OpGte || op == OpLte) {
			return true
		}
	}
	return false
}

// Nested describes a relation or object field.
type Nested FilterSpec

func (Nested) fieldRule() {}

// FilterSpec maps filterable fields to their rules.
type FilterSpec map[string]FieldRule

// Allow is shorthand for an Ops rule.
func Allow(ops ...Operator) Ops {
	return Ops(ops)
}
