package queryir

import "github.com/roach88/plenum/internal/ir"

// Predicate is a filter condition. Sealed: only types in this package
// implement it.
type Predicate interface {
	predicateNode()
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// ValidOps lists the accepted operators.
var ValidOps = map[Op]bool{OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true}

// Filter compares one field of an instance with a literal.
type Filter struct {
	Field string
	Op    Op
	Value ir.IRValue
}

func (Filter) predicateNode() {}

// AndPredicate holds when every child holds.
type AndPredicate struct {
	Predicates []Predicate
}

func (AndPredicate) predicateNode() {}

// OrPredicate holds when any child holds.
type OrPredicate struct {
	Predicates []Predicate
}

func (OrPredicate) predicateNode() {}

// NotPredicate negates its child.
type NotPredicate struct {
	Predicate Predicate
}

func (NotPredicate) predicateNode() {}

// Eq is shorthand for Filter{field, =, value}.
func Eq(field string, value ir.IRValue) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Ne is shorthand for Filter{field, !=, value}.
func Ne(field string, value ir.IRValue) Filter {
	return Filter{Field: field, Op: OpNe, Value: value}
}

// And combines predicates conjunctively.
func And(preds ...Predicate) AndPredicate { return AndPredicate{Predicates: preds} }

// Or combines predicates disjunctively.
func Or(preds ...Predicate) OrPredicate { return OrPredicate{Predicates: preds} }

// Not negates a predicate.
func Not(p Predicate) NotPredicate { return NotPredicate{Predicate: p} }

// Fields lists the distinct field names a predicate reads, in first-seen order.
func Fields(p Predicate) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(Predicate)
	walk = func(p Predicate) {
		switch n := p.(type) {
		case Filter:
			if !seen[n.Field] {
				seen[n.Field] = true
				out = append(out, n.Field)
			}
		case AndPredicate:
			for _, c := range n.Predicates {
				walk(c)
			}
		case OrPredicate:
			for _, c := range n.Predicates {
				walk(c)
			}
		case NotPredicate:
			walk(n.Predicate)
		}
	}
	walk(p)
	return out
}
