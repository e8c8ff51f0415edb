package queryir

import (
	"fmt"

	"github.com/roach88/plenum/internal/ir"
)

// Validate checks that a predicate is well formed: known operators, no empty
// connectives, field names safe to embed in a JSON path, and literal types a
// backend can compare. A nil predicate matches everything and is valid.
func Validate(p Predicate) error {
	switch n := p.(type) {
	case nil:
		return nil
	case Filter:
		return validateFilter(n)
	case AndPredicate:
		return validateChildren("AND", n.Predicates)
	case OrPredicate:
		return validateChildren("OR", n.Predicates)
	case NotPredicate:
		if n.Predicate == nil {
			return fmt.Errorf("NOT without operand")
		}
		return Validate(n.Predicate)
	default:
		return fmt.Errorf("unknown predicate type %T", p)
	}
}

func validateChildren(name string, preds []Predicate) error {
	if len(preds) == 0 {
		return fmt.Errorf("%s without operands", name)
	}
	for i, c := range preds {
		if c == nil {
			return fmt.Errorf("%s operand %d is nil", name, i)
		}
		if err := Validate(c); err != nil {
			return err
		}
	}
	return nil
}

func validateFilter(f Filter) error {
	if !ValidFieldName(f.Field) {
		return fmt.Errorf("invalid field name %q", f.Field)
	}
	if !ValidOps[f.Op] {
		return fmt.Errorf("invalid operator %q", f.Op)
	}
	switch f.Value.(type) {
	case ir.IRInt, ir.IRString:
	case ir.IRBool, ir.IRNull, nil:
		if f.Op != OpEq && f.Op != OpNe {
			return fmt.Errorf("operator %q not defined for %T", f.Op, f.Value)
		}
	default:
		return fmt.Errorf("cannot compare %s with %T", f.Field, f.Value)
	}
	return nil
}

// ValidFieldName reports whether name is a lowercase identifier.
func ValidFieldName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
