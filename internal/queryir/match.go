package queryir

import (
	"cmp"

	"github.com/roach88/plenum/internal/ir"
)

// Match evaluates a predicate against one instance. A nil predicate matches.
// Semantics mirror the SQL compilation in querysql.
func Match(p Predicate, obj ir.IRObject) bool {
	switch n := p.(type) {
	case nil:
		return true
	case Filter:
		return matchFilter(n, obj)
	case AndPredicate:
		for _, c := range n.Predicates {
			if !Match(c, obj) {
				return false
			}
		}
		return true
	case OrPredicate:
		for _, c := range n.Predicates {
			if Match(c, obj) {
				return true
			}
		}
		return false
	case NotPredicate:
		return !Match(n.Predicate, obj)
	}
	return false
}

func matchFilter(f Filter, obj ir.IRObject) bool {
	got, present := obj[f.Field]
	if _, isNull := got.(ir.IRNull); isNull {
		present = false
	}

	if isNull(f.Value) {
		switch f.Op {
		case OpEq:
			return !present
		case OpNe:
			return present
		}
		return false
	}
	if !present {
		return false
	}

	c, comparable := compare(got, f.Value)
	if !comparable {
		// Different types: only "!=" holds.
		return f.Op == OpNe
	}
	switch f.Op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLte:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGte:
		return c >= 0
	}
	return false
}

func compare(a, b ir.IRValue) (int, bool) {
	switch av := a.(type) {
	case ir.IRInt:
		if bv, ok := b.(ir.IRInt); ok {
			return cmp.Compare(av, bv), true
		}
	case ir.IRString:
		if bv, ok := b.(ir.IRString); ok {
			return cmp.Compare(av, bv), true
		}
	case ir.IRBool:
		if bv, ok := b.(ir.IRBool); ok {
			if av == bv {
				return 0, true
			}
			if !av {
				return -1, true
			}
			return 1, true
		}
	}
	return 0, false
}

func isNull(v ir.IRValue) bool {
	if v == nil {
		return true
	}
	_, ok := v.(ir.IRNull)
	return ok
}
