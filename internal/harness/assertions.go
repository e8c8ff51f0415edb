package harness

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	FQID     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.FQID != "" {
		fmt.Fprintf(&buf, " %s", e.FQID)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// EvaluateAssertions checks all assertions against the env's final state
// and returns one message per failure.
func EvaluateAssertions(ctx context.Context, env *Env, result *Result, assertions []Assertion) []string {
	var out []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertInstance:
			err = assertInstance(ctx, env, a)
		case AssertDeleted:
			err = assertDeleted(ctx, env, a)
		case AssertHistory:
			err = assertHistory(ctx, env, a)
		case AssertUnchanged:
			err = assertUnchanged(result, a)
		case AssertConsistent:
			if problems := CheckConsistency(ctx, env.Store, env.Schema); len(problems) > 0 {
				err = &AssertionError{Type: a.Type, Expected: "consistent store", Actual: strings.Join(problems, "; ")}
			}
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			out = append(out, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return out
}

func assertInstance(ctx context.Context, env *Env, a Assertion) error {
	rec, err := env.Store.Get(ctx, ir.FQID(a.FQID))
	if errs.IsNotFound(err) {
		return &AssertionError{Type: a.Type, FQID: a.FQID, Expected: "instance exists", Actual: "not found"}
	}
	if err != nil {
		return err
	}
	for _, key := range sortedKeys(a.Expect) {
		if err := matchGo(a.Expect[key], ir.ToGo(rec.Data[key]), key); err != nil {
			return &AssertionError{Type: a.Type, FQID: a.FQID, Expected: fmt.Sprintf("%s = %v", key, a.Expect[key]), Actual: err.Error()}
		}
	}
	return nil
}

func assertDeleted(ctx context.Context, env *Env, a Assertion) error {
	_, err := env.Store.Get(ctx, ir.FQID(a.FQID))
	if errs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{Type: a.Type, FQID: a.FQID, Expected: "deleted", Actual: "instance exists"}
}

func assertHistory(ctx context.Context, env *Env, a Assertion) error {
	lines, err := env.Store.History(ctx, ir.FQID(a.FQID))
	if err != nil {
		return err
	}
	templates := make([]string, len(lines))
	for i, l := range lines {
		if l.Template == a.Template {
			return nil
		}
		templates[i] = l.Template
	}
	return &AssertionError{Type: a.Type, FQID: a.FQID, Expected: a.Template, Actual: fmt.Sprintf("%q", templates)}
}

func assertUnchanged(result *Result, a Assertion) error {
	if a.Step >= len(result.Steps) {
		return fmt.Errorf("step %d did not run", a.Step)
	}
	w := result.Steps[a.Step].Write
	if w.Empty() {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("request %d writes nothing", a.Step),
		Actual:   fmt.Sprintf("%d events, %d history lines", len(w.Events), len(w.History)),
	}
}

// matchGo compares an expected YAML value against an actual plain Go value.
// Objects match as subsets; lists must have equal length; null expects an
// absent or null value.
func matchGo(expected, actual any, path string) error {
	ev, err := ir.FromGo(expected)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", path, err)
	}
	av, err := ir.FromGo(actual)
	if err != nil {
		return fmt.Errorf("%s: actual value: %w", path, err)
	}
	return matchValue(ev, av, path)
}

func matchValue(expected, actual ir.IRValue, path string) error {
	switch e := expected.(type) {
	case ir.IRObject:
		a, ok := actual.(ir.IRObject)
		if !ok {
			return fmt.Errorf("%s: expected object, got %s", path, render(actual))
		}
		for _, k := range e.SortedKeys() {
			if err := matchValue(e[k], a[k], path+"."+k); err != nil {
				return err
			}
		}
		return nil
	case ir.IRArray:
		a, ok := actual.(ir.IRArray)
		if !ok {
			if len(e) == 0 && ir.IsEmpty(actual) {
				return nil
			}
			return fmt.Errorf("%s: expected list, got %s", path, render(actual))
		}
		if len(a) != len(e) {
			return fmt.Errorf("%s: expected %d elements, got %s", path, len(e), render(actual))
		}
		for i := range e {
			if err := matchValue(e[i], a[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	}
	if !ir.Equal(expected, actual) {
		return fmt.Errorf("%s: expected %s, got %s", path, render(expected), render(actual))
	}
	return nil
}

func render(v ir.IRValue) string {
	if v == nil {
		return "absent"
	}
	data, err := ir.MarshalIRValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
