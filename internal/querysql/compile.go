package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

// Compiler turns queryir predicates into parameterized SQL over the models
// table. Values are always bound, never interpolated; field names are
// validated identifiers before they reach a JSON path.
type Compiler struct {
	dialect Dialect
	params  []any

	// IncludeDeleted keeps rows marked deleted in Select and Aggregate.
	IncludeDeleted bool
}

// NewCompiler returns a compiler for the given dialect.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Query is compiled SQL plus its bind parameters.
type Query struct {
	SQL    string
	Params []any
}

// Select compiles a filter over one collection, ordered by id.
func (c *Compiler) Select(collection string, pred queryir.Predicate) (Query, error) {
	where, err := c.scope(collection, pred)
	if err != nil {
		return Query{}, err
	}
	return c.finish("SELECT fqid, data, position FROM models WHERE " + where + " ORDER BY id ASC"), nil
}

// Aggregate compiles MIN or MAX of an integer field over a filtered
// collection. Non-integer values are ignored.
func (c *Compiler) Aggregate(fn, collection, field string, pred queryir.Predicate) (Query, error) {
	fn = strings.ToUpper(fn)
	if fn != "MIN" && fn != "MAX" {
		return Query{}, fmt.Errorf("unsupported aggregate %q", fn)
	}
	if !queryir.ValidFieldName(field) {
		return Query{}, fmt.Errorf("invalid field name %q", field)
	}
	where, err := c.scope(collection, pred)
	if err != nil {
		return Query{}, err
	}
	expr := c.dialect.Typed(field, KindInt)
	return c.finish(fmt.Sprintf("SELECT %s(%s) FROM models WHERE %s", fn, expr, where)), nil
}

// Where compiles a bare predicate. Exposed for tests and diagnostics.
func (c *Compiler) Where(pred queryir.Predicate) (Query, error) {
	if err := queryir.Validate(pred); err != nil {
		return Query{}, err
	}
	sql, err := c.predicate(pred)
	if err != nil {
		return Query{}, err
	}
	return c.finish(sql), nil
}

func (c *Compiler) scope(collection string, pred queryir.Predicate) (string, error) {
	c.params = nil
	if !queryir.ValidFieldName(collection) {
		return "", fmt.Errorf("invalid collection name %q", collection)
	}
	if err := queryir.Validate(pred); err != nil {
		return "", err
	}
	where := "collection = " + c.bind(collection)
	if !c.IncludeDeleted {
		where += " AND deleted = 0"
	}
	if pred != nil {
		sql, err := c.predicate(pred)
		if err != nil {
			return "", err
		}
		where += " AND " + sql
	}
	return where, nil
}

func (c *Compiler) finish(sql string) Query {
	q := Query{SQL: sql, Params: c.params}
	c.params = nil
	return q
}

func (c *Compiler) bind(v any) string {
	c.params = append(c.params, v)
	return c.dialect.Placeholder(len(c.params))
}

func (c *Compiler) predicate(p queryir.Predicate) (string, error) {
	switch n := p.(type) {
	case nil:
		return "1 = 1", nil
	case queryir.Filter:
		return c.filter(n)
	case queryir.AndPredicate:
		return c.join(" AND ", n.Predicates)
	case queryir.OrPredicate:
		return c.join(" OR ", n.Predicates)
	case queryir.NotPredicate:
		inner, err := c.predicate(n.Predicate)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *Compiler) join(sep string, preds []queryir.Predicate) (string, error) {
	parts := make([]string, 0, len(preds))
	for _, p := range preds {
		sql, err := c.predicate(p)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (c *Compiler) filter(f queryir.Filter) (string, error) {
	d := c.dialect
	switch f.Value.(type) {
	case nil, ir.IRNull:
		if f.Op == queryir.OpEq {
			return "NOT (" + d.Present(f.Field) + ")", nil
		}
		return d.Present(f.Field), nil
	}

	kind, param, err := scalar(f.Value)
	if err != nil {
		return "", err
	}
	typed := d.Typed(f.Field, kind)
	ph := c.bind(d.Param(kind, param))
	if f.Op == queryir.OpNe {
		// Present values of another type also differ.
		return fmt.Sprintf("(%s AND NOT COALESCE(%s = %s, FALSE))", d.Present(f.Field), typed, ph), nil
	}
	op := string(f.Op)
	return fmt.Sprintf("COALESCE(%s %s %s, FALSE)", typed, op, ph), nil
}

func scalar(v ir.IRValue) (ValueKind, any, error) {
	switch val := v.(type) {
	case ir.IRInt:
		return KindInt, int64(val), nil
	case ir.IRString:
		return KindString, string(val), nil
	case ir.IRBool:
		return KindBool, bool(val), nil
	default:
		return 0, nil, fmt.Errorf("%T cannot be used as a filter value", v)
	}
}
