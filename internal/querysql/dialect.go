package querysql

import "fmt"

// Dialect renders the backend-specific parts of a filter query: placeholders
// and typed access into the JSON document column.
type Dialect interface {
	Name() string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder(n int) string
	// Present is true when the field exists and is not JSON null.
	Present(field string) string
	// Typed yields the field's value when its JSON type matches kind,
	// otherwise SQL NULL.
	Typed(field string, kind ValueKind) string
	// Param converts a bind value for the driver.
	Param(kind ValueKind, v any) any
}

// ValueKind is the JSON scalar type a comparison works on.
type ValueKind int

const (
	KindInt ValueKind = iota
	KindString
	KindBool
)

// SQLite addresses the document with json_extract/json_type.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) Present(field string) string {
	return fmt.Sprintf("COALESCE(json_type(data, '$.%s'), 'null') <> 'null'", field)
}

func (SQLite) Typed(field string, kind ValueKind) string {
	typ := fmt.Sprintf("json_type(data, '$.%s')", field)
	val := fmt.Sprintf("json_extract(data, '$.%s')", field)
	switch kind {
	case KindInt:
		return fmt.Sprintf("(CASE WHEN %s = 'integer' THEN %s END)", typ, val)
	case KindString:
		return fmt.Sprintf("(CASE WHEN %s = 'text' THEN %s END)", typ, val)
	default:
		return fmt.Sprintf("(CASE %s WHEN 'true' THEN 1 WHEN 'false' THEN 0 END)", typ)
	}
}

func (SQLite) Param(kind ValueKind, v any) any {
	if b, ok := v.(bool); ok && kind == KindBool {
		if b {
			return 1
		}
		return 0
	}
	return v
}

// Postgres addresses a jsonb document column. Strings compare under the "C"
// collation so ordering matches byte order in the overlay.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) Present(field string) string {
	return fmt.Sprintf("COALESCE(jsonb_typeof(data->'%s'), 'null') <> 'null'", field)
}

func (Postgres) Typed(field string, kind ValueKind) string {
	typ := fmt.Sprintf("jsonb_typeof(data->'%s')", field)
	switch kind {
	case KindInt:
		return fmt.Sprintf("(CASE WHEN %s = 'number' THEN (data->>'%s')::bigint END)", typ, field)
	case KindString:
		return fmt.Sprintf(`(CASE WHEN %s = 'string' THEN data->>'%s' END) COLLATE "C"`, typ, field)
	default:
		return fmt.Sprintf("(CASE WHEN %s = 'boolean' THEN (data->>'%s')::boolean END)", typ, field)
	}
}

func (Postgres) Param(_ ValueKind, v any) any { return v }
