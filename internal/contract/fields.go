package contract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/plenum/internal/ir"
)

// Schema lookups needed to derive contract fields from model fields.
type Schema interface {
	Field(collection, field string) (*ir.FieldSpec, bool)
}

// Fields renders contract lines for model fields of collection. Required
// names must be present and non-null; optional names may be omitted, and
// nullable ones may be null to clear the value. Unknown names panic: action
// tables are static.
func Fields(s Schema, collection string, required, optional []string) string {
	var b strings.Builder
	for _, name := range required {
		writeField(&b, s, collection, name, true)
	}
	for _, name := range optional {
		writeField(&b, s, collection, name, false)
	}
	return b.String()
}

// ID is the contract line for the instance id of update/delete payloads.
const ID = "id: int & >0\n"

func writeField(b *strings.Builder, s Schema, collection, name string, required bool) {
	f, ok := s.Field(collection, name)
	if !ok {
		panic(fmt.Sprintf("contract: unknown field %s.%s", collection, name))
	}
	typ := FieldType(f)
	if required {
		fmt.Fprintf(b, "%s: %s\n", name, typ)
		return
	}
	if nullable(f) {
		typ = "(" + typ + ") | null"
	}
	fmt.Fprintf(b, "%s?: %s\n", name, typ)
}

func nullable(f *ir.FieldSpec) bool {
	switch f.Kind {
	case ir.KindRelation, ir.KindGenericRelation, ir.KindString, ir.KindText,
		ir.KindNumber, ir.KindTimestamp, ir.KindColor, ir.KindJSON:
		return true
	}
	return false
}

// Color matches lowercase hex colors.
const Color = `=~"^#[0-9a-f]{6}$"`

// Email matches one address, allowing surrounding blanks and the empty
// string that clears the field.
const Email = `=~"^\\s*([^@\\s]+@[^@\\s]+\\.[^@\\s]+)?\\s*$"`

// FQIDPattern matches "collection/id".
const FQIDPattern = `=~"^[a-z_]+/[1-9][0-9]*$"`

// FieldType renders the CUE constraint for one model field.
func FieldType(f *ir.FieldSpec) string {
	if len(f.Enum) > 0 {
		alts := make([]string, len(f.Enum))
		for i, e := range f.Enum {
			alts[i] = strconv.Quote(e)
		}
		return strings.Join(alts, " | ")
	}
	switch f.Kind {
	case ir.KindString:
		typ := "string"
		if f.MaxLength > 0 {
			typ += fmt.Sprintf(" & strings.MaxRunes(%d)", f.MaxLength)
		}
		if f.Format == "email" {
			typ += " & " + Email
		}
		return typ
	case ir.KindText:
		return "string"
	case ir.KindNumber:
		if f.Name == "id" {
			return "int & >0"
		}
		return "int"
	case ir.KindTimestamp:
		return "int & >=0"
	case ir.KindBoolean:
		return "bool"
	case ir.KindColor:
		return "string & " + Color
	case ir.KindStringList:
		return "[...string]"
	case ir.KindNumberList:
		return "[...int]"
	case ir.KindJSON:
		return "_"
	case ir.KindRelation:
		return "int & >0"
	case ir.KindRelationList:
		return "[...int & >0]"
	case ir.KindGenericRelation:
		return "string & " + FQIDPattern
	case ir.KindGenericRelationList:
		return "[...string & " + FQIDPattern + "]"
	}
	return "_"
}
