package compiler

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/plenum/internal/ir"
)

// CompileModels parses the model description into collection descriptors,
// in declaration order.
//
// The CUE value is the root of a models file:
//
//	collection: topic: fields: {
//		id:         {type: "number", required: true}
//		meeting_id: {type: "relation", to: "meeting/topic_ids", required: true}
//	}
func CompileModels(v cue.Value) ([]ir.CollectionSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	collVal := v.LookupPath(cue.ParsePath("collection"))
	if !collVal.Exists() {
		return nil, &CompileError{Field: "collection", Message: "no collections declared", Pos: v.Pos()}
	}

	iter, err := collVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var specs []ir.CollectionSpec
	for iter.Next() {
		spec, err := CompileCollection(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		specs = append(specs, *spec)
	}
	return specs, nil
}

// CompileCollection parses one collection node.
func CompileCollection(name string, v cue.Value) (*ir.CollectionSpec, error) {
	spec := &ir.CollectionSpec{Name: name}

	fieldsVal := v.LookupPath(cue.ParsePath("fields"))
	if !fieldsVal.Exists() {
		return nil, &CompileError{Field: name + ".fields", Message: "fields are required", Pos: v.Pos()}
	}
	iter, err := fieldsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		field, err := compileField(name, iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Fields = append(spec.Fields, field)
	}
	return spec, nil
}

func compileField(collection, name string, v cue.Value) (ir.FieldSpec, error) {
	path := collection + "." + name
	field := ir.FieldSpec{Name: name}

	kind, err := lookupString(v, "type")
	if err != nil {
		return field, err
	}
	if kind == "" {
		return field, &CompileError{Field: path + ".type", Message: "type is required", Pos: v.Pos()}
	}
	field.Kind = ir.FieldKind(kind)

	if field.Required, err = lookupBool(v, "required"); err != nil {
		return field, err
	}
	if field.Unique, err = lookupBool(v, "unique"); err != nil {
		return field, err
	}
	if field.Derived, err = lookupBool(v, "derived"); err != nil {
		return field, err
	}
	if field.Enum, err = lookupStrings(v, "enum"); err != nil {
		return field, err
	}

	if ml := v.LookupPath(cue.ParsePath("max_length")); ml.Exists() {
		n, err := ml.Int64()
		if err != nil {
			return field, formatCUEError(err)
		}
		field.MaxLength = int(n)
	}

	if f := v.LookupPath(cue.ParsePath("format")); f.Exists() {
		if field.Format, err = f.String(); err != nil {
			return field, formatCUEError(err)
		}
	}

	if def := v.LookupPath(cue.ParsePath("default")); def.Exists() {
		field.Default, err = compileValue(def)
		if err != nil {
			return field, err
		}
	}

	targets, err := lookupStrings(v, "to")
	if err != nil {
		return field, err
	}
	if len(targets) > 0 {
		rel := &ir.RelationSpec{}
		for _, t := range targets {
			coll, f, ok := strings.Cut(t, "/")
			if !ok || coll == "" || f == "" {
				return field, &CompileError{Field: path + ".to", Message: fmt.Sprintf("target %q must be collection/field", t), Pos: v.Pos()}
			}
			rel.Targets = append(rel.Targets, ir.RelationTarget{Collection: coll, Field: f})
		}
		onDelete, err := lookupString(v, "on_delete")
		if err != nil {
			return field, err
		}
		rel.OnDelete = ir.OnDelete(onDelete)
		if rel.OnDelete == "" {
			rel.OnDelete = ir.OnDeleteSetNull
		}
		if rel.EqualFields, err = lookupStrings(v, "equal_fields"); err != nil {
			return field, err
		}
		if rel.Forbidden, err = lookupStrings(v, "forbidden"); err != nil {
			return field, err
		}
		field.Relation = rel
	}

	return field, nil
}

// compileValue converts a concrete CUE value into an IRValue.
// Floats are rejected.
func compileValue(v cue.Value) (ir.IRValue, error) {
	switch v.IncompleteKind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRString(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRInt(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.IRBool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.IRArray{}
		for iter.Next() {
			elem, err := compileValue(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.NullKind:
		return ir.IRNull{}, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: "default", Message: "float values are not supported - use int", Pos: v.Pos()}
	default:
		return nil, &CompileError{Field: "default", Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()), Pos: v.Pos()}
	}
}

func lookupString(v cue.Value, key string) (string, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupBool(v cue.Value, key string) (bool, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return false, nil
	}
	b, err := f.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

// lookupStrings accepts a single string or a list of strings.
func lookupStrings(v cue.Value, key string) ([]string, error) {
	f := v.LookupPath(cue.ParsePath(key))
	if !f.Exists() {
		return nil, nil
	}
	if s, err := f.String(); err == nil {
		return []string{s}, nil
	}
	iter, err := f.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
