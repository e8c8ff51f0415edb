// Package models holds the static model description and the process-wide
// registry built from it.
package models

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/plenum/internal/compiler"
	"github.com/roach88/plenum/internal/ir"
)

//go:embed models.cue
var modelsSource []byte

// Source returns the embedded model description.
func Source() []byte { return modelsSource }

// Registry is an immutable lookup over compiled collections.
type Registry struct {
	specs       []ir.CollectionSpec
	collections map[string]*ir.CollectionSpec
}

// New validates specs and builds a registry. All validation errors are
// reported together.
func New(specs []ir.CollectionSpec) (*Registry, error) {
	if errs := compiler.Validate(specs); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return nil, fmt.Errorf("invalid models:\n  %s", strings.Join(msgs, "\n  "))
	}
	r := &Registry{specs: specs, collections: make(map[string]*ir.CollectionSpec, len(specs))}
	for i := range r.specs {
		r.collections[r.specs[i].Name] = &r.specs[i]
	}
	return r, nil
}

// Compile builds a registry from CUE source.
func Compile(filename string, src []byte) (*Registry, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	specs, err := compiler.CompileModels(v)
	if err != nil {
		return nil, err
	}
	return New(specs)
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the registry compiled from the embedded description.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = Compile("models.cue", modelsSource)
	})
	return defaultReg, defaultErr
}

// MustDefault is like Default but panics on error. The embedded description
// is covered by tests, so failure means a broken build.
func MustDefault() *Registry {
	r, err := Default()
	if err != nil {
		panic(err)
	}
	return r
}

// Specs returns all collections in declaration order.
func (r *Registry) Specs() []ir.CollectionSpec { return r.specs }

// Collection looks up a collection.
func (r *Registry) Collection(name string) (*ir.CollectionSpec, bool) {
	c, ok := r.collections[name]
	return c, ok
}

// Field looks up a field of a collection.
func (r *Registry) Field(collection, field string) (*ir.FieldSpec, bool) {
	c, ok := r.collections[collection]
	if !ok {
		return nil, false
	}
	return c.Field(field)
}

// Partner returns the field on the other side of collection.field when it
// points into targetCollection.
func (r *Registry) Partner(collection, field, targetCollection string) (*ir.FieldSpec, bool) {
	f, ok := r.Field(collection, field)
	if !ok || f.Relation == nil {
		return nil, false
	}
	t, ok := f.Relation.Target(targetCollection)
	if !ok {
		return nil, false
	}
	return r.Field(t.Collection, t.Field)
}

// RelationFields lists the relation fields of a collection.
func (r *Registry) RelationFields(collection string) []*ir.FieldSpec {
	c, ok := r.collections[collection]
	if !ok {
		return nil
	}
	var out []*ir.FieldSpec
	for i := range c.Fields {
		if c.Fields[i].Kind.IsRelation() {
			out = append(out, &c.Fields[i])
		}
	}
	return out
}

// RequiredFields lists the names of required fields.
func (r *Registry) RequiredFields(collection string) []string {
	return r.fieldNames(collection, func(f *ir.FieldSpec) bool { return f.Required })
}

// UniqueFields lists the names of unique fields.
func (r *Registry) UniqueFields(collection string) []string {
	return r.fieldNames(collection, func(f *ir.FieldSpec) bool { return f.Unique })
}

// DerivedFields lists fields callers may never set.
func (r *Registry) DerivedFields(collection string) []string {
	return r.fieldNames(collection, func(f *ir.FieldSpec) bool { return f.Derived })
}

func (r *Registry) fieldNames(collection string, keep func(*ir.FieldSpec) bool) []string {
	c, ok := r.collections[collection]
	if !ok {
		return nil
	}
	var out []string
	for i := range c.Fields {
		if keep(&c.Fields[i]) {
			out = append(out, c.Fields[i].Name)
		}
	}
	return out
}
