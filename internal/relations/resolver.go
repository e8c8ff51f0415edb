// Package relations keeps both sides of every relation consistent.
//
// When an instance's relation field changes, the resolver diffs the old and
// new partner sets and rewrites the partner side of each added or removed
// edge. A single-valued partner field that already points elsewhere is
// stolen: the previous holder loses its reference. Required fields emptied
// along the way are not rejected here; the dispatcher checks every touched
// instance once the whole request has run, so a later action in the same
// batch may still fill the gap or delete the instance.
package relations

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// Schema is the model registry lookup the resolver needs.
type Schema interface {
	Field(collection, field string) (*ir.FieldSpec, bool)
	RelationFields(collection string) []*ir.FieldSpec
}

// Writer applies partner-side changes. The dispatcher implements it on top
// of the overlay so that every change also becomes a write event.
type Writer interface {
	Get(ctx context.Context, fqid ir.FQID, fields []string) (ir.IRObject, error)
	Update(ctx context.Context, fqid ir.FQID, patch ir.IRObject) error
	IsDeleted(fqid ir.FQID) bool
}

// Resolver maintains reverse relation sides.
type Resolver struct {
	schema Schema
	w      Writer
}

// New returns a resolver writing through w.
func New(schema Schema, w Writer) *Resolver {
	return &Resolver{schema: schema, w: w}
}

// Relate processes a write to fqid. before is the state prior to the write
// (empty for a create), after the merged state once applied. Only relation
// fields named in changed are diffed; equal_fields are checked for those
// fields and for every relation constrained by a changed field.
func (r *Resolver) Relate(ctx context.Context, fqid ir.FQID, before, after ir.IRObject, changed []string) error {
	coll := fqid.Collection()
	fields := slices.Clone(changed)
	slices.Sort(fields)

	for _, name := range fields {
		spec, ok := r.schema.Field(coll, name)
		if !ok || spec.Relation == nil {
			continue
		}
		oldRefs, err := Partners(spec, before[name])
		if err != nil {
			return err
		}
		newRefs, err := Partners(spec, after[name])
		if err != nil {
			return errs.Validation(err.Error(), name).At(fqid, name)
		}
		if err := validateTargets(fqid, spec, newRefs); err != nil {
			return err
		}
		for _, p := range diff(oldRefs, newRefs) {
			if err := r.unlink(ctx, fqid, spec, p); err != nil {
				return err
			}
		}
		for _, p := range diff(newRefs, oldRefs) {
			if err := r.link(ctx, fqid, spec, p); err != nil {
				return err
			}
		}
	}
	return r.checkEqualFields(ctx, fqid, after, fields)
}

// Unlink removes fqid from every partner it references, as when the instance
// is deleted. Partners deleted in the same request are skipped.
func (r *Resolver) Unlink(ctx context.Context, fqid ir.FQID, state ir.IRObject) error {
	for _, spec := range r.schema.RelationFields(fqid.Collection()) {
		refs, err := Partners(spec, state[spec.Name])
		if err != nil {
			return err
		}
		for _, p := range refs {
			if err := r.unlink(ctx, fqid, spec, p); err != nil {
				return err
			}
		}
	}
	return nil
}

// link adds owner to partner's side of spec.
func (r *Resolver) link(ctx context.Context, owner ir.FQID, spec *ir.FieldSpec, partner ir.FQID) error {
	pspec, err := r.partnerSpec(spec, partner.Collection())
	if err != nil {
		return err
	}
	state, err := r.w.Get(ctx, partner, []string{pspec.Name})
	if errs.IsNotFound(err) {
		return errs.NotFound(partner).At(owner, spec.Name)
	}
	if err != nil {
		return err
	}
	back := backRef(pspec, owner)

	if pspec.Kind.IsList() {
		list, _ := state[pspec.Name].(ir.IRArray)
		if containsValue(list, back) {
			return nil
		}
		next := append(slices.Clone(list), back)
		return r.w.Update(ctx, partner, ir.IRObject{pspec.Name: next})
	}

	current := state[pspec.Name]
	if ir.Equal(current, back) {
		return nil
	}
	if !ir.IsEmpty(current) {
		// Steal: the previous holder stops pointing at partner.
		prevRefs, err := Partners(pspec, current)
		if err != nil {
			return err
		}
		for _, prev := range prevRefs {
			if prev == owner {
				continue
			}
			prevSpec, err := r.partnerSpec(pspec, prev.Collection())
			if err != nil {
				return err
			}
			if err := r.removeRef(ctx, prev, prevSpec, backRef(prevSpec, partner)); err != nil {
				return err
			}
		}
	}
	return r.w.Update(ctx, partner, ir.IRObject{pspec.Name: back})
}

// unlink removes owner from partner's side of spec.
func (r *Resolver) unlink(ctx context.Context, owner ir.FQID, spec *ir.FieldSpec, partner ir.FQID) error {
	pspec, err := r.partnerSpec(spec, partner.Collection())
	if err != nil {
		return err
	}
	return r.removeRef(ctx, partner, pspec, backRef(pspec, owner))
}

// removeRef drops value from fqid's field. Deleted or vanished instances are
// left alone.
func (r *Resolver) removeRef(ctx context.Context, fqid ir.FQID, spec *ir.FieldSpec, value ir.IRValue) error {
	if r.w.IsDeleted(fqid) {
		return nil
	}
	state, err := r.w.Get(ctx, fqid, []string{spec.Name})
	if errs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if spec.Kind.IsList() {
		list, _ := state[spec.Name].(ir.IRArray)
		if !containsValue(list, value) {
			return nil
		}
		next := make(ir.IRArray, 0, len(list))
		for _, v := range list {
			if !ir.Equal(v, value) {
				next = append(next, v)
			}
		}
		return r.w.Update(ctx, fqid, ir.IRObject{spec.Name: next})
	}
	if !ir.Equal(state[spec.Name], value) {
		return nil
	}
	return r.w.Update(ctx, fqid, ir.IRObject{spec.Name: ir.IRNull{}})
}

func (r *Resolver) partnerSpec(spec *ir.FieldSpec, targetColl string) (*ir.FieldSpec, error) {
	t, ok := spec.Relation.Target(targetColl)
	if !ok {
		return nil, fmt.Errorf("field %s has no relation target in %s", spec.Name, targetColl)
	}
	pspec, ok := r.schema.Field(t.Collection, t.Field)
	if !ok {
		return nil, fmt.Errorf("relation partner %s/%s is not declared", t.Collection, t.Field)
	}
	return pspec, nil
}

// checkEqualFields verifies the equal_fields constraints touched by a write.
func (r *Resolver) checkEqualFields(ctx context.Context, fqid ir.FQID, after ir.IRObject, changed []string) error {
	coll := fqid.Collection()
	for _, spec := range r.schema.RelationFields(coll) {
		if len(spec.Relation.EqualFields) == 0 {
			continue
		}
		relevant := slices.Contains(changed, spec.Name)
		for _, g := range spec.Relation.EqualFields {
			relevant = relevant || slices.Contains(changed, g)
		}
		if !relevant {
			continue
		}
		refs, err := Partners(spec, after[spec.Name])
		if err != nil {
			return err
		}
		for _, g := range spec.Relation.EqualFields {
			var offending []string
			for _, p := range refs {
				if r.w.IsDeleted(p) {
					continue
				}
				ps, err := r.w.Get(ctx, p, []string{g})
				if errs.IsNotFound(err) {
					continue
				}
				if err != nil {
					return err
				}
				if !ir.Equal(ps[g], after[g]) {
					offending = append(offending, string(p))
				}
			}
			if len(offending) > 0 {
				return errs.New(errs.KindCrossScopeViolation,
					"The following models do not belong to %s %s: %s",
					g, displayValue(after[g]), strings.Join(offending, ", ")).At(fqid, spec.Name)
			}
		}
	}
	return nil
}

// Partners lists the instances a relation value points at. Non-generic values
// are ids in the field's single target collection; generic values are FQIDs.
func Partners(spec *ir.FieldSpec, v ir.IRValue) ([]ir.FQID, error) {
	if ir.IsEmpty(v) {
		return nil, nil
	}
	var raw ir.IRArray
	if spec.Kind.IsList() {
		arr, ok := v.(ir.IRArray)
		if !ok {
			return nil, fmt.Errorf("%s must be a list", spec.Name)
		}
		raw = arr
	} else {
		raw = ir.IRArray{v}
	}

	out := make([]ir.FQID, 0, len(raw))
	for _, e := range raw {
		var f ir.FQID
		if spec.Kind.IsGeneric() {
			s, ok := e.(ir.IRString)
			if !ok {
				return nil, fmt.Errorf("%s must hold fqids", spec.Name)
			}
			parsed, err := ir.ParseFQID(string(s))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", spec.Name, err)
			}
			f = parsed
		} else {
			n, ok := e.(ir.IRInt)
			if !ok || n <= 0 {
				return nil, fmt.Errorf("%s must hold positive ids", spec.Name)
			}
			f = ir.NewFQID(spec.Relation.Targets[0].Collection, int64(n))
		}
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out, nil
}

func validateTargets(owner ir.FQID, spec *ir.FieldSpec, refs []ir.FQID) error {
	if !spec.Kind.IsGeneric() {
		return nil
	}
	for _, p := range refs {
		coll := p.Collection()
		if slices.Contains(spec.Relation.Forbidden, coll) {
			return errs.Validation(fmt.Sprintf("%s may not point to collection %s.", spec.Name, coll), spec.Name).At(owner, spec.Name)
		}
		if _, ok := spec.Relation.Target(coll); !ok {
			return errs.Validation(fmt.Sprintf("%s: collection %s is not a valid target.", spec.Name, coll), spec.Name).At(owner, spec.Name)
		}
	}
	return nil
}

// backRef is the value a partner field stores to point at owner.
func backRef(spec *ir.FieldSpec, owner ir.FQID) ir.IRValue {
	if spec.Kind.IsGeneric() {
		return ir.IRString(owner)
	}
	return ir.IRInt(owner.ID())
}

func containsValue(list ir.IRArray, v ir.IRValue) bool {
	for _, e := range list {
		if ir.Equal(e, v) {
			return true
		}
	}
	return false
}

func diff(a, b []ir.FQID) []ir.FQID {
	var out []ir.FQID
	for _, x := range a {
		if !slices.Contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}

func displayValue(v ir.IRValue) string {
	switch val := v.(type) {
	case ir.IRInt:
		return fmt.Sprint(int64(val))
	case ir.IRString:
		return string(val)
	case nil, ir.IRNull:
		return "none"
	}
	return fmt.Sprint(v)
}
