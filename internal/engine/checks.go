package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/relations"
)

// finish runs the checks that only make sense once every action of the
// request is applied: a later action may refill a field an earlier one
// emptied, or delete the instance outright.
func (r *request) finish(ctx context.Context) error {
	for _, check := range r.deferred {
		if err := check(ctx); err != nil {
			return err
		}
	}
	if err := r.checkProtected(ctx); err != nil {
		return err
	}
	if err := r.checkRequired(ctx); err != nil {
		return err
	}
	return r.checkUnique(ctx)
}

func (r *request) checkRequired(ctx context.Context) error {
	for _, fqid := range r.touched {
		if r.ds.IsDeleted(fqid) {
			continue
		}
		required := r.e.schema.RequiredFields(fqid.Collection())
		if len(required) == 0 {
			continue
		}
		state, err := r.ds.Get(ctx, fqid, required)
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		for _, f := range required {
			if ir.IsEmpty(state[f]) {
				return errs.New(errs.KindRequiredFieldEmptied,
					"Cannot leave required field %s of %s empty.", f, fqid).At(fqid, f)
			}
		}
	}
	return nil
}

func (r *request) checkUnique(ctx context.Context) error {
	for _, fqid := range r.touched {
		fields := r.unique[fqid]
		if len(fields) == 0 || r.ds.IsDeleted(fqid) {
			continue
		}
		state, err := r.ds.Get(ctx, fqid, fields)
		if err != nil {
			return err
		}
		for _, f := range fields {
			v := state[f]
			if ir.IsEmpty(v) {
				continue
			}
			pred := queryir.And(queryir.Eq(f, v), queryir.Ne("id", ir.IRInt(fqid.ID())))
			dup, err := r.ds.Filter(ctx, fqid.Collection(), pred, []string{"id"})
			if err != nil {
				return err
			}
			if len(dup) > 0 {
				return errs.Validation(fmt.Sprintf("A %s with the %s '%s' already exists.",
					fqid.Collection(), f, display(v)), f).At(fqid, f)
			}
		}
	}
	return nil
}

// checkProtected fails if a deleted instance is still referenced through a
// protect relation by a partner that survives the request.
func (r *request) checkProtected(ctx context.Context) error {
	for _, fqid := range r.protected {
		state, _ := r.ds.Deleted(fqid)
		var blockers []string
		for _, spec := range r.e.schema.RelationFields(fqid.Collection()) {
			if spec.Relation.OnDelete != ir.OnDeleteProtect {
				continue
			}
			refs, err := relations.Partners(spec, state[spec.Name])
			if err != nil {
				return err
			}
			for _, p := range refs {
				if !r.ds.IsDeleted(p) {
					blockers = append(blockers, string(p))
				}
			}
		}
		if len(blockers) > 0 {
			return errs.New(errs.KindStillReferenced,
				"You can not delete %s because you have to delete the following related models first: %s",
				fqid, strings.Join(blockers, ", ")).At(fqid, "")
		}
	}
	return nil
}

func display(v ir.IRValue) string {
	switch val := v.(type) {
	case ir.IRString:
		return string(val)
	case ir.IRInt:
		return fmt.Sprint(int64(val))
	}
	return fmt.Sprint(ir.ToGo(v))
}
