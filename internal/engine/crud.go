package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

// run executes one action over its payload elements.
func (r *request) run(ctx context.Context, a *action.Action, data []ir.IRObject) ([]ir.IRObject, error) {
	if err := r.depth.Enter(a.Name); err != nil {
		return nil, err
	}
	defer r.depth.Leave()

	var validate func(ir.IRObject) error
	if a.Contract != "" {
		c, err := r.e.contracts.Compile(a.Name, a.Contract)
		if err != nil {
			return nil, fmt.Errorf("action %s: %w", a.Name, err)
		}
		validate = c.Validate
	}

	results := make([]ir.IRObject, len(data))
	hasResult := false
	for i, el := range data {
		if validate != nil {
			if err := validate(el); err != nil {
				return nil, err
			}
		}
		out, err := r.runElement(ctx, a, el)
		if err != nil {
			return nil, err
		}
		results[i] = out
		hasResult = hasResult || out != nil
	}
	if !hasResult {
		return nil, nil
	}
	return results, nil
}

func (r *request) runElement(ctx context.Context, a *action.Action, el ir.IRObject) (ir.IRObject, error) {
	slog.Debug("action", "request_id", r.id, "action", a.Name, "depth", r.depth.Depth())

	instance := el.Clone()
	if r.depth.Depth() == 1 && a.Collection != "" {
		if err := r.rejectDerived(a.Collection, instance); err != nil {
			return nil, err
		}
	}
	if a.Validate != nil {
		var err error
		if instance, err = a.Validate(ctx, r, instance); err != nil {
			return nil, err
		}
	}
	if err := r.checkPermissions(ctx, a, instance); err != nil {
		return nil, err
	}

	if a.Kind == action.KindCustom {
		return a.Execute(ctx, r, instance)
	}

	instances := []ir.IRObject{instance}
	if a.Expand != nil {
		var err error
		if instances, err = a.Expand(ctx, r, instance); err != nil {
			return nil, err
		}
	}

	var result ir.IRObject
	for i, in := range instances {
		if a.Prepare != nil {
			var err error
			if in, err = a.Prepare(ctx, r, in); err != nil {
				return nil, err
			}
		}
		writes := r.writes
		out, err := r.apply(ctx, a, in)
		if err != nil {
			return nil, err
		}
		if a.After != nil {
			if err := a.After(ctx, r, in); err != nil {
				return nil, err
			}
		}
		// An update that changed nothing leaves no history line.
		if a.History != "" && (a.Kind != action.KindUpdate || r.writes > writes) {
			r.AddHistory(ir.NewFQID(a.Collection, in.IntOr("id", 0)), a.History)
		}
		if i == 0 {
			result = out
		}
	}
	return result, nil
}

// apply is the default write for a CRUD kind. Create assigns the id into
// instance so After hooks see it.
func (r *request) apply(ctx context.Context, a *action.Action, instance ir.IRObject) (ir.IRObject, error) {
	switch a.Kind {
	case action.KindCreate:
		id, ok := instance.Int("id")
		if !ok {
			ids, err := r.ds.ReserveIDs(ctx, a.Collection, 1)
			if err != nil {
				return nil, err
			}
			id = ids[0]
		}
		instance["id"] = ir.IRInt(id)
		if err := r.Create(ctx, ir.NewFQID(a.Collection, id), instance); err != nil {
			return nil, err
		}
		return ir.IRObject{"id": ir.IRInt(id)}, nil

	case action.KindUpdate:
		fqid, err := instanceFQID(a, instance)
		if err != nil {
			return nil, err
		}
		patch := instance.Clone()
		delete(patch, "id")
		return nil, r.Update(ctx, fqid, patch)

	case action.KindDelete:
		fqid, err := instanceFQID(a, instance)
		if err != nil {
			return nil, err
		}
		if _, err := r.ds.Get(ctx, fqid, []string{"id"}); err != nil {
			return nil, err
		}
		return nil, r.Delete(ctx, fqid)
	}
	return nil, fmt.Errorf("action %s: kind %s has no default apply", a.Name, a.Kind)
}

// checkPermissions runs the action's check, or the default: the action's
// permission in the instance's meeting.
func (r *request) checkPermissions(ctx context.Context, a *action.Action, instance ir.IRObject) error {
	if a.CheckPermissions != nil {
		return a.CheckPermissions(ctx, r, instance)
	}
	if a.SkipPermission {
		return nil
	}
	meetingID, err := r.instanceMeeting(ctx, a, instance)
	if err != nil {
		return err
	}
	return r.checker.Check(ctx, meetingID, a.Permission)
}

// instanceMeeting finds the meeting a payload element acts in: the stored
// instance's meeting for update and delete, the payload's meeting_id
// otherwise.
func (r *request) instanceMeeting(ctx context.Context, a *action.Action, instance ir.IRObject) (int64, error) {
	if a.Kind != action.KindCreate && a.Collection != "" {
		if id, ok := instance.Int("id"); ok {
			return r.checker.MeetingID(ctx, ir.NewFQID(a.Collection, id))
		}
	}
	if id, ok := instance.Int("meeting_id"); ok {
		return id, nil
	}
	return 0, errs.Action("Cannot determine the meeting of %s.", a.Name)
}

// withDefaults fills unset fields that declare a default.
func (r *request) withDefaults(collection string, instance ir.IRObject) ir.IRObject {
	c, ok := r.e.schema.Collection(collection)
	if !ok {
		return instance
	}
	out := instance.Clone()
	for _, f := range c.Fields {
		if f.Default == nil {
			continue
		}
		if _, set := out[f.Name]; !set {
			out[f.Name] = f.Default
		}
	}
	return out
}

// rejectDerived refuses caller-supplied values for derived fields.
func (r *request) rejectDerived(collection string, instance ir.IRObject) error {
	for _, f := range r.e.schema.DerivedFields(collection) {
		if _, ok := instance[f]; ok {
			return errs.Validation(fmt.Sprintf("Field %s is derived and cannot be set.", f), f)
		}
	}
	return nil
}

func instanceFQID(a *action.Action, instance ir.IRObject) (ir.FQID, error) {
	id, ok := instance.Int("id")
	if !ok || id <= 0 {
		return "", errs.Validation("Payload needs a positive id.", "id")
	}
	return ir.NewFQID(a.Collection, id), nil
}
