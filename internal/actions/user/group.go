package user

import (
	"context"
	"fmt"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
)

func groupActions() []*action.Action {
	return []*action.Action{
		{
			Name:       "group.create",
			Collection: "group",
			Kind:       action.KindCreate,
			Permission: permission.UserCanManage,
			Contract:   base.Fields("group", []string{"name", "meeting_id"}, []string{"permissions", "weight"}),
			Validate:   base.Chain(base.Trim("name"), validatePermissions),
			Prepare: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				if instance.Has("weight") {
					return instance, nil
				}
				highest, ok, err := inv.Max(ctx, "group", queryir.Eq("meeting_id", instance["meeting_id"]), "weight")
				if err != nil {
					return nil, err
				}
				if !ok {
					highest = 0
				}
				instance["weight"] = ir.IRInt(highest + 1)
				return instance, nil
			},
			History: "Group created",
		},
		{
			Name:       "group.update",
			Collection: "group",
			Kind:       action.KindUpdate,
			Permission: permission.UserCanManage,
			Contract:   base.UpdateContract("group", "name", "permissions", "weight"),
			Validate:   base.Chain(base.Trim("name"), validatePermissions),
			Prepare: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				g, err := inv.Get(ctx, ir.NewFQID("group", instance.IntOr("id", 0)), []string{"admin_group_for_meeting_id"})
				if err != nil {
					return nil, err
				}
				if g.Has("admin_group_for_meeting_id") && instance.Has("permissions") {
					return nil, errs.Action("You cannot change the permissions of the admin group.")
				}
				return instance, nil
			},
			History: "Group updated",
		},
		{
			Name:       "group.delete",
			Collection: "group",
			Kind:       action.KindDelete,
			Permission: permission.UserCanManage,
			Contract:   contract.ID,
			Prepare: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				g, err := inv.Get(ctx, ir.NewFQID("group", instance.IntOr("id", 0)), []string{"admin_group_for_meeting_id", "default_group_for_meeting_id"})
				if err != nil {
					return nil, err
				}
				if g.Has("admin_group_for_meeting_id") {
					return nil, errs.Action("You cannot delete the admin group of a meeting.")
				}
				if g.Has("default_group_for_meeting_id") {
					return nil, errs.Action("You cannot delete the default group of a meeting.")
				}
				return instance, nil
			},
			History: "Group deleted",
		},
	}
}

// validatePermissions rejects unknown tokens and drops permissions implied
// by others in the list.
func validatePermissions(_ context.Context, _ action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	if !instance.Has("permissions") {
		return instance, nil
	}
	var perms []permission.Permission
	for _, p := range instance.StringList("permissions") {
		if !permission.Valid(permission.Permission(p)) {
			return nil, errs.Validation(fmt.Sprintf("Invalid permission: %s", p), "permissions")
		}
		perms = append(perms, permission.Permission(p))
	}
	reduced := permission.Reduce(perms)
	out := make([]string, len(reduced))
	for i, p := range reduced {
		out[i] = string(p)
	}
	instance["permissions"] = ir.Strings(out...)
	return instance, nil
}
