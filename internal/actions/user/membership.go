package user

import (
	"context"
	"slices"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

var membershipFields = []string{"group_ids", "number", "comment", "structure_level_ids", "locked_out"}

func membershipActions() []*action.Action {
	return []*action.Action{
		{
			Name:           "meeting_user.create",
			Collection:     "meeting_user",
			Kind:           action.KindCreate,
			Visibility:     action.BackendInternal,
			SkipPermission: true,
			Contract:       base.Fields("meeting_user", []string{"user_id", "meeting_id"}, membershipFields),
			Prepare:        prepareMembership,
			After: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
				groupHistory(inv, instance.IntOr("user_id", 0), instance.IntOr("meeting_id", 0), nil, instance.IntList("group_ids"))
				return RefreshScopes(ctx, inv, instance.IntOr("user_id", 0))
			},
		},
		{
			Name:           "meeting_user.update",
			Collection:     "meeting_user",
			Kind:           action.KindUpdate,
			Visibility:     action.BackendInternal,
			SkipPermission: true,
			Contract:       base.UpdateContract("meeting_user", membershipFields...),
			Prepare:        prepareMembershipUpdate,
		},
		{
			Name:           "meeting_user.delete",
			Collection:     "meeting_user",
			Kind:           action.KindDelete,
			Visibility:     action.BackendInternal,
			SkipPermission: true,
			Contract:       contract.ID,
			Prepare: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				mu, err := inv.Get(ctx, ir.NewFQID("meeting_user", instance.IntOr("id", 0)), []string{"user_id", "meeting_id"})
				if err != nil {
					return nil, err
				}
				RequireAdmin(inv, mu.IntOr("meeting_id", 0))
				instance["user_id"] = mu["user_id"]
				return instance, nil
			},
			After: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
				return RefreshScopes(ctx, inv, instance.IntOr("user_id", 0))
			},
		},
	}
}

func prepareMembership(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	userID, meetingID := instance.IntOr("user_id", 0), instance.IntOr("meeting_id", 0)
	exists, err := inv.Exists(ctx, "meeting_user", queryir.And(
		queryir.Eq("user_id", ir.IRInt(userID)),
		queryir.Eq("meeting_id", ir.IRInt(meetingID)),
	))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errs.Action("User %d is already a member of meeting %d.", userID, meetingID)
	}
	if err := checkLockout(inv, userID, instance); err != nil {
		return nil, err
	}
	return instance, nil
}

func prepareMembershipUpdate(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	mu, err := inv.Get(ctx, ir.NewFQID("meeting_user", instance.IntOr("id", 0)), []string{"user_id", "meeting_id", "group_ids"})
	if err != nil {
		return nil, err
	}
	userID, meetingID := mu.IntOr("user_id", 0), mu.IntOr("meeting_id", 0)
	if err := checkLockout(inv, userID, instance); err != nil {
		return nil, err
	}
	if instance.Has("group_ids") {
		groupHistory(inv, userID, meetingID, mu.IntList("group_ids"), instance.IntList("group_ids"))
		RequireAdmin(inv, meetingID)
	}
	return instance, nil
}

func checkLockout(inv action.Invoker, userID int64, instance ir.IRObject) error {
	if instance.Bool("locked_out") && userID == inv.UserID() {
		return errs.PermissionDenied("You may not lock yourself out of a meeting.")
	}
	return nil
}

func groupHistory(inv action.Invoker, userID, meetingID int64, before, after []int64) {
	userFQID := ir.NewFQID("user", userID)
	meetingFQID := ir.NewFQID("meeting", meetingID)
	for _, g := range ir.SortedIDs(after) {
		if !slices.Contains(before, g) {
			inv.AddHistory(userFQID, "Participant added to group {} in meeting {}", ir.NewFQID("group", g), meetingFQID)
		}
	}
	for _, g := range ir.SortedIDs(before) {
		if !slices.Contains(after, g) {
			inv.AddHistory(userFQID, "Participant removed from group {} in meeting {}", ir.NewFQID("group", g), meetingFQID)
		}
	}
}

// RequireAdmin registers an end-of-request check that the meeting still has
// an administrator. Template meetings and deleted meetings are exempt.
func RequireAdmin(inv action.Invoker, meetingID int64) {
	inv.Defer(func(ctx context.Context) error {
		fqid := ir.NewFQID("meeting", meetingID)
		if inv.IsDeleted(fqid) {
			return nil
		}
		m, err := inv.Get(ctx, fqid, []string{"admin_group_id", "template_for_organization_id"})
		if errs.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		adminGroup, ok := m.Int("admin_group_id")
		if !ok || m.Has("template_for_organization_id") {
			return nil
		}
		g, err := inv.Get(ctx, ir.NewFQID("group", adminGroup), []string{"meeting_user_ids"})
		if err != nil {
			return err
		}
		if len(g.IntList("meeting_user_ids")) == 0 {
			return errs.Action("Cannot remove last admin from meeting %d.", meetingID)
		}
		return nil
	})
}

// RefreshScopes recomputes a user's derived meeting_ids and committee_ids
// from their memberships and managed committees.
func RefreshScopes(ctx context.Context, inv action.Invoker, userID int64) error {
	fqid := ir.NewFQID("user", userID)
	if inv.IsDeleted(fqid) {
		return nil
	}
	u, err := inv.Get(ctx, fqid, []string{"meeting_user_ids", "committee_management_ids"})
	if err != nil {
		return err
	}
	mus, err := inv.GetMany(ctx, "meeting_user", u.IntList("meeting_user_ids"), []string{"meeting_id"})
	if err != nil {
		return err
	}
	var meetingIDs []int64
	for _, mu := range mus {
		if id, ok := mu.Int("meeting_id"); ok && !slices.Contains(meetingIDs, id) {
			meetingIDs = append(meetingIDs, id)
		}
	}
	meetings, err := inv.GetMany(ctx, "meeting", meetingIDs, []string{"committee_id"})
	if err != nil {
		return err
	}
	committeeIDs := slices.Clone(u.IntList("committee_management_ids"))
	for _, m := range meetings {
		if id, ok := m.Int("committee_id"); ok && !slices.Contains(committeeIDs, id) {
			committeeIDs = append(committeeIDs, id)
		}
	}
	return inv.Update(ctx, fqid, ir.IRObject{
		"meeting_ids":   ir.Ints(ir.SortedIDs(meetingIDs)...),
		"committee_ids": ir.Ints(ir.SortedIDs(committeeIDs)...),
	})
}
