// Package user registers users, their meeting memberships and groups.
// Membership changes go through the backend-internal meeting_user actions,
// which keep the derived meeting_ids and committee_ids of users current.
package user

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
)

// organizationID is the id of the organization singleton.
const organizationID = 1

var personalFields = []string{"username", "first_name", "last_name", "email", "is_active", "saml_id", "member_number", "default_password"}

var privilegedFields = []string{"organization_management_level", "committee_management_ids"}

// membershipContract accepts a meeting and the user's groups there.
const membershipContract = "meeting_id?: int & >0\ngroup_ids?: [...int & >0]\nlocked_out?: bool\n"

// Actions returns the actions of this package.
func Actions() []*action.Action {
	userFields := append(slices.Clone(personalFields), privilegedFields...)
	out := []*action.Action{
		{
			Name:             "user.create",
			Collection:       "user",
			Kind:             action.KindCustom,
			Contract:         base.Fields("user", nil, userFields) + membershipContract,
			Validate:         validateUser,
			CheckPermissions: checkUserWrite(permission.UserCanManage),
			Execute:          create,
		},
		{
			Name:             "user.update",
			Collection:       "user",
			Kind:             action.KindCustom,
			Contract:         base.UpdateContract("user", userFields...) + membershipContract,
			Validate:         validateUser,
			CheckPermissions: checkUserWrite(permission.UserCanUpdate),
			Execute:          update,
		},
		{
			Name:             "user.delete",
			Collection:       "user",
			Kind:             action.KindDelete,
			Contract:         contract.ID,
			CheckPermissions: checkUserWrite(permission.UserCanManage),
			Prepare:          prepareDelete,
			History:          "Account deleted",
		},
		{
			Name:             "user.set_password",
			Collection:       "user",
			Kind:             action.KindUpdate,
			Contract:         contract.ID + "password: string & strings.MinRunes(1)\nset_as_default?: bool\n",
			CheckPermissions: checkSetPassword,
			Prepare:          preparePassword,
			History:          "Password changed",
		},
	}
	out = append(out, membershipActions()...)
	return append(out, groupActions()...)
}

func validateUser(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	instance, err := base.Trim("username", "first_name", "last_name", "email", "saml_id", "member_number")(ctx, inv, instance)
	if err != nil {
		return nil, err
	}
	if name, ok := instance.String("username"); ok {
		if name == "" {
			return nil, errs.Validation("Username must not be empty.", "username")
		}
		if strings.ContainsFunc(name, unicode.IsSpace) {
			return nil, errs.Validation("Username may not contain spaces.", "username")
		}
	}
	return instance, nil
}

// checkUserWrite allows organization user managers, and otherwise requires
// perm in every meeting the user belongs to or joins. Privileged fields need
// an organization level at least as high as the one granted.
func checkUserWrite(perm permission.Permission) action.PermissionFunc {
	return func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
		c := inv.Permissions()
		if level, ok := instance.String("organization_management_level"); ok {
			if err := c.CheckOML(ctx, permission.OML(level)); err != nil {
				return err
			}
		}
		manager, err := c.HasOML(ctx, permission.OMLCanManageUsers)
		if err != nil || manager {
			return err
		}
		for _, f := range privilegedFields {
			if instance.Has(f) {
				return c.CheckOML(ctx, permission.OMLCanManageUsers)
			}
		}

		var meetings []int64
		if id, ok := instance.Int("id"); ok {
			u, err := base.Read(ctx, inv, ir.NewFQID("user", id), "meeting_ids", "organization_management_level")
			if err != nil {
				return err
			}
			if permission.OML(u.StringOr("organization_management_level", "")) != permission.OMLNone {
				return c.CheckOML(ctx, permission.OMLCanManageUsers)
			}
			meetings = u.IntList("meeting_ids")
		}
		if id, ok := instance.Int("meeting_id"); ok && !slices.Contains(meetings, id) {
			meetings = append(meetings, id)
		}
		if len(meetings) == 0 {
			return c.CheckOML(ctx, permission.OMLCanManageUsers)
		}
		if instance.Has("meeting_id") {
			if err := c.Check(ctx, instance.IntOr("meeting_id", 0), permission.UserCanManage); err != nil {
				return err
			}
		}
		return c.CheckAll(ctx, meetings, perm)
	}
}

func create(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	membership := takeMembership(instance)
	if !instance.Has("username") {
		name, err := generateUsername(ctx, inv, instance.StringOr("first_name", ""), instance.StringOr("last_name", ""))
		if err != nil {
			return nil, err
		}
		instance["username"] = ir.IRString(name)
	}
	if !instance.Has("default_password") {
		pw, err := GeneratePassword()
		if err != nil {
			return nil, err
		}
		instance["default_password"] = ir.IRString(pw)
	}
	hash, err := HashPassword(instance.StringOr("default_password", ""))
	if err != nil {
		return nil, err
	}
	instance["password"] = ir.IRString(hash)
	instance["organization_id"] = ir.IRInt(organizationID)

	ids, err := inv.ReserveIDs(ctx, "user", 1)
	if err != nil {
		return nil, err
	}
	fqid := ir.NewFQID("user", ids[0])
	if err := inv.Create(ctx, fqid, instance); err != nil {
		return nil, err
	}
	if err := applyMembership(ctx, inv, ids[0], membership); err != nil {
		return nil, err
	}
	if err := RefreshScopes(ctx, inv, ids[0]); err != nil {
		return nil, err
	}
	inv.AddHistory(fqid, "Account created")
	return ir.IRObject{"id": ir.IRInt(ids[0]), "username": instance["username"]}, nil
}

func update(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	id := instance.IntOr("id", 0)
	fqid := ir.NewFQID("user", id)
	membership := takeMembership(instance)
	if err := protectSelf(ctx, inv, id, instance); err != nil {
		return nil, err
	}
	patch := instance.Clone()
	delete(patch, "id")
	if err := inv.Update(ctx, fqid, patch); err != nil {
		return nil, err
	}
	if err := applyMembership(ctx, inv, id, membership); err != nil {
		return nil, err
	}
	if err := RefreshScopes(ctx, inv, id); err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		inv.AddHistory(fqid, "Personal data changed")
	}
	return nil, nil
}

// protectSelf stops superadmins from deactivating or demoting themselves.
func protectSelf(ctx context.Context, inv action.Invoker, id int64, instance ir.IRObject) error {
	if id != inv.UserID() {
		return nil
	}
	oml, err := inv.Permissions().OML(ctx)
	if err != nil || oml != permission.OMLSuperadmin {
		return err
	}
	if active, ok := instance["is_active"].(ir.IRBool); ok && !bool(active) {
		return errs.PermissionDenied("A user is not allowed to deactivate themselves.")
	}
	if v, ok := instance["organization_management_level"]; ok && !ir.Equal(v, ir.IRString(permission.OMLSuperadmin)) {
		return errs.PermissionDenied("A user is not allowed to withdraw their own superadmin level.")
	}
	return nil
}

func prepareDelete(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	id := instance.IntOr("id", 0)
	if id == inv.UserID() {
		oml, err := inv.Permissions().OML(ctx)
		if err != nil {
			return nil, err
		}
		if oml == permission.OMLSuperadmin {
			return nil, errs.PermissionDenied("A user is not allowed to delete themselves.")
		}
	}
	u, err := inv.Get(ctx, ir.NewFQID("user", id), []string{"meeting_ids"})
	if err != nil {
		return nil, err
	}
	for _, m := range u.IntList("meeting_ids") {
		RequireAdmin(inv, m)
	}
	return instance, nil
}

func checkSetPassword(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	if instance.IntOr("id", 0) == inv.UserID() && inv.UserID() != 0 {
		return nil
	}
	return checkUserWrite(permission.UserCanUpdate)(ctx, inv, ir.IRObject{"id": instance["id"]})
}

func preparePassword(_ context.Context, _ action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	plain := instance.StringOr("password", "")
	hash, err := HashPassword(plain)
	if err != nil {
		return nil, err
	}
	out := ir.IRObject{"id": instance["id"], "password": ir.IRString(hash)}
	if instance.Bool("set_as_default") {
		out["default_password"] = ir.IRString(plain)
	}
	return out, nil
}

// membership is the meeting part of a user payload.
type membership struct {
	meetingID int64
	fields    ir.IRObject
}

func takeMembership(instance ir.IRObject) *membership {
	meetingID, ok := instance.Int("meeting_id")
	delete(instance, "meeting_id")
	fields := ir.IRObject{}
	for _, f := range []string{"group_ids", "locked_out"} {
		if v, set := instance[f]; set {
			fields[f] = v
			delete(instance, f)
		}
	}
	if !ok {
		return nil
	}
	return &membership{meetingID: meetingID, fields: fields}
}

// applyMembership creates or updates the user's meeting_user in the
// payload's meeting.
func applyMembership(ctx context.Context, inv action.Invoker, userID int64, m *membership) error {
	if m == nil {
		return nil
	}
	existing, err := inv.Filter(ctx, "meeting_user", queryir.And(
		queryir.Eq("user_id", ir.IRInt(userID)),
		queryir.Eq("meeting_id", ir.IRInt(m.meetingID)),
	), []string{"id"})
	if err != nil {
		return err
	}
	data := m.fields.Clone()
	if len(existing) > 0 {
		data["id"] = ir.IRInt(slices.Min(slices.Collect(maps.Keys(existing))))
		_, err := inv.Execute(ctx, "meeting_user.update", []ir.IRObject{data})
		return err
	}
	data["user_id"] = ir.IRInt(userID)
	data["meeting_id"] = ir.IRInt(m.meetingID)
	_, err = inv.Execute(ctx, "meeting_user.create", []ir.IRObject{data})
	return err
}

// generateUsername joins first and last name without whitespace and
// appends the first free numeric suffix on collision.
func generateUsername(ctx context.Context, inv action.Invoker, first, last string) (string, error) {
	stem := strings.Join(strings.Fields(first+last), "")
	if stem == "" {
		return "", errs.Action("Need username or first_name or last_name.")
	}
	name := stem
	for i := 1; ; i++ {
		taken, err := inv.Exists(ctx, "user", queryir.Eq("username", ir.IRString(name)))
		if err != nil {
			return "", err
		}
		if !taken {
			return name, nil
		}
		name = fmt.Sprintf("%s%d", stem, i)
	}
}
