// Package motion registers motions, their states and motion forwarding.
package motion

import (
	"context"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/tree"
)

const collection = "motion"

var (
	contentFields  = []string{"title", "text", "reason"}
	metadataFields = []string{"number", "state_id", "sort_parent_id", "tag_ids", "attachment_ids"}
)

var sortSpec = tree.Spec{
	Collection:  collection,
	ParentField: "sort_parent_id",
	ChildField:  "sort_child_ids",
	WeightField: "sort_weight",
}

// Actions returns the actions of this package.
func Actions() []*action.Action {
	return []*action.Action{
		{
			Name:       "motion.create",
			Collection: collection,
			Kind:       action.KindCustom,
			Contract: base.Fields(collection, []string{"title", "meeting_id"},
				append([]string{"text", "reason", "lead_motion_id"}, metadataFields...)) + base.AgendaContract(true),
			Validate:         validateText,
			CheckPermissions: checkCreate,
			Execute:          create,
		},
		{
			Name:             "motion.update",
			Collection:       collection,
			Kind:             action.KindUpdate,
			Contract:         base.UpdateContract(collection, append(contentFields, metadataFields...)...),
			Validate:         base.Chain(validateText, validateSortParent),
			CheckPermissions: checkUpdate,
			Prepare:          prepareUpdate,
			History:          "Motion updated",
		},
		{
			Name:       "motion.delete",
			Collection: collection,
			Kind:       action.KindDelete,
			Permission: permission.MotionCanManage,
			Contract:   contract.ID,
			History:    "Motion deleted",
		},
		{
			Name:       "motion.sort",
			Collection: collection,
			Kind:       action.KindCustom,
			Permission: permission.MotionCanManage,
			Contract:   base.TreeContract,
			Execute: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				nodes, err := tree.ParseNodes(instance["tree"])
				if err != nil {
					return nil, err
				}
				return nil, tree.Sort(ctx, inv, sortSpec, instance.IntOr("meeting_id", 0), nodes)
			},
		},
		{
			Name:           "motion.create_forwarded",
			Collection:     collection,
			Kind:           action.KindCustom,
			Visibility:     action.BackendInternal,
			SkipPermission: true,
			Contract:       "origin_id: int & >0\nmeeting_id: int & >0\nstate_id?: int & >0\nlead_motion_id?: int & >0\nwith_amendments?: bool\nuse_original_number?: bool\n",
			Execute:        createForwarded,
		},
		{
			Name:       "motion_state.create",
			Collection: "motion_state",
			Kind:       action.KindCreate,
			Permission: permission.MotionCanManage,
			Contract:   base.Fields("motion_state", []string{"name", "meeting_id"}, []string{"allow_motion_forwarding"}),
			Validate:   base.Trim("name"),
		},
		{
			Name:       "motion_state.update",
			Collection: "motion_state",
			Kind:       action.KindUpdate,
			Permission: permission.MotionCanManage,
			Contract:   base.UpdateContract("motion_state", "name", "allow_motion_forwarding"),
			Validate:   base.Trim("name"),
		},
		{
			Name:       "motion_state.delete",
			Collection: "motion_state",
			Kind:       action.KindDelete,
			Permission: permission.MotionCanManage,
			Contract:   contract.ID,
		},
	}
}

var validateText = base.Chain(base.Trim("title", "number"), base.EscapeIframes("text", "reason"))

// checkCreate requires motion.can_create, plus can_manage_metadata for any
// metadata field.
func checkCreate(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	meetingID := instance.IntOr("meeting_id", 0)
	if err := inv.Permissions().Check(ctx, meetingID, permission.MotionCanCreate); err != nil {
		return err
	}
	return checkMetadata(ctx, inv, meetingID, instance)
}

func checkUpdate(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	meetingID, err := base.MeetingOf(ctx, inv, ir.NewFQID(collection, instance.IntOr("id", 0)))
	if err != nil {
		return err
	}
	for _, f := range contentFields {
		if instance.Has(f) {
			return inv.Permissions().Check(ctx, meetingID, permission.MotionCanManage)
		}
	}
	return checkMetadata(ctx, inv, meetingID, instance)
}

func checkMetadata(ctx context.Context, inv action.Invoker, meetingID int64, instance ir.IRObject) error {
	for _, f := range metadataFields {
		if instance.Has(f) {
			return inv.Permissions().Check(ctx, meetingID, permission.MotionCanManageMetadata)
		}
	}
	return nil
}

func validateSortParent(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	if pid, ok := instance.Int("sort_parent_id"); ok {
		if err := tree.CheckCycle(ctx, inv, collection, "sort_parent_id", instance.IntOr("id", 0), pid); err != nil {
			return nil, err
		}
	}
	return instance, nil
}

func create(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	meetingID := instance.IntOr("meeting_id", 0)
	if !instance.Has("state_id") {
		state, err := firstState(ctx, inv, meetingID)
		if err != nil {
			return nil, err
		}
		instance["state_id"] = ir.IRInt(state)
	}
	if err := checkNumber(ctx, inv, meetingID, 0, instance); err != nil {
		return nil, err
	}
	now := ir.IRInt(inv.Now())
	instance["created"] = now
	instance["last_modified"] = now

	out, err := base.CreateContent(ctx, inv, collection, instance, false)
	if err != nil {
		return nil, err
	}
	inv.AddHistory(ir.NewFQID(collection, out.IntOr("id", 0)), "Motion created")
	return out, nil
}

func prepareUpdate(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	id := instance.IntOr("id", 0)
	if instance.Has("number") {
		meetingID, err := base.MeetingOf(ctx, inv, ir.NewFQID(collection, id))
		if err != nil {
			return nil, err
		}
		if err := checkNumber(ctx, inv, meetingID, id, instance); err != nil {
			return nil, err
		}
	}
	instance["last_modified"] = ir.IRInt(inv.Now())
	return instance, nil
}

// firstState is the meeting's motion state with the lowest id.
func firstState(ctx context.Context, inv action.Invoker, meetingID int64) (int64, error) {
	states, err := inv.Filter(ctx, "motion_state", queryir.Eq("meeting_id", ir.IRInt(meetingID)), []string{"id"})
	if err != nil {
		return 0, err
	}
	var first int64
	for id := range states {
		if first == 0 || id < first {
			first = id
		}
	}
	if first == 0 {
		return 0, errs.Action("Meeting %d has no motion state.", meetingID)
	}
	return first, nil
}

// checkNumber rejects a motion number already used by another motion of the
// meeting.
func checkNumber(ctx context.Context, inv action.Invoker, meetingID, self int64, instance ir.IRObject) error {
	number, ok := instance.String("number")
	if !ok || number == "" {
		return nil
	}
	taken, err := inv.Exists(ctx, collection, queryir.And(
		queryir.Eq("meeting_id", ir.IRInt(meetingID)),
		queryir.Eq("number", ir.IRString(number)),
		queryir.Ne("id", ir.IRInt(self)),
	))
	if err != nil {
		return err
	}
	if taken {
		return errs.Action("Number must be unique.")
	}
	return nil
}

// createForwarded copies a motion into another meeting. With amendments,
// every forwardable amendment follows below the copy; the others are
// counted as failures instead of aborting.
func createForwarded(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	originID := instance.IntOr("origin_id", 0)
	originFQID := ir.NewFQID(collection, originID)
	origin, err := inv.Get(ctx, originFQID, []string{"title", "text", "reason", "number", "meeting_id", "state_id", "amendment_ids"})
	if err != nil {
		return nil, err
	}
	target := instance.IntOr("meeting_id", 0)
	if origin.IntOr("meeting_id", 0) == target {
		return nil, errs.Action("Cannot forward motion to the same meeting.")
	}
	if err := checkForwardable(ctx, inv, originID, origin.IntOr("state_id", 0)); err != nil {
		return nil, err
	}

	copied := ir.IRObject{
		"title":      origin["title"],
		"meeting_id": ir.IRInt(target),
		"origin_id":  ir.IRInt(originID),
		"forwarded":  ir.IRInt(inv.Now()),
		"created":    ir.IRInt(inv.Now()),
	}
	for _, f := range []string{"text", "reason"} {
		if v, ok := origin[f]; ok {
			copied[f] = v
		}
	}
	if instance.Bool("use_original_number") && origin.Has("number") {
		copied["number"] = origin["number"]
		if err := checkNumber(ctx, inv, target, 0, copied); err != nil {
			return nil, err
		}
	}
	if lead, ok := instance.Int("lead_motion_id"); ok {
		copied["lead_motion_id"] = ir.IRInt(lead)
	}
	state, ok := instance.Int("state_id")
	if !ok {
		if state, err = firstState(ctx, inv, target); err != nil {
			return nil, err
		}
	}
	copied["state_id"] = ir.IRInt(state)

	out, err := base.CreateContent(ctx, inv, collection, copied, false)
	if err != nil {
		return nil, err
	}
	newID := out.IntOr("id", 0)
	inv.AddHistory(originFQID, "Motion forwarded to {}", ir.NewFQID("meeting", target))
	inv.AddHistory(ir.NewFQID(collection, newID), "Motion created (forwarded)")

	if !instance.Bool("with_amendments") {
		return out, nil
	}
	var succeeded, failed int64
	for _, amendment := range origin.IntList("amendment_ids") {
		a, err := inv.Get(ctx, ir.NewFQID(collection, amendment), []string{"state_id"})
		if err != nil {
			return nil, err
		}
		if checkForwardable(ctx, inv, amendment, a.IntOr("state_id", 0)) != nil {
			failed++
			continue
		}
		if _, err := inv.Execute(ctx, "motion.create_forwarded", []ir.IRObject{{
			"origin_id":       ir.IRInt(amendment),
			"meeting_id":      ir.IRInt(target),
			"state_id":        ir.IRInt(state),
			"lead_motion_id":  ir.IRInt(newID),
			"with_amendments": ir.IRBool(true),
		}}); err != nil {
			return nil, err
		}
		succeeded++
	}
	out["amendment_result"] = ir.IRObject{"success": ir.IRInt(succeeded), "failure": ir.IRInt(failed)}
	return out, nil
}

func checkForwardable(ctx context.Context, inv action.Invoker, id, stateID int64) error {
	state, err := inv.Get(ctx, ir.NewFQID("motion_state", stateID), []string{"allow_motion_forwarding"})
	if err != nil {
		return err
	}
	if !state.Bool("allow_motion_forwarding") {
		return errs.Action("State of motion %d does not allow forwarding.", id)
	}
	return nil
}
