// Package assignment registers elections and their candidates.
package assignment

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

const phaseFinished = "finished"

// Actions returns the actions of this package.
func Actions() []*action.Action {
	fields := []string{"description", "open_posts", "phase", "tag_ids", "attachment_ids"}
	return []*action.Action{
		{
			Name:       "assignment.create",
			Collection: "assignment",
			Kind:       action.KindCustom,
			Permission: permission.AssignmentCanManage,
			Contract:   base.Fields("assignment", []string{"title", "meeting_id"}, fields) + base.AgendaContract(true),
			Validate:   base.Chain(base.Trim("title"), base.EscapeIframes("description")),
			Execute: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				out, err := base.CreateContent(ctx, inv, "assignment", instance, false)
				if err != nil {
					return nil, err
				}
				inv.AddHistory(ir.NewFQID("assignment", out.IntOr("id", 0)), "Election created")
				return out, nil
			},
		},
		{
			Name:       "assignment.update",
			Collection: "assignment",
			Kind:       action.KindUpdate,
			Permission: permission.AssignmentCanManage,
			Contract:   base.UpdateContract("assignment", append([]string{"title"}, fields...)...),
			Validate:   base.Chain(base.Trim("title"), base.EscapeIframes("description")),
			History:    "Election updated",
		},
		{
			Name:       "assignment.delete",
			Collection: "assignment",
			Kind:       action.KindDelete,
			Permission: permission.AssignmentCanManage,
			Contract:   contract.ID,
			History:    "Election deleted",
		},
		{
			Name:             "assignment_candidate.create",
			Collection:       "assignment_candidate",
			Kind:             action.KindCreate,
			Contract:         base.Fields("assignment_candidate", []string{"assignment_id"}, []string{"meeting_user_id"}),
			CheckPermissions: checkNominate,
			Prepare:          prepareCandidate,
			History:          "Candidate added",
		},
		{
			Name:             "assignment_candidate.delete",
			Collection:       "assignment_candidate",
			Kind:             action.KindDelete,
			Contract:         contract.ID,
			CheckPermissions: checkWithdraw,
			History:          "Candidate removed",
		},
		{
			Name:       "assignment_candidate.sort",
			Collection: "assignment_candidate",
			Kind:       action.KindCustom,
			Contract:   base.IDsContract("assignment_id", "candidate_ids"),
			CheckPermissions: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
				meetingID, err := base.MeetingOf(ctx, inv, ir.NewFQID("assignment", instance.IntOr("assignment_id", 0)))
				if err != nil {
					return err
				}
				return inv.Permissions().Check(ctx, meetingID, permission.AssignmentCanManage)
			},
			Execute: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				scope := queryir.Eq("assignment_id", instance["assignment_id"])
				return nil, tree.SortLinear(ctx, inv, "assignment_candidate", scope, instance.IntList("candidate_ids"), "weight")
			},
		},
	}
}

// checkNominate requires can_nominate_other, or can_nominate_self when the
// acting user nominates themselves.
func checkNominate(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	a, err := base.Read(ctx, inv, ir.NewFQID("assignment", instance.IntOr("assignment_id", 0)), "meeting_id")
	if err != nil {
		return err
	}
	return checkCandidate(ctx, inv, a.IntOr("meeting_id", 0), instance.IntOr("meeting_user_id", 0))
}

func checkWithdraw(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	c, err := base.Read(ctx, inv, ir.NewFQID("assignment_candidate", instance.IntOr("id", 0)), "meeting_id", "meeting_user_id", "assignment_id")
	if err != nil {
		return err
	}
	a, err := base.Read(ctx, inv, ir.NewFQID("assignment", c.IntOr("assignment_id", 0)), "phase")
	if err != nil {
		return err
	}
	if a.StringOr("phase", "") == phaseFinished {
		return errs.Action("It is not permitted to remove a candidate from a finished assignment.")
	}
	return checkCandidate(ctx, inv, c.IntOr("meeting_id", 0), c.IntOr("meeting_user_id", 0))
}

func checkCandidate(ctx context.Context, inv action.Invoker, meetingID, candidate int64) error {
	own, ok, err := base.OwnMeetingUser(ctx, inv, meetingID)
	if err != nil {
		return err
	}
	if ok && candidate == own {
		return inv.Permissions().CheckAny(ctx, meetingID, permission.AssignmentCanNominateSelf, permission.AssignmentCanNominateOther)
	}
	return inv.Permissions().Check(ctx, meetingID, permission.AssignmentCanNominateOther)
}

func prepareCandidate(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	assignmentID := instance.IntOr("assignment_id", 0)
	a, err := inv.Get(ctx, ir.NewFQID("assignment", assignmentID), []string{"meeting_id", "phase"})
	if err != nil {
		return nil, err
	}
	if a.StringOr("phase", "") == phaseFinished {
		return nil, errs.Action("It is not permitted to add a candidate to a finished assignment.")
	}
	instance["meeting_id"] = a["meeting_id"]

	scope := queryir.Eq("assignment_id", ir.IRInt(assignmentID))
	if muID, ok := instance.Int("meeting_user_id"); ok {
		dup, err := inv.Exists(ctx, "assignment_candidate", queryir.And(scope, queryir.Eq("meeting_user_id", ir.IRInt(muID))))
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, errs.Action("Meeting user %d is already a candidate.", muID)
		}
	}
	highest, ok, err := inv.Max(ctx, "assignment_candidate", scope, "weight")
	if err != nil {
		return nil, err
	}
	if !ok {
		highest = 0
	}
	instance["weight"] = ir.IRInt(highest + 1)
	return instance, nil
}
