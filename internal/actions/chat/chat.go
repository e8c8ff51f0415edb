// Package chat registers chat groups and chat messages.
package chat

import (
	"context"
	"slices"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
)

// Actions returns the actions of this package.
func Actions() []*action.Action {
	return []*action.Action{
		{
			Name:       "chat_group.create",
			Collection: "chat_group",
			Kind:       action.KindCreate,
			Permission: permission.ChatCanManage,
			Contract:   base.Fields("chat_group", []string{"name", "meeting_id"}, []string{"read_group_ids", "write_group_ids"}),
			Validate:   base.Trim("name"),
			Prepare:    appendWeight,
		},
		{
			Name:       "chat_group.update",
			Collection: "chat_group",
			Kind:       action.KindUpdate,
			Permission: permission.ChatCanManage,
			Contract:   base.UpdateContract("chat_group", "name", "read_group_ids", "write_group_ids"),
			Validate:   base.Trim("name"),
		},
		{
			Name:       "chat_group.delete",
			Collection: "chat_group",
			Kind:       action.KindDelete,
			Permission: permission.ChatCanManage,
			Contract:   contract.ID,
		},
		{
			Name:             "chat_message.create",
			Collection:       "chat_message",
			Kind:             action.KindCreate,
			Contract:         base.Fields("chat_message", []string{"content", "chat_group_id"}, nil),
			CheckPermissions: checkWrite,
			Prepare:          prepareMessage,
		},
		{
			Name:             "chat_message.update",
			Collection:       "chat_message",
			Kind:             action.KindUpdate,
			Contract:         base.UpdateContract("chat_message", "content"),
			CheckPermissions: checkAuthor(false),
		},
		{
			Name:             "chat_message.delete",
			Collection:       "chat_message",
			Kind:             action.KindDelete,
			Contract:         contract.ID,
			CheckPermissions: checkAuthor(true),
		},
	}
}

// appendWeight puts a new chat group after the meeting's existing ones.
func appendWeight(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	highest, ok, err := inv.Max(ctx, "chat_group", queryir.Eq("meeting_id", instance["meeting_id"]), "weight")
	if err != nil {
		return nil, err
	}
	if !ok {
		highest = 0
	}
	instance["weight"] = ir.IRInt(highest + 1)
	return instance, nil
}

// checkWrite allows chat managers and members of a write group.
func checkWrite(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	group, err := base.Read(ctx, inv, ir.NewFQID("chat_group", instance.IntOr("chat_group_id", 0)), "meeting_id", "write_group_ids")
	if err != nil {
		return err
	}
	meetingID := group.IntOr("meeting_id", 0)
	ok, err := inv.Permissions().Has(ctx, meetingID, permission.ChatCanManage)
	if err != nil || ok {
		return err
	}
	mu, member, err := inv.Permissions().MeetingUser(ctx, meetingID)
	if err != nil {
		return err
	}
	if member {
		writers := group.IntList("write_group_ids")
		for _, g := range mu.IntList("group_ids") {
			if slices.Contains(writers, g) {
				return nil
			}
		}
	}
	return errs.PermissionDenied("You are not allowed to write in this chat group.")
}

func prepareMessage(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	group, err := inv.Get(ctx, ir.NewFQID("chat_group", instance.IntOr("chat_group_id", 0)), []string{"meeting_id"})
	if err != nil {
		return nil, err
	}
	meetingID := group.IntOr("meeting_id", 0)
	muID, ok, err := base.OwnMeetingUser(ctx, inv, meetingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.PermissionDenied("You are not a participant of meeting %d.", meetingID)
	}
	instance["meeting_id"] = ir.IRInt(meetingID)
	instance["meeting_user_id"] = ir.IRInt(muID)
	instance["created"] = ir.IRInt(inv.Now())
	return instance, nil
}

// checkAuthor lets authors edit and delete their own messages. Chat managers
// may delete, but never edit, other users' messages.
func checkAuthor(managerMayDelete bool) action.PermissionFunc {
	return func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
		fqid := ir.NewFQID("chat_message", instance.IntOr("id", 0))
		msg, err := base.Read(ctx, inv, fqid, "meeting_id", "meeting_user_id")
		if err != nil {
			return err
		}
		author, err := base.Read(ctx, inv, ir.NewFQID("meeting_user", msg.IntOr("meeting_user_id", 0)), "user_id")
		if err != nil && !errs.IsNotFound(err) {
			return err
		}
		if author.IntOr("user_id", 0) == inv.UserID() && inv.UserID() != 0 {
			return nil
		}
		if managerMayDelete {
			ok, err := inv.Permissions().Has(ctx, msg.IntOr("meeting_id", 0), permission.ChatCanManage)
			if err != nil || ok {
				return err
			}
			return errs.PermissionDenied("You must be creator of a chat message or have chat.can_manage to delete it.")
		}
		return errs.PermissionDenied("You must be creator of a chat message to edit it.")
	}
}
