// Package speaker registers lists of speakers and speakers.
package speaker

import (
	"context"
	"maps"
	"slices"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/tree"
)

// Actions returns the actions of this package.
func Actions() []*action.Action {
	return []*action.Action{
		{
			Name:           "list_of_speakers.create",
			Collection:     "list_of_speakers",
			Kind:           action.KindCreate,
			Visibility:     action.BackendInternal,
			SkipPermission: true,
			Contract:       base.Fields("list_of_speakers", []string{"content_object_id"}, []string{"meeting_id", "closed"}),
			Prepare:        prepareList,
		},
		{
			Name:             "list_of_speakers.update",
			Collection:       "list_of_speakers",
			Kind:             action.KindUpdate,
			Contract:         base.UpdateContract("list_of_speakers", "closed", "moderator_notes"),
			Validate:         base.EscapeIframes("moderator_notes"),
			CheckPermissions: checkListUpdate,
			History:          "List of speakers updated",
		},
		{
			Name:             "speaker.create",
			Collection:       "speaker",
			Kind:             action.KindCreate,
			Contract:         base.Fields("speaker", []string{"list_of_speakers_id"}, []string{"meeting_user_id", "point_of_order", "point_of_order_category_id", "note", "speech_state", "structure_level_list_of_speakers_id"}),
			CheckPermissions: checkCreate,
			Prepare:          prepareSpeaker,
			History:          "Speaker added",
		},
		{
			Name:       "speaker.update",
			Collection: "speaker",
			Kind:       action.KindUpdate,
			Permission: permission.ListOfSpeakersCanManage,
			Contract:   base.UpdateContract("speaker", "speech_state", "note", "point_of_order", "point_of_order_category_id", "meeting_user_id", "structure_level_list_of_speakers_id"),
		},
		{
			Name:             "speaker.delete",
			Collection:       "speaker",
			Kind:             action.KindDelete,
			Contract:         contract.ID,
			CheckPermissions: checkDelete,
			History:          "Speaker removed",
		},
		{
			Name:       "speaker.speak",
			Collection: "speaker",
			Kind:       action.KindCustom,
			Permission: permission.ListOfSpeakersCanManage,
			Contract:   contract.ID,
			Execute:    speak,
		},
		{
			Name:       "speaker.end_speech",
			Collection: "speaker",
			Kind:       action.KindCustom,
			Permission: permission.ListOfSpeakersCanManage,
			Contract:   contract.ID,
			Execute:    endSpeech,
		},
		{
			Name:       "speaker.sort",
			Collection: "speaker",
			Kind:       action.KindCustom,
			Contract:   base.IDsContract("list_of_speakers_id", "speaker_ids"),
			CheckPermissions: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
				return checkOnList(ctx, inv, instance.IntOr("list_of_speakers_id", 0), permission.ListOfSpeakersCanManage)
			},
			Execute: sortSpeakers,
		},
	}
}

func prepareList(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	if !instance.Has("meeting_id") {
		content, err := ir.ParseFQID(instance.StringOr("content_object_id", ""))
		if err != nil {
			return nil, errs.Validation(err.Error(), "content_object_id")
		}
		meetingID, err := base.MeetingOf(ctx, inv, content)
		if err != nil {
			return nil, err
		}
		instance["meeting_id"] = ir.IRInt(meetingID)
	}
	return base.SetSequentialNumber("list_of_speakers")(ctx, inv, instance)
}

func checkListUpdate(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	listID := instance.IntOr("id", 0)
	if instance.Has("moderator_notes") {
		if err := checkOnList(ctx, inv, listID, permission.ListOfSpeakersCanManageModeratorNotes); err != nil {
			return err
		}
	}
	if instance.Has("closed") || !instance.Has("moderator_notes") {
		return checkOnList(ctx, inv, listID, permission.ListOfSpeakersCanManage)
	}
	return nil
}

func checkOnList(ctx context.Context, inv action.Invoker, listID int64, perm permission.Permission) error {
	meetingID, err := base.MeetingOf(ctx, inv, ir.NewFQID("list_of_speakers", listID))
	if err != nil {
		return err
	}
	return inv.Permissions().Check(ctx, meetingID, perm)
}

// checkCreate lets managers add anyone; other participants may only add
// themselves, and only with can_be_speaker.
func checkCreate(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	meetingID, err := base.MeetingOf(ctx, inv, ir.NewFQID("list_of_speakers", instance.IntOr("list_of_speakers_id", 0)))
	if err != nil {
		return err
	}
	manager, err := inv.Permissions().Has(ctx, meetingID, permission.ListOfSpeakersCanManage)
	if err != nil || manager {
		return err
	}
	own, ok, err := base.OwnMeetingUser(ctx, inv, meetingID)
	if err != nil {
		return err
	}
	if muID, set := instance.Int("meeting_user_id"); set && (!ok || muID != own) {
		return errs.MissingPermission(string(permission.ListOfSpeakersCanManage))
	}
	return inv.Permissions().Check(ctx, meetingID, permission.ListOfSpeakersCanBeSpeaker)
}

func checkDelete(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	s, err := base.Read(ctx, inv, ir.NewFQID("speaker", instance.IntOr("id", 0)), "meeting_id", "meeting_user_id")
	if err != nil {
		return err
	}
	meetingID := s.IntOr("meeting_id", 0)
	manager, err := inv.Permissions().Has(ctx, meetingID, permission.ListOfSpeakersCanManage)
	if err != nil || manager {
		return err
	}
	own, ok, err := base.OwnMeetingUser(ctx, inv, meetingID)
	if err != nil {
		return err
	}
	if !ok || s.IntOr("meeting_user_id", 0) != own {
		return errs.MissingPermission(string(permission.ListOfSpeakersCanManage))
	}
	return inv.Permissions().Check(ctx, meetingID, permission.ListOfSpeakersCanBeSpeaker)
}

func prepareSpeaker(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	listID := instance.IntOr("list_of_speakers_id", 0)
	list, err := inv.Get(ctx, ir.NewFQID("list_of_speakers", listID), []string{"meeting_id", "closed"})
	if err != nil {
		return nil, err
	}
	meetingID := list.IntOr("meeting_id", 0)
	instance["meeting_id"] = ir.IRInt(meetingID)

	manager, err := inv.Permissions().Has(ctx, meetingID, permission.ListOfSpeakersCanManage)
	if err != nil {
		return nil, err
	}
	if list.Bool("closed") && !manager {
		return nil, errs.Action("The list of speakers is closed.")
	}
	if !instance.Has("meeting_user_id") {
		own, ok, err := base.OwnMeetingUser(ctx, inv, meetingID)
		if err != nil {
			return nil, err
		}
		if ok {
			instance["meeting_user_id"] = ir.IRInt(own)
		}
	}

	pointOfOrder := instance.Bool("point_of_order")
	if err := checkPointOfOrder(ctx, inv, meetingID, instance, pointOfOrder); err != nil {
		return nil, err
	}

	waiting, err := inv.Filter(ctx, "speaker", queryir.And(
		queryir.Eq("list_of_speakers_id", ir.IRInt(listID)),
		queryir.Eq("begin_time", ir.IRNull{}),
	), []string{"meeting_user_id", "point_of_order", "weight"})
	if err != nil {
		return nil, err
	}
	if muID, ok := instance.Int("meeting_user_id"); ok {
		for _, s := range waiting {
			if s.IntOr("meeting_user_id", 0) == muID && s.Bool("point_of_order") == pointOfOrder {
				return nil, errs.Action("Meeting user %d is already on the list of speakers.", muID)
			}
		}
	}
	weight, err := placeSpeaker(ctx, inv, waiting, pointOfOrder)
	if err != nil {
		return nil, err
	}
	instance["weight"] = ir.IRInt(weight)
	return instance, nil
}

func checkPointOfOrder(ctx context.Context, inv action.Invoker, meetingID int64, instance ir.IRObject, pointOfOrder bool) error {
	_, hasCategory := instance.Int("point_of_order_category_id")
	if !pointOfOrder {
		if hasCategory {
			return errs.Action("Not allowed to set point_of_order_category_id if point_of_order is not true.")
		}
		return nil
	}
	meeting, err := base.Read(ctx, inv, ir.NewFQID("meeting", meetingID), "list_of_speakers_enable_point_of_order_categories")
	if err != nil {
		return err
	}
	if meeting.Bool("list_of_speakers_enable_point_of_order_categories") && !hasCategory {
		return errs.Action("Point of order category is required.")
	}
	return nil
}

// placeSpeaker returns the weight of a new waiting speaker. Regular speakers
// go to the end; points of order go after other points of order but before
// every regular speaker, which are shifted down.
func placeSpeaker(ctx context.Context, inv action.Invoker, waiting map[int64]ir.IRObject, pointOfOrder bool) (int64, error) {
	var highest, lastOrder int64
	firstRegular := int64(-1)
	for _, s := range waiting {
		w := s.IntOr("weight", 0)
		highest = max(highest, w)
		if s.Bool("point_of_order") {
			lastOrder = max(lastOrder, w)
		} else if firstRegular < 0 || w < firstRegular {
			firstRegular = w
		}
	}
	if !pointOfOrder || firstRegular < 0 {
		return highest + 1, nil
	}
	weight := max(lastOrder+1, 1)
	if weight < firstRegular {
		return weight, nil
	}
	for _, id := range slices.Sorted(maps.Keys(waiting)) {
		s := waiting[id]
		if w := s.IntOr("weight", 0); !s.Bool("point_of_order") && w >= weight {
			if err := inv.Update(ctx, ir.NewFQID("speaker", id), ir.IRObject{"weight": ir.IRInt(w + 1)}); err != nil {
				return 0, err
			}
		}
	}
	return weight, nil
}

func speak(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	fqid := ir.NewFQID("speaker", instance.IntOr("id", 0))
	s, err := inv.Get(ctx, fqid, []string{"list_of_speakers_id", "begin_time", "point_of_order"})
	if err != nil {
		return nil, err
	}
	if s.Has("begin_time") {
		return nil, errs.Action("Speaker %d is not waiting.", fqid.ID())
	}
	list, err := inv.Get(ctx, ir.NewFQID("list_of_speakers", s.IntOr("list_of_speakers_id", 0)), []string{"speaker_ids"})
	if err != nil {
		return nil, err
	}
	current, err := inv.GetMany(ctx, "speaker", list.IntList("speaker_ids"), []string{"begin_time", "end_time"})
	if err != nil {
		return nil, err
	}
	for _, id := range list.IntList("speaker_ids") {
		if c := current[id]; c.Has("begin_time") && !c.Has("end_time") {
			if err := stop(ctx, inv, ir.NewFQID("speaker", id)); err != nil {
				return nil, err
			}
		}
	}
	if err := inv.Update(ctx, fqid, ir.IRObject{"begin_time": ir.IRInt(inv.Now())}); err != nil {
		return nil, err
	}
	inv.AddHistory(fqid, "Speech started")
	return nil, nil
}

func endSpeech(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	fqid := ir.NewFQID("speaker", instance.IntOr("id", 0))
	s, err := inv.Get(ctx, fqid, []string{"begin_time", "end_time"})
	if err != nil {
		return nil, err
	}
	if !s.Has("begin_time") || s.Has("end_time") {
		return nil, errs.Action("Speaker %d is not speaking at the moment.", fqid.ID())
	}
	if err := stop(ctx, inv, fqid); err != nil {
		return nil, err
	}
	inv.AddHistory(fqid, "Speech ended")
	return nil, nil
}

// stop ends a running speech and books its duration against the speaker's
// structure level counter.
func stop(ctx context.Context, inv action.Invoker, fqid ir.FQID) error {
	s, err := inv.Get(ctx, fqid, []string{"begin_time", "structure_level_list_of_speakers_id"})
	if err != nil {
		return err
	}
	now := inv.Now()
	if err := inv.Update(ctx, fqid, ir.IRObject{"end_time": ir.IRInt(now)}); err != nil {
		return err
	}
	counterID, ok := s.Int("structure_level_list_of_speakers_id")
	if !ok {
		return nil
	}
	counterFQID := ir.NewFQID("structure_level_list_of_speakers", counterID)
	counter, err := inv.Get(ctx, counterFQID, []string{"remaining_time"})
	if err != nil {
		return err
	}
	used := now - s.IntOr("begin_time", now)
	return inv.Update(ctx, counterFQID, ir.IRObject{"remaining_time": ir.IRInt(counter.IntOr("remaining_time", 0) - used)})
}

func sortSpeakers(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	scope := queryir.And(
		queryir.Eq("list_of_speakers_id", instance["list_of_speakers_id"]),
		queryir.Eq("begin_time", ir.IRNull{}),
	)
	return nil, tree.SortLinear(ctx, inv, "speaker", scope, instance.IntList("speaker_ids"), "weight")
}

