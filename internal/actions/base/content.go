package base

import (
	"context"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/ir"
)

// AgendaFields are the agenda_item fields content creators accept with an
// agenda_ prefix.
var AgendaFields = []string{"type", "parent_id", "comment", "duration", "weight", "tag_ids"}

// AgendaContract renders the prefixed agenda fields, plus agenda_create when
// the agenda item is optional.
func AgendaContract(optional bool) string {
	c := Prefixed("agenda_", "agenda_item", AgendaFields...)
	if optional {
		c += "agenda_create?: bool\n"
	}
	return c
}

// AttachAgendaItem creates the agenda item of a content object from the
// prefixed fields in agenda.
func AttachAgendaItem(ctx context.Context, inv action.Invoker, content ir.FQID, meetingID int64, agenda ir.IRObject) error {
	item := agenda.Clone()
	delete(item, "create")
	item["content_object_id"] = ir.IRString(content)
	item["meeting_id"] = ir.IRInt(meetingID)
	_, err := inv.Execute(ctx, "agenda_item.create", []ir.IRObject{item})
	return err
}

// AttachListOfSpeakers creates the list of speakers of a content object.
func AttachListOfSpeakers(ctx context.Context, inv action.Invoker, content ir.FQID, meetingID int64) error {
	_, err := inv.Execute(ctx, "list_of_speakers.create", []ir.IRObject{{
		"content_object_id": ir.IRString(content),
		"meeting_id":        ir.IRInt(meetingID),
	}})
	return err
}

// CreateContent writes a new content instance of collection with its list
// of speakers and, when wantAgenda, its agenda item. It returns the result
// element {id, sequential_number}.
func CreateContent(ctx context.Context, inv action.Invoker, collection string, instance ir.IRObject, wantAgenda bool) (ir.IRObject, error) {
	agenda := Unprefix("agenda_", instance)
	if create, ok := agenda["create"].(ir.IRBool); ok {
		wantAgenda = bool(create)
	}
	meetingID := instance.IntOr("meeting_id", 0)

	ids, err := inv.ReserveIDs(ctx, collection, 1)
	if err != nil {
		return nil, err
	}
	seq, err := NextSequentialNumber(ctx, inv, collection, meetingID)
	if err != nil {
		return nil, err
	}
	fqid := ir.NewFQID(collection, ids[0])
	data := instance.Clone()
	data["id"] = ir.IRInt(ids[0])
	data["sequential_number"] = ir.IRInt(seq)
	if err := inv.Create(ctx, fqid, data); err != nil {
		return nil, err
	}
	if wantAgenda {
		if err := AttachAgendaItem(ctx, inv, fqid, meetingID, agenda); err != nil {
			return nil, err
		}
	}
	if err := AttachListOfSpeakers(ctx, inv, fqid, meetingID); err != nil {
		return nil, err
	}
	return ir.IRObject{"id": ir.IRInt(ids[0]), "sequential_number": ir.IRInt(seq)}, nil
}
