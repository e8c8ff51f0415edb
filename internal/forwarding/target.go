package forwarding

import (
	"context"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

// target holds the id mappings of one target meeting.
type target struct {
	f       *Forwarder
	source  int64
	meeting int64
	req     Request

	items           map[int64]int64 // agenda_item
	meetingUsers    map[int64]int64 // source meeting_user -> target meeting_user
	structureLevels map[int64]int64
	categories      map[int64]int64
	groups          map[int64]int64
	mediafiles      map[int64]int64
}

func newTarget(f *Forwarder, source, meeting int64, req Request) *target {
	return &target{
		f: f, source: source, meeting: meeting, req: req,
		items:           map[int64]int64{},
		meetingUsers:    map[int64]int64{},
		structureLevels: map[int64]int64{},
		categories:      map[int64]int64{},
		groups:          map[int64]int64{},
		mediafiles:      map[int64]int64{},
	}
}

func (t *target) replay(ctx context.Context, items []*item) (ir.IRObject, error) {
	inv := t.f.inv
	offset, ok, err := inv.Max(ctx, "agenda_item", queryir.And(
		queryir.Eq("meeting_id", ir.IRInt(t.meeting)),
		queryir.Eq("parent_id", ir.IRNull{}),
	), "weight")
	if err != nil {
		return nil, err
	}
	if !ok {
		offset = 0
	}

	var created []int64
	var amendOK, amendFailed int64
	for _, it := range items {
		agenda := ir.IRObject{}
		for _, f := range []string{"type", "comment", "duration"} {
			if v, ok := it.data[f]; ok {
				agenda[f] = v
			}
		}
		weight := it.data.IntOr("weight", 0)
		if it.parent == 0 {
			weight += offset
		} else {
			agenda["parent_id"] = ir.IRInt(t.items[it.parent])
		}
		agenda["weight"] = ir.IRInt(weight)

		var content ir.FQID
		switch it.content.Collection() {
		case "topic":
			if content, err = t.createTopic(ctx, it, agenda); err != nil {
				return nil, err
			}
		case "motion":
			var ok, failed int64
			if content, ok, failed, err = t.createMotion(ctx, it, agenda); err != nil {
				return nil, err
			}
			amendOK += ok
			amendFailed += failed
		}

		c, err := inv.Get(ctx, content, []string{"agenda_item_id", "list_of_speakers_id"})
		if err != nil {
			return nil, err
		}
		newItem := c.IntOr("agenda_item_id", 0)
		t.items[it.id] = newItem
		created = append(created, newItem)

		if err := t.copyListOfSpeakers(ctx, it.listID, c.IntOr("list_of_speakers_id", 0)); err != nil {
			return nil, err
		}
	}

	summary := ir.IRObject{
		"meeting_id":      ir.IRInt(t.meeting),
		"agenda_item_ids": ir.Ints(created...),
	}
	if t.req.WithAmendments {
		summary["amendment_result"] = ir.IRObject{"success": ir.IRInt(amendOK), "failure": ir.IRInt(amendFailed)}
	}
	return summary, nil
}

func (t *target) createTopic(ctx context.Context, it *item, agenda ir.IRObject) (ir.FQID, error) {
	payload := ir.IRObject{
		"title":      it.topic["title"],
		"meeting_id": ir.IRInt(t.meeting),
	}
	if v, ok := it.topic["text"]; ok {
		payload["text"] = v
	}
	for k, v := range agenda {
		payload["agenda_"+k] = v
	}
	if t.req.WithAttachments {
		attachments, err := t.attachments(ctx, it.topic.IntList("attachment_ids"))
		if err != nil {
			return "", err
		}
		if len(attachments) > 0 {
			payload["attachment_ids"] = ir.Ints(attachments...)
		}
	}
	res, err := t.f.inv.Execute(ctx, "topic.create", []ir.IRObject{payload})
	if err != nil {
		return "", err
	}
	return ir.NewFQID("topic", res[0].IntOr("id", 0)), nil
}

func (t *target) createMotion(ctx context.Context, it *item, agenda ir.IRObject) (ir.FQID, int64, int64, error) {
	res, err := t.f.inv.Execute(ctx, "motion.create_forwarded", []ir.IRObject{{
		"origin_id":       ir.IRInt(it.content.ID()),
		"meeting_id":      ir.IRInt(t.meeting),
		"with_amendments": ir.IRBool(t.req.WithAmendments),
	}})
	if err != nil {
		return "", 0, 0, err
	}
	motion := ir.NewFQID("motion", res[0].IntOr("id", 0))
	item := agenda.Clone()
	item["content_object_id"] = ir.IRString(motion)
	item["meeting_id"] = ir.IRInt(t.meeting)
	if _, err := t.f.inv.Execute(ctx, "agenda_item.create", []ir.IRObject{item}); err != nil {
		return "", 0, 0, err
	}
	var ok, failed int64
	if r, has := res[0]["amendment_result"].(ir.IRObject); has {
		ok, failed = r.IntOr("success", 0), r.IntOr("failure", 0)
	}
	return motion, ok, failed, nil
}
