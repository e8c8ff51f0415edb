// Package forwarding copies agenda items with their content into other
// meetings. Items are replayed in source tree order; items whose parent was
// not selected attach to their nearest selected ancestor. Users, structure
// levels, groups and point-of-order categories are matched in the target
// meeting by a stable key and created when missing. Meeting-local
// attachments are duplicated with their directory chain; organization files
// are linked as they are.
//
// Forwarding never commits partially: any failure aborts the surrounding
// request.
package forwarding

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/media"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/tree"
)

// Contract is the payload of agenda_item.forward.
const Contract = `meeting_ids: [...int & >0]
agenda_item_ids: [...int & >0]
with_speakers?: bool
with_moderator_notes?: bool
with_attachments?: bool
with_amendments?: bool
`

// Request is a parsed forward payload.
type Request struct {
	Targets            []int64
	Items              []int64
	WithSpeakers       bool
	WithModeratorNotes bool
	WithAttachments    bool
	WithAmendments     bool
}

// ParseRequest reads a payload validated against Contract.
func ParseRequest(instance ir.IRObject) (Request, error) {
	req := Request{
		Targets:            instance.IntList("meeting_ids"),
		Items:              instance.IntList("agenda_item_ids"),
		WithSpeakers:       instance.Bool("with_speakers"),
		WithModeratorNotes: instance.Bool("with_moderator_notes"),
		WithAttachments:    instance.Bool("with_attachments"),
		WithAmendments:     instance.Bool("with_amendments"),
	}
	if len(req.Targets) == 0 || len(req.Items) == 0 {
		return Request{}, errs.Validation("Forwarding needs target meetings and agenda items.", "meeting_ids", "agenda_item_ids")
	}
	return req, nil
}

// CheckPermissions requires agenda_item.can_forward in the source meeting
// and agenda_item.can_manage in every target.
func CheckPermissions(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	req, err := ParseRequest(instance)
	if err != nil {
		return err
	}
	source, err := sourceMeeting(ctx, inv, req.Items)
	if err != nil {
		return err
	}
	if err := inv.Permissions().Check(ctx, source, permission.AgendaItemCanForward); err != nil {
		return err
	}
	for _, target := range req.Targets {
		if target == source {
			return errs.Action("Cannot forward agenda to the same meeting.")
		}
	}
	return inv.Permissions().CheckAll(ctx, req.Targets, permission.AgendaItemCanManage)
}

func sourceMeeting(ctx context.Context, inv action.Invoker, items []int64) (int64, error) {
	var meetingID int64
	for _, id := range items {
		m, err := inv.Permissions().MeetingID(ctx, ir.NewFQID("agenda_item", id))
		if err != nil {
			return 0, err
		}
		if meetingID != 0 && m != meetingID {
			return 0, errs.Action("All agenda items must belong to the same meeting.")
		}
		meetingID = m
	}
	return meetingID, nil
}

// Forwarder runs one forward inside a request.
type Forwarder struct {
	inv   action.Invoker
	media media.Service
}

// New returns a forwarder writing through inv. Duplicated attachments are
// copied in svc.
func New(inv action.Invoker, svc media.Service) *Forwarder {
	return &Forwarder{inv: inv, media: svc}
}

// item is a selected source agenda item.
type item struct {
	id      int64
	parent  int64 // nearest selected ancestor, 0 for roots
	depth   int
	data    ir.IRObject
	content ir.FQID
	listID  int64
	topic   ir.IRObject
}

var itemFields = []string{"type", "comment", "duration", "weight", "content_object_id", "parent_id"}

// Forward copies the selected items into every target meeting. The result
// lists, per target, the created agenda item ids and the amendment outcome.
func (f *Forwarder) Forward(ctx context.Context, req Request) (ir.IRObject, error) {
	source, err := sourceMeeting(ctx, f.inv, req.Items)
	if err != nil {
		return nil, err
	}
	items, err := f.load(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if err := f.checkQuiescent(ctx, items); err != nil {
		return nil, err
	}

	var summaries ir.IRArray
	for _, target := range req.Targets {
		slog.Debug("forwarding agenda", "source", source, "target", target, "items", len(items))
		t := newTarget(f, source, target, req)
		summary, err := t.replay(ctx, items)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
		for _, it := range items {
			f.inv.AddHistory(ir.NewFQID("agenda_item", it.id), "Forwarded to {}", ir.NewFQID("meeting", target))
		}
	}
	return ir.IRObject{"forwarded": summaries}, nil
}

// load reads the selected items and orders them parents first, siblings by
// weight.
func (f *Forwarder) load(ctx context.Context, ids []int64) ([]*item, error) {
	selected := map[int64]bool{}
	for _, id := range ids {
		selected[id] = true
	}
	var items []*item
	for _, id := range ir.SortedIDs(ids) {
		if len(items) > 0 && items[len(items)-1].id == id {
			continue
		}
		data, err := f.inv.Get(ctx, ir.NewFQID("agenda_item", id), itemFields)
		if err != nil {
			return nil, err
		}
		content, err := ir.ParseFQID(data.StringOr("content_object_id", ""))
		if err != nil {
			return nil, err
		}
		switch content.Collection() {
		case "topic", "motion":
		default:
			return nil, errs.Action("Agenda item %d cannot be forwarded: only topics and motions can be forwarded.", id)
		}
		c, err := f.inv.Get(ctx, content, []string{"list_of_speakers_id", "title", "text", "attachment_ids"})
		if err != nil {
			return nil, err
		}
		ancestors, err := tree.Ancestors(ctx, f.inv, "agenda_item", "parent_id", id)
		if err != nil {
			return nil, err
		}
		it := &item{id: id, depth: len(ancestors), data: data, content: content, listID: c.IntOr("list_of_speakers_id", 0), topic: c}
		for _, a := range ancestors {
			if selected[a] {
				it.parent = a
				break
			}
		}
		items = append(items, it)
	}
	slices.SortStableFunc(items, func(a, b *item) int {
		return cmp.Or(
			cmp.Compare(a.depth, b.depth),
			cmp.Compare(a.data.IntOr("weight", 0), b.data.IntOr("weight", 0)),
			cmp.Compare(a.id, b.id),
		)
	})
	return items, nil
}

// checkQuiescent rejects sources with a running speech or a waiting point
// of order.
func (f *Forwarder) checkQuiescent(ctx context.Context, items []*item) error {
	for _, it := range items {
		if it.listID == 0 {
			continue
		}
		speakers, err := f.inv.Filter(ctx, "speaker", queryir.Eq("list_of_speakers_id", ir.IRInt(it.listID)),
			[]string{"begin_time", "end_time", "point_of_order"})
		if err != nil {
			return err
		}
		for _, s := range speakers {
			if s.Has("begin_time") && !s.Has("end_time") {
				return errs.Action("Cannot forward when there are running speakers.")
			}
		}
		for _, s := range speakers {
			if s.Bool("point_of_order") && !s.Has("begin_time") {
				return errs.Action("Cannot forward when there are uncleared point of order speakers.")
			}
		}
	}
	return nil
}
