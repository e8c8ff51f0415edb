// Package topic registers topics, the plain content of agenda items. Every
// topic owns exactly one agenda item and one list of speakers.
package topic

import (
	"context"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/agenda"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/permission"
)

const collection = "topic"

// Actions returns the actions of this package.
func Actions() []*action.Action {
	return []*action.Action{
		{
			Name:       "topic.create",
			Collection: collection,
			Kind:       action.KindCustom,
			Permission: permission.AgendaItemCanManage,
			Contract: base.Fields(collection, []string{"title", "meeting_id"}, []string{"text", "attachment_ids"}) +
				base.AgendaContract(false),
			Validate: base.Chain(base.Trim("title"), base.EscapeIframes("text")),
			Execute:  create,
		},
		{
			Name:       "topic.update",
			Collection: collection,
			Kind:       action.KindUpdate,
			Permission: permission.AgendaItemCanManage,
			Contract:   base.UpdateContract(collection, "title", "text", "attachment_ids"),
			Validate:   base.Chain(base.Trim("title"), base.EscapeIframes("text")),
			History:    "Topic updated",
		},
		{
			Name:       "topic.delete",
			Collection: collection,
			Kind:       action.KindDelete,
			Permission: permission.AgendaItemCanManage,
			Contract:   contract.ID,
			Prepare:    rememberChildren,
			After:      refreshChildren,
			History:    "Topic deleted",
		},
	}
}

func create(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	out, err := base.CreateContent(ctx, inv, collection, instance, true)
	if err != nil {
		return nil, err
	}
	inv.AddHistory(ir.NewFQID(collection, out.IntOr("id", 0)), "Topic created")
	return out, nil
}

// rememberChildren records the sub items of the topic's agenda item; the
// item itself is deleted by cascade.
func rememberChildren(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	t, err := inv.Get(ctx, ir.NewFQID(collection, instance.IntOr("id", 0)), []string{"agenda_item_id"})
	if err != nil {
		return nil, err
	}
	itemID, ok := t.Int("agenda_item_id")
	if !ok {
		return instance, nil
	}
	item, err := inv.Get(ctx, ir.NewFQID("agenda_item", itemID), []string{"child_ids"})
	if err != nil {
		return nil, err
	}
	instance["agenda_child_ids"] = item["child_ids"]
	return instance, nil
}

func refreshChildren(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	for _, child := range instance.IntList("agenda_child_ids") {
		if inv.IsDeleted(ir.NewFQID("agenda_item", child)) {
			continue
		}
		if err := agenda.Hierarchy.Refresh(ctx, inv, child); err != nil {
			return err
		}
	}
	return nil
}
