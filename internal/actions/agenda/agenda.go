// Package agenda registers agenda item actions. Agenda items form a tree per
// meeting; is_hidden, is_internal and level are derived from the item's type
// and its parent and are kept current after every structural change.
package agenda

import (
	"context"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/forwarding"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/media"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/tree"
)

const collection = "agenda_item"

// Item types.
const (
	TypeCommon   = "common"
	TypeInternal = "internal"
	TypeHidden   = "hidden"
)

// Hierarchy keeps the derived flags of agenda items in step with their
// ancestors.
var Hierarchy = tree.Hierarchy{
	Collection:  collection,
	ParentField: "parent_id",
	ChildField:  "child_ids",
	Fields:      []string{"type", "is_hidden", "is_internal", "level"},
	Derive:      Derive,
}

// Derive computes is_hidden, is_internal and level of node under parent.
func Derive(node, parent ir.IRObject) ir.IRObject {
	typ := node.StringOr("type", TypeCommon)
	hidden := typ == TypeHidden
	internal := typ == TypeInternal
	var level int64
	if parent != nil {
		hidden = hidden || parent.Bool("is_hidden")
		internal = internal || parent.Bool("is_internal")
		level = parent.IntOr("level", 0) + 1
	}
	return ir.IRObject{
		"is_hidden":   ir.IRBool(hidden),
		"is_internal": ir.IRBool(internal),
		"level":       ir.IRInt(level),
	}
}

var updatable = []string{"item_number", "comment", "closed", "type", "parent_id", "duration", "weight", "tag_ids"}

// Actions returns the actions of this package. Forwarded attachments are
// duplicated in svc.
func Actions(svc media.Service) []*action.Action {
	return []*action.Action{
		{
			Name:             "agenda_item.create",
			Collection:       collection,
			Kind:             action.KindCreate,
			Contract:         base.Fields(collection, []string{"content_object_id"}, append([]string{"meeting_id"}, updatable...)),
			Validate:         base.Trim("item_number", "comment"),
			CheckPermissions: checkCreate,
			Prepare:          prepareCreate,
			History:          "Agenda item created",
		},
		{
			Name:       "agenda_item.update",
			Collection: collection,
			Kind:       action.KindUpdate,
			Permission: permission.AgendaItemCanManage,
			Contract:   base.UpdateContract(collection, updatable...),
			Validate:   base.Chain(base.Trim("item_number", "comment"), validateParent),
			After:      refresh,
			History:    "Agenda item updated",
		},
		{
			Name:       "agenda_item.delete",
			Collection: collection,
			Kind:       action.KindDelete,
			Permission: permission.AgendaItemCanManage,
			Contract:   contract.ID,
			Prepare:    rememberDependents,
			After:      deleteDependents,
			History:    "Agenda item deleted",
		},
		{
			Name:       "agenda_item.sort",
			Collection: collection,
			Kind:       action.KindCustom,
			Permission: permission.AgendaItemCanManage,
			Contract:   base.TreeContract,
			Execute:    sortTree,
		},
		{
			Name:       "agenda_item.assign",
			Collection: collection,
			Kind:       action.KindCustom,
			Permission: permission.AgendaItemCanManage,
			Contract:   "meeting_id: int & >0\nparent_id: (int & >0) | null\nids: [...int & >0]\n",
			Execute:    assign,
		},
		{
			Name:             "agenda_item.forward",
			Collection:       collection,
			Kind:             action.KindCustom,
			Contract:         forwarding.Contract,
			CheckPermissions: forwarding.CheckPermissions,
			Execute: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				req, err := forwarding.ParseRequest(instance)
				if err != nil {
					return nil, err
				}
				return forwarding.New(inv, svc).Forward(ctx, req)
			},
		},
	}
}

func checkCreate(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	meetingID, err := contentMeeting(ctx, inv, instance)
	if err != nil {
		return err
	}
	return inv.Permissions().Check(ctx, meetingID, permission.AgendaItemCanManage)
}

func contentMeeting(ctx context.Context, inv action.Invoker, instance ir.IRObject) (int64, error) {
	if id, ok := instance.Int("meeting_id"); ok {
		return id, nil
	}
	content, err := ir.ParseFQID(instance.StringOr("content_object_id", ""))
	if err != nil {
		return 0, errs.Validation(err.Error(), "content_object_id")
	}
	return base.MeetingOf(ctx, inv, content)
}

func prepareCreate(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	meetingID, err := contentMeeting(ctx, inv, instance)
	if err != nil {
		return nil, err
	}
	instance["meeting_id"] = ir.IRInt(meetingID)

	var parent ir.IRObject
	var parentValue ir.IRValue = ir.IRNull{}
	if pid, ok := instance.Int("parent_id"); ok {
		if parent, err = inv.Get(ctx, ir.NewFQID(collection, pid), Hierarchy.Fields); err != nil {
			return nil, err
		}
		parentValue = ir.IRInt(pid)
	}
	if !instance.Has("weight") {
		highest, ok, err := inv.Max(ctx, collection, queryir.And(
			queryir.Eq("meeting_id", ir.IRInt(meetingID)),
			queryir.Eq("parent_id", parentValue),
		), "weight")
		if err != nil {
			return nil, err
		}
		if !ok {
			highest = 0
		}
		instance["weight"] = ir.IRInt(highest + 1)
	}
	return instance.Merge(Derive(instance, parent)), nil
}

func validateParent(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	pid, ok := instance.Int("parent_id")
	if !ok {
		return instance, nil
	}
	if err := tree.CheckCycle(ctx, inv, collection, "parent_id", instance.IntOr("id", 0), pid); err != nil {
		return nil, err
	}
	return instance, nil
}

func refresh(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	return Hierarchy.Refresh(ctx, inv, instance.IntOr("id", 0))
}

// rememberDependents stashes the topic and the children of the item before it
// goes away.
func rememberDependents(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	item, err := inv.Get(ctx, ir.NewFQID(collection, instance.IntOr("id", 0)), []string{"content_object_id", "child_ids"})
	if err != nil {
		return nil, err
	}
	instance["content_object_id"] = item["content_object_id"]
	instance["child_ids"] = item["child_ids"]
	return instance, nil
}

// deleteDependents deletes topic content with its item and turns the
// children into roots.
func deleteDependents(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	if content, err := ir.ParseFQID(instance.StringOr("content_object_id", "")); err == nil &&
		content.Collection() == "topic" && !inv.IsDeleted(content) {
		if err := inv.Delete(ctx, content); err != nil {
			return err
		}
	}
	for _, child := range instance.IntList("child_ids") {
		if inv.IsDeleted(ir.NewFQID(collection, child)) {
			continue
		}
		if err := Hierarchy.Refresh(ctx, inv, child); err != nil {
			return err
		}
	}
	return nil
}

func sortTree(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	nodes, err := tree.ParseNodes(instance["tree"])
	if err != nil {
		return nil, err
	}
	spec := tree.Spec{
		Collection:  collection,
		ParentField: "parent_id",
		ChildField:  "child_ids",
		WeightField: "weight",
		LevelField:  "level",
	}
	if err := tree.Sort(ctx, inv, spec, instance.IntOr("meeting_id", 0), nodes); err != nil {
		return nil, err
	}
	return nil, refreshAll(ctx, inv, nodes)
}

// refreshAll recomputes every node top-down, so items moved below a hidden
// or internal parent pick up its flags.
func refreshAll(ctx context.Context, inv action.Invoker, nodes []tree.Node) error {
	for _, n := range nodes {
		if err := Hierarchy.Refresh(ctx, inv, n.ID); err != nil {
			return err
		}
		if err := refreshAll(ctx, inv, n.Children); err != nil {
			return err
		}
	}
	return nil
}

// assign moves items below a new parent (or to the root level for a null
// parent), appending them after the parent's existing children.
func assign(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	meetingID := instance.IntOr("meeting_id", 0)
	parentID, hasParent := instance.Int("parent_id")
	var parentValue ir.IRValue = ir.IRNull{}
	var ancestors []int64
	if hasParent {
		parent, err := inv.Get(ctx, ir.NewFQID(collection, parentID), []string{"meeting_id"})
		if err != nil {
			return nil, err
		}
		if parent.IntOr("meeting_id", 0) != meetingID {
			return nil, errs.Action("Agenda item %d does not belong to meeting %d.", parentID, meetingID)
		}
		if ancestors, err = tree.Ancestors(ctx, inv, collection, "parent_id", parentID); err != nil {
			return nil, err
		}
		ancestors = append(ancestors, parentID)
		parentValue = ir.IRInt(parentID)
	}

	ids := instance.IntList("ids")
	for _, id := range ids {
		for _, a := range ancestors {
			if a == id {
				return nil, errs.Action("Assigning item %d to one of its children is not possible.", id)
			}
		}
	}

	highest, ok, err := inv.Max(ctx, collection, queryir.And(
		queryir.Eq("meeting_id", ir.IRInt(meetingID)),
		queryir.Eq("parent_id", parentValue),
	), "weight")
	if err != nil {
		return nil, err
	}
	if !ok {
		highest = 0
	}
	for i, id := range ids {
		fqid := ir.NewFQID(collection, id)
		item, err := inv.Get(ctx, fqid, []string{"meeting_id"})
		if err != nil {
			return nil, err
		}
		if item.IntOr("meeting_id", 0) != meetingID {
			return nil, errs.Action("Agenda item %d does not belong to meeting %d.", id, meetingID)
		}
		if err := inv.Update(ctx, fqid, ir.IRObject{
			"parent_id": parentValue,
			"weight":    ir.IRInt(highest + int64(i) + 1),
		}); err != nil {
			return nil, err
		}
		if err := Hierarchy.Refresh(ctx, inv, id); err != nil {
			return nil, err
		}
		inv.AddHistory(fqid, "Agenda item assigned")
	}
	return nil, nil
}

