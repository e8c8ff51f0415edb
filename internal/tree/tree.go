// Package tree holds the ordering and hierarchy algorithms shared by agenda
// items, motions, mediafiles and every linearly sorted collection.
package tree

import (
	"context"
	"fmt"

	"github.com/roach88/plenum/internal/datastore"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

// Reader is the read side of the request handle.
type Reader interface {
	Get(ctx context.Context, fqid ir.FQID, fields []string, opts ...datastore.ReadOption) (ir.IRObject, error)
	Filter(ctx context.Context, collection string, pred queryir.Predicate, fields []string, opts ...datastore.ReadOption) (map[int64]ir.IRObject, error)
}

// Writer adds relation-aware updates.
type Writer interface {
	Reader
	Update(ctx context.Context, fqid ir.FQID, patch ir.IRObject) error
}

// Node is one entry of a sort tree.
type Node struct {
	ID       int64
	Children []Node
}

// ParseNodes reads a payload tree: a list of {id, children?} objects.
func ParseNodes(v ir.IRValue) ([]Node, error) {
	arr, ok := v.(ir.IRArray)
	if !ok {
		return nil, errs.Validation("Sort tree must be a list.", "tree")
	}
	out := make([]Node, 0, len(arr))
	for _, e := range arr {
		obj, ok := e.(ir.IRObject)
		if !ok {
			return nil, errs.Validation("Sort tree nodes must be objects.", "tree")
		}
		id, ok := obj.Int("id")
		if !ok {
			return nil, errs.Validation("Sort tree node without id.", "tree")
		}
		n := Node{ID: id}
		if children, ok := obj["children"]; ok {
			c, err := ParseNodes(children)
			if err != nil {
				return nil, err
			}
			n.Children = c
		}
		out = append(out, n)
	}
	return out, nil
}

// Spec names the fields of one tree-shaped collection.
type Spec struct {
	Collection  string
	ParentField string
	ChildField  string
	WeightField string
	// LevelField, if set, receives each node's depth (roots are 0).
	LevelField string
}

// Sort assigns parents, children and sibling weights from nodes. The tree
// must cover exactly the collection's instances in the meeting.
func Sort(ctx context.Context, w Writer, spec Spec, meetingID int64, nodes []Node) error {
	members, err := w.Filter(ctx, spec.Collection, queryir.Eq("meeting_id", ir.IRInt(meetingID)), []string{"id"})
	if err != nil {
		return err
	}

	parentOf := map[int64]int64{}
	var order []int64
	patches := map[int64]ir.IRObject{}

	var walk func(parent int64, children []Node) error
	walk = func(parent int64, children []Node) error {
		for i, n := range children {
			if _, ok := members[n.ID]; !ok {
				return errs.New(errs.KindUnknownID, "Id in sort tree does not exist: %d", n.ID).With("id", fmt.Sprint(n.ID))
			}
			if _, dup := patches[n.ID]; dup {
				return errs.New(errs.KindDuplicateID, "Duplicate id in sort tree: %d", n.ID).With("id", fmt.Sprint(n.ID))
			}
			childIDs := make([]int64, len(n.Children))
			for j, c := range n.Children {
				childIDs[j] = c.ID
			}
			var parentValue ir.IRValue = ir.IRNull{}
			if parent != 0 {
				parentValue = ir.IRInt(parent)
			}
			patches[n.ID] = ir.IRObject{
				spec.WeightField: ir.IRInt(i + 1),
				spec.ParentField: parentValue,
				spec.ChildField:  ir.Ints(childIDs...),
			}
			parentOf[n.ID] = parent
			order = append(order, n.ID)
			if err := walk(n.ID, n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, nodes); err != nil {
		return err
	}
	if len(patches) != len(members) {
		return errs.New(errs.KindIncompleteSort, "Did not receive all ids: got %d of %d.", len(patches), len(members))
	}

	if spec.LevelField != "" {
		levels := map[int64]int64{}
		var levelOf func(id int64) int64
		levelOf = func(id int64) int64 {
			if l, ok := levels[id]; ok {
				return l
			}
			var l int64
			if p := parentOf[id]; p != 0 {
				l = levelOf(p) + 1
			}
			levels[id] = l
			return l
		}
		for _, id := range order {
			patches[id][spec.LevelField] = ir.IRInt(levelOf(id))
		}
	}

	for _, id := range order {
		if err := w.Update(ctx, ir.NewFQID(spec.Collection, id), patches[id]); err != nil {
			return err
		}
	}
	return nil
}

// SortLinear assigns weights 1..N to ids in order. ids must be exactly the
// instances matching scope.
func SortLinear(ctx context.Context, w Writer, collection string, scope queryir.Predicate, ids []int64, weightField string) error {
	members, err := w.Filter(ctx, collection, scope, []string{"id"})
	if err != nil {
		return err
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		if seen[id] {
			return errs.New(errs.KindDuplicateID, "Duplicate id in sort list: %d", id).With("id", fmt.Sprint(id))
		}
		seen[id] = true
		if _, ok := members[id]; !ok {
			return errs.New(errs.KindMissingInstances, "Id %d is not part of the sorted %s instances.", id, collection).With("id", fmt.Sprint(id))
		}
	}
	if len(seen) != len(members) {
		return errs.New(errs.KindExtraInstances, "Additional %s instances exist that are not in the sort list.", collection)
	}
	for i, id := range ids {
		if err := w.Update(ctx, ir.NewFQID(collection, id), ir.IRObject{weightField: ir.IRInt(i + 1)}); err != nil {
			return err
		}
	}
	return nil
}

// Ancestors walks parentField upwards from id, nearest first. A stored
// cycle is cut at the first repeat.
func Ancestors(ctx context.Context, r Reader, collection, parentField string, id int64) ([]int64, error) {
	var out []int64
	seen := map[int64]bool{id: true}
	current := id
	for {
		obj, err := r.Get(ctx, ir.NewFQID(collection, current), []string{parentField}, datastore.WithoutLock())
		if err != nil {
			return nil, err
		}
		parent, ok := obj.Int(parentField)
		if !ok || seen[parent] {
			return out, nil
		}
		seen[parent] = true
		out = append(out, parent)
		current = parent
	}
}

// CheckCycle fails if making newParent the parent of id would make id its
// own ancestor.
func CheckCycle(ctx context.Context, r Reader, collection, parentField string, id, newParent int64) error {
	if newParent == 0 {
		return nil
	}
	if newParent == id {
		return cycle(collection, id)
	}
	ancestors, err := Ancestors(ctx, r, collection, parentField, newParent)
	if err != nil {
		return err
	}
	for _, a := range ancestors {
		if a == id {
			return cycle(collection, id)
		}
	}
	return nil
}

func cycle(collection string, id int64) *errs.Error {
	fqid := ir.NewFQID(collection, id)
	return errs.New(errs.KindCycleDetected, "Moving %s there would make it its own ancestor.", fqid).At(fqid, "parent_id")
}
