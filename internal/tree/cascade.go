package tree

import (
	"context"
	"slices"

	"github.com/roach88/plenum/internal/ir"
)

// DeriveFunc computes a node's derived fields from its own state and its
// parent's state (nil for roots).
type DeriveFunc func(node, parent ir.IRObject) ir.IRObject

// Hierarchy describes derived fields that flow from parent to child.
type Hierarchy struct {
	Collection  string
	ParentField string
	ChildField  string
	// Fields are read from node and parent before calling Derive.
	Fields []string
	Derive DeriveFunc
}

// Refresh recomputes id's derived fields and walks down its children while
// anything changes. Subtrees whose root is unchanged are skipped. Running
// Refresh twice writes nothing the second time.
func (h Hierarchy) Refresh(ctx context.Context, w Writer, id int64) error {
	return h.refresh(ctx, w, id, map[int64]bool{})
}

// RefreshChildren recomputes every child of id unconditionally, for when
// id's own derived fields were written directly.
func (h Hierarchy) RefreshChildren(ctx context.Context, w Writer, id int64) error {
	node, err := w.Get(ctx, ir.NewFQID(h.Collection, id), []string{h.ChildField})
	if err != nil {
		return err
	}
	seen := map[int64]bool{id: true}
	for _, c := range node.IntList(h.ChildField) {
		if err := h.refresh(ctx, w, c, seen); err != nil {
			return err
		}
	}
	return nil
}

func (h Hierarchy) refresh(ctx context.Context, w Writer, id int64, seen map[int64]bool) error {
	if seen[id] {
		return nil
	}
	seen[id] = true

	fields := append(slices.Clone(h.Fields), h.ParentField, h.ChildField)
	fqid := ir.NewFQID(h.Collection, id)
	node, err := w.Get(ctx, fqid, fields)
	if err != nil {
		return err
	}
	var parent ir.IRObject
	if pid, ok := node.Int(h.ParentField); ok {
		if parent, err = w.Get(ctx, ir.NewFQID(h.Collection, pid), h.Fields); err != nil {
			return err
		}
	}

	want := h.Derive(node, parent)
	patch := ir.IRObject{}
	for k, v := range want {
		if !ir.Equal(node[k], v) {
			patch[k] = v
		}
	}
	if len(patch) == 0 {
		return nil
	}
	if err := w.Update(ctx, fqid, patch); err != nil {
		return err
	}
	for _, c := range node.IntList(h.ChildField) {
		if err := h.refresh(ctx, w, c, seen); err != nil {
			return err
		}
	}
	return nil
}
