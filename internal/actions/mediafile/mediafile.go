// Package mediafile registers files and directories. Access restrictions
// flow from directories to their contents: is_public and
// inherited_access_group_ids are derived from a file's own access groups
// and its parent's inherited ones.
package mediafile

import (
	"context"
	"encoding/base64"
	"log/slog"
	"mime"
	"path/filepath"
	"slices"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/media"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/tree"
)

const collection = "mediafile"

// Hierarchy keeps derived access fields current below a changed file.
var Hierarchy = tree.Hierarchy{
	Collection:  collection,
	ParentField: "parent_id",
	ChildField:  "child_ids",
	Fields:      []string{"access_group_ids", "inherited_access_group_ids", "is_public"},
	Derive:      Derive,
}

// Derive computes is_public and inherited_access_group_ids of node under
// parent. Below a restricted parent a file sees at most the parent's
// inherited groups, which may be none. A file without any restriction on
// its path is public.
func Derive(node, parent ir.IRObject) ir.IRObject {
	own := ir.SortedIDs(node.IntList("access_group_ids"))
	restricted := false
	var parentGroups []int64
	if parent != nil {
		if v, ok := parent["is_public"].(ir.IRBool); ok && !bool(v) {
			restricted = true
			parentGroups = ir.SortedIDs(parent.IntList("inherited_access_group_ids"))
		}
	}

	inherited := []int64{}
	switch {
	case restricted && len(own) > 0:
		for _, g := range own {
			if slices.Contains(parentGroups, g) {
				inherited = append(inherited, g)
			}
		}
	case restricted:
		inherited = append(inherited, parentGroups...)
	case len(own) > 0:
		inherited = own
	}
	return ir.IRObject{
		"is_public":                  ir.IRBool(!restricted && len(own) == 0),
		"inherited_access_group_ids": ir.Ints(inherited...),
	}
}

// Actions returns the actions of this package. Uploaded blobs go to svc.
func Actions(svc media.Service) []*action.Action {
	return []*action.Action{
		{
			Name:             "mediafile.create_directory",
			Collection:       collection,
			Kind:             action.KindCreate,
			Contract:         base.Fields(collection, []string{"title", "owner_id"}, []string{"parent_id", "access_group_ids"}),
			Validate:         base.Trim("title"),
			CheckPermissions: checkOwnerOfPayload,
			Prepare: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				instance["is_directory"] = ir.IRBool(true)
				return prepareFile(ctx, inv, instance)
			},
			History: "Directory created",
		},
		{
			Name:       "mediafile.upload",
			Collection: collection,
			Kind:       action.KindCreate,
			Contract: base.Fields(collection, []string{"title", "owner_id", "filename"}, []string{"parent_id", "access_group_ids", "mimetype"}) +
				"file: string\n",
			Validate:         base.Trim("title", "filename"),
			CheckPermissions: checkOwnerOfPayload,
			Prepare: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
				return prepareUpload(ctx, inv, svc, instance)
			},
			History: "File uploaded",
		},
		{
			Name:             "mediafile.update",
			Collection:       collection,
			Kind:             action.KindUpdate,
			Contract:         base.UpdateContract(collection, "title", "access_group_ids"),
			Validate:         base.Trim("title"),
			CheckPermissions: checkOwnerOfStored,
			Prepare:          prepareUpdate,
			After: func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
				return Hierarchy.Refresh(ctx, inv, instance.IntOr("id", 0))
			},
			History: "File updated",
		},
		{
			Name:             "mediafile.move",
			Collection:       collection,
			Kind:             action.KindCustom,
			Contract:         "owner_id: string & " + contract.FQIDPattern + "\nids: [...int & >0]\nparent_id: (int & >0) | null\n",
			CheckPermissions: checkOwnerOfPayload,
			Execute:          move,
		},
		{
			Name:             "mediafile.delete",
			Collection:       collection,
			Kind:             action.KindDelete,
			Contract:         contract.ID,
			CheckPermissions: checkOwnerOfStored,
			History:          "File deleted",
		},
	}
}

func checkOwnerOfPayload(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	owner, err := ir.ParseFQID(instance.StringOr("owner_id", ""))
	if err != nil {
		return errs.Validation(err.Error(), "owner_id")
	}
	return checkOwner(ctx, inv, owner)
}

func checkOwnerOfStored(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
	f, err := base.Read(ctx, inv, ir.NewFQID(collection, instance.IntOr("id", 0)), "owner_id")
	if err != nil {
		return err
	}
	owner, err := ir.ParseFQID(f.StringOr("owner_id", ""))
	if err != nil {
		return err
	}
	return checkOwner(ctx, inv, owner)
}

// checkOwner requires mediafile.can_manage for meeting files and
// can_manage_organization for organization files.
func checkOwner(ctx context.Context, inv action.Invoker, owner ir.FQID) error {
	switch owner.Collection() {
	case "meeting":
		return inv.Permissions().Check(ctx, owner.ID(), permission.MediafileCanManage)
	case "organization":
		return inv.Permissions().CheckOML(ctx, permission.OMLCanManageOrganization)
	}
	return errs.Validation("Mediafiles are owned by a meeting or the organization.", "owner_id")
}

func prepareFile(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	owner := instance.StringOr("owner_id", "")
	parent, err := loadParent(ctx, inv, owner, instance)
	if err != nil {
		return nil, err
	}
	if err := checkTitle(ctx, inv, owner, instance["parent_id"], instance.StringOr("title", ""), 0); err != nil {
		return nil, err
	}
	instance["create_timestamp"] = ir.IRInt(inv.Now())
	return instance.Merge(Derive(instance, parent)), nil
}

func prepareUpload(ctx context.Context, inv action.Invoker, svc media.Service, instance ir.IRObject) (ir.IRObject, error) {
	data, err := base64.StdEncoding.DecodeString(instance.StringOr("file", ""))
	if err != nil {
		return nil, errs.Validation("File must be base64 encoded.", "file")
	}
	delete(instance, "file")
	if !instance.Has("mimetype") {
		mimetype := mime.TypeByExtension(filepath.Ext(instance.StringOr("filename", "")))
		if mimetype == "" {
			mimetype = "application/octet-stream"
		}
		instance["mimetype"] = ir.IRString(mimetype)
	}
	instance["filesize"] = ir.IRInt(len(data))
	if instance, err = prepareFile(ctx, inv, instance); err != nil {
		return nil, err
	}

	ids, err := inv.ReserveIDs(ctx, collection, 1)
	if err != nil {
		return nil, err
	}
	instance["id"] = ir.IRInt(ids[0])
	if err := svc.Upload(ctx, ids[0], data, instance.StringOr("mimetype", "")); err != nil {
		return nil, err
	}
	DiscardOnRollback(inv, svc, ids[0])
	return instance, nil
}

// DiscardOnRollback removes the blob of id when the request of inv does not
// commit.
func DiscardOnRollback(inv action.Invoker, svc media.Service, id int64) {
	inv.OnRollback(func(ctx context.Context) {
		if err := svc.Delete(ctx, id); err != nil {
			slog.Warn("orphaned mediafile blob", "id", id, "error", err)
		}
	})
}

// loadParent checks that the payload's parent is a directory of the same
// owner and returns it (nil for top-level files).
func loadParent(ctx context.Context, inv action.Invoker, owner string, instance ir.IRObject) (ir.IRObject, error) {
	pid, ok := instance.Int("parent_id")
	if !ok {
		return nil, nil
	}
	return directory(ctx, inv, owner, pid)
}

func directory(ctx context.Context, inv action.Invoker, owner string, id int64) (ir.IRObject, error) {
	parent, err := inv.Get(ctx, ir.NewFQID(collection, id), append([]string{"is_directory", "owner_id"}, Hierarchy.Fields...))
	if err != nil {
		return nil, err
	}
	if !parent.Bool("is_directory") {
		return nil, errs.Action("Mediafile %d is not a directory.", id)
	}
	if parent.StringOr("owner_id", "") != owner {
		return nil, errs.Action("Mediafile %d belongs to another owner.", id)
	}
	return parent, nil
}

// checkTitle rejects a title already used by a sibling.
func checkTitle(ctx context.Context, inv action.Invoker, owner string, parent ir.IRValue, title string, self int64) error {
	if parent == nil {
		parent = ir.IRNull{}
	}
	taken, err := inv.Exists(ctx, collection, queryir.And(
		queryir.Eq("owner_id", ir.IRString(owner)),
		queryir.Eq("parent_id", parent),
		queryir.Eq("title", ir.IRString(title)),
		queryir.Ne("id", ir.IRInt(self)),
	))
	if err != nil {
		return err
	}
	if taken {
		return errs.Action("File %s already exists in this folder.", title)
	}
	return nil
}

func prepareUpdate(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	title, ok := instance.String("title")
	if !ok {
		return instance, nil
	}
	id := instance.IntOr("id", 0)
	f, err := inv.Get(ctx, ir.NewFQID(collection, id), []string{"owner_id", "parent_id"})
	if err != nil {
		return nil, err
	}
	if err := checkTitle(ctx, inv, f.StringOr("owner_id", ""), f["parent_id"], title, id); err != nil {
		return nil, err
	}
	return instance, nil
}

// move reparents files, rejecting moves into their own subtree, and
// recomputes access below every moved file.
func move(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
	owner := instance.StringOr("owner_id", "")
	var parentValue ir.IRValue = ir.IRNull{}
	pid, hasParent := instance.Int("parent_id")
	if hasParent {
		if _, err := directory(ctx, inv, owner, pid); err != nil {
			return nil, err
		}
		parentValue = ir.IRInt(pid)
	}
	for _, id := range instance.IntList("ids") {
		fqid := ir.NewFQID(collection, id)
		f, err := inv.Get(ctx, fqid, []string{"owner_id", "title"})
		if err != nil {
			return nil, err
		}
		if f.StringOr("owner_id", "") != owner {
			return nil, errs.Action("Mediafile %d belongs to another owner.", id)
		}
		if hasParent {
			if err := tree.CheckCycle(ctx, inv, collection, "parent_id", id, pid); err != nil {
				return nil, err
			}
		}
		if err := checkTitle(ctx, inv, owner, parentValue, f.StringOr("title", ""), id); err != nil {
			return nil, err
		}
		if err := inv.Update(ctx, fqid, ir.IRObject{"parent_id": parentValue}); err != nil {
			return nil, err
		}
		if err := Hierarchy.Refresh(ctx, inv, id); err != nil {
			return nil, err
		}
		inv.AddHistory(fqid, "File moved")
	}
	return nil, nil
}
