// Package meeting registers the per-meeting settings collections: tags,
// structure levels and point-of-order categories.
package meeting

import (
	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/actions/base"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/permission"
)

// Actions returns the actions of this package.
func Actions() []*action.Action {
	var out []*action.Action
	out = append(out, crud("tag", permission.TagCanManage,
		[]string{"name", "meeting_id"}, []string{"tagged_ids"}, []string{"name", "tagged_ids"})...)
	out = append(out, crud("structure_level", permission.MeetingCanManageSettings,
		[]string{"name", "meeting_id"}, []string{"color", "default_time"}, []string{"name", "color", "default_time"})...)
	out = append(out, crud("point_of_order_category", permission.MeetingCanManageSettings,
		[]string{"text", "rank", "meeting_id"}, nil, []string{"text", "rank"})...)
	return out
}

func crud(collection string, perm permission.Permission, createRequired, createOptional, updatable []string) []*action.Action {
	trim := base.Trim("name", "text")
	return []*action.Action{
		{
			Name:       collection + ".create",
			Collection: collection,
			Kind:       action.KindCreate,
			Permission: perm,
			Contract:   base.Fields(collection, createRequired, createOptional),
			Validate:   trim,
		},
		{
			Name:       collection + ".update",
			Collection: collection,
			Kind:       action.KindUpdate,
			Permission: perm,
			Contract:   base.UpdateContract(collection, updatable...),
			Validate:   trim,
		},
		{
			Name:       collection + ".delete",
			Collection: collection,
			Kind:       action.KindDelete,
			Permission: perm,
			Contract:   contract.ID,
		},
	}
}
