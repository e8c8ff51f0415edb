// Package base holds helpers shared by the concrete action packages:
// contract rendering from model fields, payload coercions, sequential
// numbers and permission shortcuts.
package base

import (
	"context"
	"strings"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/contract"
	"github.com/roach88/plenum/internal/datastore"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/models"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/queryir"
)

// Schema is the registry every action package builds its contracts from.
func Schema() *models.Registry { return models.MustDefault() }

// Fields renders contract lines for model fields.
func Fields(collection string, required, optional []string) string {
	return contract.Fields(Schema(), collection, required, optional)
}

// UpdateContract is the contract of a plain update: the id plus optional
// fields.
func UpdateContract(collection string, optional ...string) string {
	return contract.ID + Fields(collection, nil, optional)
}

// Prefixed renders optional contract lines for fields of another
// collection under a name prefix, such as agenda_type for agenda_item.type.
func Prefixed(prefix, collection string, fields ...string) string {
	var b strings.Builder
	for _, name := range fields {
		f, ok := Schema().Field(collection, name)
		if !ok {
			panic("base: unknown field " + collection + "." + name)
		}
		b.WriteString(prefix + name + "?: " + contract.FieldType(f) + "\n")
	}
	return b.String()
}

// Unprefix moves prefixed keys out of instance into a new object with the
// prefix stripped.
func Unprefix(prefix string, instance ir.IRObject) ir.IRObject {
	out := ir.IRObject{}
	for k, v := range instance {
		if name, ok := strings.CutPrefix(k, prefix); ok {
			out[name] = v
			delete(instance, k)
		}
	}
	return out
}

// TreeContract is the payload of tree sort actions. Node shapes below the
// first level are checked by tree.ParseNodes.
const TreeContract = "meeting_id: int & >0\ntree: [...{id: int & >0, children?: [..._]}]\n"

// IDsContract is the payload of linear sort actions scoped by one parent.
func IDsContract(scopeField, listField string) string {
	return scopeField + ": int & >0\n" + listField + ": [...int & >0]\n"
}

// Chain runs validate funcs in order.
func Chain(fns ...action.ValidateFunc) action.ValidateFunc {
	return func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
		var err error
		for _, fn := range fns {
			if instance, err = fn(ctx, inv, instance); err != nil {
				return nil, err
			}
		}
		return instance, nil
	}
}

// Trim strips surrounding whitespace from string fields.
func Trim(fields ...string) action.ValidateFunc {
	return func(_ context.Context, _ action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
		for _, f := range fields {
			if s, ok := instance[f].(ir.IRString); ok {
				instance[f] = ir.IRString(strings.TrimSpace(string(s)))
			}
		}
		return instance, nil
	}
}

// EscapeIframes neutralizes embedded iframes in HTML fields.
func EscapeIframes(fields ...string) action.ValidateFunc {
	return func(_ context.Context, _ action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
		for _, f := range fields {
			if s, ok := instance[f].(ir.IRString); ok {
				instance[f] = ir.IRString(EscapeIframe(string(s)))
			}
		}
		return instance, nil
	}
}

// EscapeIframe replaces iframe tags with their escaped text.
func EscapeIframe(html string) string {
	var b strings.Builder
	lower := strings.ToLower(html)
	i := 0
	for {
		start := indexTag(lower, i)
		if start < 0 {
			b.WriteString(html[i:])
			return b.String()
		}
		end := strings.IndexByte(html[start:], '>')
		if end < 0 {
			b.WriteString(html[i:])
			return b.String()
		}
		end += start
		b.WriteString(html[i:start])
		b.WriteString("&lt;")
		b.WriteString(html[start+1 : end])
		b.WriteString("&gt;")
		i = end + 1
	}
}

func indexTag(lower string, from int) int {
	open := strings.Index(lower[from:], "<iframe")
	closing := strings.Index(lower[from:], "</iframe")
	switch {
	case open < 0 && closing < 0:
		return -1
	case open < 0:
		return from + closing
	case closing < 0 || open < closing:
		return from + open
	}
	return from + closing
}

// NextSequentialNumber returns max(sequential_number)+1 within a meeting.
func NextSequentialNumber(ctx context.Context, inv action.Invoker, collection string, meetingID int64) (int64, error) {
	highest, ok, err := inv.Max(ctx, collection, queryir.Eq("meeting_id", ir.IRInt(meetingID)), "sequential_number")
	if err != nil {
		return 0, err
	}
	if !ok {
		return 1, nil
	}
	return highest + 1, nil
}

// SetSequentialNumber is a Prepare hook assigning the next sequential number.
func SetSequentialNumber(collection string) action.PrepareFunc {
	return func(ctx context.Context, inv action.Invoker, instance ir.IRObject) (ir.IRObject, error) {
		n, err := NextSequentialNumber(ctx, inv, collection, instance.IntOr("meeting_id", 0))
		if err != nil {
			return nil, err
		}
		instance["sequential_number"] = ir.IRInt(n)
		return instance, nil
	}
}

// MeetingOf resolves the meeting of a stored instance.
func MeetingOf(ctx context.Context, inv action.Invoker, fqid ir.FQID) (int64, error) {
	return inv.Permissions().MeetingID(ctx, fqid)
}

// Read fetches fields of an instance without locking, for permission
// decisions.
func Read(ctx context.Context, inv action.Invoker, fqid ir.FQID, fields ...string) (ir.IRObject, error) {
	return inv.Get(ctx, fqid, fields, datastore.WithoutLock())
}

// OwnMeetingUser returns the acting user's meeting_user id in meetingID.
func OwnMeetingUser(ctx context.Context, inv action.Invoker, meetingID int64) (int64, bool, error) {
	mu, ok, err := inv.Permissions().MeetingUser(ctx, meetingID)
	if err != nil || !ok {
		return 0, false, err
	}
	return mu.IntOr("id", 0), true, nil
}

// CheckAnyOf passes with any of perms in the instance's meeting; it is the
// permission hook for actions allowing alternatives.
func CheckAnyOf(collection string, perms ...permission.Permission) action.PermissionFunc {
	return func(ctx context.Context, inv action.Invoker, instance ir.IRObject) error {
		meetingID, err := MeetingFor(ctx, inv, collection, instance)
		if err != nil {
			return err
		}
		return inv.Permissions().CheckAny(ctx, meetingID, perms...)
	}
}

// MeetingFor is the instance's meeting: the payload's meeting_id, or the
// stored meeting of the payload's id.
func MeetingFor(ctx context.Context, inv action.Invoker, collection string, instance ir.IRObject) (int64, error) {
	if id, ok := instance.Int("meeting_id"); ok {
		return id, nil
	}
	if id, ok := instance.Int("id"); ok {
		return MeetingOf(ctx, inv, ir.NewFQID(collection, id))
	}
	return 0, errs.Action("Cannot determine the meeting of %s.", collection)
}
