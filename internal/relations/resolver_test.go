package relations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/models"
)

// memWriter is a map-backed Writer recording every update.
type memWriter struct {
	data    map[ir.FQID]ir.IRObject
	deleted map[ir.FQID]bool
	updates []ir.FQID
}

func newMemWriter(data map[ir.FQID]ir.IRObject) *memWriter {
	return &memWriter{data: data, deleted: map[ir.FQID]bool{}}
}

func (w *memWriter) Get(_ context.Context, fqid ir.FQID, fields []string) (ir.IRObject, error) {
	obj, ok := w.data[fqid]
	if !ok || w.deleted[fqid] {
		return nil, errs.NotFound(fqid)
	}
	return obj.Project(fields), nil
}

func (w *memWriter) Update(_ context.Context, fqid ir.FQID, patch ir.IRObject) error {
	w.data[fqid] = w.data[fqid].Merge(patch)
	w.updates = append(w.updates, fqid)
	return nil
}

func (w *memWriter) IsDeleted(fqid ir.FQID) bool { return w.deleted[fqid] }

// relate applies patch to fqid in w and runs the resolver over it.
func relate(t *testing.T, w *memWriter, fqid ir.FQID, patch ir.IRObject) error {
	t.Helper()
	before := w.data[fqid].Clone()
	after := before.Merge(patch)
	w.data[fqid] = after
	return New(models.MustDefault(), w).Relate(context.Background(), fqid, before, after, patch.SortedKeys())
}

func TestRelateAddsAndRemovesListPartner(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"meeting_user/1": {"id": ir.IRInt(1), "meeting_id": ir.IRInt(1), "group_ids": ir.Ints(2)},
		"group/2":        {"id": ir.IRInt(2), "meeting_id": ir.IRInt(1), "meeting_user_ids": ir.Ints(1)},
		"group/3":        {"id": ir.IRInt(3), "meeting_id": ir.IRInt(1)},
	})

	require.NoError(t, relate(t, w, "meeting_user/1", ir.IRObject{"group_ids": ir.Ints(3)}))

	assert.Equal(t, ir.Ints(), w.data["group/2"]["meeting_user_ids"])
	assert.Equal(t, ir.Ints(1), w.data["group/3"]["meeting_user_ids"])
}

func TestRelateStealsSingleValuedPartner(t *testing.T) {
	// Moving agenda item 12 under 11 removes it from 10's children.
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"agenda_item/10": {"id": ir.IRInt(10), "meeting_id": ir.IRInt(1), "child_ids": ir.Ints(12)},
		"agenda_item/11": {"id": ir.IRInt(11), "meeting_id": ir.IRInt(1)},
		"agenda_item/12": {"id": ir.IRInt(12), "meeting_id": ir.IRInt(1), "parent_id": ir.IRInt(10)},
	})

	require.NoError(t, relate(t, w, "agenda_item/11", ir.IRObject{"child_ids": ir.Ints(12)}))

	assert.Equal(t, ir.IRInt(11), w.data["agenda_item/12"]["parent_id"])
	assert.Equal(t, ir.Ints(), w.data["agenda_item/10"]["child_ids"])
}

func TestRelateClearsSingleValuedPartnerOnRemove(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"agenda_item/10": {"id": ir.IRInt(10), "meeting_id": ir.IRInt(1), "child_ids": ir.Ints(12)},
		"agenda_item/12": {"id": ir.IRInt(12), "meeting_id": ir.IRInt(1), "parent_id": ir.IRInt(10)},
	})

	require.NoError(t, relate(t, w, "agenda_item/10", ir.IRObject{"child_ids": ir.Ints()}))

	assert.NotContains(t, w.data["agenda_item/12"], "parent_id")
}

func TestRelateGenericBackReference(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"topic/5":       {"id": ir.IRInt(5), "meeting_id": ir.IRInt(1)},
		"agenda_item/7": {"id": ir.IRInt(7), "meeting_id": ir.IRInt(1)},
	})

	require.NoError(t, relate(t, w, "agenda_item/7", ir.IRObject{"content_object_id": ir.IRString("topic/5")}))
	assert.Equal(t, ir.IRInt(7), w.data["topic/5"]["agenda_item_id"])
}

func TestRelateWritesFQIDIntoGenericPartner(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"topic/5":       {"id": ir.IRInt(5), "meeting_id": ir.IRInt(1)},
		"agenda_item/7": {"id": ir.IRInt(7), "meeting_id": ir.IRInt(1)},
	})

	require.NoError(t, relate(t, w, "topic/5", ir.IRObject{"agenda_item_id": ir.IRInt(7)}))
	assert.Equal(t, ir.IRString("topic/5"), w.data["agenda_item/7"]["content_object_id"])
}

func TestRelateMissingPartner(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"meeting_user/1": {"id": ir.IRInt(1), "meeting_id": ir.IRInt(1)},
	})

	err := relate(t, w, "meeting_user/1", ir.IRObject{"group_ids": ir.Ints(99)})
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestRelateEqualFields(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"meeting_user/1": {"id": ir.IRInt(1), "meeting_id": ir.IRInt(1)},
		"group/4":        {"id": ir.IRInt(4), "meeting_id": ir.IRInt(2)},
	})

	err := relate(t, w, "meeting_user/1", ir.IRObject{"group_ids": ir.Ints(4)})
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindCrossScopeViolation, e.Kind)
	assert.Equal(t, "The following models do not belong to meeting_id 1: group/4", e.Message)
}

func TestRelateGenericTargetValidation(t *testing.T) {
	tests := []struct {
		name  string
		value ir.IRValue
	}{
		{"forbidden collection", ir.IRString("user/1")},
		{"not a target", ir.IRString("tag/1")},
		{"malformed", ir.IRString("agenda_item")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newMemWriter(map[ir.FQID]ir.IRObject{
				"projection/1": {"id": ir.IRInt(1), "meeting_id": ir.IRInt(1)},
			})
			err := relate(t, w, "projection/1", ir.IRObject{"content_object_id": tt.value})
			require.Error(t, err)
			assert.Equal(t, errs.KindValidation, errs.KindOf(err))
			assert.Empty(t, w.updates)
		})
	}
}

func TestUnlinkSkipsDeletedPartners(t *testing.T) {
	w := newMemWriter(map[ir.FQID]ir.IRObject{
		"meeting_user/1": {"id": ir.IRInt(1), "meeting_id": ir.IRInt(1), "group_ids": ir.Ints(2, 3)},
		"group/2":        {"id": ir.IRInt(2), "meeting_id": ir.IRInt(1), "meeting_user_ids": ir.Ints(1)},
		"group/3":        {"id": ir.IRInt(3), "meeting_id": ir.IRInt(1), "meeting_user_ids": ir.Ints(1, 5)},
	})
	w.deleted["group/2"] = true

	r := New(models.MustDefault(), w)
	require.NoError(t, r.Unlink(context.Background(), "meeting_user/1", w.data["meeting_user/1"]))

	assert.Equal(t, []ir.FQID{"group/3"}, w.updates)
	assert.Equal(t, ir.Ints(5), w.data["group/3"]["meeting_user_ids"])
}

func TestPartners(t *testing.T) {
	reg := models.MustDefault()

	spec, ok := reg.Field("tag", "tagged_ids")
	require.True(t, ok)
	got, err := Partners(spec, ir.Strings("motion/1", "agenda_item/2", "motion/1"))
	require.NoError(t, err)
	assert.Equal(t, []ir.FQID{"motion/1", "agenda_item/2"}, got)

	spec, ok = reg.Field("meeting", "group_ids")
	require.True(t, ok)
	got, err = Partners(spec, ir.Ints(4, 5))
	require.NoError(t, err)
	assert.Equal(t, []ir.FQID{"group/4", "group/5"}, got)

	_, err = Partners(spec, ir.Ints(0))
	assert.Error(t, err)

	got, err = Partners(spec, ir.IRNull{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
