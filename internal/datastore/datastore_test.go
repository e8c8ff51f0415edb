package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
	"github.com/roach88/plenum/internal/store"
)

func newBackend(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	_, err = s.Write(context.Background(), ir.WriteRequest{RequestID: "seed", Events: []ir.WriteEvent{
		{Type: ir.EventCreate, FQID: "tag/1", Fields: ir.Obj(ir.O("id", ir.IRInt(1)), ir.O("name", ir.IRString("a")), ir.O("meeting_id", ir.IRInt(1)))},
		{Type: ir.EventCreate, FQID: "tag/2", Fields: ir.Obj(ir.O("id", ir.IRInt(2)), ir.O("name", ir.IRString("b")), ir.O("meeting_id", ir.IRInt(1)))},
		{Type: ir.EventCreate, FQID: "tag/3", Fields: ir.Obj(ir.O("id", ir.IRInt(3)), ir.O("name", ir.IRString("c")), ir.O("meeting_id", ir.IRInt(2)))},
	}})
	require.NoError(t, err)
	return s
}

var inMeeting1 = queryir.Eq("meeting_id", ir.IRInt(1))

func TestGetSeesOverlay(t *testing.T) {
	ctx := context.Background()
	ds := New(newBackend(t))

	require.NoError(t, ds.ApplyChangedModel(ctx, "tag/1", ir.Obj(ir.O("name", ir.IRString("renamed")))))

	obj, err := ds.Get(ctx, "tag/1", []string{"name", "meeting_id"})
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("name", ir.IRString("renamed")), ir.O("meeting_id", ir.IRInt(1))), obj)

	ds.Create("tag/9", ir.Obj(ir.O("id", ir.IRInt(9)), ir.O("name", ir.IRString("new"))))
	obj, err = ds.Get(ctx, "tag/9", nil)
	require.NoError(t, err)
	assert.Equal(t, ir.IRString("new"), obj["name"])
	assert.True(t, ds.IsCreated("tag/9"))
}

func TestDeletedIsNotFound(t *testing.T) {
	ctx := context.Background()
	ds := New(newBackend(t))

	require.NoError(t, ds.MarkDeleted(ctx, "tag/2"))
	_, err := ds.Get(ctx, "tag/2", nil)
	assert.True(t, errs.IsNotFound(err))

	last, ok := ds.Deleted("tag/2")
	require.True(t, ok)
	assert.Equal(t, ir.IRString("b"), last["name"])

	err = ds.ApplyChangedModel(ctx, "tag/2", ir.Obj(ir.O("name", ir.IRString("x"))))
	assert.True(t, errs.IsNotFound(err))

	many, err := ds.GetMany(ctx, "tag", []int64{1, 2, 3}, []string{"id"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
}

func TestFilterMergesOverlay(t *testing.T) {
	ctx := context.Background()
	ds := New(newBackend(t))

	// tag/3 moves into meeting 1, tag/1 moves out, tag/2 is deleted, tag/7 is new.
	require.NoError(t, ds.ApplyChangedModel(ctx, "tag/3", ir.Obj(ir.O("meeting_id", ir.IRInt(1)))))
	require.NoError(t, ds.ApplyChangedModel(ctx, "tag/1", ir.Obj(ir.O("meeting_id", ir.IRInt(5)))))
	require.NoError(t, ds.MarkDeleted(ctx, "tag/2"))
	ds.Create("tag/7", ir.Obj(ir.O("id", ir.IRInt(7)), ir.O("meeting_id", ir.IRInt(1))))

	found, err := ds.Filter(ctx, "tag", inMeeting1, []string{"id"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{3, 7}, keys(found))

	max, ok, err := ds.Max(ctx, "tag", inMeeting1, "id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), max)

	min, ok, err := ds.Min(ctx, "tag", inMeeting1, "id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), min)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	ds := New(newBackend(t))
	byName := queryir.Eq("name", ir.IRString("b"))

	found, err := ds.Exists(ctx, "tag", byName, false)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, ds.MarkDeleted(ctx, "tag/2"))
	found, err = ds.Exists(ctx, "tag", byName, false)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = ds.Exists(ctx, "tag", byName, true)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestReadsRecordLocks(t *testing.T) {
	ctx := context.Background()
	ds := New(newBackend(t))

	_, err := ds.Get(ctx, "tag/1", nil)
	require.NoError(t, err)
	_, err = ds.Get(ctx, "tag/2", nil, WithoutLock())
	require.NoError(t, err)
	_, err = ds.Filter(ctx, "topic", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, map[ir.FQID]int64{"tag/1": 1}, ds.Locks())
	assert.Equal(t, map[string]int64{"topic": 0}, ds.CollectionLocks())
}

func TestFlushDetectsConcurrentWrite(t *testing.T) {
	ctx := context.Background()
	backend := newBackend(t)

	first := New(backend)
	second := New(backend)
	for _, ds := range []*Datastore{first, second} {
		require.NoError(t, ds.ApplyChangedModel(ctx, "tag/1", ir.Obj(ir.O("name", ir.IRString("x")))))
	}
	update := ir.WriteRequest{RequestID: "u", Events: []ir.WriteEvent{
		{Type: ir.EventUpdate, FQID: "tag/1", Fields: ir.Obj(ir.O("name", ir.IRString("x")))},
	}}

	_, err := first.Flush(ctx, update)
	require.NoError(t, err)
	_, err = second.Flush(ctx, update)
	assert.True(t, errs.IsLockConflict(err))
}

func TestReserveIDsPassThrough(t *testing.T) {
	ds := New(newBackend(t))
	ids, err := ds.ReserveIDs(context.Background(), "tag", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, ids)
}

func keys(m map[int64]ir.IRObject) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
