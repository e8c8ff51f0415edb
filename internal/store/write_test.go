package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
)

func TestReserveIDsIsMonotonic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, err := s.ReserveIDs(ctx, "topic", 3)
	require.NoError(t, err)
	b, err := s.ReserveIDs(ctx, "topic", 2)
	require.NoError(t, err)
	other, err := s.ReserveIDs(ctx, "motion", 1)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, a)
	assert.Equal(t, []int64{4, 5}, b)
	assert.Equal(t, []int64{1}, other)
}

func TestReserveIDsSkipsCallerChosenIDs(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, map[ir.FQID]ir.IRObject{"topic/40": ir.Obj(ir.O("id", ir.IRInt(40)))})

	ids, err := s.ReserveIDs(context.Background(), "topic", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{41}, ids)
}

func TestWriteCreateUpdateDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	pos1, err := s.Write(ctx, ir.WriteRequest{
		RequestID: "r1",
		UserID:    7,
		Timestamp: 1700000000,
		Events: []ir.WriteEvent{{
			Type:   ir.EventCreate,
			FQID:   "topic/1",
			Fields: ir.Obj(ir.O("id", ir.IRInt(1)), ir.O("title", ir.IRString("A")), ir.O("text", ir.IRNull{})),
		}},
		History: []ir.HistoryEntry{{FQID: "topic/1", Template: "Topic created"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos1)

	rec, err := s.Get(ctx, "topic/1")
	require.NoError(t, err)
	assert.NotContains(t, rec.Data, "text", "null fields are not stored")

	pos2, err := s.Write(ctx, ir.WriteRequest{
		RequestID: "r2",
		Events: []ir.WriteEvent{{
			Type:   ir.EventUpdate,
			FQID:   "topic/1",
			Fields: ir.Obj(ir.O("title", ir.IRNull{}), ir.O("text", ir.IRString("<p>x</p>"))),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos2)

	rec, err = s.Get(ctx, "topic/1")
	require.NoError(t, err)
	assert.Equal(t, ir.Obj(ir.O("id", ir.IRInt(1)), ir.O("text", ir.IRString("<p>x</p>"))), rec.Data)
	assert.Equal(t, pos2, rec.Position)

	_, err = s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{{Type: ir.EventDelete, FQID: "topic/1"}}})
	require.NoError(t, err)
	_, err = s.Get(ctx, "topic/1")
	assert.True(t, errs.IsNotFound(err))

	history, err := s.History(ctx, "topic/1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Topic created", history[0].Template)
	assert.Equal(t, "r1", history[0].RequestID)
	assert.Equal(t, int64(7), history[0].UserID)
	assert.Equal(t, int64(1700000000), history[0].Timestamp)
}

func TestWriteIsAtomic(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{
		{Type: ir.EventCreate, FQID: "topic/1", Fields: ir.Obj(ir.O("id", ir.IRInt(1)))},
		{Type: ir.EventUpdate, FQID: "topic/99", Fields: ir.Obj(ir.O("title", ir.IRString("x")))},
	}})
	require.True(t, errs.IsNotFound(err))

	_, err = s.Get(ctx, "topic/1")
	assert.True(t, errs.IsNotFound(err))
	last, err := s.LastPosition(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)
}

func TestWriteRejectsDuplicateCreate(t *testing.T) {
	s := createTestStore(t)
	seed(t, s, map[ir.FQID]ir.IRObject{"topic/1": ir.Obj(ir.O("id", ir.IRInt(1)))})

	_, err := s.Write(context.Background(), ir.WriteRequest{Events: []ir.WriteEvent{
		{Type: ir.EventCreate, FQID: "topic/1", Fields: ir.Obj(ir.O("id", ir.IRInt(1)))},
	}})
	assert.True(t, errs.Is(err, errs.KindAction))
}

func TestWriteInstanceLock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	pos := seed(t, s, map[ir.FQID]ir.IRObject{"topic/1": ir.Obj(ir.O("id", ir.IRInt(1)))})

	update := ir.WriteEvent{Type: ir.EventUpdate, FQID: "topic/1", Fields: ir.Obj(ir.O("title", ir.IRString("x")))}

	_, err := s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{update}, Locks: map[ir.FQID]int64{"topic/1": pos}})
	require.NoError(t, err)

	// Same lock again: the row moved on, so it conflicts.
	_, err = s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{update}, Locks: map[ir.FQID]int64{"topic/1": pos}})
	assert.True(t, errs.IsLockConflict(err))

	// A lock on an absent instance conflicts once it is created.
	seed(t, s, map[ir.FQID]ir.IRObject{"topic/2": ir.Obj(ir.O("id", ir.IRInt(2)))})
	_, err = s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{update}, Locks: map[ir.FQID]int64{"topic/2": 0}})
	assert.True(t, errs.IsLockConflict(err))
}

func TestWriteCollectionLock(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	pos := seed(t, s, map[ir.FQID]ir.IRObject{"topic/1": ir.Obj(ir.O("id", ir.IRInt(1)))})

	create := func(id int64) ir.WriteEvent {
		return ir.WriteEvent{Type: ir.EventCreate, FQID: ir.NewFQID("tag", id), Fields: ir.Obj(ir.O("id", ir.IRInt(id)))}
	}

	_, err := s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{create(1)}, CollectionLocks: map[string]int64{"topic": pos}})
	require.NoError(t, err)

	seed(t, s, map[ir.FQID]ir.IRObject{"topic/2": ir.Obj(ir.O("id", ir.IRInt(2)))})
	_, err = s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{create(2)}, CollectionLocks: map[string]int64{"topic": pos}})
	assert.True(t, errs.IsLockConflict(err))
}

func TestWriteEmptyRequestIsNoop(t *testing.T) {
	s := createTestStore(t)
	pos, err := s.Write(context.Background(), ir.WriteRequest{RequestID: "noop"})
	require.NoError(t, err)
	assert.Zero(t, pos)

	positions, err := s.Positions(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPositionsRecordRequestHash(t *testing.T) {
	s := createTestStore(t)
	events := []ir.WriteEvent{{Type: ir.EventCreate, FQID: "tag/1", Fields: ir.Obj(ir.O("id", ir.IRInt(1)))}}
	_, err := s.Write(context.Background(), ir.WriteRequest{RequestID: "req-1", Events: events})
	require.NoError(t, err)

	want, err := ir.WriteRequestHash(events)
	require.NoError(t, err)

	positions, err := s.Positions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "req-1", positions[0].RequestID)
	assert.Equal(t, want, positions[0].RequestHash)
}
