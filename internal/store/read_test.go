package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

func seedAgenda(t *testing.T, s *Store) int64 {
	return seed(t, s, map[ir.FQID]ir.IRObject{
		"agenda_item/1": ir.Obj(ir.O("id", ir.IRInt(1)), ir.O("meeting_id", ir.IRInt(1)), ir.O("weight", ir.IRInt(2))),
		"agenda_item/2": ir.Obj(ir.O("id", ir.IRInt(2)), ir.O("meeting_id", ir.IRInt(1)), ir.O("weight", ir.IRInt(7))),
		"agenda_item/3": ir.Obj(ir.O("id", ir.IRInt(3)), ir.O("meeting_id", ir.IRInt(2)), ir.O("weight", ir.IRInt(1))),
	})
}

func TestGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	pos := seedAgenda(t, s)

	rec, err := s.Get(ctx, "agenda_item/2")
	require.NoError(t, err)
	assert.Equal(t, pos, rec.Position)
	assert.Equal(t, ir.IRInt(7), rec.Data["weight"])

	_, err = s.Get(ctx, "agenda_item/9")
	assert.True(t, errs.IsNotFound(err))
}

func TestGetMany(t *testing.T) {
	s := createTestStore(t)
	seedAgenda(t, s)

	recs, err := s.GetMany(context.Background(), "agenda_item", []int64{1, 3, 42})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Contains(t, recs, int64(1))
	assert.Contains(t, recs, int64(3))

	empty, err := s.GetMany(context.Background(), "agenda_item", nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFilterAndAggregates(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedAgenda(t, s)

	inMeeting := queryir.Eq("meeting_id", ir.IRInt(1))
	recs, err := s.Filter(ctx, "agenda_item", inMeeting)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	max, ok, err := s.Max(ctx, "agenda_item", inMeeting, "weight")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(7), max)

	min, ok, err := s.Min(ctx, "agenda_item", nil, "weight")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), min)

	_, ok, err = s.Max(ctx, "topic", nil, "weight")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsIncludeDeleted(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedAgenda(t, s)

	_, err := s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{{Type: ir.EventDelete, FQID: "agenda_item/3"}}})
	require.NoError(t, err)

	inMeeting2 := queryir.Eq("meeting_id", ir.IRInt(2))
	found, err := s.Exists(ctx, "agenda_item", inMeeting2, false)
	require.NoError(t, err)
	assert.False(t, found)

	found, err = s.Exists(ctx, "agenda_item", inMeeting2, true)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestCollectionPositionCountsDeletes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	first := seedAgenda(t, s)

	pos, err := s.CollectionPosition(ctx, "agenda_item")
	require.NoError(t, err)
	assert.Equal(t, first, pos)

	second, err := s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{{Type: ir.EventDelete, FQID: "agenda_item/1"}}})
	require.NoError(t, err)

	pos, err = s.CollectionPosition(ctx, "agenda_item")
	require.NoError(t, err)
	assert.Equal(t, second, pos)

	last, err := s.LastPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, last)
}
