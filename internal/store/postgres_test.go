package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/queryir"
)

// Needs Docker; opt in with PLENUM_POSTGRES_TESTS=1.
func TestPostgresStore(t *testing.T) {
	if os.Getenv("PLENUM_POSTGRES_TESTS") != "1" {
		t.Skip("set PLENUM_POSTGRES_TESTS=1 to run against a Postgres container")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("plenum"),
		postgres.WithUsername("plenum"),
		postgres.WithPassword("plenum"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.ReserveIDs(ctx, "topic", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	pos, err := s.Write(ctx, ir.WriteRequest{RequestID: "pg", Events: []ir.WriteEvent{
		{Type: ir.EventCreate, FQID: "topic/1", Fields: ir.Obj(ir.O("id", ir.IRInt(1)), ir.O("meeting_id", ir.IRInt(1)), ir.O("title", ir.IRString("b")))},
		{Type: ir.EventCreate, FQID: "topic/2", Fields: ir.Obj(ir.O("id", ir.IRInt(2)), ir.O("meeting_id", ir.IRInt(1)), ir.O("title", ir.IRString("B")))},
	}})
	require.NoError(t, err)

	recs, err := s.Filter(ctx, "topic", queryir.Filter{Field: "title", Op: queryir.OpLt, Value: ir.IRString("a")})
	require.NoError(t, err)
	assert.Len(t, recs, 1, "strings compare bytewise")
	assert.Contains(t, recs, int64(2))

	max, ok, err := s.Max(ctx, "topic", queryir.Eq("meeting_id", ir.IRInt(1)), "id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), max)

	_, err = s.Write(ctx, ir.WriteRequest{
		Events: []ir.WriteEvent{{Type: ir.EventDelete, FQID: "topic/1"}},
		Locks:  map[ir.FQID]int64{"topic/1": pos - 1},
	})
	assert.True(t, errs.IsLockConflict(err))

	_, err = s.Write(ctx, ir.WriteRequest{Events: []ir.WriteEvent{
		{Type: ir.EventCreate, FQID: "topic/2", Fields: ir.Obj(ir.O("id", ir.IRInt(2)))},
	}})
	assert.True(t, errs.Is(err, errs.KindAction))
}
