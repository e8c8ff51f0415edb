package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/querysql"
)

func TestOpenAppliesPragmas(t *testing.T) {
	s := createTestStore(t)

	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("synchronous", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := t.TempDir() + "/twice.db"
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, "sqlite", s2.Dialect().Name())
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ids, err := s.ReserveIDs(context.Background(), "topic", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestRebindOnlyOnPostgres(t *testing.T) {
	s := createTestStore(t)
	assert.Equal(t, "a = ? AND b = ?", s.rebind("a = ? AND b = ?"))

	pg := &Store{dialect: querysql.Postgres{}}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
}
