package store

import (
	"context"
	"maps"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/ir"
)

// createTestStore opens a fresh file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seed commits create events for the given instances and returns the position.
func seed(t *testing.T, s *Store, instances map[ir.FQID]ir.IRObject) int64 {
	t.Helper()
	req := ir.WriteRequest{RequestID: "seed", UserID: 0}
	for _, f := range slices.Sorted(maps.Keys(instances)) {
		req.Events = append(req.Events, ir.WriteEvent{Type: ir.EventCreate, FQID: f, Fields: instances[f]})
	}
	pos, err := s.Write(context.Background(), req)
	require.NoError(t, err)
	return pos
}
