package testutil

import (
	"context"
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/store"
)

// Fixtures maps an FQID string to the instance's fields in plain Go shapes,
// as decoded from YAML. The id field is filled in from the FQID.
type Fixtures map[string]map[string]any

// NewStore opens an in-memory store preloaded with fixtures in one position.
func NewStore(t testing.TB, fixtures Fixtures) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	if len(fixtures) > 0 {
		req, err := fixtures.WriteRequest()
		require.NoError(t, err)
		_, err = s.Write(context.Background(), req)
		require.NoError(t, err)
	}
	return s
}

// WriteRequest renders fixtures as create events in FQID order.
func (f Fixtures) WriteRequest() (ir.WriteRequest, error) {
	req := ir.WriteRequest{RequestID: "fixtures"}
	for _, key := range slices.Sorted(maps.Keys(f)) {
		fqid, err := ir.ParseFQID(key)
		if err != nil {
			return ir.WriteRequest{}, err
		}
		v, err := ir.FromGo(map[string]any(f[key]))
		if err != nil {
			return ir.WriteRequest{}, err
		}
		obj := v.(ir.IRObject)
		obj["id"] = ir.IRInt(fqid.ID())
		req.Events = append(req.Events, ir.WriteEvent{Type: ir.EventCreate, FQID: fqid, Fields: obj})
	}
	return req, nil
}

// Instance reads one committed instance, failing the test if it is absent.
func Instance(t testing.TB, s *store.Store, fqid ir.FQID) ir.IRObject {
	t.Helper()
	rec, err := s.Get(context.Background(), fqid)
	require.NoError(t, err)
	return rec.Data
}
