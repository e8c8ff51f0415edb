package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/engine"
)

var _ engine.MetricsRecorder = (*Recorder)(nil)

func TestObserveCountsByResult(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()

	r.Observe(ctx, "dispatch", true, 20*time.Millisecond)
	r.Observe(ctx, "dispatch", true, 5*time.Millisecond)
	r.Observe(ctx, "dispatch", false, time.Millisecond)
	r.Observe(ctx, "", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.operations.WithLabelValues("dispatch", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.operations.WithLabelValues("dispatch", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.durations))
}

func TestLockConflictAndRetry(t *testing.T) {
	r := NewRecorder()
	r.LockConflict()
	r.Retry()
	r.Retry()

	assert.Equal(t, 1.0, testutil.ToFloat64(r.lockConflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.retries))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.Observe(context.Background(), "dispatch", true, time.Millisecond)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `plenum_operations_total{operation="dispatch",result="success"} 1`)
	assert.Contains(t, string(body), "plenum_operation_duration_seconds_bucket")
}
