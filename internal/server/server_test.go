package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/harness"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/metrics"
	"github.com/roach88/plenum/internal/server"
	"github.com/roach88/plenum/internal/testutil"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

var fixtures = testutil.Fixtures{
	"organization/1": {"name": "Org", "committee_ids": []any{1}, "user_ids": []any{1}},
	"committee/1":    {"name": "C", "organization_id": 1, "meeting_ids": []any{1}},
	"user/1":         {"username": "admin", "organization_id": 1, "organization_management_level": "superadmin"},
	"meeting/1":      {"name": "M", "committee_id": 1},
}

func newEnv(t *testing.T) *harness.Env {
	t.Helper()
	env, err := harness.NewEnv(context.Background(), fixtures, 0, "srv")
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func post(t *testing.T, h http.Handler, path, body string, headers map[string]string) (int, engine.Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp engine.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

const createTag = `[{"action": "tag.create", "data": [{"name": "budget", "meeting_id": 1}]}]`

func TestHandlePublicCommits(t *testing.T) {
	env := newEnv(t)
	srv := server.New(env.Engine, server.Options{})

	code, resp := post(t, srv.Handler(), "/system/action/handle", createTag, map[string]string{server.UserHeader: "1"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.True(t, resp.Success)
	assert.Equal(t, []any{[]any{map[string]any{"id": float64(1)}}}, resp.Results)

	tag := testutil.Instance(t, env.Store, ir.MustFQID("tag/1"))
	assert.Equal(t, ir.IRString("budget"), tag["name"])
}

func TestHandlePublicRejects(t *testing.T) {
	env := newEnv(t)
	srv := server.New(env.Engine, server.Options{})

	tests := []struct {
		name    string
		body    string
		user    string
		code    int
		message string
	}{
		{"bad json", `{"action":`, "1", http.StatusBadRequest, "Invalid JSON"},
		{"empty list", `[]`, "1", http.StatusBadRequest, "No actions given."},
		{"bad user header", createTag, "abc", http.StatusBadRequest, "Invalid X-User-Id header."},
		{"anonymous", createTag, "", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := map[string]string{}
			if tt.user != "" {
				headers[server.UserHeader] = tt.user
			}
			code, resp := post(t, srv.Handler(), "/system/action/handle", tt.body, headers)
			assert.Equal(t, tt.code, code)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Message, tt.message)
		})
	}
}

func TestInternalRouteAuth(t *testing.T) {
	env := newEnv(t)
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte("secret"))

	disabled := server.New(env.Engine, server.Options{})
	code, _ := post(t, disabled.Handler(), "/internal/handle", createTag, map[string]string{"Authorization": auth})
	assert.Equal(t, http.StatusForbidden, code)

	srv := server.New(env.Engine, server.Options{InternalAuthPassword: "secret"})
	code, resp := post(t, srv.Handler(), "/internal/handle", createTag, map[string]string{"Authorization": "Basic nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Wrong internal auth password.", resp.Message)

	code, resp = post(t, srv.Handler(), "/internal/handle", createTag, map[string]string{"Authorization": auth, server.UserHeader: "1"})
	assert.Equal(t, http.StatusOK, code, resp.Message)
	assert.True(t, resp.Success)
}

type conflicting struct {
	failures int
	calls    int
}

func (c *conflicting) Dispatch(context.Context, engine.Request) (*engine.Result, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errs.LockConflict("meeting/1")
	}
	return &engine.Result{RequestID: "r", Position: 7, Results: [][]ir.IRObject{nil}}, nil
}

func TestLockConflictRetried(t *testing.T) {
	rec := metrics.NewRecorder()
	d := &conflicting{failures: 2}
	srv := server.New(d, server.Options{LockRetries: 2, Metrics: rec})

	code, resp := post(t, srv.Handler(), "/system/action/handle", createTag, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
	assert.Equal(t, int64(7), resp.Position)
	assert.Equal(t, 3, d.calls)
}

func TestLockConflictExhausted(t *testing.T) {
	d := &conflicting{failures: 5}
	srv := server.New(d, server.Options{LockRetries: 1})

	code, resp := post(t, srv.Handler(), "/system/action/handle", createTag, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, errs.KindLockConflict, resp.Kind)
	assert.Equal(t, 2, d.calls)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newEnv(t)
	srv := server.New(env.Engine, server.Options{
		Metrics:  metrics.NewRecorder(),
		Position: env.Store.LastPosition,
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "position")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "plenum_lock_conflicts_total")
}
