package engine_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/action"
	"github.com/roach88/plenum/internal/engine"
	"github.com/roach88/plenum/internal/errs"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/models"
	"github.com/roach88/plenum/internal/permission"
	"github.com/roach88/plenum/internal/store"
	"github.com/roach88/plenum/internal/testutil"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

// Meeting 1 with admin user 1 and plain delegate user 3.
func fixtures() testutil.Fixtures {
	return testutil.Fixtures{
		"committee/1":     {"name": "C", "organization_id": 1, "meeting_ids": []any{1}},
		"meeting/1":       {"name": "M", "committee_id": 1, "admin_group_id": 1, "group_ids": []any{1, 2}, "tag_ids": []any{5}, "motion_state_ids": []any{7}, "motion_ids": []any{9}},
		"group/1":         {"name": "Admin", "meeting_id": 1, "admin_group_for_meeting_id": 1, "meeting_user_ids": []any{10}},
		"group/2":         {"name": "Delegates", "meeting_id": 1, "meeting_user_ids": []any{30}},
		"user/1":          {"username": "admin", "organization_id": 1, "meeting_user_ids": []any{10}},
		"user/3":          {"username": "delegate", "organization_id": 1, "meeting_user_ids": []any{30}},
		"meeting_user/10": {"user_id": 1, "meeting_id": 1, "group_ids": []any{1}},
		"meeting_user/30": {"user_id": 3, "meeting_id": 1, "group_ids": []any{2}},
		"tag/5":           {"name": "old", "meeting_id": 1},
		"motion_state/7":  {"name": "submitted", "meeting_id": 1, "motion_ids": []any{9}},
		"motion/9":        {"title": "M9", "meeting_id": 1, "state_id": 7},
	}
}

type capture struct{ ops map[string][]bool }

func (c *capture) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	if c.ops == nil {
		c.ops = map[string][]bool{}
	}
	c.ops[op] = append(c.ops[op], success)
}

func testActions() *action.Registry {
	reg := action.NewRegistry()
	reg.Register(
		&action.Action{
			Name: "tag.create", Collection: "tag", Kind: action.KindCreate,
			Permission: permission.TagCanManage,
			Contract:   "name: string & strings.MaxRunes(256)\nmeeting_id: int & >0\n",
			History:    "Tag created",
		},
		&action.Action{
			Name: "tag.update", Collection: "tag", Kind: action.KindUpdate,
			Permission: permission.TagCanManage,
			Contract:   "id: int & >0\nname?: string\n",
		},
		&action.Action{
			Name: "tag.delete", Collection: "tag", Kind: action.KindDelete,
			Permission: permission.TagCanManage,
			Contract:   "id: int & >0\n",
		},
		&action.Action{
			Name: "motion_state.delete", Collection: "motion_state", Kind: action.KindDelete,
			Permission: permission.MotionCanManage,
		},
		&action.Action{
			Name: "motion.delete", Collection: "motion", Kind: action.KindDelete,
			Permission: permission.MotionCanManage,
		},
		&action.Action{
			Name: "tag.internal_create", Collection: "tag", Kind: action.KindCreate,
			Visibility: action.BackendInternal, SkipPermission: true,
		},
		&action.Action{
			Name: "tag.stack_touch", Kind: action.KindCustom, Visibility: action.StackInternal,
			SkipPermission: true,
			Execute: func(context.Context, action.Invoker, ir.IRObject) (ir.IRObject, error) {
				return ir.IRObject{"ok": ir.IRBool(true)}, nil
			},
		},
		&action.Action{
			Name: "tag.wrapped_create", Kind: action.KindCustom, Permission: permission.TagCanManage,
			Execute: func(ctx context.Context, inv action.Invoker, in ir.IRObject) (ir.IRObject, error) {
				out, err := inv.Execute(ctx, "tag.internal_create", []ir.IRObject{in})
				if err != nil {
					return nil, err
				}
				return out[0], nil
			},
		},
		&action.Action{
			Name: "tag.recurse", Kind: action.KindCustom, SkipPermission: true,
			Execute: func(ctx context.Context, inv action.Invoker, in ir.IRObject) (ir.IRObject, error) {
				_, err := inv.Execute(ctx, "tag.recurse", []ir.IRObject{in})
				return nil, err
			},
		},
		&action.Action{
			Name: "tag.rename_later", Kind: action.KindCustom, SkipPermission: true,
			Execute: func(ctx context.Context, inv action.Invoker, in ir.IRObject) (ir.IRObject, error) {
				inv.Defer(func(context.Context) error {
					return errs.Action("deferred check failed")
				})
				return nil, inv.Update(ctx, "tag/5", ir.IRObject{"name": ir.IRString("later")})
			},
		},
	)
	return reg
}

type fixture struct {
	engine  *engine.Engine
	store   *store.Store
	metrics *capture
}

func setup(t *testing.T) fixture {
	t.Helper()
	s := testutil.NewStore(t, fixtures())
	m := &capture{}
	e := engine.New(s, testActions(), models.MustDefault(),
		engine.WithClock(testutil.NewFixedClock(1700000000)),
		engine.WithRequestIDs(testutil.NewSequentialRequestIDs("req")),
		engine.WithMetrics(m),
		engine.WithMaxDepth(8),
	)
	return fixture{engine: e, store: s, metrics: m}
}

func dispatch(f fixture, user int64, actions ...engine.ActionRequest) (*engine.Result, error) {
	return f.engine.Dispatch(context.Background(), engine.Request{UserID: user, Actions: actions})
}

func act(name string, data ...ir.IRObject) engine.ActionRequest {
	return engine.ActionRequest{Name: name, Data: data}
}

func TestDispatchCreateRelatesAndCommits(t *testing.T) {
	f := setup(t)

	res, err := dispatch(f, 1, act("tag.create", ir.IRObject{"name": ir.IRString("new"), "meeting_id": ir.IRInt(1)}))
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	id := res.Results[0][0]["id"].(ir.IRInt)
	fqid := ir.NewFQID("tag", int64(id))

	assert.Equal(t, "req-1", res.RequestID)
	assert.Positive(t, res.Position)
	assert.Equal(t, int64(1700000000), res.Write.Timestamp)

	tag := testutil.Instance(t, f.store, fqid)
	assert.Equal(t, ir.IRString("new"), tag["name"])
	meeting := testutil.Instance(t, f.store, "meeting/1")
	assert.Equal(t, ir.Ints(5, int64(id)), meeting["tag_ids"])

	history, err := f.store.History(context.Background(), fqid)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Tag created", history[0].Template)

	assert.Equal(t, []bool{true}, f.metrics.ops["dispatch"])
	assert.Equal(t, []bool{true}, f.metrics.ops["tag.create"])
}

func TestDispatchIsAtomic(t *testing.T) {
	f := setup(t)
	before, err := f.store.LastPosition(context.Background())
	require.NoError(t, err)

	_, err = dispatch(f, 1,
		act("tag.update", ir.IRObject{"id": ir.IRInt(5), "name": ir.IRString("renamed")}),
		act("tag.update", ir.IRObject{"id": ir.IRInt(404), "name": ir.IRString("x")}),
	)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	after, err := f.store.LastPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, ir.IRString("old"), testutil.Instance(t, f.store, "tag/5")["name"])
	assert.Equal(t, []bool{false}, f.metrics.ops["dispatch"])
}

func TestDispatchRepeatedUpdateWritesNothing(t *testing.T) {
	f := setup(t)
	upd := act("tag.update", ir.IRObject{"id": ir.IRInt(5), "name": ir.IRString("renamed")})

	res, err := dispatch(f, 1, upd)
	require.NoError(t, err)
	assert.Positive(t, res.Position)
	assert.Nil(t, res.Results[0])

	res, err = dispatch(f, 1, upd)
	require.NoError(t, err)
	assert.Zero(t, res.Position)
	assert.Empty(t, res.Write.Events)
}

func TestDispatchRejections(t *testing.T) {
	tests := []struct {
		name string
		user int64
		req  engine.ActionRequest
		kind errs.Kind
	}{
		{"unknown action", 1, act("tag.fly", ir.IRObject{}), errs.KindAction},
		{"backend internal from outside", 1, act("tag.internal_create", ir.IRObject{"name": ir.IRString("x"), "meeting_id": ir.IRInt(1)}), errs.KindInternalOnly},
		{"stack internal without marker", 1, act("tag.stack_touch", ir.IRObject{}), errs.KindInternalOnly},
		{"contract violation", 1, act("tag.create", ir.IRObject{"name": ir.IRInt(1), "meeting_id": ir.IRInt(1)}), errs.KindValidation},
		{"missing permission", 3, act("tag.create", ir.IRObject{"name": ir.IRString("x"), "meeting_id": ir.IRInt(1)}), errs.KindMissingPermission},
		{"depth exceeded", 1, act("tag.recurse", ir.IRObject{}), errs.KindAction},
		{"deferred check", 1, act("tag.rename_later", ir.IRObject{}), errs.KindAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			_, err := dispatch(f, tt.user, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
			assert.Equal(t, ir.IRString("old"), testutil.Instance(t, f.store, "tag/5")["name"])
		})
	}
}

func TestDispatchStackInternalWithMarker(t *testing.T) {
	f := setup(t)
	res, err := f.engine.Dispatch(context.Background(), engine.Request{
		UserID: 0, Internal: true, Actions: []engine.ActionRequest{act("tag.stack_touch", ir.IRObject{})},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"ok": ir.IRBool(true)}, res.Results[0][0])
}

func TestSubActionTransparency(t *testing.T) {
	direct := setup(t)
	wrapped := setup(t)
	payload := ir.IRObject{"name": ir.IRString("new"), "meeting_id": ir.IRInt(1)}

	r1, err := dispatch(direct, 1, act("tag.create", payload))
	require.NoError(t, err)
	r2, err := dispatch(wrapped, 1, act("tag.wrapped_create", payload))
	require.NoError(t, err)

	assert.Equal(t, r1.Results, r2.Results)
	id := int64(r1.Results[0][0]["id"].(ir.IRInt))
	assert.Equal(t, testutil.Instance(t, direct.store, "meeting/1"), testutil.Instance(t, wrapped.store, "meeting/1"))
	assert.Equal(t,
		testutil.Instance(t, direct.store, ir.NewFQID("tag", id))["name"],
		testutil.Instance(t, wrapped.store, ir.NewFQID("tag", id))["name"])
}

func TestDeleteProtectedPartner(t *testing.T) {
	f := setup(t)

	_, err := dispatch(f, 1, act("motion_state.delete", ir.IRObject{"id": ir.IRInt(7)}))
	require.Error(t, err)
	e, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindStillReferenced, e.Kind)
	assert.Contains(t, e.Message, "motion/9")

	// Deleting the referencing motion first in the same request unblocks it.
	_, err = dispatch(f, 1,
		act("motion.delete", ir.IRObject{"id": ir.IRInt(9)}),
		act("motion_state.delete", ir.IRObject{"id": ir.IRInt(7)}),
	)
	require.NoError(t, err)
	assert.Equal(t, ir.Ints(), testutil.Instance(t, f.store, "meeting/1")["motion_state_ids"])
}

func TestDeleteUnlinksPartners(t *testing.T) {
	f := setup(t)

	res, err := dispatch(f, 1, act("tag.delete", ir.IRObject{"id": ir.IRInt(5)}))
	require.NoError(t, err)

	assert.Equal(t, []ir.WriteEvent{
		{Type: ir.EventDelete, FQID: "tag/5"},
		{Type: ir.EventUpdate, FQID: "meeting/1", Fields: ir.IRObject{"tag_ids": ir.Ints()}},
	}, res.Write.Events)
	_, err = f.store.Get(context.Background(), "tag/5")
	assert.True(t, errs.IsNotFound(err))
}

func TestRespond(t *testing.T) {
	f := setup(t)

	res, err := dispatch(f, 1,
		act("tag.create", ir.IRObject{"name": ir.IRString("a"), "meeting_id": ir.IRInt(1)}),
		act("tag.update", ir.IRObject{"id": ir.IRInt(5), "name": ir.IRString("b")}),
	)
	require.NoError(t, err)
	body, err := json.Marshal(engine.Respond(res, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"Actions handled successfully","results":[[{"id":6}],null],"position":2}`, string(body))

	body, err = json.Marshal(engine.Respond(nil, errs.NotFound("tag/9")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"Model 'tag/9' does not exist.","results":[],"kind":"NotFound","fqid":"tag/9"}`, string(body))
}

func TestRollbackUndoesSideEffects(t *testing.T) {
	var undone []string
	reg := testActions()
	reg.Register(&action.Action{
		Name: "tag.mark", Kind: action.KindCustom, SkipPermission: true,
		Execute: func(_ context.Context, inv action.Invoker, in ir.IRObject) (ir.IRObject, error) {
			label := in.StringOr("label", "")
			inv.OnRollback(func(context.Context) { undone = append(undone, label) })
			return nil, nil
		},
	})
	e := engine.New(testutil.NewStore(t, fixtures()), reg, models.MustDefault(),
		engine.WithClock(testutil.NewFixedClock(1700000000)))
	run := func(actions ...engine.ActionRequest) error {
		_, err := e.Dispatch(context.Background(), engine.Request{UserID: 1, Actions: actions})
		return err
	}

	require.NoError(t, run(act("tag.mark", ir.IRObject{"label": ir.IRString("kept")})))
	assert.Empty(t, undone)

	err := run(
		act("tag.mark", ir.IRObject{"label": ir.IRString("first")}, ir.IRObject{"label": ir.IRString("second")}),
		act("tag.update", ir.IRObject{"id": ir.IRInt(404), "name": ir.IRString("x")}),
	)
	require.Error(t, err)
	assert.Equal(t, []string{"second", "first"}, undone)
}
