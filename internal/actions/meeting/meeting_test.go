package meeting_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/harness"
	"github.com/roach88/plenum/internal/testutil"
)

// User 2 may manage tags in meeting 1 but not its settings. Agenda item 5
// lives in meeting 2.
func fixtures() testutil.Fixtures {
	return testutil.Fixtures{
		"organization/1": {"name": "Org", "committee_ids": []any{1}, "user_ids": []any{1, 2}},
		"committee/1":    {"name": "Council", "organization_id": 1, "meeting_ids": []any{1, 2}},
		"meeting/1": {
			"name": "Plenary", "committee_id": 1,
			"group_ids": []any{2}, "meeting_user_ids": []any{20},
		},
		"meeting/2":       {"name": "Board", "committee_id": 1, "agenda_item_ids": []any{5}},
		"group/2":         {"name": "Clerks", "meeting_id": 1, "permissions": []any{"tag.can_manage"}, "meeting_user_ids": []any{20}},
		"user/1":          {"username": "root", "organization_id": 1, "organization_management_level": "superadmin"},
		"user/2":          {"username": "clerk", "organization_id": 1, "meeting_user_ids": []any{20}},
		"meeting_user/20": {"user_id": 2, "meeting_id": 1, "group_ids": []any{2}},
		"agenda_item/5":   {"meeting_id": 2, "type": "common", "weight": 1, "level": 0, "is_hidden": false, "is_internal": false},
	}
}

func dispatch(t *testing.T, userID int64, name string, data map[string]any) (*harness.Env, harness.StepResult) {
	t.Helper()
	env, err := harness.NewEnv(context.Background(), fixtures(), 0, "meeting")
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	out, err := env.Dispatch(context.Background(), harness.Step{
		UserID:  userID,
		Actions: []harness.ActionStep{{Name: name, Data: []map[string]any{data}}},
	})
	require.NoError(t, err)
	return env, out
}

func TestStructureLevelCreate(t *testing.T) {
	env, out := dispatch(t, 1, "structure_level.create", map[string]any{"name": " Greens ", "meeting_id": 1, "color": "#22aa44"})
	require.True(t, out.Response.Success, out.Response.Message)

	level := testutil.Instance(t, env.Store, "structure_level/1")
	assert.Equal(t, "Greens", level.StringOr("name", ""))
	assert.Equal(t, "#22aa44", level.StringOr("color", ""))
	assert.Equal(t, []int64{1}, testutil.Instance(t, env.Store, "meeting/1").IntList("structure_level_ids"))
}

func TestStructureLevelColorFormat(t *testing.T) {
	for _, color := range []string{"red", "#22AA44", "#2a4"} {
		t.Run(color, func(t *testing.T) {
			_, out := dispatch(t, 1, "structure_level.create", map[string]any{"name": "Greens", "meeting_id": 1, "color": color})
			assert.False(t, out.Response.Success)
			assert.Equal(t, "ValidationError", string(out.Response.Kind))
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		name   string
		action string
		data   map[string]any
		ok     bool
	}{
		{"tag with tag.can_manage", "tag.create", map[string]any{"name": "Budget", "meeting_id": 1}, true},
		{"structure level needs settings", "structure_level.create", map[string]any{"name": "Greens", "meeting_id": 1}, false},
		{"category needs settings", "point_of_order_category.create", map[string]any{"text": "Procedure", "rank": 1, "meeting_id": 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, out := dispatch(t, 2, tt.action, tt.data)
			assert.Equal(t, tt.ok, out.Response.Success, out.Response.Message)
			if !tt.ok {
				assert.Equal(t, "MissingPermission", string(out.Response.Kind))
			}
		})
	}
}

func TestTagStaysInItsMeeting(t *testing.T) {
	env, out := dispatch(t, 1, "tag.create", map[string]any{"name": "Budget", "meeting_id": 1, "tagged_ids": []any{"agenda_item/5"}})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "CrossScopeViolation", string(out.Response.Kind))
	assert.Contains(t, out.Response.Message, "agenda_item/5")

	_, err := env.Store.Get(context.Background(), "tag/1")
	assert.Error(t, err)
}
