package chat_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/harness"
	"github.com/roach88/plenum/internal/testutil"
)

// Users: 1 superadmin, 2 delegate with write access, 3 delegate without
// any group, 4 not in the meeting.
func fixtures() testutil.Fixtures {
	return testutil.Fixtures{
		"organization/1": {"name": "Org", "committee_ids": []any{1}, "user_ids": []any{1, 2, 3, 4}},
		"committee/1":    {"name": "Council", "organization_id": 1, "meeting_ids": []any{1}},
		"meeting/1": {
			"name": "Plenary", "committee_id": 1,
			"group_ids": []any{2}, "meeting_user_ids": []any{20, 30},
			"chat_group_ids": []any{1}, "chat_message_ids": []any{201},
		},
		"group/2": {
			"name": "Delegates", "meeting_id": 1, "permissions": []any{},
			"meeting_user_ids": []any{20}, "write_chat_group_ids": []any{1},
		},
		"user/1":          {"username": "root", "organization_id": 1, "organization_management_level": "superadmin"},
		"user/2":          {"username": "bob", "organization_id": 1, "meeting_user_ids": []any{20}},
		"user/3":          {"username": "carol", "organization_id": 1, "meeting_user_ids": []any{30}},
		"user/4":          {"username": "dave", "organization_id": 1},
		"meeting_user/20": {"user_id": 2, "meeting_id": 1, "group_ids": []any{2}, "chat_message_ids": []any{201}},
		"meeting_user/30": {"user_id": 3, "meeting_id": 1},
		"chat_group/1": {
			"name": "General", "meeting_id": 1, "weight": 1,
			"write_group_ids": []any{2}, "chat_message_ids": []any{201},
		},
		"chat_message/201": {"content": "Hello", "created": 1690000000, "meeting_id": 1, "meeting_user_id": 20, "chat_group_id": 1},
	}
}

func newEnv(t *testing.T) *harness.Env {
	t.Helper()
	env, err := harness.NewEnv(context.Background(), fixtures(), 0, "chat")
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func dispatch(t *testing.T, env *harness.Env, userID int64, name string, data ...map[string]any) harness.StepResult {
	t.Helper()
	out, err := env.Dispatch(context.Background(), harness.Step{
		UserID:  userID,
		Actions: []harness.ActionStep{{Name: name, Data: data}},
	})
	require.NoError(t, err)
	return out
}

func TestChatGroupCreateAppendsWeight(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "chat_group.create", map[string]any{"name": "  Board  ", "meeting_id": 1})
	require.True(t, out.Response.Success, out.Response.Message)

	group := testutil.Instance(t, env.Store, "chat_group/2")
	assert.Equal(t, "Board", group.StringOr("name", ""))
	assert.Equal(t, int64(2), group.IntOr("weight", 0))
	assert.Equal(t, []int64{1, 2}, testutil.Instance(t, env.Store, "meeting/1").IntList("chat_group_ids"))
}

func TestChatGroupCreateNeedsManage(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 2, "chat_group.create", map[string]any{"name": "Board", "meeting_id": 1})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "MissingPermission", string(out.Response.Kind))
}

func TestChatMessageCreate(t *testing.T) {
	tests := []struct {
		name    string
		userID  int64
		success bool
		kind    string
	}{
		{"write group member", 2, true, ""},
		{"manager outside any group", 1, false, "PermissionDenied"},
		{"member without write group", 3, false, "PermissionDenied"},
		{"not a participant", 4, false, "PermissionDenied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t)
			out := dispatch(t, env, tt.userID, "chat_message.create", map[string]any{"content": "Hi", "chat_group_id": 1})
			assert.Equal(t, tt.success, out.Response.Success, out.Response.Message)
			if !tt.success {
				assert.Equal(t, tt.kind, string(out.Response.Kind))
			}
		})
	}
}

func TestChatMessageCreateFillsAuthor(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 2, "chat_message.create", map[string]any{"content": "Hi", "chat_group_id": 1})
	require.True(t, out.Response.Success, out.Response.Message)

	msg := testutil.Instance(t, env.Store, "chat_message/202")
	assert.Equal(t, int64(20), msg.IntOr("meeting_user_id", 0))
	assert.Equal(t, int64(1), msg.IntOr("meeting_id", 0))
	assert.Equal(t, harness.DefaultNow, msg.IntOr("created", 0))
	assert.Equal(t, []int64{201, 202}, testutil.Instance(t, env.Store, "meeting_user/20").IntList("chat_message_ids"))
}

func TestChatMessageUpdateOnlyByAuthor(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "chat_message.update", map[string]any{"id": 201, "content": "Edited"})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "You must be creator of a chat message to edit it.", out.Response.Message)

	out = dispatch(t, env, 2, "chat_message.update", map[string]any{"id": 201, "content": "Edited"})
	require.True(t, out.Response.Success, out.Response.Message)
	assert.Equal(t, "Edited", testutil.Instance(t, env.Store, "chat_message/201").StringOr("content", ""))
}

func TestChatMessageDeleteByManager(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "chat_message.delete", map[string]any{"id": 201})
	require.True(t, out.Response.Success, out.Response.Message)
	assert.Empty(t, testutil.Instance(t, env.Store, "chat_group/1").IntList("chat_message_ids"))
}

func TestChatGroupDeleteCascadesMessages(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "chat_group.delete", map[string]any{"id": 1})
	require.True(t, out.Response.Success, out.Response.Message)

	_, err := env.Store.Get(context.Background(), "chat_message/201")
	assert.Error(t, err)
	assert.Empty(t, testutil.Instance(t, env.Store, "meeting_user/20").IntList("chat_message_ids"))
}
