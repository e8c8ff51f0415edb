package speaker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/harness"
	"github.com/roach88/plenum/internal/ir"
	"github.com/roach88/plenum/internal/testutil"
)

// User 1 is a superadmin, users 2 and 3 are delegates that may speak. The
// list holds two waiting speakers; speaker 1 books against structure level
// counter 1.
func fixtures() testutil.Fixtures {
	return testutil.Fixtures{
		"organization/1": {"name": "Org", "committee_ids": []any{1}, "user_ids": []any{1, 2, 3}},
		"committee/1":    {"name": "Council", "organization_id": 1, "meeting_ids": []any{1}},
		"user/1":         {"username": "admin", "organization_id": 1, "organization_management_level": "superadmin"},
		"user/2":         {"username": "bob", "organization_id": 1, "meeting_user_ids": []any{20}},
		"user/3":         {"username": "carol", "organization_id": 1, "meeting_user_ids": []any{30}},
		"meeting/1": {
			"name": "Plenary", "committee_id": 1,
			"group_ids": []any{2}, "meeting_user_ids": []any{20, 30},
			"agenda_item_ids": []any{1}, "topic_ids": []any{1}, "list_of_speakers_ids": []any{1},
			"speaker_ids": []any{1, 2}, "structure_level_ids": []any{1}, "structure_level_list_of_speakers_ids": []any{1},
		},
		"group/2": {
			"name": "Delegates", "meeting_id": 1,
			"permissions": []any{"list_of_speakers.can_be_speaker"}, "meeting_user_ids": []any{20, 30},
		},
		"meeting_user/20": {"user_id": 2, "meeting_id": 1, "group_ids": []any{2}, "speaker_ids": []any{1}},
		"meeting_user/30": {"user_id": 3, "meeting_id": 1, "group_ids": []any{2}, "speaker_ids": []any{2}},
		"topic/1":         {"title": "Budget", "meeting_id": 1, "sequential_number": 1, "agenda_item_id": 1, "list_of_speakers_id": 1},
		"agenda_item/1": {
			"meeting_id": 1, "content_object_id": "topic/1", "type": "common",
			"is_hidden": false, "is_internal": false, "level": 0, "weight": 1,
		},
		"list_of_speakers/1": {
			"meeting_id": 1, "sequential_number": 1, "content_object_id": "topic/1",
			"speaker_ids": []any{1, 2}, "structure_level_list_of_speakers_ids": []any{1},
		},
		"structure_level/1": {"name": "North", "meeting_id": 1, "structure_level_list_of_speakers_ids": []any{1}},
		"structure_level_list_of_speakers/1": {
			"initial_time": 300, "remaining_time": 300, "meeting_id": 1,
			"structure_level_id": 1, "list_of_speakers_id": 1, "speaker_ids": []any{1},
		},
		"speaker/1": {"meeting_id": 1, "list_of_speakers_id": 1, "meeting_user_id": 20, "weight": 1, "structure_level_list_of_speakers_id": 1},
		"speaker/2": {"meeting_id": 1, "list_of_speakers_id": 1, "meeting_user_id": 30, "weight": 2},
	}
}

func newEnv(t *testing.T) *harness.Env {
	t.Helper()
	env, err := harness.NewEnv(context.Background(), fixtures(), 0, "speaker")
	require.NoError(t, err)
	t.Cleanup(func() { env.Close() })
	return env
}

func dispatch(t *testing.T, env *harness.Env, userID int64, name string, data map[string]any) harness.StepResult {
	t.Helper()
	out, err := env.Dispatch(context.Background(), harness.Step{
		UserID:  userID,
		Actions: []harness.ActionStep{{Name: name, Data: []map[string]any{data}}},
	})
	require.NoError(t, err)
	return out
}

func speaker(t *testing.T, env *harness.Env, id int64) ir.IRObject {
	t.Helper()
	return testutil.Instance(t, env.Store, ir.NewFQID("speaker", id))
}

func TestSelfAddedSpeakerGoesLast(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 2, "speaker.delete", map[string]any{"id": 1})
	require.True(t, out.Response.Success, out.Response.Message)

	out = dispatch(t, env, 2, "speaker.create", map[string]any{"list_of_speakers_id": 1})
	require.True(t, out.Response.Success, out.Response.Message)
	added := speaker(t, env, 3)
	assert.Equal(t, int64(20), added.IntOr("meeting_user_id", 0))
	assert.Equal(t, int64(3), added.IntOr("weight", 0))

	out = dispatch(t, env, 2, "speaker.create", map[string]any{"list_of_speakers_id": 1})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "Meeting user 20 is already on the list of speakers.", out.Response.Message)
}

func TestParticipantsMayOnlyAddThemselves(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 2, "speaker.create", map[string]any{"list_of_speakers_id": 1, "meeting_user_id": 30, "point_of_order": true})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "MissingPermission", string(out.Response.Kind))

	out = dispatch(t, env, 3, "speaker.delete", map[string]any{"id": 1})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "MissingPermission", string(out.Response.Kind))
}

func TestClosedListRejectsParticipants(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "list_of_speakers.update", map[string]any{"id": 1, "closed": true})
	require.True(t, out.Response.Success, out.Response.Message)

	out = dispatch(t, env, 2, "speaker.create", map[string]any{"list_of_speakers_id": 1, "point_of_order": true})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "The list of speakers is closed.", out.Response.Message)

	out = dispatch(t, env, 1, "speaker.create", map[string]any{"list_of_speakers_id": 1, "meeting_user_id": 20, "point_of_order": true})
	assert.True(t, out.Response.Success, out.Response.Message)
}

func TestPointOfOrderJumpsRegularSpeakers(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "speaker.create", map[string]any{"list_of_speakers_id": 1, "meeting_user_id": 30, "point_of_order": true})
	require.True(t, out.Response.Success, out.Response.Message)

	assert.Equal(t, int64(1), speaker(t, env, 3).IntOr("weight", 0))
	assert.Equal(t, int64(2), speaker(t, env, 1).IntOr("weight", 0))
	assert.Equal(t, int64(3), speaker(t, env, 2).IntOr("weight", 0))

	out = dispatch(t, env, 1, "speaker.create", map[string]any{"list_of_speakers_id": 1, "meeting_user_id": 20, "point_of_order": true})
	require.True(t, out.Response.Success, out.Response.Message)
	assert.Equal(t, int64(2), speaker(t, env, 4).IntOr("weight", 0))
	assert.Equal(t, int64(3), speaker(t, env, 1).IntOr("weight", 0))
}

func TestCategoryNeedsPointOfOrder(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "speaker.create", map[string]any{"list_of_speakers_id": 1, "point_of_order_category_id": 1})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "Not allowed to set point_of_order_category_id if point_of_order is not true.", out.Response.Message)
}

func TestSpeakStopsRunningSpeech(t *testing.T) {
	env := newEnv(t)
	start := env.Clock.Now()

	out := dispatch(t, env, 1, "speaker.speak", map[string]any{"id": 1})
	require.True(t, out.Response.Success, out.Response.Message)
	assert.Equal(t, start, speaker(t, env, 1).IntOr("begin_time", 0))

	out = dispatch(t, env, 1, "speaker.speak", map[string]any{"id": 1})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "Speaker 1 is not waiting.", out.Response.Message)

	env.Clock.Advance(45)
	out = dispatch(t, env, 1, "speaker.speak", map[string]any{"id": 2})
	require.True(t, out.Response.Success, out.Response.Message)

	assert.Equal(t, start+45, speaker(t, env, 1).IntOr("end_time", 0))
	assert.Equal(t, start+45, speaker(t, env, 2).IntOr("begin_time", 0))
	counter := testutil.Instance(t, env.Store, "structure_level_list_of_speakers/1")
	assert.Equal(t, int64(255), counter.IntOr("remaining_time", 0))

	env.Clock.Advance(10)
	out = dispatch(t, env, 1, "speaker.end_speech", map[string]any{"id": 2})
	require.True(t, out.Response.Success, out.Response.Message)
	assert.Equal(t, start+55, speaker(t, env, 2).IntOr("end_time", 0))

	history, err := env.Store.History(context.Background(), "speaker/2")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Speech started", history[0].Template)
	assert.Equal(t, "Speech ended", history[1].Template)
}

func TestEndSpeechOfWaitingSpeaker(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "speaker.end_speech", map[string]any{"id": 1})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "Speaker 1 is not speaking at the moment.", out.Response.Message)
}

func TestSortWaitingSpeakers(t *testing.T) {
	env := newEnv(t)

	out := dispatch(t, env, 1, "speaker.sort", map[string]any{"list_of_speakers_id": 1, "speaker_ids": []any{2, 1}})
	require.True(t, out.Response.Success, out.Response.Message)
	assert.Equal(t, int64(1), speaker(t, env, 2).IntOr("weight", 0))
	assert.Equal(t, int64(2), speaker(t, env, 1).IntOr("weight", 0))

	out = dispatch(t, env, 1, "speaker.sort", map[string]any{"list_of_speakers_id": 1, "speaker_ids": []any{2}})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "ExtraInstances", string(out.Response.Kind))

	out = dispatch(t, env, 1, "speaker.sort", map[string]any{"list_of_speakers_id": 1, "speaker_ids": []any{2, 2}})
	assert.False(t, out.Response.Success)
	assert.Equal(t, "DuplicateId", string(out.Response.Kind))
}
