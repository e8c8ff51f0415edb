package models

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/plenum/internal/compiler"
	"github.com/roach88/plenum/internal/ir"
)

func TestDefaultModelsCompile(t *testing.T) {
	r, err := Default()
	require.NoError(t, err)

	for _, name := range []string{"meeting", "agenda_item", "topic", "motion", "speaker", "mediafile", "user", "meeting_user", "chat_message"} {
		_, ok := r.Collection(name)
		assert.True(t, ok, "collection %s", name)
	}
}

func TestDefaultModelsEveryCollectionHasID(t *testing.T) {
	r := MustDefault()
	for _, c := range r.Specs() {
		f, ok := c.Field("id")
		require.True(t, ok, c.Name)
		assert.Equal(t, ir.KindNumber, f.Kind)
	}
}

func TestDefaultModelsCascadeAnalysis(t *testing.T) {
	warnings := compiler.AnalyzeCascades(MustDefault().Specs())
	for _, w := range warnings {
		assert.Equal(t, "info", w.Level, "unexpected cascade loop: %s", w.Message)
	}
}

func TestPartner(t *testing.T) {
	r := MustDefault()

	p, ok := r.Partner("agenda_item", "content_object_id", "topic")
	require.True(t, ok)
	assert.Equal(t, "agenda_item_id", p.Name)

	p, ok = r.Partner("agenda_item", "parent_id", "agenda_item")
	require.True(t, ok)
	assert.Equal(t, "child_ids", p.Name)

	_, ok = r.Partner("agenda_item", "content_object_id", "user")
	assert.False(t, ok)
}

func TestFieldSets(t *testing.T) {
	r := MustDefault()

	assert.ElementsMatch(t, []string{"username", "saml_id", "member_number"}, r.UniqueFields("user"))
	assert.Contains(t, r.RequiredFields("agenda_item"), "content_object_id")
	assert.ElementsMatch(t, []string{"is_internal", "is_hidden", "level"}, r.DerivedFields("agenda_item"))
	assert.NotEmpty(t, r.RelationFields("topic"))
	assert.Nil(t, r.RelationFields("nope"))
}

func TestProjectionForbidsUserTargets(t *testing.T) {
	f, ok := MustDefault().Field("projection", "content_object_id")
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"user", "meeting_user"}, f.Relation.Forbidden)
}

func TestCompileRejectsAsymmetricModels(t *testing.T) {
	_, err := Compile("broken.cue", []byte(`
collection: a: fields: {
	id: {type: "number"}
	b_ids: {type: "relation-list", to: "b/a_id"}
}
collection: b: fields: {
	id: {type: "number"}
	a_id: {type: "relation", to: "a/other_ids"}
}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), compiler.ErrAsymmetricRelation)
}

func TestMeetingScopedGenericTargetsHaveMeeting(t *testing.T) {
	r := MustDefault()
	for _, c := range r.Specs() {
		for _, f := range r.RelationFields(c.Name) {
			if f.Kind != ir.KindGenericRelation || !slices.Contains(f.Relation.EqualFields, "meeting_id") {
				continue
			}
			for _, target := range f.Relation.Targets {
				_, ok := r.Field(target.Collection, "meeting_id")
				assert.True(t, ok, "%s.%s targets %s without meeting_id", c.Name, f.Name, target.Collection)
			}
		}
	}

	los, ok := r.Field("list_of_speakers", "content_object_id")
	require.True(t, ok)
	var targets []string
	for _, target := range los.Relation.Targets {
		targets = append(targets, target.Collection)
	}
	assert.ElementsMatch(t, []string{"topic", "motion", "assignment"}, targets)
}
