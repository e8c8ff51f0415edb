package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeysRFC8785Order(t *testing.T) {
	obj := IRObject{"a": IRInt(1), "A": IRInt(2), "aa": IRInt(3), "aA": IRInt(4), "Aa": IRInt(5), "AA": IRInt(6)}
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestUnmarshalIRValue(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"id": 3, "title": "Budget", "parent_id": null, "tag_ids": [1, 2], "closed": false}`))
	require.NoError(t, err)

	obj, ok := v.(IRObject)
	require.True(t, ok)
	assert.Equal(t, IRInt(3), obj["id"])
	assert.Equal(t, IRString("Budget"), obj["title"])
	assert.Equal(t, IRNull{}, obj["parent_id"])
	assert.Equal(t, Ints(1, 2), obj["tag_ids"])
	assert.Equal(t, IRBool(false), obj["closed"])
}

func TestUnmarshalIRValueRejectsFloats(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`{"weight": 1.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	obj := IRObject{"name": IRString("x"), "ids": Ints(3, 1)}

	data, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"ids":[3,1],"name":"x"}`, string(data))

	var back IRObject
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, Equal(obj, back))
}

func TestFromGoAcceptsYAMLShapes(t *testing.T) {
	v, err := FromGo(map[string]any{"n": 2, "f": float64(4), "l": []any{"a", nil}})
	require.NoError(t, err)
	assert.Equal(t, IRObject{"n": IRInt(2), "f": IRInt(4), "l": IRArray{IRString("a"), IRNull{}}}, v)

	_, err = FromGo(map[string]any{"f": 1.25})
	require.Error(t, err)
}

func TestMergeClearsNull(t *testing.T) {
	base := IRObject{"parent_id": IRInt(4), "weight": IRInt(2)}
	got := base.Merge(IRObject{"parent_id": IRNull{}, "weight": IRInt(3)})

	assert.Equal(t, IRObject{"weight": IRInt(3)}, got)
	assert.Equal(t, IRInt(4), base["parent_id"], "merge must not mutate the receiver")
}

func TestAccessors(t *testing.T) {
	obj := IRObject{
		"id":         IRInt(7),
		"name":       IRString("Board"),
		"is_hidden":  IRBool(true),
		"child_ids":  Ints(1, 2),
		"tagged_ids": Strings("motion/1", "topic/2"),
		"parent_id":  IRNull{},
	}

	id, ok := obj.Int("id")
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, int64(9), obj.IntOr("missing", 9))
	assert.Equal(t, "Board", obj.StringOr("name", ""))
	assert.True(t, obj.Bool("is_hidden"))
	assert.False(t, obj.Bool("closed"))
	assert.Equal(t, []int64{1, 2}, obj.IntList("child_ids"))
	assert.Equal(t, []FQID{"motion/1", "topic/2"}, obj.FQIDList("tagged_ids"))
	assert.False(t, obj.Has("parent_id"))
	assert.Equal(t, IRObject{"id": IRInt(7)}, obj.Project([]string{"id", "nope"}))
}

func TestEqualAndIsEmpty(t *testing.T) {
	assert.True(t, Equal(nil, IRNull{}))
	assert.True(t, Equal(Ints(1, 2), Ints(1, 2)))
	assert.False(t, Equal(Ints(1, 2), Ints(2, 1)))
	assert.False(t, Equal(IRInt(1), IRString("1")))

	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(IRString("")))
	assert.True(t, IsEmpty(IRArray{}))
	assert.False(t, IsEmpty(IRInt(0)))
}

func TestFQID(t *testing.T) {
	f := NewFQID("agenda_item", 12)
	assert.Equal(t, FQID("agenda_item/12"), f)
	assert.Equal(t, "agenda_item", f.Collection())
	assert.Equal(t, int64(12), f.ID())

	_, err := ParseFQID("agenda_item/0")
	assert.Error(t, err)
	_, err = ParseFQID("Agenda/1")
	assert.Error(t, err)
	_, err = ParseFQID("agenda_item")
	assert.Error(t, err)

	parsed, err := ParseFQID("motion/5")
	require.NoError(t, err)
	assert.Equal(t, NewFQID("motion", 5), parsed)
}
