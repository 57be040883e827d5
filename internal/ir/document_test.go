package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"id":"p1","updatedAt":1700000000000,"temp":37.5}`))
	require.NoError(t, err)

	assert.Equal(t, "p1", doc.ID())
	assert.Equal(t, int64(1700000000000), doc.UpdatedAt())
	assert.Equal(t, json.Number("37.5"), doc["temp"])
	assert.False(t, doc.IsDeleted())
}

func TestDecodeDocumentNull(t *testing.T) {
	doc, err := DecodeDocument([]byte(`null`))
	require.NoError(t, err)
	assert.NotNil(t, doc)
	assert.Empty(t, doc)
}

func TestDecodeDocumentRejectsNonObject(t *testing.T) {
	_, err := DecodeDocument([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestDocumentCloneIsDeep(t *testing.T) {
	orig := Document{
		"nested": map[string]any{"a": 1},
		"list":   []any{"x"},
	}
	cp := orig.Clone()

	cp["nested"].(map[string]any)["a"] = 2
	cp["list"].([]any)[0] = "y"

	assert.Equal(t, 1, orig["nested"].(map[string]any)["a"])
	assert.Equal(t, "x", orig["list"].([]any)[0])
	assert.Nil(t, Document(nil).Clone())
}

func TestDocumentMerge(t *testing.T) {
	base := Document{"id": "p1", "bed": "3A", "note": "x"}
	merged := base.Merge(Document{"bed": "4B", "note": nil})

	assert.Equal(t, "4B", merged["bed"])
	v, ok := merged["note"]
	assert.True(t, ok, "nil in a patch stores an explicit null")
	assert.Nil(t, v)
	assert.Equal(t, "3A", base["bed"], "merge must not modify the receiver")

	fromNil := Document(nil).Merge(Document{"id": "p2"})
	assert.Equal(t, "p2", fromNil.ID())
}

func TestDocumentDeletedAt(t *testing.T) {
	doc := Document{"deletedAt": json.Number("1234")}
	at, ok := doc.DeletedAt()
	assert.True(t, ok)
	assert.Equal(t, int64(1234), at)
	assert.True(t, doc.IsDeleted())

	doc["deletedAt"] = nil
	assert.False(t, doc.IsDeleted(), "explicit null clears the tombstone")
}

func TestAsInt64(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
		ok   bool
	}{
		{"int", 5, 5, true},
		{"int32", int32(6), 6, true},
		{"int64", int64(7), 7, true},
		{"integral float", float64(8), 8, true},
		{"fractional float", 8.5, 0, false},
		{"json number", json.Number("9"), 9, true},
		{"json number exponent", json.Number("1e3"), 1000, true},
		{"json number fraction", json.Number("1.5"), 0, false},
		{"string", "10", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AsInt64(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMutationEntryUnsynced(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		want     bool
	}{
		{StatusPending, false, true},
		{StatusSyncing, false, true},
		{StatusFailed, false, true},
		{StatusFailed, true, false},
		{StatusSynced, false, false},
	}

	for _, tt := range tests {
		e := MutationEntry{Status: tt.status, Terminal: tt.terminal}
		assert.Equal(t, tt.want, e.Unsynced(), "status=%s terminal=%v", tt.status, tt.terminal)
	}
}

func TestMutationEntryBefore(t *testing.T) {
	a := MutationEntry{ID: "a", Timestamp: 10, Seq: 1}
	b := MutationEntry{ID: "b", Timestamp: 10, Seq: 2}
	c := MutationEntry{ID: "c", Timestamp: 11, Seq: 0}
	d := MutationEntry{ID: "d", Timestamp: 10, Seq: 2}

	assert.True(t, a.Before(b))
	assert.True(t, b.Before(c))
	assert.True(t, b.Before(d), "id breaks full ties")
	assert.False(t, c.Before(a))
}

func TestEntityKey(t *testing.T) {
	e := MutationEntry{Collection: "patients", EntityID: "p1"}
	ev := RemoteChangeEvent{Collection: "patients", DocID: "p1"}

	assert.Equal(t, "patients/p1", e.EntityKey())
	assert.Equal(t, e.EntityKey(), ev.EntityKey())
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, OpCreate.Valid())
	assert.False(t, Operation("upsert").Valid())
	assert.True(t, StatusSynced.Valid())
	assert.False(t, Status("done").Valid())
}
