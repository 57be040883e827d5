package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	r := NewResult()
	r.add(TraceEvent{Type: EventStep, Action: StepCreate, Collection: "patients", EntityID: "p1"})
	r.add(TraceEvent{Type: EventStep, Action: StepDrain})
	r.add(TraceEvent{Type: EventRemote, Action: "create", Collection: "patients", EntityID: "p1",
		Args: map[string]any{"name": "Ada", "updatedAt": json.Number("1000")}})
	r.add(TraceEvent{Type: EventRemote, Action: "update", Collection: "patients", EntityID: "p1",
		Args: map[string]any{"bed": "3A"}})
	return r.Trace
}

func TestResultAddNumbersEvents(t *testing.T) {
	trace := sampleTrace()
	for i, ev := range trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := sampleTrace()

	err := assertTraceContains(trace, Assertion{Type: AssertTraceContains,
		Event: &EventMatch{Type: EventRemote, ID: "p1", Args: map[string]any{"updatedAt": 1000}}})
	assert.NoError(t, err)

	err = assertTraceContains(trace, Assertion{Type: AssertTraceContains,
		Event: &EventMatch{Type: EventRemote, Action: "delete"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertTraceContains, ae.Type)
	assert.Contains(t, err.Error(), "type=remote action=delete")
	assert.Contains(t, err.Error(), "[3] remote create patients/p1")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := sampleTrace()

	inOrder := Assertion{Type: AssertTraceOrder, Events: []EventMatch{
		{Type: EventRemote, Action: "create"},
		{Type: EventRemote, Action: "update"},
	}}
	assert.NoError(t, assertTraceOrder(trace, inOrder))

	reversed := Assertion{Type: AssertTraceOrder, Events: []EventMatch{
		{Type: EventRemote, Action: "update"},
		{Type: EventRemote, Action: "create"},
	}}
	err := assertTraceOrder(trace, reversed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no match for #2")
}

func TestAssertTraceCount(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceCount(trace, Assertion{Event: &EventMatch{Type: EventRemote}, Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Event: &EventMatch{Action: "delete"}, Count: 0}))

	err := assertTraceCount(trace, Assertion{Event: &EventMatch{Type: EventStep}, Count: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 events")
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"int vs json.Number", json.Number("5"), 5, true},
		{"int64 vs int", int64(7), 7, true},
		{"strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"nested maps", map[string]any{"a": []any{1, "x"}}, map[string]any{"a": []any{1, "x"}}, true},
		{"nil vs value", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions_StateNeedsContext(t *testing.T) {
	result := NewResult()
	errs := EvaluateAssertions(result, []Assertion{
		{Type: AssertLocalState, Collection: "patients", ID: "p1", Expect: map[string]any{"name": "Ada"}},
		{Type: AssertRemoteState, Collection: "patients", ID: "p1", Expect: map[string]any{"name": "Ada"}},
		{Type: AssertWALState, Expect: map[string]any{"pending": 0}},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "requires a replica")
	assert.Contains(t, errs[1], "requires a backend")
	assert.Contains(t, errs[2], "requires a replica")
}
