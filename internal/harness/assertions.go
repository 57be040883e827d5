package harness

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/replica"
	"github.com/roach88/wardsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describeEvent(event))
		}
	}
	return buf.String()
}

func describeEvent(ev TraceEvent) string {
	s := ev.Type + " " + ev.Action
	if ev.Collection != "" {
		s += " " + ev.Collection + "/" + ev.EntityID
	}
	if len(ev.Args) > 0 {
		s += fmt.Sprintf(" %v", ev.Args)
	}
	if ev.Error != "" {
		s += " error=" + ev.Error
	}
	return s
}

func describeMatch(m EventMatch) string {
	parts := []string{}
	for _, f := range []struct{ name, value string }{
		{"type", m.Type}, {"action", m.Action}, {"collection", m.Collection}, {"id", m.ID},
	} {
		if f.value != "" {
			parts = append(parts, f.name+"="+f.value)
		}
	}
	if len(m.Args) > 0 {
		parts = append(parts, fmt.Sprintf("args=%v", m.Args))
	}
	if len(parts) == 0 {
		return "any event"
	}
	return strings.Join(parts, " ")
}

// matches reports whether ev satisfies m.
func (m EventMatch) matches(ev TraceEvent) bool {
	if m.Type != "" && m.Type != ev.Type {
		return false
	}
	if m.Action != "" && m.Action != ev.Action {
		return false
	}
	if m.Collection != "" && m.Collection != ev.Collection {
		return false
	}
	if m.ID != "" && m.ID != ev.EntityID {
		return false
	}
	return matchArgs(ev.Args, m.Args)
}

// assertTraceContains checks that some event matches the pattern.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if assertion.Event.matches(event) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describeMatch(*assertion.Event),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the patterns match events in the given
// order. Events don't need to be consecutive; each pattern is matched
// after the event matched by the previous one.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for i, want := range assertion.Events {
		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if want.matches(ev) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order, #%d: %s", i+1, describeMatch(want)),
				Actual:   fmt.Sprintf("no match for #%d after the previous events", i+1),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match the pattern.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if assertion.Event.matches(event) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d events matching %s", assertion.Count, describeMatch(*assertion.Event)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertDocument checks one document against Deleted and Expect.
func assertDocument(kind string, doc ir.Document, found bool, assertion Assertion) error {
	where := assertion.Collection + "/" + assertion.ID
	if !found {
		return &AssertionError{
			Type:     kind,
			Expected: "document " + where,
			Actual:   "document not found",
		}
	}
	if assertion.Deleted != nil && doc.IsDeleted() != *assertion.Deleted {
		return &AssertionError{
			Type:     kind,
			Expected: fmt.Sprintf("%s deleted=%t", where, *assertion.Deleted),
			Actual:   fmt.Sprintf("deleted=%t", doc.IsDeleted()),
		}
	}
	for _, key := range sortedKeys(assertion.Expect) {
		want := assertion.Expect[key]
		got, exists := doc[key]
		if !exists {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %v", where, key, want),
				Actual:   fmt.Sprintf("field %q not present", key),
			}
		}
		if !valuesEqual(got, want) {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %v", where, key, want),
				Actual:   fmt.Sprintf("field %q = %v", key, got),
			}
		}
	}
	return nil
}

func assertLocalState(ctx context.Context, r *replica.Replica, assertion Assertion) error {
	doc, err := r.Get(ctx, assertion.Collection, assertion.ID)
	if err != nil && !store.IsNotFound(err) {
		return fmt.Errorf("local_state: %w", err)
	}
	return assertDocument(AssertLocalState, doc, err == nil, assertion)
}

func assertRemoteState(b *remote.MemoryBackend, assertion Assertion) error {
	doc, ok := b.Doc(assertion.Collection, assertion.ID)
	return assertDocument(AssertRemoteState, doc, ok, assertion)
}

// assertWALState compares the WAL status counts (pending, syncing, synced,
// failed, terminal, total) with Expect.
func assertWALState(ctx context.Context, r *replica.Replica, assertion Assertion) error {
	stats, err := r.Stats(ctx)
	if err != nil {
		return fmt.Errorf("wal_state: %w", err)
	}
	counts := map[string]any{
		"pending":  stats.Pending,
		"syncing":  stats.Syncing,
		"synced":   stats.Synced,
		"failed":   stats.Failed,
		"terminal": stats.Terminal,
		"total":    stats.Total,
	}
	for _, key := range sortedKeys(assertion.Expect) {
		got, ok := counts[key]
		if !ok {
			return fmt.Errorf("wal_state: unknown count %q", key)
		}
		if !valuesEqual(got, assertion.Expect[key]) {
			return &AssertionError{
				Type:     AssertWALState,
				Expected: fmt.Sprintf("%s = %v", key, assertion.Expect[key]),
				Actual:   fmt.Sprintf("%s = %v (%+v)", key, got, stats),
			}
		}
	}
	return nil
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]any) bool {
	for key, expectedVal := range expected {
		actualVal, exists := actual[key]
		if !exists || !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values by their canonical JSON, so an int from
// YAML equals the json.Number read back from the store.
func valuesEqual(actual, expected any) bool {
	a, err := ir.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	e, err := ir.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Replica *replica.Replica
	Backend *remote.MemoryBackend
	Ctx     context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// State assertions need actx; trace assertions do not.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertLocalState, AssertWALState:
			if actx == nil || actx.Replica == nil {
				err = fmt.Errorf("assertion[%d]: %s requires a replica", i, assertion.Type)
			} else if assertion.Type == AssertLocalState {
				err = assertLocalState(actx.Ctx, actx.Replica, assertion)
			} else {
				err = assertWALState(actx.Ctx, actx.Replica, assertion)
			}
		case AssertRemoteState:
			if actx == nil || actx.Backend == nil {
				err = fmt.Errorf("assertion[%d]: remote_state requires a backend", i)
			} else {
				err = assertRemoteState(actx.Backend, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
