package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/roach88/wardsync/internal/ir"
	"github.com/roach88/wardsync/internal/remote"
	"github.com/roach88/wardsync/internal/replica"
	"github.com/roach88/wardsync/internal/schedule"
	"github.com/roach88/wardsync/internal/store"
	"github.com/roach88/wardsync/internal/testutil"
	"github.com/roach88/wardsync/internal/wal"
)

// DefaultStart is the fake clock start (Unix ms) when a scenario sets none.
const DefaultStart = 1000

// seedCollection holds the entries written by seed steps.
const seedCollection = "seed"

// Harness is the scenario execution engine.
// It drives one manual replica against an in-memory remote.
type Harness struct {
	replica *replica.Replica
	backend *remote.MemoryBackend
	clock   *testutil.FakeClock
	logger  *slog.Logger

	applied  int             // remote mutations already traced
	enqueued map[string]bool // WAL ids returned by enqueue steps
	seeded   int
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh database in a temporary directory, so
// scenarios are isolated from each other.
//
// Execution flow:
// 1. Open a manual replica with a fake clock and sequential ids
// 2. Execute steps, tracing each one and the remote effects it caused
// 3. Check expect clauses as steps run
// 4. Evaluate assertions against the trace and final state
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "wardsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	start := scenario.Start
	if start == 0 {
		start = DefaultStart
	}
	clock := testutil.NewFakeClock(time.UnixMilli(start))
	backend := remote.NewMemoryBackend(remote.WithMemoryClock(clock))

	r, err := replica.Open(ctx, replica.Config{
		Path:        filepath.Join(dir, "scenario.db"),
		Collections: collections(scenario),
		MaxRetries:  scenario.MaxRetries,
		Backoff:     schedule.Backoff{Base: time.Second, Max: time.Minute},
		Manual:      true,
		Clock:       clock,
		IDs:         testutil.NewSequentialIDs("m"),
	}, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to open replica: %w", err)
	}
	defer r.Close()

	h := &Harness{
		replica:  r,
		backend:  backend,
		clock:    clock,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		enqueued: make(map[string]bool),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}

	actx := &AssertionContext{Replica: r, Backend: backend, Ctx: ctx}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

// collections converts the scenario's collection map into store
// collections, sorted by name with indexes sorted by name.
func collections(s *Scenario) []store.Collection {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]store.Collection, 0, len(names))
	for _, name := range names {
		idx := s.Collections[name]
		idxNames := make([]string, 0, len(idx))
		for n := range idx {
			idxNames = append(idxNames, n)
		}
		sort.Strings(idxNames)

		c := store.Collection{Name: name}
		for _, n := range idxNames {
			c.Indexes = append(c.Indexes, store.Index{Name: n, Field: idx[n]})
		}
		out = append(out, c)
	}
	return out
}

// executeStep runs one step, traces it, and checks its expect clause. Only
// harness failures are returned; step errors are part of the result.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	res, stepErr := h.perform(ctx, step)

	ev := TraceEvent{
		Type:       EventStep,
		Action:     step.Do,
		Collection: step.Collection,
		EntityID:   step.ID,
		Args:       stepArgs(step),
		Result:     res,
	}
	if stepErr != nil {
		ev.Error = stepErr.Error()
	}
	result.add(ev)

	applied := h.backend.Applied()
	for _, m := range applied[h.applied:] {
		result.add(TraceEvent{
			Type:       EventRemote,
			Action:     string(m.Operation),
			Collection: m.Collection,
			EntityID:   m.EntityID,
			Args:       map[string]any(m.Payload),
		})
	}
	h.applied = len(applied)

	checkExpect(i, step, res, stepErr, result)

	h.logger.Info("step completed",
		"event", "harness_step",
		"step", i,
		"do", step.Do,
		"error", stepErr)
	return nil
}

func checkExpect(i int, step Step, res map[string]any, stepErr error, result *Result) {
	var want ExpectClause
	if step.Expect != nil {
		want = *step.Expect
	}

	switch {
	case want.Error == "" && stepErr != nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Do, stepErr))
		return
	case want.Error != "" && stepErr == nil:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got success", i, step.Do, want.Error))
		return
	case want.Error != "" && !containsFold(stepErr.Error(), want.Error):
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error containing %q, got %q", i, step.Do, want.Error, stepErr.Error()))
		return
	}

	for _, key := range sortedKeys(want.Result) {
		got, ok := res[key]
		if !ok || !valuesEqual(got, want.Result[key]) {
			result.AddError(fmt.Sprintf("steps[%d] %s: result %q = %v, want %v", i, step.Do, key, got, want.Result[key]))
		}
	}
}

// perform carries out one step and returns its result fields.
func (h *Harness) perform(ctx context.Context, step Step) (map[string]any, error) {
	r := h.replica
	switch step.Do {
	case StepCreate:
		doc := ir.Document(step.Doc).Clone()
		if doc == nil {
			doc = ir.Document{}
		}
		if step.ID != "" {
			doc[ir.FieldID] = step.ID
		}
		stored, err := r.Create(ctx, step.Collection, doc)
		return map[string]any(stored), err

	case StepUpdate:
		stored, err := r.Update(ctx, step.Collection, step.ID, ir.Document(step.Doc))
		return map[string]any(stored), err

	case StepDelete:
		return nil, r.Delete(ctx, step.Collection, step.ID)

	case StepRestore:
		stored, err := r.Restore(ctx, step.Collection, step.ID)
		return map[string]any(stored), err

	case StepEnqueue:
		id, err := r.WAL().Add(ctx, ir.MutationEntry{
			Collection:     step.Collection,
			EntityID:       step.ID,
			Operation:      ir.Operation(step.Op),
			Payload:        ir.Document(step.Doc),
			IdempotencyKey: step.Key,
		})
		if err != nil {
			return nil, err
		}
		duplicate := h.enqueued[id]
		h.enqueued[id] = true
		return map[string]any{"duplicate": duplicate}, nil

	case StepDrain:
		res, err := r.Drain(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"synced":  res.Synced,
			"retried": res.Retried,
			"failed":  res.Failed,
			"late":    res.Late,
			"waiting": res.Waiting,
		}, nil

	case StepOffline:
		h.backend.SetOffline(true)
		return nil, nil

	case StepOnline:
		h.backend.SetOffline(false)
		return nil, nil

	case StepAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil {
			return nil, err
		}
		h.clock.Advance(d)
		return map[string]any{"now": h.clock.NowMillis()}, nil

	case StepRemoteChange:
		decision, err := r.ApplyRemote(ctx, ir.RemoteChangeEvent{
			Collection:      step.Collection,
			DocID:           step.ID,
			Data:            ir.Document(step.Doc),
			ChangeType:      ir.ChangeType(step.Change),
			SourceTimestamp: step.SourceTS,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"decision": string(decision)}, nil

	case StepSeed:
		n, err := h.seed(ctx, step.Counts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entries": n}, nil

	case StepEnforceMaxSize:
		n, err := r.WAL().EnforceMaxSize(ctx, step.Limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"removed": n}, nil

	case StepCleanup:
		res, err := r.Cleanup(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"cleared": res.Cleared, "enforced": res.Enforced}, nil
	}
	return nil, fmt.Errorf("unknown step %q", step.Do)
}

// seed writes entries in the requested states, synced first, then failed,
// then pending. Seeded failures are terminal.
func (h *Harness) seed(ctx context.Context, counts map[string]int) (int, error) {
	log := h.replica.WAL()
	total := 0
	for _, status := range []ir.Status{ir.StatusSynced, ir.StatusFailed, ir.StatusPending} {
		for range counts[string(status)] {
			h.seeded++
			id, err := log.Add(ctx, ir.MutationEntry{
				Collection: seedCollection,
				EntityID:   fmt.Sprintf("s-%04d", h.seeded),
				Operation:  ir.OpUpdate,
				Payload:    ir.Document{"n": h.seeded},
			})
			if err != nil {
				return total, err
			}
			if err := moveTo(ctx, log, id, status); err != nil {
				return total, err
			}
			total++
		}
	}
	return total, nil
}

func moveTo(ctx context.Context, log *wal.WAL, id string, status ir.Status) error {
	if status == ir.StatusPending {
		return nil
	}
	if err := log.UpdateStatus(ctx, id, ir.StatusSyncing, ""); err != nil {
		return err
	}
	if status == ir.StatusSynced {
		return log.UpdateStatus(ctx, id, ir.StatusSynced, "")
	}
	return log.FailPermanent(ctx, id, "seeded")
}

// stepArgs returns the inputs of a step for the trace.
func stepArgs(step Step) map[string]any {
	args := map[string]any{}
	if len(step.Doc) > 0 {
		args["doc"] = step.Doc
	}
	switch step.Do {
	case StepEnqueue:
		args["op"] = step.Op
		if step.Key != "" {
			args["key"] = step.Key
		}
	case StepAdvance:
		args["by"] = step.By
	case StepRemoteChange:
		args["change"] = step.Change
		args["source_ts"] = step.SourceTS
	case StepSeed:
		for k, v := range step.Counts {
			args[k] = v
		}
	case StepEnforceMaxSize:
		args["limit"] = step.Limit
	}
	if len(args) == 0 {
		return nil
	}
	return args
}
