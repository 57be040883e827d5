package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wardsync/internal/ir"
)

// Scenario defines a replica test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock start in Unix ms. Defaults to 1000.
	Start int64 `yaml:"start,omitempty"`

	// MaxRetries overrides the WAL retry budget.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// Collections maps collection name to its indexes (index name to field).
	Collections map[string]map[string]string `yaml:"collections"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step kinds.
const (
	StepCreate         = "create"
	StepUpdate         = "update"
	StepDelete         = "delete"
	StepRestore        = "restore"
	StepEnqueue        = "enqueue"
	StepDrain          = "drain"
	StepOffline        = "offline"
	StepOnline         = "online"
	StepAdvance        = "advance"
	StepRemoteChange   = "remote_change"
	StepSeed           = "seed"
	StepEnforceMaxSize = "enforce_max_size"
	StepCleanup        = "cleanup"
)

// Step is one action of a scenario. Which fields apply depends on Do.
type Step struct {
	Do         string         `yaml:"do"`
	Collection string         `yaml:"collection,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Doc        map[string]any `yaml:"doc,omitempty"`

	// Op and Key are used by enqueue.
	Op  string `yaml:"op,omitempty"`
	Key string `yaml:"key,omitempty"`

	// By is the advance duration, e.g. "1s".
	By string `yaml:"by,omitempty"`

	// Change and SourceTS are used by remote_change.
	Change   string `yaml:"change,omitempty"`
	SourceTS int64  `yaml:"source_ts,omitempty"`

	// Counts maps status ("synced", "failed", "pending") to how many
	// entries seed writes.
	Counts map[string]int `yaml:"counts,omitempty"`

	// Limit is the enforce_max_size limit.
	Limit int `yaml:"limit,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies the expected outcome of a step.
type ExpectClause struct {
	// Error, when set, must be a substring of the step's error. A step
	// without it must succeed.
	Error string `yaml:"error,omitempty"`

	// Result is a subset match against the step result.
	Result map[string]any `yaml:"result,omitempty"`
}

// EventMatch selects trace events. Empty fields match anything; Args is a
// subset match.
type EventMatch struct {
	Type       string         `yaml:"type,omitempty"`
	Action     string         `yaml:"action,omitempty"`
	Collection string         `yaml:"collection,omitempty"`
	ID         string         `yaml:"id,omitempty"`
	Args       map[string]any `yaml:"args,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the pattern for trace_contains and trace_count.
	Event *EventMatch `yaml:"event,omitempty"`

	// Events are the ordered patterns for trace_order.
	Events []EventMatch `yaml:"events,omitempty"`

	// Count is the expected number of matches for trace_count.
	Count int `yaml:"count,omitempty"`

	// Collection and ID name the document for local_state and remote_state.
	Collection string `yaml:"collection,omitempty"`
	ID         string `yaml:"id,omitempty"`

	// Deleted, when set, requires the document to be (or not be) a tombstone.
	Deleted *bool `yaml:"deleted,omitempty"`

	// Expect is a subset match on the document, or on the WAL counts for
	// wal_state.
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertLocalState    = "local_state"
	AssertRemoteState   = "remote_state"
	AssertWALState      = "wal_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}

	for i, step := range s.Steps {
		if err := validateStep(s, i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *Scenario, i int, step Step) error {
	needEntity := func() error {
		if step.Collection == "" || step.ID == "" {
			return fmt.Errorf("steps[%d]: %s requires collection and id", i, step.Do)
		}
		if _, ok := s.Collections[step.Collection]; !ok {
			return fmt.Errorf("steps[%d]: unknown collection %q", i, step.Collection)
		}
		return nil
	}

	switch step.Do {
	case StepCreate:
		if step.Collection == "" {
			return fmt.Errorf("steps[%d]: create requires collection", i)
		}
		if _, ok := s.Collections[step.Collection]; !ok {
			return fmt.Errorf("steps[%d]: unknown collection %q", i, step.Collection)
		}
	case StepUpdate, StepDelete, StepRestore:
		return needEntity()
	case StepEnqueue:
		if err := needEntity(); err != nil {
			return err
		}
		if !ir.Operation(step.Op).Valid() {
			return fmt.Errorf("steps[%d]: enqueue requires op create, update or delete, got %q", i, step.Op)
		}
	case StepRemoteChange:
		if err := needEntity(); err != nil {
			return err
		}
		switch ir.ChangeType(step.Change) {
		case ir.ChangeAdded, ir.ChangeModified, ir.ChangeRemoved:
		default:
			return fmt.Errorf("steps[%d]: unknown change %q", i, step.Change)
		}
	case StepAdvance:
		if _, err := time.ParseDuration(step.By); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", i, err)
		}
	case StepSeed:
		if len(step.Counts) == 0 {
			return fmt.Errorf("steps[%d]: seed requires counts", i)
		}
		for status, n := range step.Counts {
			switch ir.Status(status) {
			case ir.StatusPending, ir.StatusSynced, ir.StatusFailed:
			default:
				return fmt.Errorf("steps[%d]: seed cannot create %q entries", i, status)
			}
			if n < 0 {
				return fmt.Errorf("steps[%d]: seed count for %s must be non-negative", i, status)
			}
		}
	case StepEnforceMaxSize:
		if step.Limit < 0 {
			return fmt.Errorf("steps[%d]: limit must be non-negative", i)
		}
	case StepDrain, StepOffline, StepOnline, StepCleanup:
	case "":
		return fmt.Errorf("steps[%d]: do is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown step %q", i, step.Do)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == nil {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) < 2 {
			return fmt.Errorf("assertions[%d]: at least two events are required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == nil {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertLocalState, AssertRemoteState:
		if a.Collection == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: collection and id are required for %s", index, a.Type)
		}
		if len(a.Expect) == 0 && a.Deleted == nil {
			return fmt.Errorf("assertions[%d]: expect or deleted is required for %s", index, a.Type)
		}
	case AssertWALState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for wal_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
