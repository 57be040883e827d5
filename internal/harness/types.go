package harness

// Trace event types.
const (
	EventStep   = "step"
	EventRemote = "remote"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Seq        int64          `json:"seq"`
	Type       string         `json:"type"`   // "step" or "remote"
	Action     string         `json:"action"` // step kind, or the applied operation
	Collection string         `json:"collection,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains every step and remote effect in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) add(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
