package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialIDs generates predictable ids: "<prefix>-0001", "<prefix>-0002", ...
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same generator produces byte-identical traces.
//
// Thread-safety: SequentialIDs is safe for concurrent use (atomic counter).
type SequentialIDs struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialIDs creates a generator. An empty prefix defaults to "id".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}

// Reset restarts the sequence at 1.
//
// Used for test reuse. After Reset(), the next Generate() returns "<prefix>-0001".
func (g *SequentialIDs) Reset() {
	g.n.Store(0)
}
