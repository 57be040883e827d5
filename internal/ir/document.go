package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Well-known document fields maintained by the sync machinery.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"
)

// Document is a schemaless JSON object: a local entity, a mutation payload,
// or remote change data.
//
// Numbers decoded from storage or the wire are json.Number; use Int64 to read
// numeric fields regardless of their concrete Go type.
type Document map[string]any

// DecodeDocument parses a JSON object, preserving numbers as json.Number.
func DecodeDocument(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = Document{}
	}
	return doc, nil
}

// Clone returns a deep copy of d. A nil document clones to nil.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(val)).(map[string]any))
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return val
	}
}

// Merge returns a copy of d with every top-level field of patch applied.
// A nil value in patch stores an explicit null rather than removing the key.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		out[k] = cloneValue(v)
	}
	return out
}

// ID returns the document's id field, or "" when absent.
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Int64 reads a numeric field. The second result is false when the field is
// absent, null, or not an integral number.
func (d Document) Int64(field string) (int64, bool) {
	return AsInt64(d[field])
}

// UpdatedAt returns the updatedAt field (Unix ms), or 0.
func (d Document) UpdatedAt() int64 {
	n, _ := d.Int64(FieldUpdatedAt)
	return n
}

// DeletedAt returns the tombstone timestamp and whether one is set.
func (d Document) DeletedAt() (int64, bool) {
	return d.Int64(FieldDeletedAt)
}

// IsDeleted reports whether the document carries a tombstone.
func (d Document) IsDeleted() bool {
	_, ok := d.DeletedAt()
	return ok
}

// AsInt64 converts the numeric representations that appear in documents.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
	}
	return 0, false
}
