package queryir

// Predicate is a condition over the indexed value of a record.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Equals: value = v
//   - Range: min <= value <= max, either bound optional or exclusive
//   - In: value is one of a set
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Query is a lookup through one secondary index of a collection.
//
// A nil Where matches every record that has a value for the index. Records
// whose indexed field is absent, null, or not a scalar are never returned.
type Query struct {
	Collection string
	Index      string
	Where      Predicate

	// Limit caps the number of results; 0 means unlimited.
	Limit int

	// Descending reverses the (value, key) order.
	Descending bool
}

// Equals matches records whose indexed value equals Value.
//
// Example:
//
//	Equals{Value: "pending"}
//
// Translates to SQL:
//
//	i.value = ?
type Equals struct {
	Value any
}

func (Equals) predicateNode() {}

// Range matches records whose indexed value lies between Min and Max.
//
// A nil bound is open. Bounds are inclusive unless the matching Exclusive
// flag is set.
//
// Example (entries created before a cutoff):
//
//	Range{Max: int64(1700000000000), MaxExclusive: true}
//
// Translates to SQL:
//
//	i.value < ?
type Range struct {
	Min          any
	Max          any
	MinExclusive bool
	MaxExclusive bool
}

func (Range) predicateNode() {}

// In matches records whose indexed value is any of Values.
//
// Example:
//
//	In{Values: []any{"pending", "failed"}}
//
// Translates to SQL:
//
//	i.value IN (?, ?)
type In struct {
	Values []any
}

func (In) predicateNode() {}
