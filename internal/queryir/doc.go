// Package queryir describes index lookups against the local store.
//
// A Query names a collection, one of its declared secondary indexes, and an
// optional predicate over the indexed value:
//
//	Query{Collection: "patients", Index: "unit", Where: Equals{Value: "icu"}}
//	Query{Collection: "_wal", Index: "timestamp", Where: Range{Max: cutoff, MaxExclusive: true}}
//	Query{Collection: "_wal", Index: "status", Where: In{Values: []any{"pending", "failed"}}}
//
// Predicate is a sealed interface using the marker method pattern, so backend
// compilers (see querysql) can switch over it exhaustively.
//
// Indexed values are scalars only. IndexValue defines the normalisation both
// the writer (when maintaining index rows) and the compiler (when binding
// parameters) apply, so a value found in a document and the same value used in
// a predicate always compare equal.
//
// Results are always ordered by (indexed value, record key), ascending unless
// Descending is set. There is no unordered lookup.
package queryir
