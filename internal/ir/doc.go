// Package ir provides the canonical data model shared by every wardsync layer.
//
// This package contains the WAL record (MutationEntry), the local document
// shape (Document), remote change events, and the canonical JSON encoding
// used for content-addressed idempotency keys. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Ordering of WAL entries is (Timestamp, Seq), never map or insertion order
//   - Timestamps are Unix milliseconds (int64)
//   - Deletion is a tombstone (FieldDeletedAt), never a physical delete
//   - WAL record JSON tags use snake_case; document fields belong to the
//     application and keep its naming (id, updatedAt, deletedAt)
package ir
