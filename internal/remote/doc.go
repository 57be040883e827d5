// Package remote defines the contract between the sync machinery and the
// remote backend, the transient/permanent error taxonomy, and an in-process
// MemoryBackend used by tests, the dev server and replay verification.
//
// The backend must be idempotent with respect to Mutation.IdempotencyKey: a
// mutation delivered twice has exactly one effect. Both MemoryBackend and
// the httpapi server honour that.
package remote
