// Package httpapi carries the remote contract over HTTP and websockets.
//
// Server exposes a remote.MemoryBackend; Client implements remote.Adapter
// against it:
//
//	POST /v1/mutations        apply one mutation (Idempotency-Key header)
//	GET  /v1/health           liveness probe
//	GET  /v1/subscribe        websocket stream of snapshot batches
//	GET  /v1/docs/{collection} dump a collection (diagnostics)
//	PUT  /v1/admin/offline    toggle simulated outage
//
// Failures travel as a JSON body {"kind","code","error"} with the status
// codes 403 permission_denied, 404 not_found, 422 invalid, 503 unavailable
// and 504 timeout.
package httpapi
