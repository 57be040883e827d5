package httpapi

import (
	"net/http"

	"github.com/roach88/wardsync/internal/remote"
)

// IdempotencyHeader carries the mutation's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

// errorBody is the JSON body of every failed request.
type errorBody struct {
	Kind  remote.Kind `json:"kind"`
	Code  remote.Code `json:"code"`
	Error string      `json:"error"`
}

// streamMessage is one websocket frame of a subscription.
type streamMessage struct {
	Type  string        `json:"type"` // "batch" or "error"
	Batch *remote.Batch `json:"batch,omitempty"`
	Code  remote.Code   `json:"code,omitempty"`
	Error string        `json:"error,omitempty"`
}

func statusFor(code remote.Code) int {
	switch code {
	case remote.CodePermissionDenied:
		return http.StatusForbidden
	case remote.CodeNotFound:
		return http.StatusNotFound
	case remote.CodeInvalid:
		return http.StatusUnprocessableEntity
	case remote.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusServiceUnavailable
	}
}

// codeFor maps a response status to an error code when the body carries
// none.
func codeFor(status int) remote.Code {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return remote.CodePermissionDenied
	case status == http.StatusNotFound:
		return remote.CodeNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return remote.CodeTimeout
	case status == http.StatusTooManyRequests || status >= 500:
		return remote.CodeUnavailable
	default:
		return remote.CodeInvalid
	}
}
