package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	perm := Permanent(CodePermissionDenied, errors.New("rules"))

	tests := []struct {
		name  string
		err   error
		kind  Kind
		code  Code
		cause error // must stay in the chain of the result
	}{
		{"classified passes through", fmt.Errorf("wrapped: %w", perm), KindPermanent, CodePermissionDenied, perm},
		{"deadline", context.DeadlineExceeded, KindTransient, CodeTimeout, context.DeadlineExceeded},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, KindTransient, CodeTimeout, nil},
		{"net refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindTransient, CodeUnavailable, nil},
		{"unknown", errors.New("mystery"), KindTransient, CodeUnavailable, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
			cause := tt.cause
			if cause == nil {
				cause = tt.err
			}
			assert.ErrorIs(t, got, cause, "classification keeps the cause")
		})
	}

	assert.Nil(t, Classify(nil))
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(CodeInvalid, nil)))
	assert.False(t, IsTransient(Permanent(CodeInvalid, nil)))
	assert.True(t, IsTransient(Transient(CodeTimeout, nil)))
	assert.True(t, IsTransient(errors.New("unknown")), "unknown errors are retried")
	assert.False(t, IsPermanent(errors.New("unknown")))
	assert.False(t, IsTransient(nil))
}

func TestCodeKind(t *testing.T) {
	assert.Equal(t, KindPermanent, CodeNotFound.KindOf())
	assert.Equal(t, KindPermanent, CodePermissionDenied.KindOf())
	assert.Equal(t, KindTransient, CodeTimeout.KindOf())
	assert.Equal(t, KindTransient, Code("weird").KindOf())
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "permanent invalid: bad field", Permanent(CodeInvalid, errors.New("bad field")).Error())
	assert.Equal(t, "transient timeout", Transient(CodeTimeout, nil).Error())
}
