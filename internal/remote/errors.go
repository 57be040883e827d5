package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind separates errors worth retrying from errors that never succeed.
type Kind string

const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

// Code identifies the failure.
type Code string

const (
	CodeTimeout          Code = "timeout"
	CodeUnavailable      Code = "unavailable"
	CodePermissionDenied Code = "permission_denied"
	CodeInvalid          Code = "invalid"
	CodeNotFound         Code = "not_found"
)

// KindOf returns the kind a code belongs to. Unknown codes are transient.
func (c Code) KindOf() Kind {
	switch c {
	case CodePermissionDenied, CodeInvalid, CodeNotFound:
		return KindPermanent
	}
	return KindTransient
}

// ErrOffline is the cause reported while a MemoryBackend is switched offline.
var ErrOffline = errors.New("remote offline")

// Error is a classified remote failure.
type Error struct {
	Kind Kind
	Code Code
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient creates a retryable error.
func Transient(code Code, err error) *Error {
	return &Error{Kind: KindTransient, Code: code, Err: err}
}

// Permanent creates an error that is never retried.
func Permanent(code Code, err error) *Error {
	return &Error{Kind: KindPermanent, Code: code, Err: err}
}

// IsTransient reports whether err classifies as transient.
func IsTransient(err error) bool {
	c := Classify(err)
	return c != nil && c.Kind == KindTransient
}

// IsPermanent reports whether err classifies as permanent.
// Uses errors.As to handle wrapped errors.
func IsPermanent(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindPermanent
}

// Classify maps any error onto the taxonomy. A classified error anywhere in
// the chain is returned itself, without the wrapping around it;
// deadlines and network timeouts become transient timeouts; other network
// errors and everything unknown become transient unavailable, so an
// unexpected failure is retried within the retry budget instead of being
// dropped. Classify(nil) is nil.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(CodeTimeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Transient(CodeTimeout, err)
	}
	return Transient(CodeUnavailable, err)
}
