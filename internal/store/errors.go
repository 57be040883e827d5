package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// CodeNotInitialized indicates an operation before Init succeeded.
	CodeNotInitialized ErrorCode = "NOT_INITIALIZED"

	// CodeBlocked indicates another writer holds the database lock.
	CodeBlocked ErrorCode = "BLOCKED"

	// CodeIO indicates a storage failure.
	CodeIO ErrorCode = "IO_ERROR"

	// CodeNotFound indicates a missing record.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnknownCollection indicates a collection or index that was not declared.
	CodeUnknownCollection ErrorCode = "UNKNOWN_COLLECTION"

	// CodeInvalid indicates a malformed argument such as an empty key.
	CodeInvalid ErrorCode = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is. Matching compares codes only.
var (
	ErrNotInitialized    = &Error{Code: CodeNotInitialized}
	ErrBlocked           = &Error{Code: CodeBlocked}
	ErrIO                = &Error{Code: CodeIO}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrUnknownCollection = &Error{Code: CodeUnknownCollection}
	ErrInvalid           = &Error{Code: CodeInvalid}
)

// Error is returned by every store operation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Op is the operation that failed, e.g. "put".
	Op string

	Collection string
	Key        string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	switch {
	case e.Collection != "" && e.Key != "":
		msg += fmt.Sprintf(" (%s/%s)", e.Collection, e.Key)
	case e.Collection != "":
		msg += fmt.Sprintf(" (%s)", e.Collection)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, store.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsNotFound returns true if err is a missing-record error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsBlocked returns true if err reports lock contention.
func IsBlocked(err error) bool {
	return hasCode(err, CodeBlocked)
}

// IsNotInitialized returns true if err was caused by using the store before
// Init succeeded.
func IsNotInitialized(err error) bool {
	return hasCode(err, CodeNotInitialized)
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// wrapErr classifies a database error. Lock contention maps to CodeBlocked;
// everything else is CodeIO. An error that is already an *Error keeps its
// code.
func wrapErr(op, collection, key string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	code := CodeIO
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) && (sqlErr.Code == sqlite3.ErrBusy || sqlErr.Code == sqlite3.ErrLocked) {
		code = CodeBlocked
	}
	return &Error{Code: code, Op: op, Collection: collection, Key: key, Err: err}
}
