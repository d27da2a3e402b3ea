package pager

import (
	"errors"
	"fmt"
)

// ErrCode is a stable integer status code, per spec.md §7. NOTFOUND is a
// data-dependent status, not an engine fault: it never drives a
// transaction into ERROR state the way the others do.
type ErrCode int

const (
	CodeOK ErrCode = iota
	CodeError
	CodeBusy
	CodeLocked
	CodeNoMem
	CodeReadOnly
	CodeCorrupt
	CodeNotFound
	CodeProtocol
)

func (c ErrCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeError:
		return "ERROR"
	case CodeBusy:
		return "BUSY"
	case CodeLocked:
		return "LOCKED"
	case CodeNoMem:
		return "NOMEM"
	case CodeReadOnly:
		return "READONLY"
	case CodeCorrupt:
		return "CORRUPT"
	case CodeNotFound:
		return "NOTFOUND"
	case CodeProtocol:
		return "PROTOCOL"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an ErrCode with a human-readable message and an optional
// underlying cause, so errors.Is/errors.As work against the sentinels
// below and against the code itself.
type Error struct {
	Code    ErrCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, pager.ErrBusy) (etc., via the sentinel errors
// below) and errors.Is(err, someOtherPagerError) both work: two *Error
// values match if their codes match.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError constructs an *Error, optionally wrapping a cause.
func NewError(code ErrCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel errors for errors.Is comparison against well-known
// conditions. Each wraps the corresponding ErrCode so callers can match
// either the sentinel or the code.
var (
	ErrBusy       = &Error{Code: CodeBusy, Message: "resource busy"}
	ErrLocked     = &Error{Code: CodeLocked, Message: "locked by same connection"}
	ErrNoMem      = &Error{Code: CodeNoMem, Message: "allocation failed"}
	ErrReadOnly   = &Error{Code: CodeReadOnly, Message: "write on read-only connection"}
	ErrCorrupt    = &Error{Code: CodeCorrupt, Message: "on-disk invariant violated"}
	ErrNotFound = &Error{Code: CodeNotFound, Message: "key or column family not found"}
	ErrProtocol = &Error{Code: CodeProtocol, Message: "WAL protocol disagreement"}
	ErrExists   = &Error{Code: CodeError, Message: "already exists"}

	// ErrTooManyColumnFamilies reports the MaxColumnFamilies cap being hit.
	ErrTooManyColumnFamilies = &Error{Code: CodeError, Message: "too many column families"}
)

// Code extracts the ErrCode carried by err, walking Unwrap chains. Plain
// errors (not produced via NewError or the sentinels above) report
// CodeError, matching spec.md §7's generic fallback.
func Code(err error) ErrCode {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeError
}
