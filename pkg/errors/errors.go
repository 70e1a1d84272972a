// Package latticeerr defines the one error taxonomy shared by every layer
// of latticedb, from the storage engine up through the wire protocol.
//
// Lower layers (storage, catalog, query, raft) return *Error values built
// with one of the constructors below. Layer boundaries wrap the error with
// %w rather than inventing a new type, so a caller can still Unwrap down to
// the root cause while the wire layer only ever needs to look at Code.
package latticeerr

import (
	"errors"
	"fmt"
)

// Code is a stable, numeric error classification. Values are part of the
// wire protocol (see pkg/wire) and must never be renumbered once shipped.
type Code int

const (
	CodeInternal Code = iota
	CodeStorageIO
	CodeInvalidKey
	CodeInvalidData
	CodeNotFound
	CodeTransactionConflict
	CodeSchemaMismatch
	CodeUnknownEntity
	CodeUnknownField
	CodeUnknownRelation
	CodeBudgetExceeded
	CodeNotLeader
	CodeNoLeader
	CodeTimeout
	CodeConstraintViolation
	CodePermissionDenied
	CodeInvalidRequest
)

var codeNames = map[Code]string{
	CodeInternal:            "INTERNAL",
	CodeStorageIO:           "STORAGE_IO",
	CodeInvalidKey:          "INVALID_KEY",
	CodeInvalidData:         "INVALID_DATA",
	CodeNotFound:            "NOT_FOUND",
	CodeTransactionConflict: "CONFLICT",
	CodeSchemaMismatch:      "SCHEMA_MISMATCH",
	CodeUnknownEntity:       "UNKNOWN_ENTITY",
	CodeUnknownField:        "UNKNOWN_FIELD",
	CodeUnknownRelation:     "UNKNOWN_RELATION",
	CodeBudgetExceeded:      "BUDGET_EXCEEDED",
	CodeNotLeader:           "NOT_LEADER",
	CodeNoLeader:            "NO_LEADER",
	CodeTimeout:             "TIMEOUT",
	CodeConstraintViolation: "CONSTRAINT_VIOLATION",
	CodePermissionDenied:    "PERMISSION_DENIED",
	CodeInvalidRequest:      "INVALID_REQUEST",
}

func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "UNKNOWN"
}

// Retryable reports whether a client may retry the operation that produced
// an error carrying this code, per the base spec's propagation rules.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransactionConflict, CodeTimeout, CodeNoLeader:
		return true
	default:
		return false
	}
}

// Error is the concrete error type every layer returns. It never embeds a
// lower-level error type (e.g. a bbolt or raft error) directly on the wire;
// Unwrap lets callers still inspect the chain in-process.
type Error struct {
	Code    Code
	Message string
	// LeaderID and LeaderAddr are populated only for CodeNotLeader.
	LeaderID   string
	LeaderAddr string
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a lower-level cause, preserving it for
// Unwrap while presenting only Code on the wire.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// NotLeader builds the redirect error followers return to writers.
func NotLeader(leaderID, leaderAddr string) *Error {
	return &Error{
		Code:       CodeNotLeader,
		Message:    "this node is not the raft leader",
		LeaderID:   leaderID,
		LeaderAddr: leaderAddr,
	}
}

// As reports whether err (or anything it wraps) is a *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
