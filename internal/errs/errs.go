// Package errs defines semantic error kinds shared across the
// orchestrator's stages. Callers switch on Kind to decide between local
// recovery and a terminal `error` event, instead of string-matching
// error messages.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the semantic error categories used across the system.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindCancelled
	KindTimeout
	KindUpstreamTransient
	KindUpstreamNonRetryable
	KindBudgetExceeded
	KindParserFailure
	KindStorageError
	KindBinaryContent
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCancelled:
		return "cancelled"
	case KindTimeout:
		return "timeout"
	case KindUpstreamTransient:
		return "upstream_transient"
	case KindUpstreamNonRetryable:
		return "upstream_non_retryable"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindParserFailure:
		return "parser_failure"
	case KindStorageError:
		return "storage_error"
	case KindBinaryContent:
		return "binary_content"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// category without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label. Returns nil if err
// is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the error kind is one the orchestrator should
// retry locally (transient upstream failures and timeouts).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUpstreamTransient, KindTimeout:
		return true
	default:
		return false
	}
}
