// Package fault classifies failures raised while driving an attestation
// through the FDC protocol. Every component boundary returns *Error so the
// orchestrator can decide between retrying, skipping and aborting a tick.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind represents a category of pipeline failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransient covers RPC/HTTP timeouts and non-success responses.
	KindTransient
	// KindInsufficientFunds means the validator wallet cannot pay a fee or gas.
	KindInsufficientFunds
	// KindDecode means a payload did not match its ABI schema.
	KindDecode
	// KindAuthorizationDenied means the target contract rejected the caller or the request state.
	KindAuthorizationDenied
	// KindReverted covers any other contract revert.
	KindReverted
	// KindTimedOut means a poll loop exhausted its deadline or attempt budget.
	KindTimedOut
	// KindInvalid covers bad input or configuration.
	KindInvalid
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindDecode:
		return "decode"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindReverted:
		return "reverted"
	case KindTimedOut:
		return "timed_out"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) Kind {
	for k := KindTransient; k <= KindInvalid; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindUnknown
}

// Retryable reports whether the same step may be attempted again.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.Op != "" {
		prefix = e.Op + ": " + prefix
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, op string, cause error, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithContext attaches diagnostic key/value data.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain. A bare
// context deadline is reported as KindTimedOut.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimedOut
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err may be retried.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// Ensure wraps err as kind unless it is already classified.
func Ensure(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimedOut, op, err, "deadline exceeded")
	}
	return Wrap(kind, op, err, "operation failed")
}
