// Package keyerr defines KeystoneDB's error taxonomy. Every error the
// engine surfaces across the public API boundary carries one of the
// Kind values below, wrapped with github.com/cockroachdb/errors so
// stack traces and safe/unsafe detail separation survive across
// package boundaries.
package keyerr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error at the KeystoneDB API boundary.
type Kind int

const (
	// Internal is the zero value; it should never be returned
	// directly and indicates a bug if seen.
	Internal Kind = iota
	NotFound
	InvalidArgument
	InvalidExpression
	ConditionalCheckFailed
	AlreadyExists
	TransactionCanceled
	Io
	Corruption
	ChecksumMismatch
	WalFull
	ResourceExhausted
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidExpression:
		return "InvalidExpression"
	case ConditionalCheckFailed:
		return "ConditionalCheckFailed"
	case AlreadyExists:
		return "AlreadyExists"
	case TransactionCanceled:
		return "TransactionCanceled"
	case Io:
		return "Io"
	case Corruption:
		return "Corruption"
	case ChecksumMismatch:
		return "ChecksumMismatch"
	case WalFull:
		return "WalFull"
	case ResourceExhausted:
		return "ResourceExhausted"
	default:
		return "Internal"
	}
}

// Error is the concrete error type returned at the KeystoneDB API
// boundary. Use errors.As to recover the Kind and Reason.
type Error struct {
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target has the same Kind, allowing
// errors.Is(err, keyerr.New(keyerr.NotFound, "")) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error of the given kind, capturing a stack trace
// via cockroachdb/errors.
func New(kind Kind, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Kind: kind, Reason: fmt.Sprintf(format, args...)})
}

// Wrap attaches kind/reason context to an existing error without
// discarding its cause, mirroring pebble's own base.CorruptionErrorf
// wrapping discipline.
func Wrap(cause error, kind Kind, format string, args ...interface{}) error {
	if cause == nil {
		return nil
	}
	return errors.WithStack(&Error{Kind: kind, Reason: fmt.Sprintf(format, args...), cause: cause})
}

// KindOf extracts the Kind from err, returning Internal if err does
// not carry a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Sentinel constructors used pervasively by callers that just need a
// typed error without formatting overhead at call sites.
func NotFoundf(format string, args ...interface{}) error {
	return New(NotFound, format, args...)
}

func InvalidArgumentf(format string, args ...interface{}) error {
	return New(InvalidArgument, format, args...)
}

func InvalidExpressionf(format string, args ...interface{}) error {
	return New(InvalidExpression, format, args...)
}

func ConditionalCheckFailedf(format string, args ...interface{}) error {
	return New(ConditionalCheckFailed, format, args...)
}

func AlreadyExistsf(format string, args ...interface{}) error {
	return New(AlreadyExists, format, args...)
}

func TransactionCanceledf(format string, args ...interface{}) error {
	return New(TransactionCanceled, format, args...)
}

func IoErrorf(format string, args ...interface{}) error {
	return New(Io, format, args...)
}

func Corruptionf(format string, args ...interface{}) error {
	return New(Corruption, format, args...)
}

func ChecksumMismatchf(format string, args ...interface{}) error {
	return New(ChecksumMismatch, format, args...)
}

func WalFullf(format string, args ...interface{}) error {
	return New(WalFull, format, args...)
}

func ResourceExhaustedf(format string, args ...interface{}) error {
	return New(ResourceExhausted, format, args...)
}

func Internalf(format string, args ...interface{}) error {
	return New(Internal, format, args...)
}
