package keystone

import (
	"github.com/cockroachdb/errors"

	"github.com/keystonedb/keystone/internal/keyerr"
)

// ErrorKind classifies an error returned by any DB method. The zero
// value, ErrInternal, should never be returned directly.
type ErrorKind = keyerr.Kind

const (
	ErrInternal               = keyerr.Internal
	ErrNotFound               = keyerr.NotFound
	ErrInvalidArgument        = keyerr.InvalidArgument
	ErrInvalidExpression      = keyerr.InvalidExpression
	ErrConditionalCheckFailed = keyerr.ConditionalCheckFailed
	ErrAlreadyExists          = keyerr.AlreadyExists
	ErrTransactionCanceled    = keyerr.TransactionCanceled
	ErrIo                     = keyerr.Io
	ErrCorruption             = keyerr.Corruption
	ErrChecksumMismatch       = keyerr.ChecksumMismatch
	ErrWalFull                = keyerr.WalFull
	ErrResourceExhausted      = keyerr.ResourceExhausted
)

// Error is the concrete error type every DB method returns on failure.
// Use `var e *keystone.Error; errors.As(err, &e)` or the KindOf helper
// below to recover the ErrorKind.
type Error = keyerr.Error

// KindOf extracts the ErrorKind carried by err, or ErrInternal if err
// was not produced by this package.
func KindOf(err error) ErrorKind {
	return keyerr.KindOf(err)
}

// IsNotFound reports whether err indicates a missing item or key.
func IsNotFound(err error) bool {
	return keyerr.KindOf(err) == keyerr.NotFound
}

// IsConditionalCheckFailed reports whether err indicates a condition
// expression evaluated to false during a conditional write.
func IsConditionalCheckFailed(err error) bool {
	return keyerr.KindOf(err) == keyerr.ConditionalCheckFailed
}

// IsTransactionCanceled reports whether err indicates TransactWrite
// aborted because one of its Condition/ConditionCheck ops failed.
func IsTransactionCanceled(err error) bool {
	return keyerr.KindOf(err) == keyerr.TransactionCanceled
}

// As is a thin re-export of cockroachdb/errors.As, letting callers
// unwrap without importing cockroachdb/errors themselves.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
