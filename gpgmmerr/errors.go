// Package gpgmmerr defines the error taxonomy shared by every gpgmm
// component: a small set of kinds (not Go types) attached to errors
// built with github.com/cockroachdb/errors, so any layer can test
// "was this an OutOfCapacity" without caring which package raised it.
package gpgmmerr

import (
	"github.com/cockroachdb/errors"
)

// Kind classifies a gpgmm error. See spec §7 for the full taxonomy.
type Kind int

const (
	// KindNone marks an error (or non-error) with no attached kind.
	KindNone Kind = iota
	// KindInvalidRequest: size 0, alignment not a power of two, alignment
	// or size exceeding a component limit.
	KindInvalidRequest
	// KindOutOfCapacity: a sub-allocator has no aligned free block of
	// the required size. Callers of TryAllocate observe this as a nil
	// result, never as a returned error; the kind exists so internal
	// plumbing (the façade's fallback logic) can recognize it if it
	// ever does surface.
	KindOutOfCapacity
	// KindOutOfMemory: the driver reports an invalid resource size, or
	// every fallback path is exhausted.
	KindOutOfMemory
	// KindInsufficientBudget: alwaysInBudget is set and no eviction
	// candidate exists.
	KindInsufficientBudget
	// KindDriverError: any driver call failure not covered above.
	KindDriverError
	// KindLogicError: an internal invariant was violated.
	KindLogicError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "InvalidRequest"
	case KindOutOfCapacity:
		return "OutOfCapacity"
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindInsufficientBudget:
		return "InsufficientBudget"
	case KindDriverError:
		return "DriverError"
	case KindLogicError:
		return "LogicError"
	default:
		return "None"
	}
}

// kindedError attaches a Kind to a cockroachdb/errors chain so KindOf
// can recover it across wrapping layers without string-matching.
type kindedError struct {
	kind Kind
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Cause() error  { return e.err }
func (e *kindedError) Unwrap() error { return e.err }

// New builds a new error of the given kind with a formatted message.
// A KindLogicError panics immediately in builds tagged debug_gpgmm,
// mirroring the teacher's DebugValidate/DebugCheckPow2 build-tag split.
func New(kind Kind, format string, args ...any) error {
	ke := &kindedError{kind: kind, err: errors.Newf(format, args...)}
	if kind == KindLogicError {
		debugPanicOnLogicError(ke)
	}
	return ke
}

// Wrap attaches kind to an existing error, preserving its chain for
// errors.Is/errors.As and the cockroachdb stack trace.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	ke := &kindedError{kind: kind, err: errors.Wrapf(err, format, args...)}
	if kind == KindLogicError {
		debugPanicOnLogicError(ke)
	}
	return ke
}

// KindOf recovers the Kind attached to err by New/Wrap, walking the
// error chain. Returns KindNone if no kindedError is found.
func KindOf(err error) Kind {
	var ke *kindedError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindNone
}
