// Package ipkgerr implements the single error sum type used across the
// ipkg core, per the "exceptions as control flow" redesign: every
// fallible core operation returns (T, error) with errors carrying one
// of a fixed set of Kinds, and only the CLI layer translates a Kind
// into a process exit code.
package ipkgerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error taxonomy.
type Kind int

const (
	// InvalidInput: malformed requirement, platform, spec, version, or recipe.
	InvalidInput Kind = iota
	// NotFound: missing recipe, missing artifact, unknown requirement,
	// uninstalled package on uninstall.
	NotFound
	// ConflictingConstraint: requirement merge produced an empty version
	// range, or contradictory == values.
	ConflictingConstraint
	// ChecksumMismatch: a fetched file's hash does not match the
	// expected value.
	ChecksumMismatch
	// ArchiveLayoutInvalid: archive has zero or multiple top-level
	// entries, or an unrecognized compression.
	ArchiveLayoutInvalid
	// ExecutionFailed: subprocess not found, failed to spawn, or exited
	// non-zero.
	ExecutionFailed
	// Cycle: the solver cannot produce a topological order.
	Cycle
	// AlreadyInstalled: informational; callers should treat this as a
	// warning, not a failure.
	AlreadyInstalled
	// MetaCorrupt: on-disk JSON meta cannot be parsed.
	MetaCorrupt
	// IoError: anything else filesystem-related.
	IoError
)

// String returns a lowercase, stable name for the kind (used in
// Error.Error() and in tests).
func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case ConflictingConstraint:
		return "conflicting_constraint"
	case ChecksumMismatch:
		return "checksum_mismatch"
	case ArchiveLayoutInvalid:
		return "archive_layout_invalid"
	case ExecutionFailed:
		return "execution_failed"
	case Cycle:
		return "cycle"
	case AlreadyInstalled:
		return "already_installed"
	case MetaCorrupt:
		return "meta_corrupt"
	case IoError:
		return "io_error"
	default:
		return "unknown"
	}
}

// Error is the one error type used throughout the core. It carries a
// Kind, a human-readable message, and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Operands holds offending values for errors that report more than
	// one (e.g. ConflictingConstraint reports both requirement operands).
	Operands []string
}

func (e *Error) Error() string {
	msg := e.Message
	if len(e.Operands) > 0 {
		msg = fmt.Sprintf("%s (%v)", msg, e.Operands)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

// Unwrap allows errors.Is/errors.As to see through to Cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New constructs an *Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error with the given kind, message, and cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithOperands attaches offending operand strings (e.g. the two
// requirements that conflicted) and returns the same *Error for
// chaining.
func (e *Error) WithOperands(operands ...string) *Error {
	e.Operands = operands
	return e
}

// Is reports whether err (or any error in its chain) is an *Error of
// the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and
// false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
