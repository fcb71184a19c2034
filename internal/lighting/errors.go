// Package lighting holds types shared across the controller's core
// packages, starting with its error taxonomy.
package lighting

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch on it without string
// matching. The taxonomy is closed: these are the only kinds produced by
// the core.
type Kind int

const (
	// InvalidInput marks malformed caller input: bad universe layout,
	// out-of-range percent, unknown control mode, and the like. Never
	// mutates state.
	InvalidInput Kind = iota
	// NotFound marks a missing scene id or group key.
	NotFound
	// Conflict marks an operation that is individually well-formed but
	// incompatible with current state: panel-only op while external,
	// live editor already active, recording in progress, port busy.
	Conflict
	// PersistenceFailure marks a failed read/write of a scene, settings,
	// or fixture plan file.
	PersistenceFailure
	// ProtocolFailure marks a socket bind/send error.
	ProtocolFailure
	// Invariant marks a fatal validation failure on save that must abort
	// without degrading existing state.
	Invariant
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid_input"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case PersistenceFailure:
		return "persistence_failure"
	case ProtocolFailure:
		return "protocol_failure"
	case Invariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every public operation in the
// core. It carries a Kind so callers can branch (errors.Is against the
// sentinels below) without parsing messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel for e's Kind, so callers can
// write errors.Is(err, lighting.ErrNotFound).
func (e *Error) Is(target error) bool {
	sentinel, ok := target.(*Error)
	if !ok {
		return false
	}
	return sentinel.Kind == e.Kind && sentinel.Op == ""
}

// Sentinels for errors.Is comparisons, e.g. errors.Is(err, lighting.ErrConflict).
var (
	ErrInvalidInput       = &Error{Kind: InvalidInput}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrConflict           = &Error{Kind: Conflict}
	ErrPersistenceFailure = &Error{Kind: PersistenceFailure}
	ErrProtocolFailure    = &Error{Kind: ProtocolFailure}
	ErrInvariant          = &Error{Kind: Invariant}
)

// New constructs an *Error for operation op with the given kind, wrapping
// err (which may be nil).
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Newf is New with a formatted message wrapped as the underlying error.
func Newf(op string, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Op: op, Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, and
// reports ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
