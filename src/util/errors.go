// errors.go defines the typed, source-position-carrying error surface the core raises. Every
// package under src/ returns one of these instead of a bare fmt.Errorf, so a caller can recover
// the error kind with errors.Cause and switch on it.

package util

import (
	"fmt"

	"github.com/pkg/errors"
)

// ----------------------------
// ----- Type definitions -----
// ----------------------------

// ErrKind classifies a core error the way spec §7 does.
type ErrKind int

const (
	ErrSyntax   ErrKind = iota // Malformed assembly operand, missing delimiter, unknown opcode.
	ErrType                    // Non-native index, incompatible cast, operator undefined for signature.
	ErrResource                // A configured budget (stack, args, stackframe-pointer cache, registers) was exceeded.
	ErrSemantic                // Readonly/byref/overlap/size rule violated.
	ErrInternal                // Invariant violation: indicates a compiler bug, not a user error.
)

// String names an ErrKind for diagnostics.
func (k ErrKind) String() string {
	switch k {
	case ErrSyntax:
		return "syntax"
	case ErrType:
		return "type"
	case ErrResource:
		return "resource"
	case ErrSemantic:
		return "semantic"
	case ErrInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// CoreError is the error type every core package raises. It carries the Kind from §7 and the
// source position at the time of detection, per the propagation policy: the first error at a
// deterministic position aborts the compilation unit.
type CoreError struct {
	Kind ErrKind
	Line int
	Pos  int
	msg  string
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Line == 0 && e.Pos == 0 {
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
	return fmt.Sprintf("%s error at %d:%d: %s", e.Kind, e.Line, e.Pos, e.msg)
}

// ---------------------
// ----- functions -----
// ---------------------

// NewError returns a CoreError of the given kind positioned at line:pos.
func NewError(kind ErrKind, line, pos int, format string, args ...interface{}) *CoreError {
	return &CoreError{Kind: kind, Line: line, Pos: pos, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a CoreError's context to a lower-level error using github.com/pkg/errors, so
// errors.Cause still reaches the original failure while the position and kind are visible.
func Wrap(err error, kind ErrKind, line, pos int, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, NewError(kind, line, pos, "%s", msg).Error())
}

// IsKind reports whether err is (or wraps) a CoreError of the given kind.
func IsKind(err error, kind ErrKind) bool {
	var ce *CoreError
	for err != nil {
		if c, ok := err.(*CoreError); ok {
			ce = c
			break
		}
		cause := errors.Cause(err)
		if cause == err {
			break
		}
		err = cause
	}
	return ce != nil && ce.Kind == kind
}
