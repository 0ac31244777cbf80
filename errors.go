package zpipe

import (
	"fmt"
	"strings"
)

// Kind categorizes a contract violation reported by the pipe.
type Kind string

const (
	// KindInvalidState means the operation is not legal in the current
	// lifecycle state (writing after completion, reentrant reads, ...).
	KindInvalidState Kind = "invalid_state"
	// KindOutOfRange means a size or count argument was negative or too large.
	KindOutOfRange Kind = "out_of_range"
	// KindOutOfBounds means cursor arithmetic was given an unrelated or stale cursor.
	KindOutOfBounds Kind = "out_of_bounds"
	// KindInconsistentChain means enumeration ran off the segment chain before
	// reaching the declared end cursor.
	KindInconsistentChain Kind = "inconsistent_chain"
	// KindBackpressureDeadlock means the reader re-armed while the writer was
	// blocked on backpressure. It is fatal: the caller broke the protocol.
	KindBackpressureDeadlock Kind = "backpressure_deadlock"
)

// Error is the structured error type returned for every contract violation.
type Error struct {
	Cause  error
	Op     string
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString("zpipe: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrOutOfRange           = &Error{Kind: KindOutOfRange}
	ErrOutOfBounds          = &Error{Kind: KindOutOfBounds}
	ErrInconsistentChain    = &Error{Kind: KindInconsistentChain}
	ErrBackpressureDeadlock = &Error{Kind: KindBackpressureDeadlock}
)

func newError(op string, kind Kind, format string, args ...any) *Error {
	detail := format
	if len(args) > 0 {
		detail = fmt.Sprintf(format, args...)
	}
	return &Error{Op: op, Kind: kind, Detail: detail}
}

func invalidState(op, format string, args ...any) *Error {
	return newError(op, KindInvalidState, format, args...)
}

func outOfRange(op, format string, args ...any) *Error {
	return newError(op, KindOutOfRange, format, args...)
}

func outOfBounds(op string) *Error {
	return newError(op, KindOutOfBounds, "cursor is outside the buffer")
}

func inconsistentChain(op string) *Error {
	return newError(op, KindInconsistentChain, "end cursor not reached before the segment chain ended")
}
