package interp

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory indicates an allocation would exceed the configured hard
// heap ceiling. It is the only collector error surfaced to language code.
var ErrOutOfMemory = errors.New("out of memory")

// ErrStaleHandle indicates an operation addressed a handle that is not in
// the object table. This is a host-integration bug, not a language error.
var ErrStaleHandle = errors.New("stale handle")

// RuntimeError is a language-level evaluation error (type mismatch,
// unbound variable, bad index, and so on). The evaluator maps collector
// OutOfMemory into a RuntimeError on its normal reporting path.
type RuntimeError struct {
	Msg string
	Err error // underlying cause, if any
}

func (e *RuntimeError) Error() string {
	return e.Msg
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func runtimeErrorf(format string, args ...any) *RuntimeError {
	return &RuntimeError{Msg: fmt.Sprintf(format, args...)}
}
