package emu

import (
	"errors"
	"fmt"
)

// ErrUndefinedName reports a read of a parameter or local that was
// never bound. Wrapped errors carry the name.
var ErrUndefinedName = errors.New("undefined name")

// ArityMismatch reports a value whose arity does not fit its context:
// a tuple unpacked across the wrong number of targets, a call with the
// wrong number of arguments, or a tuple where a scalar is required.
type ArityMismatch struct {
	Expected int
	Got      int
}

func (e *ArityMismatch) Error() string {
	return fmt.Sprintf("arity mismatch: expected %d values, got %d", e.Expected, e.Got)
}

// RecursionLimit reports that nested macro and instruction calls
// exceeded the machine's depth limit.
type RecursionLimit struct {
	Depth int
}

func (e *RecursionLimit) Error() string {
	return fmt.Sprintf("call depth %d exceeds the limit", e.Depth)
}
