package emu

import (
	"fmt"
	"strings"
)

// Value is a semantic-program value: a 64-bit scalar carrying a
// signedness flag, or a tuple of scalars. The zero Value is the
// unsigned scalar 0.
type Value struct {
	// Bits is the scalar payload, two's complement when Signed.
	Bits uint64
	// Signed marks the scalar as signed for comparisons, shifts,
	// division, and remainder.
	Signed bool
	// Tuple holds the elements of a tuple value; nil for scalars.
	Tuple []Value
}

// UnsignedValue wraps bits as an unsigned scalar.
func UnsignedValue(bits uint64) Value {
	return Value{Bits: bits}
}

// SignedValue wraps v as a signed scalar.
func SignedValue(v int64) Value {
	return Value{Bits: uint64(v), Signed: true}
}

// BoolValue is 1 for true and 0 for false, unsigned.
func BoolValue(b bool) Value {
	if b {
		return Value{Bits: 1}
	}
	return Value{}
}

// TupleValue builds a tuple from elements. An empty tuple is the
// "no result" value of a program without a return.
func TupleValue(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{Tuple: elems}
}

// IsTuple reports whether the value is a tuple.
func (v Value) IsTuple() bool {
	return v.Tuple != nil
}

// Arity is the number of assignable elements: 1 for a scalar, the
// element count for a tuple.
func (v Value) Arity() int {
	if v.IsTuple() {
		return len(v.Tuple)
	}
	return 1
}

// Int returns the scalar as a signed integer.
func (v Value) Int() int64 {
	return int64(v.Bits)
}

// Uint returns the scalar payload.
func (v Value) Uint() uint64 {
	return v.Bits
}

// True reports whether the scalar is non-zero.
func (v Value) True() bool {
	return v.Bits != 0
}

// String renders the value for traces: signed scalars in decimal,
// unsigned in hexadecimal, tuples parenthesized.
func (v Value) String() string {
	if v.IsTuple() {
		parts := make([]string, len(v.Tuple))
		for i, e := range v.Tuple {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	if v.Signed {
		return fmt.Sprintf("%d", int64(v.Bits))
	}
	return fmt.Sprintf("%#x", v.Bits)
}
