package emu

import (
	"fmt"
	"math/bits"
)

// HostServices supplies the named operations semantic programs invoke
// through host calls. The runtime marshals argument values across and
// never computes host operations itself.
type HostServices interface {
	// Call invokes the named operation. Arguments and the result may
	// be scalars or tuples.
	Call(name string, args []Value) (Value, error)
}

// HostFunc is one host operation.
type HostFunc func(args []Value) (Value, error)

// SoftwareHost is an in-process HostServices backed by a registry of
// named Go functions. It ships with the standard operation set;
// Register extends or replaces entries.
type SoftwareHost struct {
	ops map[string]HostFunc
}

// NewSoftwareHost creates a host with the standard operations:
// add_with_carry, mul_double, divmod, rotl, clz, popcount, select.
func NewSoftwareHost() *SoftwareHost {
	h := &SoftwareHost{ops: make(map[string]HostFunc)}
	h.Register("add_with_carry", hostAddWithCarry)
	h.Register("mul_double", hostMulDouble)
	h.Register("divmod", hostDivMod)
	h.Register("rotl", hostRotl)
	h.Register("clz", hostClz)
	h.Register("popcount", hostPopcount)
	h.Register("select", hostSelect)
	return h
}

// Register adds or replaces a named operation.
func (h *SoftwareHost) Register(name string, fn HostFunc) {
	h.ops[name] = fn
}

// Call invokes a registered operation.
func (h *SoftwareHost) Call(name string, args []Value) (Value, error) {
	fn, ok := h.ops[name]
	if !ok {
		return Value{}, fmt.Errorf("host operation %q is not provided", name)
	}
	return fn(args)
}

// scalarArgs checks that exactly n scalar arguments were passed.
func scalarArgs(args []Value, n int) error {
	if len(args) != n {
		return &ArityMismatch{Expected: n, Got: len(args)}
	}
	for _, a := range args {
		if a.IsTuple() {
			return &ArityMismatch{Expected: 1, Got: a.Arity()}
		}
	}
	return nil
}

// hostAddWithCarry returns (sum, carry_out) of a + b + carry_in.
func hostAddWithCarry(args []Value) (Value, error) {
	if err := scalarArgs(args, 3); err != nil {
		return Value{}, err
	}
	sum, carry := bits.Add64(args[0].Bits, args[1].Bits, args[2].Bits&1)
	return TupleValue(UnsignedValue(sum), UnsignedValue(carry)), nil
}

// hostMulDouble returns the (hi, lo) halves of the full 128-bit
// unsigned product.
func hostMulDouble(args []Value) (Value, error) {
	if err := scalarArgs(args, 2); err != nil {
		return Value{}, err
	}
	hi, lo := bits.Mul64(args[0].Bits, args[1].Bits)
	return TupleValue(UnsignedValue(hi), UnsignedValue(lo)), nil
}

// hostDivMod returns (quotient, remainder), dividing signed when
// either operand is signed.
func hostDivMod(args []Value) (Value, error) {
	if err := scalarArgs(args, 2); err != nil {
		return Value{}, err
	}
	a, b := args[0], args[1]
	if b.Bits == 0 {
		return Value{}, fmt.Errorf("divmod by zero")
	}
	if a.Signed || b.Signed {
		q := a.Int() / b.Int()
		r := a.Int() % b.Int()
		return TupleValue(SignedValue(q), SignedValue(r)), nil
	}
	return TupleValue(UnsignedValue(a.Bits/b.Bits), UnsignedValue(a.Bits%b.Bits)), nil
}

// hostRotl rotates left by the count's low six bits.
func hostRotl(args []Value) (Value, error) {
	if err := scalarArgs(args, 2); err != nil {
		return Value{}, err
	}
	return UnsignedValue(bits.RotateLeft64(args[0].Bits, int(args[1].Bits&63))), nil
}

// hostClz counts leading zero bits.
func hostClz(args []Value) (Value, error) {
	if err := scalarArgs(args, 1); err != nil {
		return Value{}, err
	}
	return UnsignedValue(uint64(bits.LeadingZeros64(args[0].Bits))), nil
}

// hostPopcount counts set bits.
func hostPopcount(args []Value) (Value, error) {
	if err := scalarArgs(args, 1); err != nil {
		return Value{}, err
	}
	return UnsignedValue(uint64(bits.OnesCount64(args[0].Bits))), nil
}

// hostSelect returns the second argument when the first is non-zero,
// the third otherwise.
func hostSelect(args []Value) (Value, error) {
	if err := scalarArgs(args, 3); err != nil {
		return Value{}, err
	}
	if args[0].True() {
		return args[1], nil
	}
	return args[2], nil
}
