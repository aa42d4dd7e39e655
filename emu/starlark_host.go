package emu

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// StarlarkHost exposes the global functions of a Starlark script as
// host operations, so a description can ship its helper operations as
// a script instead of linking Go code. Scalars cross as Starlark ints,
// tuples as Starlark tuples, and a None result means "no value".
type StarlarkHost struct {
	thread  *starlark.Thread
	globals starlark.StringDict
}

// NewStarlarkHost executes src and captures its globals. The filename
// only labels error messages.
func NewStarlarkHost(filename, src string) (*StarlarkHost, error) {
	thread := &starlark.Thread{Name: "host"}
	opts := syntax.FileOptions{}
	globals, err := starlark.ExecFileOptions(&opts, thread, filename, src, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load host script %s: %w", filename, err)
	}
	return &StarlarkHost{thread: thread, globals: globals}, nil
}

// Call invokes the named script function.
func (h *StarlarkHost) Call(name string, args []Value) (Value, error) {
	fn, ok := h.globals[name].(starlark.Callable)
	if !ok {
		return Value{}, fmt.Errorf("host operation %q is not provided", name)
	}

	tuple := make(starlark.Tuple, len(args))
	for i, a := range args {
		tuple[i] = toStarlark(a)
	}
	res, err := starlark.Call(h.thread, fn, tuple, nil)
	if err != nil {
		return Value{}, fmt.Errorf("host operation %q: %w", name, err)
	}
	out, err := fromStarlark(res)
	if err != nil {
		return Value{}, fmt.Errorf("host operation %q: %w", name, err)
	}
	return out, nil
}

func toStarlark(v Value) starlark.Value {
	if v.IsTuple() {
		elems := make(starlark.Tuple, len(v.Tuple))
		for i, e := range v.Tuple {
			elems[i] = toStarlark(e)
		}
		return elems
	}
	if v.Signed {
		return starlark.MakeInt64(v.Int())
	}
	return starlark.MakeUint64(v.Bits)
}

func fromStarlark(v starlark.Value) (Value, error) {
	switch v := v.(type) {
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			if i < 0 {
				return SignedValue(i), nil
			}
			return UnsignedValue(uint64(i)), nil
		}
		if u, ok := v.Uint64(); ok {
			return UnsignedValue(u), nil
		}
		return Value{}, fmt.Errorf("result %v does not fit in 64 bits", v)
	case starlark.Bool:
		return BoolValue(bool(v)), nil
	case starlark.Tuple:
		elems := make([]Value, len(v))
		for i, e := range v {
			ev, err := fromStarlark(e)
			if err != nil {
				return Value{}, err
			}
			elems[i] = ev
		}
		return TupleValue(elems...), nil
	case starlark.NoneType:
		return TupleValue(), nil
	default:
		return Value{}, fmt.Errorf("unsupported result type %s", v.Type())
	}
}
