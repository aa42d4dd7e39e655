package emu

import (
	"fmt"

	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/isa"
)

// run is one semantic execution: the owning machine plus the
// call-depth counter shared by every nested program.
type run struct {
	m     *Machine
	depth int
}

// frame holds the locals of one program activation. Parameters are
// ordinary locals bound at entry.
type frame struct {
	locals map[string]Value
}

func newFrame() *frame {
	return &frame{locals: make(map[string]Value)}
}

// execProgram runs a program body in f. Without an explicit return the
// program yields its last expression statement's value, or an empty
// tuple when there is none.
func (r *run) execProgram(prog *isa.Program, f *frame) (Value, error) {
	last := TupleValue()
	for i, stmt := range prog.Body {
		v, returned, err := r.execStmt(stmt, f)
		if err != nil {
			return Value{}, fmt.Errorf("statement %d: %w", i, err)
		}
		if returned {
			return v, nil
		}
		if _, ok := stmt.(*isa.ExprStmt); ok {
			last = v
		}
	}
	return last, nil
}

func (r *run) execStmt(s isa.Stmt, f *frame) (Value, bool, error) {
	switch s := s.(type) {
	case *isa.Assign:
		return Value{}, false, r.execAssign(s, f)
	case *isa.Return:
		v, err := r.evalExpr(s.X, f)
		return v, true, err
	case *isa.ExprStmt:
		v, err := r.evalExpr(s.X, f)
		return v, false, err
	default:
		return Value{}, false, fmt.Errorf("unsupported statement node %T", s)
	}
}

// execAssign binds the evaluated value to one target, or unpacks a
// tuple element-wise across several. The target count must equal the
// value's arity.
func (r *run) execAssign(s *isa.Assign, f *frame) error {
	v, err := r.evalExpr(s.RHS, f)
	if err != nil {
		return err
	}
	if len(s.Targets) == 1 && v.Arity() == 1 {
		return r.assign(s.Targets[0], scalarOf(v), f)
	}
	if !v.IsTuple() || len(s.Targets) != len(v.Tuple) {
		return &ArityMismatch{Expected: len(s.Targets), Got: v.Arity()}
	}
	for i, t := range s.Targets {
		if err := r.assign(t, v.Tuple[i], f); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) assign(t isa.LValue, v Value, f *frame) error {
	switch t := t.(type) {
	case *isa.LocalTarget:
		f.locals[t.Name] = v
		return nil
	case *isa.RegTarget:
		loc, err := r.resolveRef(t.Ref, f)
		if err != nil {
			return err
		}
		if v.IsTuple() {
			return &ArityMismatch{Expected: 1, Got: v.Arity()}
		}
		return r.m.writeLoc(loc, v.Bits)
	default:
		return fmt.Errorf("unsupported assignment target %T", t)
	}
}

func (r *run) evalExpr(e isa.Expr, f *frame) (Value, error) {
	switch e := e.(type) {
	case *isa.Lit:
		return Value{Bits: e.Value, Signed: e.Signed}, nil
	case *isa.Ref:
		v, ok := f.locals[e.Name]
		if !ok {
			return Value{}, fmt.Errorf("%w %q", ErrUndefinedName, e.Name)
		}
		return v, nil
	case *isa.Bin:
		return r.evalBin(e, f)
	case *isa.Un:
		return r.evalUn(e, f)
	case *isa.Slice:
		x, err := r.evalScalar(e.X, f)
		if err != nil {
			return Value{}, err
		}
		raw := x.Bits >> (64 - e.Offset - e.Length) & mask64(e.Length)
		if e.Signed {
			return SignedValue(bitfield.SignExtend(raw, e.Length)), nil
		}
		return UnsignedValue(raw), nil
	case *isa.RegExpr:
		loc, err := r.resolveRef(e.Ref, f)
		if err != nil {
			return Value{}, err
		}
		raw, err := r.m.readLoc(loc)
		if err != nil {
			return Value{}, err
		}
		return UnsignedValue(raw), nil
	case *isa.HostCall:
		args, err := r.evalArgs(e.Args, f)
		if err != nil {
			return Value{}, err
		}
		r.m.stats.HostCalls++
		v, err := r.m.host.Call(e.Name, args)
		if err != nil {
			return Value{}, fmt.Errorf("host call %q: %w", e.Name, err)
		}
		return v, nil
	case *isa.MacroCall:
		return r.callMacro(e, f)
	case *isa.InstrCall:
		return r.callInstr(e, f)
	default:
		return Value{}, fmt.Errorf("unsupported expression node %T", e)
	}
}

// evalScalar evaluates e and requires a scalar, unwrapping a
// one-element tuple.
func (r *run) evalScalar(e isa.Expr, f *frame) (Value, error) {
	v, err := r.evalExpr(e, f)
	if err != nil {
		return Value{}, err
	}
	if v.IsTuple() {
		if len(v.Tuple) == 1 && !v.Tuple[0].IsTuple() {
			return v.Tuple[0], nil
		}
		return Value{}, &ArityMismatch{Expected: 1, Got: v.Arity()}
	}
	return v, nil
}

// evalBin applies a binary operator. Arithmetic works on the raw 64
// bits; comparisons, shifts, division, and remainder branch on the
// operands' signedness. Both operands are always evaluated.
func (r *run) evalBin(e *isa.Bin, f *frame) (Value, error) {
	l, err := r.evalScalar(e.L, f)
	if err != nil {
		return Value{}, err
	}
	rv, err := r.evalScalar(e.R, f)
	if err != nil {
		return Value{}, err
	}

	signed := l.Signed || rv.Signed
	switch e.Op {
	case isa.OpAdd:
		return Value{Bits: l.Bits + rv.Bits, Signed: signed}, nil
	case isa.OpSub:
		return Value{Bits: l.Bits - rv.Bits, Signed: signed}, nil
	case isa.OpMul:
		return Value{Bits: l.Bits * rv.Bits, Signed: signed}, nil
	case isa.OpDiv:
		if rv.Bits == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		if signed {
			return SignedValue(l.Int() / rv.Int()), nil
		}
		return UnsignedValue(l.Bits / rv.Bits), nil
	case isa.OpRem:
		if rv.Bits == 0 {
			return Value{}, fmt.Errorf("division by zero")
		}
		if signed {
			return SignedValue(l.Int() % rv.Int()), nil
		}
		return UnsignedValue(l.Bits % rv.Bits), nil
	case isa.OpAnd:
		return Value{Bits: l.Bits & rv.Bits, Signed: signed}, nil
	case isa.OpOr:
		return Value{Bits: l.Bits | rv.Bits, Signed: signed}, nil
	case isa.OpXor:
		return Value{Bits: l.Bits ^ rv.Bits, Signed: signed}, nil
	case isa.OpShl:
		return Value{Bits: l.Bits << rv.Bits, Signed: l.Signed}, nil
	case isa.OpShr:
		if l.Signed {
			return Value{Bits: uint64(l.Int() >> rv.Bits), Signed: true}, nil
		}
		return Value{Bits: l.Bits >> rv.Bits}, nil
	case isa.OpEq:
		return BoolValue(l.Bits == rv.Bits), nil
	case isa.OpNe:
		return BoolValue(l.Bits != rv.Bits), nil
	case isa.OpLt:
		if signed {
			return BoolValue(l.Int() < rv.Int()), nil
		}
		return BoolValue(l.Bits < rv.Bits), nil
	case isa.OpLe:
		if signed {
			return BoolValue(l.Int() <= rv.Int()), nil
		}
		return BoolValue(l.Bits <= rv.Bits), nil
	case isa.OpGt:
		if signed {
			return BoolValue(l.Int() > rv.Int()), nil
		}
		return BoolValue(l.Bits > rv.Bits), nil
	case isa.OpGe:
		if signed {
			return BoolValue(l.Int() >= rv.Int()), nil
		}
		return BoolValue(l.Bits >= rv.Bits), nil
	case isa.OpLogAnd:
		return BoolValue(l.True() && rv.True()), nil
	case isa.OpLogOr:
		return BoolValue(l.True() || rv.True()), nil
	default:
		return Value{}, fmt.Errorf("unsupported operator %q", e.Op)
	}
}

func (r *run) evalUn(e *isa.Un, f *frame) (Value, error) {
	x, err := r.evalScalar(e.X, f)
	if err != nil {
		return Value{}, err
	}
	switch e.Op {
	case isa.OpNeg:
		return Value{Bits: -x.Bits, Signed: true}, nil
	case isa.OpNot:
		return Value{Bits: ^x.Bits, Signed: x.Signed}, nil
	case isa.OpLogNot:
		return BoolValue(!x.True()), nil
	default:
		return Value{}, fmt.Errorf("unsupported operator %q", e.Op)
	}
}

// resolveRef resolves a register reference to its flattened location.
func (r *run) resolveRef(ref isa.RegRef, f *frame) (isa.RegLoc, error) {
	switch ref := ref.(type) {
	case *isa.RegNamed:
		return r.m.desc.ResolveRegister(ref.Name)
	case *isa.RegIndexed:
		idx, err := r.evalScalar(ref.Index, f)
		if err != nil {
			return isa.RegLoc{}, err
		}
		return r.m.desc.ClassMember(ref.Class, idx.Bits)
	default:
		return isa.RegLoc{}, fmt.Errorf("unsupported register reference %T", ref)
	}
}

func (r *run) callMacro(e *isa.MacroCall, f *frame) (Value, error) {
	prog, err := r.m.desc.MacroProgram(e.Name)
	if err != nil {
		return Value{}, err
	}
	r.m.stats.MacroCalls++
	v, err := r.callProgram(prog, e.Args, f)
	if err != nil {
		return Value{}, fmt.Errorf("macro %q: %w", e.Name, err)
	}
	return v, nil
}

func (r *run) callInstr(e *isa.InstrCall, f *frame) (Value, error) {
	id, ok := r.m.desc.InstrByName(e.Name)
	if !ok {
		return Value{}, fmt.Errorf("call to unknown instruction %q", e.Name)
	}
	prog, err := r.m.desc.InstrProgram(id)
	if err != nil {
		return Value{}, err
	}
	r.m.stats.InstrCalls++
	v, err := r.callProgram(prog, e.Args, f)
	if err != nil {
		return Value{}, fmt.Errorf("instruction %q: %w", e.Name, err)
	}
	return v, nil
}

// callProgram evaluates args in the caller's frame, runs prog in a
// fresh frame with the args bound to its parameters, and merges the
// callee's locals into the caller on success.
func (r *run) callProgram(prog *isa.Program, argExprs []isa.Expr, caller *frame) (Value, error) {
	args, err := r.evalArgs(argExprs, caller)
	if err != nil {
		return Value{}, err
	}

	r.depth++
	defer func() { r.depth-- }()
	if r.depth > r.m.depthLimit {
		return Value{}, &RecursionLimit{Depth: r.depth}
	}

	callee := newFrame()
	if err := bindParams(callee, prog.Params, args); err != nil {
		return Value{}, err
	}
	v, err := r.execProgram(prog, callee)
	if err != nil {
		return Value{}, err
	}
	for name, val := range callee.locals {
		caller.locals[name] = val
	}
	return v, nil
}

func (r *run) evalArgs(exprs []isa.Expr, f *frame) ([]Value, error) {
	args := make([]Value, len(exprs))
	for i, e := range exprs {
		v, err := r.evalExpr(e, f)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

func bindParams(f *frame, params []string, args []Value) error {
	if len(args) != len(params) {
		return &ArityMismatch{Expected: len(params), Got: len(args)}
	}
	for i, p := range params {
		f.locals[p] = args[i]
	}
	return nil
}

// scalarOf unwraps a one-element tuple.
func scalarOf(v Value) Value {
	if v.IsTuple() && len(v.Tuple) == 1 {
		return v.Tuple[0]
	}
	return v
}

func mask64(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}
