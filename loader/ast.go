package loader

import (
	"encoding/json"
	"fmt"

	"github.com/sarchlab/isasim/isa"
)

// Semantic programs are trees of "kind"-discriminated JSON objects.
//
// Statements: assign {targets, rhs}, return {x}, expr {x}.
// Targets: local {name}, reg {ref}.
// Expressions: lit {value, signed}, ref {name}, bin {op, l, r},
// un {op, x}, slice {x, offset, length, signed}, reg {ref},
// host {name, args}, macro {name, args}, instr {name, args}.
// Register references: named {name}, indexed {class, index}.
//
// Operators use their source spellings, "+" through "||" for binary
// and "-", "~", "!" for unary.

var binOpNames = map[string]isa.BinOp{
	"+": isa.OpAdd, "-": isa.OpSub, "*": isa.OpMul, "/": isa.OpDiv, "%": isa.OpRem,
	"&": isa.OpAnd, "|": isa.OpOr, "^": isa.OpXor, "<<": isa.OpShl, ">>": isa.OpShr,
	"==": isa.OpEq, "!=": isa.OpNe, "<": isa.OpLt, "<=": isa.OpLe, ">": isa.OpGt, ">=": isa.OpGe,
	"&&": isa.OpLogAnd, "||": isa.OpLogOr,
}

var unOpNames = map[string]isa.UnOp{
	"-": isa.OpNeg, "~": isa.OpNot, "!": isa.OpLogNot,
}

func decodeProgram(params []string, body []json.RawMessage) (*isa.Program, error) {
	prog := &isa.Program{Params: params}
	for i, raw := range body {
		s, err := decodeStmt(raw)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
		prog.Body = append(prog.Body, s)
	}
	return prog, nil
}

func decodeStmt(raw json.RawMessage) (isa.Stmt, error) {
	kind, err := nodeKind(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "assign":
		var n struct {
			Targets []json.RawMessage `json:"targets"`
			RHS     json.RawMessage   `json:"rhs"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		s := &isa.Assign{}
		for _, t := range n.Targets {
			lv, err := decodeTarget(t)
			if err != nil {
				return nil, err
			}
			s.Targets = append(s.Targets, lv)
		}
		s.RHS, err = decodeExpr(n.RHS)
		if err != nil {
			return nil, err
		}
		return s, nil

	case "return":
		var n struct {
			X json.RawMessage `json:"x"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &isa.Return{X: x}, nil

	case "expr":
		var n struct {
			X json.RawMessage `json:"x"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &isa.ExprStmt{X: x}, nil

	default:
		return nil, fmt.Errorf("unsupported statement kind %q", kind)
	}
}

func decodeTarget(raw json.RawMessage) (isa.LValue, error) {
	kind, err := nodeKind(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "local":
		var n struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return &isa.LocalTarget{Name: n.Name}, nil

	case "reg":
		var n struct {
			Ref json.RawMessage `json:"ref"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		ref, err := decodeRegRef(n.Ref)
		if err != nil {
			return nil, err
		}
		return &isa.RegTarget{Ref: ref}, nil

	default:
		return nil, fmt.Errorf("unsupported target kind %q", kind)
	}
}

func decodeExpr(raw json.RawMessage) (isa.Expr, error) {
	kind, err := nodeKind(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "lit":
		var n struct {
			Value  string `json:"value"`
			Signed bool   `json:"signed,omitempty"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		v, err := parseLit(n.Value)
		if err != nil {
			return nil, err
		}
		return &isa.Lit{Value: v, Signed: n.Signed}, nil

	case "ref":
		var n struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return &isa.Ref{Name: n.Name}, nil

	case "bin":
		var n struct {
			Op string          `json:"op"`
			L  json.RawMessage `json:"l"`
			R  json.RawMessage `json:"r"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		op, ok := binOpNames[n.Op]
		if !ok {
			return nil, fmt.Errorf("unknown binary operator %q", n.Op)
		}
		l, err := decodeExpr(n.L)
		if err != nil {
			return nil, err
		}
		r, err := decodeExpr(n.R)
		if err != nil {
			return nil, err
		}
		return &isa.Bin{Op: op, L: l, R: r}, nil

	case "un":
		var n struct {
			Op string          `json:"op"`
			X  json.RawMessage `json:"x"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		op, ok := unOpNames[n.Op]
		if !ok {
			return nil, fmt.Errorf("unknown unary operator %q", n.Op)
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &isa.Un{Op: op, X: x}, nil

	case "slice":
		var n struct {
			X      json.RawMessage `json:"x"`
			Offset uint            `json:"offset"`
			Length uint            `json:"length"`
			Signed bool            `json:"signed,omitempty"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		x, err := decodeExpr(n.X)
		if err != nil {
			return nil, err
		}
		return &isa.Slice{X: x, Offset: n.Offset, Length: n.Length, Signed: n.Signed}, nil

	case "reg":
		var n struct {
			Ref json.RawMessage `json:"ref"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		ref, err := decodeRegRef(n.Ref)
		if err != nil {
			return nil, err
		}
		return &isa.RegExpr{Ref: ref}, nil

	case "host":
		name, args, err := decodeCall(raw)
		if err != nil {
			return nil, err
		}
		return &isa.HostCall{Name: name, Args: args}, nil

	case "macro":
		name, args, err := decodeCall(raw)
		if err != nil {
			return nil, err
		}
		return &isa.MacroCall{Name: name, Args: args}, nil

	case "instr":
		name, args, err := decodeCall(raw)
		if err != nil {
			return nil, err
		}
		return &isa.InstrCall{Name: name, Args: args}, nil

	default:
		return nil, fmt.Errorf("unsupported expression kind %q", kind)
	}
}

func decodeCall(raw json.RawMessage) (string, []isa.Expr, error) {
	var n struct {
		Name string            `json:"name"`
		Args []json.RawMessage `json:"args"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", nil, err
	}
	var args []isa.Expr
	for _, a := range n.Args {
		x, err := decodeExpr(a)
		if err != nil {
			return "", nil, err
		}
		args = append(args, x)
	}
	return n.Name, args, nil
}

func decodeRegRef(raw json.RawMessage) (isa.RegRef, error) {
	kind, err := nodeKind(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "named":
		var n struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		return &isa.RegNamed{Name: n.Name}, nil

	case "indexed":
		var n struct {
			Class string          `json:"class"`
			Index json.RawMessage `json:"index"`
		}
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, err
		}
		idx, err := decodeExpr(n.Index)
		if err != nil {
			return nil, err
		}
		return &isa.RegIndexed{Class: n.Class, Index: idx}, nil

	default:
		return nil, fmt.Errorf("unsupported register reference kind %q", kind)
	}
}

func nodeKind(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("missing node")
	}
	var n struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	if n.Kind == "" {
		return "", fmt.Errorf("node has no kind")
	}
	return n.Kind, nil
}
