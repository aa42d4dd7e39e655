package isa

import "fmt"

// validateProgram checks a semantic program against the description:
// register and class references must resolve, call targets must exist,
// and bit slices must stay within a 64-bit value. Local name binding is
// dynamic and left to the runtime.
func (d *Description) validateProgram(p *Program) error {
	if p == nil {
		return fmt.Errorf("program is nil")
	}
	for i, s := range p.Body {
		if err := d.validateStmt(s); err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return nil
}

func (d *Description) validateStmt(s Stmt) error {
	switch s := s.(type) {
	case *Assign:
		if len(s.Targets) == 0 {
			return fmt.Errorf("assignment has no targets")
		}
		for _, t := range s.Targets {
			if err := d.validateLValue(t); err != nil {
				return err
			}
		}
		return d.validateExpr(s.RHS)
	case *Return:
		return d.validateExpr(s.X)
	case *ExprStmt:
		return d.validateExpr(s.X)
	case nil:
		return fmt.Errorf("statement is nil")
	default:
		return fmt.Errorf("unsupported statement node %T", s)
	}
}

func (d *Description) validateLValue(t LValue) error {
	switch t := t.(type) {
	case *LocalTarget:
		if t.Name == "" {
			return fmt.Errorf("assignment target has no name")
		}
		return nil
	case *RegTarget:
		return d.validateRegRef(t.Ref)
	case nil:
		return fmt.Errorf("assignment target is nil")
	default:
		return fmt.Errorf("unsupported assignment target %T", t)
	}
}

func (d *Description) validateExpr(e Expr) error {
	switch e := e.(type) {
	case *Lit:
		return nil
	case *Ref:
		if e.Name == "" {
			return fmt.Errorf("name reference is empty")
		}
		return nil
	case *Bin:
		if err := d.validateExpr(e.L); err != nil {
			return err
		}
		return d.validateExpr(e.R)
	case *Un:
		return d.validateExpr(e.X)
	case *Slice:
		if e.Length > 64 || e.Offset+e.Length > 64 {
			return fmt.Errorf("bit slice [%d,+%d) exceeds a 64-bit value", e.Offset, e.Length)
		}
		return d.validateExpr(e.X)
	case *RegExpr:
		return d.validateRegRef(e.Ref)
	case *HostCall:
		if e.Name == "" {
			return fmt.Errorf("host call has no operation name")
		}
		return d.validateExprs(e.Args)
	case *MacroCall:
		if _, ok := d.macros[e.Name]; !ok {
			return fmt.Errorf("call to unknown macro %q", e.Name)
		}
		return d.validateExprs(e.Args)
	case *InstrCall:
		if _, ok := d.instrByName[e.Name]; !ok {
			return fmt.Errorf("call to unknown instruction %q", e.Name)
		}
		return d.validateExprs(e.Args)
	case nil:
		return fmt.Errorf("expression is nil")
	default:
		return fmt.Errorf("unsupported expression node %T", e)
	}
}

func (d *Description) validateExprs(exprs []Expr) error {
	for _, e := range exprs {
		if err := d.validateExpr(e); err != nil {
			return err
		}
	}
	return nil
}

func (d *Description) validateRegRef(r RegRef) error {
	switch r := r.(type) {
	case *RegNamed:
		_, err := d.ResolveRegister(r.Name)
		return err
	case *RegIndexed:
		if _, ok := d.classes[r.Class]; !ok {
			return &UnknownRegister{Name: r.Class}
		}
		return d.validateExpr(r.Index)
	case nil:
		return fmt.Errorf("register reference is nil")
	default:
		return fmt.Errorf("unsupported register reference %T", r)
	}
}
