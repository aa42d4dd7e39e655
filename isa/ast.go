package isa

// Program is the semantic body of an instruction or macro: an ordered
// statement list over named parameters. Programs are plain data; they
// are validated lazily the first time the owning description uses them.
type Program struct {
	Params []string
	Body   []Stmt
}

// Stmt is a semantic statement. Statements execute strictly in declared
// order; there is no control flow inside a program, conditional results
// are built from relational and mask arithmetic instead.
type Stmt interface {
	stmtNode()
}

// Assign evaluates RHS and binds it to one target, or unpacks a tuple
// across several. The number of targets must equal the value's arity.
type Assign struct {
	Targets []LValue
	RHS     Expr
}

// Return ends the program, yielding X as its result. A program without
// a Return yields the value of its last expression statement, or an
// empty tuple when there is none.
type Return struct {
	X Expr
}

// ExprStmt evaluates X for its side effects.
type ExprStmt struct {
	X Expr
}

func (*Assign) stmtNode()   {}
func (*Return) stmtNode()   {}
func (*ExprStmt) stmtNode() {}

// LValue is an assignment target.
type LValue interface {
	lvalueNode()
}

// LocalTarget binds a parameter or local by name, creating the local on
// first assignment.
type LocalTarget struct {
	Name string
}

// RegTarget stores to a register, register subfield, or class-indexed
// register. The stored value is masked to the destination width first.
type RegTarget struct {
	Ref RegRef
}

func (*LocalTarget) lvalueNode() {}
func (*RegTarget) lvalueNode()   {}

// Expr is a semantic expression yielding a 64-bit scalar or a tuple.
type Expr interface {
	exprNode()
}

// Lit is an integer literal.
type Lit struct {
	Value  uint64
	Signed bool
}

// Ref reads a parameter or local by name.
type Ref struct {
	Name string
}

// Bin applies a binary operator. Operands and result are 64 bits wide;
// comparisons, shifts, division, and remainder honor the operands'
// signedness.
type Bin struct {
	Op BinOp
	L  Expr
	R  Expr
}

// Un applies a unary operator.
type Un struct {
	Op UnOp
	X  Expr
}

// Slice extracts Length bits of X starting at Offset, counting from the
// most significant bit of the 64-bit value. Signed selects sign
// extension of the extracted bits.
type Slice struct {
	X      Expr
	Offset uint
	Length uint
	Signed bool
}

// RegExpr reads a register, register subfield, or class-indexed
// register, zero-extended to 64 bits.
type RegExpr struct {
	Ref RegRef
}

// HostCall invokes a named host-services operation.
type HostCall struct {
	Name string
	Args []Expr
}

// MacroCall runs a description macro as a subroutine. Locals bound by
// the macro remain visible to the caller after it returns.
type MacroCall struct {
	Name string
	Args []Expr
}

// InstrCall runs another instruction's semantic program as a
// subroutine, with the same local visibility as a macro call.
type InstrCall struct {
	Name string
	Args []Expr
}

func (*Lit) exprNode()       {}
func (*Ref) exprNode()       {}
func (*Bin) exprNode()       {}
func (*Un) exprNode()        {}
func (*Slice) exprNode()     {}
func (*RegExpr) exprNode()   {}
func (*HostCall) exprNode()  {}
func (*MacroCall) exprNode() {}
func (*InstrCall) exprNode() {}

// RegRef names a register-space location.
type RegRef interface {
	regRefNode()
}

// RegNamed references a register or dotted subfield, e.g. "XER" or
// "CR0.SO".
type RegNamed struct {
	Name string
}

// RegIndexed references member Index of a register class, e.g. GPR[RT].
type RegIndexed struct {
	Class string
	Index Expr
}

func (*RegNamed) regRefNode()   {}
func (*RegIndexed) regRefNode() {}

// BinOp enumerates binary operators.
type BinOp uint8

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpLogAnd
	OpLogOr
)

var binOpNames = [...]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpRem: "%",
	OpAnd: "&", OpOr: "|", OpXor: "^", OpShl: "<<", OpShr: ">>",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpLogAnd: "&&", OpLogOr: "||",
}

// String returns the operator's source form.
func (op BinOp) String() string {
	if int(op) < len(binOpNames) {
		return binOpNames[op]
	}
	return "?"
}

// UnOp enumerates unary operators.
type UnOp uint8

const (
	// OpNeg is two's-complement negation.
	OpNeg UnOp = iota
	// OpNot is bitwise complement.
	OpNot
	// OpLogNot yields 1 for zero and 0 otherwise.
	OpLogNot
)

// String returns the operator's source form.
func (op UnOp) String() string {
	switch op {
	case OpNeg:
		return "-"
	case OpNot:
		return "~"
	case OpLogNot:
		return "!"
	default:
		return "?"
	}
}
