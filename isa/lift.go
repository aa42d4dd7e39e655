package isa

// LiftTemplate is the parameterized micro-operation sequence an
// instruction decodes into. Templates reference operand slots by index;
// instantiation during decode substitutes the bound operand values.
type LiftTemplate []OpTemplate

// OpTemplate is one templated micro-operation.
type OpTemplate struct {
	Name string
	Args []OpArg
}

// OpArg is a template argument: an operand slot or a literal.
type OpArg interface {
	opArgNode()
}

// SlotArg substitutes the value of the operand at index Slot.
type SlotArg struct {
	Slot int
}

// ConstArg passes Value through unchanged.
type ConstArg struct {
	Value int64
}

func (SlotArg) opArgNode()  {}
func (ConstArg) opArgNode() {}
