package decode

import (
	"fmt"
	"strings"

	"github.com/sarchlab/isasim/isa"
)

// DecodedInstruction is the self-contained result of decoding one
// instruction: execution and timing consume it without going back to
// the decode tables.
type DecodedInstruction struct {
	// PC is the address the instruction was fetched from.
	PC uint64
	// SizeBytes is the full fetched width, extensions included.
	SizeBytes uint
	// Bits is the fetched chunk as one MSB-first value.
	Bits uint64
	// Instr is the matched instruction definition.
	Instr isa.InstrID
	// Mnemonic is the matched instruction's name.
	Mnemonic string
	// Operands are the bound operand values in definition order.
	Operands []Operand
	// Ops is the instantiated lift sequence.
	Ops []LiftedOp
	// Timing tags the instruction's latency class.
	Timing isa.TimingClassID
}

// Operand is one bound operand.
type Operand struct {
	Name string
	Role isa.Role
	// Value is the bound operand value. Signed-immediate operands are
	// stored sign-extended in two's complement.
	Value uint64
	// Class and Reg are set for register operands: the indexed class
	// and the resolved physical location.
	Class string
	Reg   isa.RegLoc
}

// String renders the operand the way a listing would show it.
func (o Operand) String() string {
	switch o.Role {
	case isa.RoleRegister:
		return fmt.Sprintf("%s[%d]", o.Class, o.Value)
	case isa.RoleSignedImm:
		return fmt.Sprintf("%d", int64(o.Value))
	case isa.RoleAddress:
		return fmt.Sprintf("%#x", o.Value)
	default:
		return fmt.Sprintf("%d", o.Value)
	}
}

// LiftedOp is one micro-operation with operand slots substituted.
type LiftedOp struct {
	Name string
	Args []int64
}

// String renders the instruction as a listing line.
func (di *DecodedInstruction) String() string {
	if len(di.Operands) == 0 {
		return di.Mnemonic
	}
	parts := make([]string, len(di.Operands))
	for i, op := range di.Operands {
		parts[i] = op.String()
	}
	return di.Mnemonic + " " + strings.Join(parts, ", ")
}
