// Package isa models loadable machine descriptions: decode tables,
// instruction definitions, register files, and semantic programs.
//
// A description is assembled through a Builder and immutable once built,
// so a single description can back any number of concurrently decoding
// and executing cores:
//
//	b := isa.NewBuilder()
//	w32 := b.AddSizeClass(32)
//	root := b.AddGroup("root")
//	add := b.AddInstruction(isa.Instruction{Name: "add", ...})
//	b.AddPattern(w32, root, 0xFC0007FE, 0x7C000214, 0, isa.LeafInstr{Instr: add})
//	desc, err := b.Build()
package isa

import (
	"math/bits"

	"github.com/sarchlab/isasim/bitfield"
)

// SizeClass indexes the description's ordered list of instruction
// widths. Class 0 is the minimal width, where every decode starts.
type SizeClass int

// GroupID identifies a decode sub-table within a size class. Group 0 of
// size class 0 is the root table.
type GroupID int

// InstrID is an opaque handle to an instruction definition.
type InstrID int

// DeviceID is an opaque handle to a declared state device.
type DeviceID int

// TimingClassID tags an instruction with a latency class. The tag is
// carried through decode untouched; interpreting it is the timing
// layer's business.
type TimingClassID int

// Role describes how an operand field is interpreted after extraction.
type Role uint8

const (
	// RoleRegister indexes a named register class.
	RoleRegister Role = iota
	// RoleSignedImm sign-extends the extracted field.
	RoleSignedImm
	// RoleUnsignedImm zero-extends the extracted field.
	RoleUnsignedImm
	// RoleAddress zero-extends the extracted field and marks it as a
	// memory reference for consumers such as disassemblers.
	RoleAddress
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleRegister:
		return "register"
	case RoleSignedImm:
		return "signed-imm"
	case RoleUnsignedImm:
		return "unsigned-imm"
	case RoleAddress:
		return "address"
	default:
		return "unknown"
	}
}

// OperandDef names one operand of an instruction and the bit field that
// encodes it. Class is the register class indexed when Role is
// RoleRegister and is empty otherwise.
type OperandDef struct {
	Name  string
	Field bitfield.Field
	Role  Role
	Class string
}

// PatternKind is the outcome of a decode-table match: either a final
// instruction or a transition to a wider size class.
type PatternKind interface {
	patternKind()
}

// LeafInstr ends decoding at the matched instruction.
type LeafInstr struct {
	Instr InstrID
}

func (LeafInstr) patternKind() {}

// ExtendTo continues decoding in the named table of a strictly wider
// size class. The bytes already fetched keep their position at the most
// significant end of the growing chunk.
type ExtendTo struct {
	Size  SizeClass
	Group GroupID
}

func (ExtendTo) patternKind() {}

// PatternEntry matches a chunk when chunk&Mask == Value. Entries with
// more mask bits win over entries with fewer; explicit Priority breaks
// specificity ties (larger first), declaration order breaks the rest.
type PatternEntry struct {
	Mask     uint64
	Value    uint64
	Priority int
	Kind     PatternKind
}

// Specificity is the number of significant bits in the entry's mask.
func (e PatternEntry) Specificity() int {
	return bits.OnesCount64(e.Mask)
}

// DecodeTable holds the match-ordered patterns of one
// (size class, group) pair.
type DecodeTable struct {
	Size    SizeClass
	Group   GroupID
	Entries []PatternEntry
}

// Instruction defines one instruction: its mnemonic, operand encoding,
// lift template, timing class, and semantics. Semantics may be nil for
// instructions that are decoded but never executed.
type Instruction struct {
	Name      string
	Operands  []OperandDef
	Lift      LiftTemplate
	Timing    TimingClassID
	Semantics *Program
}

type tableKey struct {
	size  SizeClass
	group GroupID
}
