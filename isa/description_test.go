package isa_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/isasim/isa"
)

var _ = Describe("Description", func() {
	var b *isa.Builder

	BeforeEach(func() {
		b = isa.NewBuilder()
		b.AddSizeClass(16)
		b.AddGroup("root")
	})

	Describe("semantic program validation", func() {
		It("should accept a well-formed program on first use", func() {
			id := b.AddInstruction(isa.Instruction{
				Name: "addi",
				Semantics: &isa.Program{
					Params: []string{"a", "b"},
					Body: []isa.Stmt{
						&isa.Return{X: &isa.Bin{Op: isa.OpAdd, L: &isa.Ref{Name: "a"}, R: &isa.Ref{Name: "b"}}},
					},
				},
			})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			desc, err := b.Build()
			Expect(err).To(BeNil())

			prog, err := desc.InstrProgram(id)
			Expect(err).To(BeNil())
			Expect(prog.Params).To(Equal([]string{"a", "b"}))

			// Second use returns the cached program.
			again, err := desc.InstrProgram(id)
			Expect(err).To(BeNil())
			Expect(again).To(BeIdenticalTo(prog))
		})

		It("should report a call to an unknown macro", func() {
			id := b.AddInstruction(isa.Instruction{
				Name: "broken",
				Semantics: &isa.Program{
					Body: []isa.Stmt{
						&isa.ExprStmt{X: &isa.MacroCall{Name: "missing"}},
					},
				},
			})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			desc, err := b.Build()
			Expect(err).To(BeNil())

			_, err = desc.InstrProgram(id)

			Expect(err).To(MatchError(ContainSubstring(`unknown macro "missing"`)))
			Expect(err).To(MatchError(ContainSubstring("broken")))
		})

		It("should report an instruction without semantics", func() {
			id := b.AddInstruction(isa.Instruction{Name: "data"})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			desc, err := b.Build()
			Expect(err).To(BeNil())

			_, err = desc.InstrProgram(id)

			Expect(err).To(MatchError(ContainSubstring("no semantics")))
		})

		It("should reject an oversized bit slice", func() {
			id := b.AddInstruction(isa.Instruction{
				Name: "sliced",
				Semantics: &isa.Program{
					Params: []string{"a"},
					Body: []isa.Stmt{
						&isa.Return{X: &isa.Slice{X: &isa.Ref{Name: "a"}, Offset: 60, Length: 8}},
					},
				},
			})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			desc, err := b.Build()
			Expect(err).To(BeNil())

			_, err = desc.InstrProgram(id)

			Expect(err).To(MatchError(ContainSubstring("exceeds a 64-bit value")))
		})

		It("should validate macros independently", func() {
			b.AddMacro("double", &isa.Program{
				Params: []string{"x"},
				Body: []isa.Stmt{
					&isa.Return{X: &isa.Bin{Op: isa.OpAdd, L: &isa.Ref{Name: "x"}, R: &isa.Ref{Name: "x"}}},
				},
			})
			id := b.AddInstruction(isa.Instruction{Name: "nop"})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			desc, err := b.Build()
			Expect(err).To(BeNil())

			prog, err := desc.MacroProgram("double")
			Expect(err).To(BeNil())
			Expect(prog.Params).To(Equal([]string{"x"}))

			_, err = desc.MacroProgram("missing")
			Expect(err).To(MatchError(ContainSubstring(`unknown macro "missing"`)))
		})
	})

	Describe("timing classes", func() {
		It("should fall back to a single default class", func() {
			id := b.AddInstruction(isa.Instruction{Name: "nop"})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			desc, err := b.Build()
			Expect(err).To(BeNil())

			Expect(desc.TimingClassNames()).To(Equal([]string{"default"}))
			inst, ok := desc.Instr(id)
			Expect(ok).To(BeTrue())
			Expect(desc.TimingClassName(inst.Timing)).To(Equal("default"))
		})

		It("should reject an undeclared timing class", func() {
			b.AddTimingClass("alu")
			id := b.AddInstruction(isa.Instruction{Name: "nop", Timing: 7})
			b.AddPattern(0, 0, 0xFF00, 0x1100, 0, isa.LeafInstr{Instr: id})

			_, err := b.Build()

			Expect(err).To(MatchError(ContainSubstring("timing class")))
		})
	})
})
