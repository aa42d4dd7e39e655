package emu_test

import (
	"encoding/binary"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/isasim/access"
	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/decode"
	"github.com/sarchlab/isasim/emu"
	"github.com/sarchlab/isasim/isa"
)

// powerMem is the instruction-memory device of buildPowerISA.
const powerMem = isa.DeviceID(1)

// buildPowerISA wires a big-endian PowerPC integer subset: add, its
// CR0-recording dot form, an absolute branch, and a trap that decodes
// without semantics.
func buildPowerISA() *isa.Description {
	b := isa.NewBuilder()
	w32 := b.AddSizeClass(32)
	root := b.AddGroup("main")

	b.AddDevice(isa.DeviceDef{Name: "regs", Size: 256})
	b.AddDevice(isa.DeviceDef{Name: "mem", Size: 4096})

	names := make([]string, 32)
	for i := range names {
		names[i] = fmt.Sprintf("GPR%d", i)
		b.AddRegister(isa.RegisterDef{
			Name:       names[i],
			Device:     "regs",
			ByteOffset: uint64(i * 4),
			Bits:       32,
		})
	}
	b.AddClass("GPR", names...)

	b.AddRegister(isa.RegisterDef{Name: "CR", Device: "regs", ByteOffset: 128, Bits: 32})
	b.AddRegister(isa.RegisterDef{
		Name:     "CR0",
		Redirect: &isa.RedirectDef{Target: "CR", Range: &bitfield.Range{Offset: 0, Length: 4}},
		Subfields: []isa.SubfieldDef{
			{Name: "LT", Offset: 0, Length: 1},
			{Name: "GT", Offset: 1, Length: 1},
			{Name: "EQ", Offset: 2, Length: 1},
			{Name: "SO", Offset: 3, Length: 1},
		},
	})
	b.AddRegister(isa.RegisterDef{
		Name:       "XER",
		Device:     "regs",
		ByteOffset: 132,
		Bits:       32,
		Subfields: []isa.SubfieldDef{
			{Name: "SO", Offset: 0, Length: 1},
			{Name: "OV", Offset: 1, Length: 1},
			{Name: "CA", Offset: 2, Length: 1},
		},
	})
	b.AddRegister(isa.RegisterDef{Name: "PC", Device: "regs", ByteOffset: 136, Bits: 64})

	gpr := func(idx string) *isa.RegExpr {
		return &isa.RegExpr{Ref: &isa.RegIndexed{Class: "GPR", Index: &isa.Ref{Name: idx}}}
	}
	setCR0 := func(sub string, rhs isa.Expr) isa.Stmt {
		return &isa.Assign{
			Targets: []isa.LValue{&isa.RegTarget{Ref: &isa.RegNamed{Name: "CR0." + sub}}},
			RHS:     rhs,
		}
	}

	b.AddMacro("update_cr0", &isa.Program{
		Params: []string{"result"},
		Body: []isa.Stmt{
			&isa.Assign{
				Targets: []isa.LValue{&isa.LocalTarget{Name: "v"}},
				RHS:     &isa.Slice{X: &isa.Ref{Name: "result"}, Offset: 32, Length: 32, Signed: true},
			},
			setCR0("LT", bin(isa.OpLt, &isa.Ref{Name: "v"}, lit(0))),
			setCR0("GT", bin(isa.OpGt, &isa.Ref{Name: "v"}, lit(0))),
			setCR0("EQ", bin(isa.OpEq, &isa.Ref{Name: "v"}, lit(0))),
			setCR0("SO", &isa.RegExpr{Ref: &isa.RegNamed{Name: "XER.SO"}}),
		},
	})
	b.AddMacro("divmod_store", &isa.Program{
		Params: []string{"n", "d"},
		Body: []isa.Stmt{
			&isa.Assign{
				Targets: []isa.LValue{
					&isa.RegTarget{Ref: &isa.RegNamed{Name: "GPR6"}},
					&isa.RegTarget{Ref: &isa.RegNamed{Name: "GPR7"}},
				},
				RHS: &isa.HostCall{
					Name: "divmod",
					Args: []isa.Expr{&isa.Ref{Name: "n"}, &isa.Ref{Name: "d"}},
				},
			},
		},
	})
	b.AddMacro("partial", &isa.Program{
		Body: []isa.Stmt{
			&isa.Assign{
				Targets: []isa.LValue{&isa.RegTarget{Ref: &isa.RegNamed{Name: "GPR5"}}},
				RHS:     lit(1),
			},
			&isa.Assign{
				Targets: []isa.LValue{&isa.LocalTarget{Name: "x"}},
				RHS:     bin(isa.OpDiv, lit(1), lit(0)),
			},
		},
	})
	b.AddMacro("probe", &isa.Program{
		Body: []isa.Stmt{&isa.ExprStmt{X: &isa.HostCall{Name: "observe"}}},
	})

	regOps := []isa.OperandDef{
		{Name: "rt", Field: bitfield.Field{{Offset: 6, Length: 5}}, Role: isa.RoleRegister, Class: "GPR"},
		{Name: "ra", Field: bitfield.Field{{Offset: 11, Length: 5}}, Role: isa.RoleRegister, Class: "GPR"},
		{Name: "rb", Field: bitfield.Field{{Offset: 16, Length: 5}}, Role: isa.RoleRegister, Class: "GPR"},
	}

	add := b.AddInstruction(isa.Instruction{
		Name:     "add",
		Operands: regOps,
		Semantics: &isa.Program{
			Params: []string{"rt", "ra", "rb"},
			Body: []isa.Stmt{
				&isa.Assign{
					Targets: []isa.LValue{&isa.LocalTarget{Name: "result"}},
					RHS:     bin(isa.OpAdd, gpr("ra"), gpr("rb")),
				},
				&isa.Assign{
					Targets: []isa.LValue{
						&isa.RegTarget{Ref: &isa.RegIndexed{Class: "GPR", Index: &isa.Ref{Name: "rt"}}},
					},
					RHS: &isa.Ref{Name: "result"},
				},
			},
		},
	})

	// The dot form reuses add as a subroutine; the result local it
	// binds stays visible here and feeds the CR0 update.
	addDot := b.AddInstruction(isa.Instruction{
		Name:     "add.",
		Operands: regOps,
		Semantics: &isa.Program{
			Params: []string{"rt", "ra", "rb"},
			Body: []isa.Stmt{
				&isa.ExprStmt{X: &isa.InstrCall{Name: "add", Args: []isa.Expr{
					&isa.Ref{Name: "rt"}, &isa.Ref{Name: "ra"}, &isa.Ref{Name: "rb"},
				}}},
				&isa.ExprStmt{X: &isa.MacroCall{
					Name: "update_cr0",
					Args: []isa.Expr{&isa.Ref{Name: "result"}},
				}},
			},
		},
	})

	ba := b.AddInstruction(isa.Instruction{
		Name: "ba",
		Operands: []isa.OperandDef{
			{Name: "li", Field: bitfield.Field{{Offset: 6, Length: 24}}, Role: isa.RoleAddress},
		},
		Semantics: &isa.Program{
			Params: []string{"li"},
			Body: []isa.Stmt{
				&isa.Assign{
					Targets: []isa.LValue{&isa.RegTarget{Ref: &isa.RegNamed{Name: "PC"}}},
					RHS:     bin(isa.OpShl, &isa.Ref{Name: "li"}, lit(2)),
				},
			},
		},
	})

	tw := b.AddInstruction(isa.Instruction{Name: "tw", Operands: regOps})

	b.AddPattern(w32, root, 0xFC0007FF, 0x7C000214, 0, isa.LeafInstr{Instr: add})
	b.AddPattern(w32, root, 0xFC0007FF, 0x7C000215, 0, isa.LeafInstr{Instr: addDot})
	b.AddPattern(w32, root, 0xFC000003, 0x48000002, 0, isa.LeafInstr{Instr: ba})
	b.AddPattern(w32, root, 0xFC0007FE, 0x7C000008, 0, isa.LeafInstr{Instr: tw})

	desc, err := b.Build()
	Expect(err).To(BeNil())
	return desc
}

func storeWord(bridge *access.Bridge, addr uint64, word uint32) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], word)
	Expect(bridge.WriteBytes(powerMem, addr, buf[:], nil)).To(Succeed())
}

func setReg(m *emu.Machine, path string, v uint64) {
	Expect(m.WriteRegister(path, v)).To(Succeed())
}

func regValue(m *emu.Machine, path string) uint64 {
	v, err := m.ReadRegister(path)
	Expect(err).To(BeNil())
	return v
}

var _ = Describe("Machine", func() {
	var (
		desc    *isa.Description
		bridge  *access.Bridge
		machine *emu.Machine
	)

	BeforeEach(func() {
		desc = buildPowerISA()
		var err error
		bridge, err = access.New(access.DefaultConfig(), access.DevicesFor(desc)...)
		Expect(err).To(BeNil())
		machine = emu.NewMachine(desc, bridge)
	})

	decodeAt := func(pc uint64) *decode.DecodedInstruction {
		dec := decode.NewDecoder(desc, decode.NewBridgeSource(bridge, powerMem))
		di, err := dec.Decode(pc)
		Expect(err).To(BeNil())
		return di
	}

	It("should execute add", func() {
		storeWord(bridge, 0, 0x7C632214) // add r3,r3,r4
		setReg(machine, "GPR3", 5)
		setReg(machine, "GPR4", 7)

		di := decodeAt(0)
		Expect(di.Mnemonic).To(Equal("add"))
		Expect(di.String()).To(Equal("add GPR[3], GPR[3], GPR[4]"))

		res := machine.Execute(di)
		Expect(res.Err).To(BeNil())
		Expect(res.State).To(Equal(emu.StateCompleted))
		Expect(regValue(machine, "GPR3")).To(Equal(uint64(12)))
		Expect(regValue(machine, "CR")).To(Equal(uint64(0)))
		Expect(machine.Stats().Executed).To(Equal(uint64(1)))
	})

	It("should record a positive add. result in CR0", func() {
		storeWord(bridge, 0, 0x7C632215) // add. r3,r3,r4
		setReg(machine, "GPR3", 5)
		setReg(machine, "GPR4", 7)

		res := machine.Execute(decodeAt(0))
		Expect(res.Err).To(BeNil())

		Expect(regValue(machine, "GPR3")).To(Equal(uint64(12)))
		Expect(regValue(machine, "CR")).To(Equal(uint64(0x40000000)))
		Expect(regValue(machine, "CR0")).To(Equal(uint64(0x4)))
		Expect(regValue(machine, "CR0.GT")).To(Equal(uint64(1)))
		Expect(regValue(machine, "CR0.LT")).To(Equal(uint64(0)))

		stats := machine.Stats()
		Expect(stats.InstrCalls).To(Equal(uint64(1)))
		Expect(stats.MacroCalls).To(Equal(uint64(1)))
	})

	It("should record a negative add. result and mirror the summary overflow", func() {
		storeWord(bridge, 0, 0x7C632215)
		setReg(machine, "GPR3", 0xFFFFFFF8)
		setReg(machine, "GPR4", 3)
		setReg(machine, "XER.SO", 1)

		res := machine.Execute(decodeAt(0))
		Expect(res.Err).To(BeNil())

		Expect(regValue(machine, "GPR3")).To(Equal(uint64(0xFFFFFFFB)))
		Expect(regValue(machine, "CR")).To(Equal(uint64(0x90000000)))
		Expect(regValue(machine, "CR0.LT")).To(Equal(uint64(1)))
		Expect(regValue(machine, "CR0.SO")).To(Equal(uint64(1)))
	})

	It("should record a zero add. result", func() {
		storeWord(bridge, 0, 0x7C632215)
		setReg(machine, "GPR3", 5)
		setReg(machine, "GPR4", 0xFFFFFFFB)

		res := machine.Execute(decodeAt(0))
		Expect(res.Err).To(BeNil())

		Expect(regValue(machine, "GPR3")).To(Equal(uint64(0)))
		Expect(regValue(machine, "CR")).To(Equal(uint64(0x20000000)))
	})

	It("should fail an instruction with no semantics", func() {
		storeWord(bridge, 0, 0x7C000008) // tw
		di := decodeAt(0)
		Expect(di.Mnemonic).To(Equal("tw"))

		res := machine.Execute(di)
		Expect(res.State).To(Equal(emu.StateFailed))
		Expect(res.Err).To(MatchError(ContainSubstring("no semantics")))
		Expect(machine.State()).To(Equal(emu.StateFailed))
		Expect(machine.Stats().Failed).To(Equal(uint64(1)))
	})

	It("should keep effects committed before a failure", func() {
		res := machine.RunMacro("partial")

		Expect(res.State).To(Equal(emu.StateFailed))
		Expect(res.Err).To(MatchError(ContainSubstring("division by zero")))
		Expect(regValue(machine, "GPR5")).To(Equal(uint64(1)))
	})

	It("should expose the run lifecycle", func() {
		Expect(machine.State()).To(Equal(emu.StateIdle))
		Expect(machine.State().String()).To(Equal("idle"))

		var during []emu.RunState
		host := emu.NewSoftwareHost()
		host.Register("observe", func(args []emu.Value) (emu.Value, error) {
			during = append(during, machine.State())
			return emu.TupleValue(), nil
		})
		machine = emu.NewMachine(desc, bridge, emu.WithHostServices(host))

		res := machine.RunMacro("probe")
		Expect(res.Err).To(BeNil())
		Expect(during).To(Equal([]emu.RunState{emu.StateRunning}))
		Expect(machine.State()).To(Equal(emu.StateCompleted))
		Expect(machine.Stats().HostCalls).To(Equal(uint64(1)))
	})

	It("should run description macros directly", func() {
		res := machine.RunMacro("update_cr0", emu.UnsignedValue(0))

		Expect(res.Err).To(BeNil())
		Expect(regValue(machine, "CR0.EQ")).To(Equal(uint64(1)))
	})

	It("should reject macro runs with the wrong arity", func() {
		res := machine.RunMacro("update_cr0")

		var am *emu.ArityMismatch
		Expect(errors.As(res.Err, &am)).To(BeTrue())
		Expect(am.Expected).To(Equal(1))
		Expect(am.Got).To(Equal(0))
	})

	It("should reject unknown macros", func() {
		res := machine.RunMacro("dcbz")

		Expect(res.State).To(Equal(emu.StateFailed))
		Expect(res.Err).To(MatchError(ContainSubstring(`unknown macro "dcbz"`)))
	})

	It("should unpack host results into registers", func() {
		res := machine.RunMacro("divmod_store",
			emu.UnsignedValue(22), emu.UnsignedValue(5))

		Expect(res.Err).To(BeNil())
		Expect(regValue(machine, "GPR6")).To(Equal(uint64(4)))
		Expect(regValue(machine, "GPR7")).To(Equal(uint64(2)))
	})

	It("should truncate register writes to the register width", func() {
		setReg(machine, "GPR3", 0x1FFFFFFFF)
		Expect(regValue(machine, "GPR3")).To(Equal(uint64(0xFFFFFFFF)))
	})

	It("should invoke the instruction hook after commit", func() {
		storeWord(bridge, 0, 0x7C632214)

		var hooked *decode.DecodedInstruction
		var hookedRes emu.Result
		machine = emu.NewMachine(desc, bridge,
			emu.WithInstructionHook(func(di *decode.DecodedInstruction, res emu.Result) {
				hooked = di
				hookedRes = res
			}))

		machine.Execute(decodeAt(0))
		Expect(hooked).NotTo(BeNil())
		Expect(hooked.Mnemonic).To(Equal("add"))
		Expect(hookedRes.State).To(Equal(emu.StateCompleted))
	})

	It("should stop runaway recursion", func() {
		b := isa.NewBuilder()
		b.AddSizeClass(8)
		b.AddGroup("main")
		nop := b.AddInstruction(isa.Instruction{Name: "nop"})
		b.AddPattern(0, 0, 0, 0, 0, isa.LeafInstr{Instr: nop})
		b.AddMacro("spin", &isa.Program{
			Body: []isa.Stmt{&isa.ExprStmt{X: &isa.MacroCall{Name: "spin"}}},
		})
		spinDesc, err := b.Build()
		Expect(err).To(BeNil())

		m := emu.NewMachine(spinDesc, nil, emu.WithCallDepthLimit(8))
		res := m.RunMacro("spin")

		var rl *emu.RecursionLimit
		Expect(errors.As(res.Err, &rl)).To(BeTrue())
		Expect(rl.Depth).To(Equal(9))
	})

	It("should reset statistics", func() {
		machine.RunMacro("partial")
		Expect(machine.Stats().Failed).To(Equal(uint64(1)))

		machine.ResetStats()
		Expect(machine.Stats()).To(Equal(emu.Statistics{}))
	})
})

var _ = Describe("Core", func() {
	var (
		bridge  *access.Bridge
		machine *emu.Machine
		decoder *decode.Decoder
	)

	BeforeEach(func() {
		desc := buildPowerISA()
		var err error
		bridge, err = access.New(access.DefaultConfig(), access.DevicesFor(desc)...)
		Expect(err).To(BeNil())
		machine = emu.NewMachine(desc, bridge)
		decoder = decode.NewDecoder(desc, decode.NewBridgeSource(bridge, powerMem))
	})

	It("should step sequentially and follow branches", func() {
		storeWord(bridge, 0x00, 0x7C632214) // add r3,r3,r4
		storeWord(bridge, 0x04, 0x48000022) // ba 0x20
		storeWord(bridge, 0x20, 0x7C632215) // add. r3,r3,r4
		setReg(machine, "GPR3", 5)
		setReg(machine, "GPR4", 7)

		core, err := emu.NewCore(machine, decoder, emu.WithPCRegister("PC"))
		Expect(err).To(BeNil())

		di, res := core.Step()
		Expect(res.Err).To(BeNil())
		Expect(di.Mnemonic).To(Equal("add"))
		Expect(core.PC()).To(Equal(uint64(0x04)))

		di, res = core.Step()
		Expect(res.Err).To(BeNil())
		Expect(di.Mnemonic).To(Equal("ba"))
		Expect(core.PC()).To(Equal(uint64(0x20)))

		di, res = core.Step()
		Expect(res.Err).To(BeNil())
		Expect(di.Mnemonic).To(Equal("add."))
		Expect(core.PC()).To(Equal(uint64(0x24)))

		Expect(regValue(machine, "GPR3")).To(Equal(uint64(19)))
		Expect(regValue(machine, "CR0.GT")).To(Equal(uint64(1)))
		Expect(core.InstructionCount()).To(Equal(uint64(3)))
	})

	It("should run until decode fails past the program", func() {
		storeWord(bridge, 0x00, 0x7C632214)
		storeWord(bridge, 0x04, 0x48000022)
		storeWord(bridge, 0x20, 0x7C632215)
		setReg(machine, "GPR3", 5)
		setReg(machine, "GPR4", 7)

		core, err := emu.NewCore(machine, decoder, emu.WithPCRegister("PC"))
		Expect(err).To(BeNil())

		stepped, err := core.Run()
		Expect(stepped).To(Equal(uint64(3)))

		var nm *decode.NoMatch
		Expect(errors.As(err, &nm)).To(BeTrue())
		Expect(nm.PC).To(Equal(uint64(0x24)))
	})

	It("should honor the instruction limit", func() {
		storeWord(bridge, 0x00, 0x48000002) // ba 0x0: branch to self

		core, err := emu.NewCore(machine, decoder,
			emu.WithPCRegister("PC"), emu.WithMaxInstructions(5))
		Expect(err).To(BeNil())

		stepped, err := core.Run()
		Expect(err).To(BeNil())
		Expect(stepped).To(Equal(uint64(5)))
		Expect(core.PC()).To(Equal(uint64(0)))
	})

	It("should advance sequentially without a pc register", func() {
		storeWord(bridge, 0x00, 0x7C632214)

		core, err := emu.NewCore(machine, decoder)
		Expect(err).To(BeNil())

		_, res := core.Step()
		Expect(res.Err).To(BeNil())
		Expect(core.PC()).To(Equal(uint64(0x04)))
	})

	It("should resume from an explicit pc", func() {
		storeWord(bridge, 0x20, 0x7C632215)

		core, err := emu.NewCore(machine, decoder, emu.WithPCRegister("PC"))
		Expect(err).To(BeNil())

		core.SetPC(0x20)
		di, res := core.Step()
		Expect(res.Err).To(BeNil())
		Expect(di.PC).To(Equal(uint64(0x20)))
	})

	It("should report decode failures as failed results", func() {
		core, err := emu.NewCore(machine, decoder)
		Expect(err).To(BeNil())

		di, res := core.Step()
		Expect(di).To(BeNil())
		Expect(res.State).To(Equal(emu.StateFailed))

		var nm *decode.NoMatch
		Expect(errors.As(res.Err, &nm)).To(BeTrue())
	})

	It("should reject an unknown pc register", func() {
		_, err := emu.NewCore(machine, decoder, emu.WithPCRegister("EIP"))
		Expect(err).To(HaveOccurred())
	})
})
