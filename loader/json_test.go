package loader_test

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/isasim/access"
	"github.com/sarchlab/isasim/decode"
	"github.com/sarchlab/isasim/emu"
	"github.com/sarchlab/isasim/isa"
	"github.com/sarchlab/isasim/loader"
)

// demoMem is the ID of the second device in demoJSON's declaration
// order.
const demoMem = isa.DeviceID(1)

func decodeString(doc string) error {
	_, err := loader.Decode(strings.NewReader(doc))
	return err
}

var _ = Describe("Decode", func() {
	It("builds a description that decodes and executes", func() {
		desc, err := loader.Decode(strings.NewReader(demoJSON))
		Expect(err).To(BeNil())
		Expect(desc.TimingClassNames()).To(Equal([]string{"alu"}))

		bridge, err := access.New(access.DefaultConfig(), access.DevicesFor(desc)...)
		Expect(err).To(BeNil())
		machine := emu.NewMachine(desc, bridge)
		dec := decode.NewDecoder(desc, decode.NewBridgeSource(bridge, demoMem))

		// inc R2 at 0, addi R1, -5 at 2.
		Expect(bridge.WriteBytes(demoMem, 0, []byte{0x18, 0x00}, nil)).To(Succeed())
		Expect(bridge.WriteBytes(demoMem, 2, []byte{0xF4, 0xFB, 0x00, 0x00}, nil)).To(Succeed())

		di, err := dec.Decode(0)
		Expect(err).To(BeNil())
		Expect(di.SizeBytes).To(Equal(uint(2)))
		Expect(di.String()).To(Equal("inc R[2]"))
		Expect(di.Timing).To(Equal(isa.TimingClassID(0)))
		res := machine.Execute(di)
		Expect(res.Err).To(BeNil())
		Expect(machine.ReadRegister("R2")).To(Equal(uint64(1)))

		Expect(machine.WriteRegister("R1", 5)).To(Succeed())
		di, err = dec.Decode(2)
		Expect(err).To(BeNil())
		Expect(di.SizeBytes).To(Equal(uint(4)))
		Expect(di.String()).To(Equal("addi R[1], -5"))
		res = machine.Execute(di)
		Expect(res.Err).To(BeNil())

		Expect(machine.ReadRegister("R1")).To(Equal(uint64(0)))
		Expect(machine.ReadRegister("FLAGS")).To(Equal(uint64(0x80000000)))
		Expect(machine.ReadRegister("CND")).To(Equal(uint64(2)))
	})

	It("reports JSON syntax errors", func() {
		err := decodeString("{")
		Expect(err).To(MatchError(ContainSubstring("failed to parse description")))
	})

	It("rejects unknown top-level fields", func() {
		err := decodeString(`{"size_clases": [16]}`)
		Expect(err).To(MatchError(ContainSubstring("failed to parse description")))
	})

	It("rejects unknown byte orders", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"devices": [{"name": "mem", "size": 16, "order": "middle"}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring(`unknown byte order "middle"`)))
	})

	It("rejects unknown operand roles", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"instructions": [{
				"name": "j",
				"operands": [{"name": "target", "field": [{"offset": 4, "length": 12}], "role": "destination"}]
			}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring(`operand "target": unknown role "destination"`)))
	})

	It("rejects unknown timing classes", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"instructions": [{"name": "nop", "timing": "vector"}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring(`unknown timing class "vector"`)))
	})

	It("rejects lift arguments that set both slot and const", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"instructions": [{
				"name": "nop",
				"lift": [{"name": "alu_add", "args": [{"slot": 0, "const": "1"}]}]
			}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring("exactly one of slot and const")))
	})

	It("rejects unknown statement kinds", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"macros": [{"name": "m", "body": [{"kind": "goto"}]}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring(`macro "m"`)))
		Expect(err).To(MatchError(ContainSubstring(`unsupported statement kind "goto"`)))
	})

	It("rejects unknown operators", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"macros": [{"name": "m", "body": [{
				"kind": "return",
				"x": {"kind": "bin", "op": "**",
					"l": {"kind": "lit", "value": "2"},
					"r": {"kind": "lit", "value": "3"}}
			}]}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring(`unknown binary operator "**"`)))
	})

	It("rejects malformed integer literals", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"macros": [{"name": "m", "body": [{
				"kind": "return", "x": {"kind": "lit", "value": "0xZZ"}
			}]}],
			"tables": []
		}`)
		Expect(err).To(MatchError(ContainSubstring(`invalid integer literal "0xZZ"`)))
	})

	It("rejects tables in unknown groups", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"tables": [{"size_class": 0, "group": "float", "patterns": []}]
		}`)
		Expect(err).To(MatchError(ContainSubstring(`unknown group "float"`)))
	})

	It("rejects malformed bit patterns", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"tables": [{"size_class": 0, "group": "main", "patterns": [
				{"mask": "0xZZ", "value": "0", "instr": "nop"}
			]}]
		}`)
		Expect(err).To(MatchError(ContainSubstring(`invalid bit pattern "0xZZ"`)))
	})

	It("rejects patterns that name no target", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"tables": [{"size_class": 0, "group": "main", "patterns": [
				{"mask": "0xF000", "value": "0x1000"}
			]}]
		}`)
		Expect(err).To(MatchError(ContainSubstring("sets neither instr nor extend")))
	})

	It("rejects patterns that name two targets", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"tables": [{"size_class": 0, "group": "main", "patterns": [
				{"mask": "0xF000", "value": "0x1000", "instr": "nop",
				 "extend": {"size_class": 1, "group": "main"}}
			]}]
		}`)
		Expect(err).To(MatchError(ContainSubstring("sets both instr and extend")))
	})

	It("rejects patterns that target unknown instructions", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"tables": [{"size_class": 0, "group": "main", "patterns": [
				{"mask": "0xF000", "value": "0x1000", "instr": "mul"}
			]}]
		}`)
		Expect(err).To(MatchError(ContainSubstring(`unknown instruction "mul"`)))
	})

	It("rejects extensions into unknown groups", func() {
		err := decodeString(`{
			"size_classes": [16, 32], "groups": ["main"],
			"tables": [{"size_class": 0, "group": "main", "patterns": [
				{"mask": "0xF000", "value": "0xF000", "extend": {"size_class": 1, "group": "alt"}}
			]}]
		}`)
		Expect(err).To(MatchError(ContainSubstring(`extends into unknown group "alt"`)))
	})

	It("applies the builder's structural checks to loaded descriptions", func() {
		err := decodeString(`{
			"size_classes": [16], "groups": ["main"],
			"instructions": [{"name": "nop"}],
			"tables": [{"size_class": 0, "group": "main", "patterns": [
				{"mask": "0x0F00", "value": "0xF000", "instr": "nop"}
			]}]
		}`)
		Expect(err).To(MatchError(ContainSubstring("bits outside mask")))
	})
})

var _ = Describe("Load", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "loader-test")
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("loads a description from a file", func() {
		path := filepath.Join(tmpDir, "machine.json")
		Expect(os.WriteFile(path, []byte(demoJSON), 0644)).To(Succeed())

		desc, err := loader.Load(path)
		Expect(err).To(BeNil())
		Expect(desc.TimingClassNames()).To(Equal([]string{"alu"}))
	})

	It("fails on missing files", func() {
		_, err := loader.Load(filepath.Join(tmpDir, "absent.json"))
		Expect(err).To(MatchError(ContainSubstring("failed to open description file")))
	})

	It("names the offending file", func() {
		path := filepath.Join(tmpDir, "broken.json")
		Expect(os.WriteFile(path, []byte("{"), 0644)).To(Succeed())

		_, err := loader.Load(path)
		Expect(err).To(MatchError(ContainSubstring("broken.json")))
	})
})

// demoJSON is a two-stage description: 16-bit root patterns, one of
// which extends into a 32-bit table. addi routes its result through the
// set_flags macro, so loading exercises registers, subfields, a
// redirect, indexed register classes, and macro calls.
const demoJSON = `{
	"instruction_order": "big",
	"size_classes": [16, 32],
	"groups": ["main", "wide"],
	"timing_classes": ["alu"],
	"devices": [
		{"name": "regs", "size": 64, "order": "big"},
		{"name": "mem", "size": 256, "order": "big"}
	],
	"registers": [
		{"name": "R0", "device": "regs", "byte_offset": 0, "bits": 32},
		{"name": "R1", "device": "regs", "byte_offset": 4, "bits": 32},
		{"name": "R2", "device": "regs", "byte_offset": 8, "bits": 32},
		{"name": "R3", "device": "regs", "byte_offset": 12, "bits": 32},
		{"name": "FLAGS", "device": "regs", "byte_offset": 16, "bits": 32,
		 "subfields": [
			{"name": "Z", "offset": 0, "length": 1},
			{"name": "N", "offset": 1, "length": 1}
		 ]},
		{"name": "CND", "redirect": {"target": "FLAGS", "range": {"offset": 0, "length": 2}}}
	],
	"classes": [
		{"name": "R", "members": ["R0", "R1", "R2", "R3"]}
	],
	"instructions": [
		{
			"name": "inc",
			"operands": [
				{"name": "rd", "field": [{"offset": 4, "length": 2}], "role": "register", "class": "R"}
			],
			"timing": "alu",
			"semantics": {
				"params": ["rd"],
				"body": [
					{"kind": "assign",
					 "targets": [{"kind": "reg", "ref": {"kind": "indexed", "class": "R", "index": {"kind": "ref", "name": "rd"}}}],
					 "rhs": {"kind": "bin", "op": "+",
						"l": {"kind": "reg", "ref": {"kind": "indexed", "class": "R", "index": {"kind": "ref", "name": "rd"}}},
						"r": {"kind": "lit", "value": "1"}}}
				]
			}
		},
		{
			"name": "addi",
			"operands": [
				{"name": "rd", "field": [{"offset": 4, "length": 2}], "role": "register", "class": "R"},
				{"name": "imm", "field": [{"offset": 8, "length": 8}], "role": "signed-imm"}
			],
			"timing": "alu",
			"semantics": {
				"params": ["rd", "imm"],
				"body": [
					{"kind": "assign",
					 "targets": [{"kind": "local", "name": "sum"}],
					 "rhs": {"kind": "bin", "op": "+",
						"l": {"kind": "reg", "ref": {"kind": "indexed", "class": "R", "index": {"kind": "ref", "name": "rd"}}},
						"r": {"kind": "ref", "name": "imm"}}},
					{"kind": "assign",
					 "targets": [{"kind": "reg", "ref": {"kind": "indexed", "class": "R", "index": {"kind": "ref", "name": "rd"}}}],
					 "rhs": {"kind": "ref", "name": "sum"}},
					{"kind": "expr",
					 "x": {"kind": "macro", "name": "set_flags", "args": [{"kind": "ref", "name": "sum"}]}}
				]
			}
		}
	],
	"macros": [
		{
			"name": "set_flags",
			"params": ["v"],
			"body": [
				{"kind": "assign",
				 "targets": [{"kind": "reg", "ref": {"kind": "named", "name": "FLAGS.Z"}}],
				 "rhs": {"kind": "bin", "op": "==",
					"l": {"kind": "slice", "x": {"kind": "ref", "name": "v"}, "offset": 32, "length": 32},
					"r": {"kind": "lit", "value": "0"}}},
				{"kind": "assign",
				 "targets": [{"kind": "reg", "ref": {"kind": "named", "name": "FLAGS.N"}}],
				 "rhs": {"kind": "bin", "op": "<",
					"l": {"kind": "slice", "x": {"kind": "ref", "name": "v"}, "offset": 32, "length": 32, "signed": true},
					"r": {"kind": "lit", "value": "0"}}}
			]
		}
	],
	"tables": [
		{"size_class": 0, "group": "main", "patterns": [
			{"mask": "0xF000", "value": "0x1000", "instr": "inc"},
			{"mask": "0xF000", "value": "0xF000", "extend": {"size_class": 1, "group": "wide"}}
		]},
		{"size_class": 1, "group": "wide", "patterns": [
			{"mask": "0xF0000000", "value": "0xF0000000", "instr": "addi"}
		]}
	]
}`
