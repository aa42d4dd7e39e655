// Package loader reads machine descriptions from their JSON
// interchange form and assembles them through isa.Builder, so a loaded
// description passes exactly the structural checks a hand-assembled one
// does.
//
// Wide bit patterns (masks, match values, integer literals) are JSON
// strings in Go literal syntax ("0xFC0007FF"), keeping them exact
// beyond the 53-bit precision of JSON numbers. Small structural
// numbers (offsets, lengths, widths) are plain JSON numbers.
package loader

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/isa"
)

type descriptionJSON struct {
	InstructionOrder string            `json:"instruction_order,omitempty"`
	SizeClasses      []uint            `json:"size_classes"`
	Groups           []string          `json:"groups"`
	TimingClasses    []string          `json:"timing_classes,omitempty"`
	Devices          []deviceJSON      `json:"devices,omitempty"`
	Registers        []registerJSON    `json:"registers,omitempty"`
	Classes          []classJSON       `json:"classes,omitempty"`
	Instructions     []instructionJSON `json:"instructions,omitempty"`
	Macros           []macroJSON       `json:"macros,omitempty"`
	Tables           []tableJSON       `json:"tables"`
}

type deviceJSON struct {
	Name  string `json:"name"`
	Size  uint64 `json:"size"`
	Order string `json:"order,omitempty"`
}

type registerJSON struct {
	Name       string         `json:"name"`
	Device     string         `json:"device,omitempty"`
	ByteOffset uint64         `json:"byte_offset,omitempty"`
	Bits       uint           `json:"bits,omitempty"`
	Subfields  []subfieldJSON `json:"subfields,omitempty"`
	Redirect   *redirectJSON  `json:"redirect,omitempty"`
}

type subfieldJSON struct {
	Name   string `json:"name"`
	Offset uint   `json:"offset"`
	Length uint   `json:"length"`
}

type redirectJSON struct {
	Target string     `json:"target"`
	Range  *rangeJSON `json:"range,omitempty"`
}

type rangeJSON struct {
	Offset uint `json:"offset"`
	Length uint `json:"length"`
}

type classJSON struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type instructionJSON struct {
	Name      string        `json:"name"`
	Operands  []operandJSON `json:"operands,omitempty"`
	Lift      []liftOpJSON  `json:"lift,omitempty"`
	Timing    string        `json:"timing,omitempty"`
	Semantics *programJSON  `json:"semantics,omitempty"`
}

type operandJSON struct {
	Name  string      `json:"name"`
	Field []rangeJSON `json:"field"`
	Role  string      `json:"role"`
	Class string      `json:"class,omitempty"`
}

// liftOpJSON is one templated micro-operation. Each argument carries
// exactly one of "slot" and "const".
type liftOpJSON struct {
	Name string        `json:"name"`
	Args []liftArgJSON `json:"args,omitempty"`
}

type liftArgJSON struct {
	Slot  *int    `json:"slot,omitempty"`
	Const *string `json:"const,omitempty"`
}

type programJSON struct {
	Params []string          `json:"params,omitempty"`
	Body   []json.RawMessage `json:"body"`
}

type macroJSON struct {
	Name   string            `json:"name"`
	Params []string          `json:"params,omitempty"`
	Body   []json.RawMessage `json:"body"`
}

type tableJSON struct {
	SizeClass int           `json:"size_class"`
	Group     string        `json:"group"`
	Patterns  []patternJSON `json:"patterns"`
}

// patternJSON is one decode table entry. Each entry carries exactly one
// of "instr" and "extend".
type patternJSON struct {
	Mask     string      `json:"mask"`
	Value    string      `json:"value"`
	Priority int         `json:"priority,omitempty"`
	Instr    string      `json:"instr,omitempty"`
	Extend   *extendJSON `json:"extend,omitempty"`
}

type extendJSON struct {
	SizeClass int    `json:"size_class"`
	Group     string `json:"group"`
}

var roleNames = map[string]isa.Role{
	"register":     isa.RoleRegister,
	"signed-imm":   isa.RoleSignedImm,
	"unsigned-imm": isa.RoleUnsignedImm,
	"address":      isa.RoleAddress,
}

// Load reads the JSON machine description at path and builds it.
func Load(path string) (*isa.Description, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open description file: %w", err)
	}
	defer func() { _ = f.Close() }()

	desc, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

// Decode parses a JSON machine description from r and builds it.
// Unknown fields are rejected to catch typos in handwritten
// descriptions; nodes inside semantic program bodies are checked by
// their "kind" instead.
func Decode(r io.Reader) (*isa.Description, error) {
	var doc descriptionJSON
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse description: %w", err)
	}
	return assemble(&doc)
}

func assemble(doc *descriptionJSON) (*isa.Description, error) {
	b := isa.NewBuilder()

	if doc.InstructionOrder != "" {
		order, err := parseOrder(doc.InstructionOrder)
		if err != nil {
			return nil, fmt.Errorf("instruction_order: %w", err)
		}
		b.SetInstructionOrder(order)
	}

	for _, bits := range doc.SizeClasses {
		b.AddSizeClass(bits)
	}

	groups := make(map[string]isa.GroupID, len(doc.Groups))
	for _, name := range doc.Groups {
		groups[name] = b.AddGroup(name)
	}

	timings := make(map[string]isa.TimingClassID, len(doc.TimingClasses))
	for _, name := range doc.TimingClasses {
		timings[name] = b.AddTimingClass(name)
	}

	for _, dev := range doc.Devices {
		var order binary.ByteOrder
		if dev.Order != "" {
			var err error
			order, err = parseOrder(dev.Order)
			if err != nil {
				return nil, fmt.Errorf("device %q: %w", dev.Name, err)
			}
		}
		b.AddDevice(isa.DeviceDef{Name: dev.Name, Size: dev.Size, Order: order})
	}

	for _, reg := range doc.Registers {
		b.AddRegister(registerDef(reg))
	}

	for _, c := range doc.Classes {
		b.AddClass(c.Name, c.Members...)
	}

	instrs := make(map[string]isa.InstrID, len(doc.Instructions))
	for _, inst := range doc.Instructions {
		def, err := instructionDef(inst, timings)
		if err != nil {
			return nil, err
		}
		instrs[inst.Name] = b.AddInstruction(def)
	}

	for _, m := range doc.Macros {
		prog, err := decodeProgram(m.Params, m.Body)
		if err != nil {
			return nil, fmt.Errorf("macro %q: %w", m.Name, err)
		}
		b.AddMacro(m.Name, prog)
	}

	for _, t := range doc.Tables {
		group, ok := groups[t.Group]
		if !ok {
			return nil, fmt.Errorf("table references unknown group %q", t.Group)
		}
		for _, p := range t.Patterns {
			err := addPattern(b, isa.SizeClass(t.SizeClass), group, p, groups, instrs)
			if err != nil {
				return nil, fmt.Errorf("table (size class %d, group %q): %w",
					t.SizeClass, t.Group, err)
			}
		}
	}

	return b.Build()
}

func registerDef(reg registerJSON) isa.RegisterDef {
	def := isa.RegisterDef{
		Name:       reg.Name,
		Device:     reg.Device,
		ByteOffset: reg.ByteOffset,
		Bits:       reg.Bits,
	}
	for _, sf := range reg.Subfields {
		def.Subfields = append(def.Subfields, isa.SubfieldDef{
			Name:   sf.Name,
			Offset: sf.Offset,
			Length: sf.Length,
		})
	}
	if reg.Redirect != nil {
		def.Redirect = &isa.RedirectDef{Target: reg.Redirect.Target}
		if r := reg.Redirect.Range; r != nil {
			def.Redirect.Range = &bitfield.Range{Offset: r.Offset, Length: r.Length}
		}
	}
	return def
}

func instructionDef(
	inst instructionJSON,
	timings map[string]isa.TimingClassID,
) (isa.Instruction, error) {
	def := isa.Instruction{Name: inst.Name}

	for _, op := range inst.Operands {
		role, ok := roleNames[op.Role]
		if !ok {
			return def, fmt.Errorf("instruction %q operand %q: unknown role %q",
				inst.Name, op.Name, op.Role)
		}
		field := make(bitfield.Field, len(op.Field))
		for i, r := range op.Field {
			field[i] = bitfield.Range{Offset: r.Offset, Length: r.Length}
		}
		def.Operands = append(def.Operands, isa.OperandDef{
			Name:  op.Name,
			Field: field,
			Role:  role,
			Class: op.Class,
		})
	}

	for _, op := range inst.Lift {
		tmpl, err := liftOp(op)
		if err != nil {
			return def, fmt.Errorf("instruction %q: %w", inst.Name, err)
		}
		def.Lift = append(def.Lift, tmpl)
	}

	if inst.Timing != "" {
		tc, ok := timings[inst.Timing]
		if !ok {
			return def, fmt.Errorf("instruction %q: unknown timing class %q",
				inst.Name, inst.Timing)
		}
		def.Timing = tc
	}

	if inst.Semantics != nil {
		prog, err := decodeProgram(inst.Semantics.Params, inst.Semantics.Body)
		if err != nil {
			return def, fmt.Errorf("instruction %q semantics: %w", inst.Name, err)
		}
		def.Semantics = prog
	}

	return def, nil
}

func liftOp(op liftOpJSON) (isa.OpTemplate, error) {
	tmpl := isa.OpTemplate{Name: op.Name}
	for i, a := range op.Args {
		switch {
		case a.Slot != nil && a.Const == nil:
			tmpl.Args = append(tmpl.Args, isa.SlotArg{Slot: *a.Slot})
		case a.Const != nil && a.Slot == nil:
			v, err := parseLit(*a.Const)
			if err != nil {
				return tmpl, fmt.Errorf("lift op %q arg %d: %w", op.Name, i, err)
			}
			tmpl.Args = append(tmpl.Args, isa.ConstArg{Value: int64(v)})
		default:
			return tmpl, fmt.Errorf("lift op %q arg %d: exactly one of slot and const must be set",
				op.Name, i)
		}
	}
	return tmpl, nil
}

func addPattern(
	b *isa.Builder,
	size isa.SizeClass,
	group isa.GroupID,
	p patternJSON,
	groups map[string]isa.GroupID,
	instrs map[string]isa.InstrID,
) error {
	mask, err := parseBits(p.Mask)
	if err != nil {
		return fmt.Errorf("mask: %w", err)
	}
	value, err := parseBits(p.Value)
	if err != nil {
		return fmt.Errorf("value: %w", err)
	}

	var kind isa.PatternKind
	switch {
	case p.Instr != "" && p.Extend != nil:
		return fmt.Errorf("pattern %#x sets both instr and extend", value)
	case p.Instr != "":
		id, ok := instrs[p.Instr]
		if !ok {
			return fmt.Errorf("pattern %#x targets unknown instruction %q", value, p.Instr)
		}
		kind = isa.LeafInstr{Instr: id}
	case p.Extend != nil:
		g, ok := groups[p.Extend.Group]
		if !ok {
			return fmt.Errorf("pattern %#x extends into unknown group %q",
				value, p.Extend.Group)
		}
		kind = isa.ExtendTo{Size: isa.SizeClass(p.Extend.SizeClass), Group: g}
	default:
		return fmt.Errorf("pattern %#x sets neither instr nor extend", value)
	}

	b.AddPattern(size, group, mask, value, p.Priority, kind)
	return nil
}

func parseOrder(s string) (binary.ByteOrder, error) {
	switch s {
	case "big":
		return binary.BigEndian, nil
	case "little":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q, want \"big\" or \"little\"", s)
	}
}

func parseBits(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid bit pattern %q", s)
	}
	return v, nil
}

// parseLit accepts unsigned Go integer literals plus a leading minus
// for two's-complement negatives.
func parseLit(s string) (uint64, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer literal %q", s)
		}
		return uint64(v), nil
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer literal %q", s)
	}
	return v, nil
}
