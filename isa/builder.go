package isa

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sarchlab/isasim/bitfield"
)

// Builder accumulates the raw contents of a machine description and
// turns them into an immutable Description. Add methods only record;
// all structural validation happens in Build, so a description either
// builds completely or not at all.
type Builder struct {
	widths      []uint
	instrOrder  binary.ByteOrder
	groupNames  []string
	tables      map[tableKey][]PatternEntry
	instrs      []Instruction
	timingNames []string
	devices     []DeviceDef
	registers   []RegisterDef
	classes     []RegisterClass
	macros      map[string]*Program
	deferred    []error
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		tables: make(map[tableKey][]PatternEntry),
		macros: make(map[string]*Program),
	}
}

// AddSizeClass declares the next instruction width in bits. Widths must
// be declared in strictly ascending order; the first declared class is
// where decoding starts.
func (b *Builder) AddSizeClass(bits uint) SizeClass {
	b.widths = append(b.widths, bits)
	return SizeClass(len(b.widths) - 1)
}

// AddGroup declares a named decode group. The first declared group is
// the root group of the minimal size class.
func (b *Builder) AddGroup(name string) GroupID {
	b.groupNames = append(b.groupNames, name)
	return GroupID(len(b.groupNames) - 1)
}

// AddPattern appends a match entry to the (size, group) decode table.
// Declaration order is remembered as the final tie breaker.
func (b *Builder) AddPattern(size SizeClass, group GroupID, mask, value uint64, priority int, kind PatternKind) {
	k := tableKey{size: size, group: group}
	b.tables[k] = append(b.tables[k], PatternEntry{
		Mask:     mask,
		Value:    value,
		Priority: priority,
		Kind:     kind,
	})
}

// AddInstruction records an instruction definition and returns its
// handle.
func (b *Builder) AddInstruction(inst Instruction) InstrID {
	b.instrs = append(b.instrs, inst)
	return InstrID(len(b.instrs) - 1)
}

// AddTimingClass declares a named timing class. Descriptions that never
// call this get a single implicit "default" class.
func (b *Builder) AddTimingClass(name string) TimingClassID {
	b.timingNames = append(b.timingNames, name)
	return TimingClassID(len(b.timingNames) - 1)
}

// AddDevice declares a state device and returns its handle.
func (b *Builder) AddDevice(def DeviceDef) DeviceID {
	b.devices = append(b.devices, def)
	return DeviceID(len(b.devices) - 1)
}

// AddRegister records a register definition, physical or alias.
func (b *Builder) AddRegister(def RegisterDef) {
	b.registers = append(b.registers, def)
}

// AddClass declares a register class whose members are indexed by
// register operands in declaration order.
func (b *Builder) AddClass(name string, members ...string) {
	b.classes = append(b.classes, RegisterClass{Name: name, Members: members})
}

// AddMacro registers a named semantic subroutine.
func (b *Builder) AddMacro(name string, prog *Program) {
	if _, ok := b.macros[name]; ok {
		b.deferred = append(b.deferred, fmt.Errorf("macro %q registered twice", name))
		return
	}
	b.macros[name] = prog
}

// SetInstructionOrder declares the byte order of stored instructions.
// Each fetched parcel is normalized to most-significant-first before
// matching. The default is big-endian.
func (b *Builder) SetInstructionOrder(order binary.ByteOrder) {
	b.instrOrder = order
}

// Build validates everything recorded so far and returns the immutable
// description. The first structural problem aborts the build.
func (b *Builder) Build() (*Description, error) {
	if len(b.deferred) > 0 {
		return nil, b.deferred[0]
	}
	if err := b.checkWidths(); err != nil {
		return nil, err
	}
	if len(b.groupNames) == 0 {
		return nil, fmt.Errorf("no decode groups declared")
	}
	if err := b.checkTables(); err != nil {
		return nil, err
	}

	d := &Description{
		widths:       append([]uint(nil), b.widths...),
		instrOrder:   b.instrOrder,
		groupNames:   append([]string(nil), b.groupNames...),
		tables:       make(map[tableKey]*DecodeTable, len(b.tables)),
		instrByName:  make(map[string]InstrID, len(b.instrs)),
		timingNames:  append([]string(nil), b.timingNames...),
		deviceByName: make(map[string]DeviceID, len(b.devices)),
		registers:    make(map[string]*Register, len(b.registers)),
		classes:      make(map[string]*RegisterClass, len(b.classes)),
		macros:       make(map[string]*macroRec, len(b.macros)),
	}
	if d.instrOrder == nil {
		d.instrOrder = binary.BigEndian
	}
	if len(d.timingNames) == 0 {
		d.timingNames = []string{"default"}
	}

	for k, entries := range b.tables {
		sorted := append([]PatternEntry(nil), entries...)
		sort.SliceStable(sorted, func(i, j int) bool {
			si, sj := sorted[i].Specificity(), sorted[j].Specificity()
			if si != sj {
				return si > sj
			}
			return sorted[i].Priority > sorted[j].Priority
		})
		d.tables[k] = &DecodeTable{Size: k.size, Group: k.group, Entries: sorted}
	}
	b.warnUnreachable(d)

	if err := b.buildDevices(d); err != nil {
		return nil, err
	}
	if err := b.buildRegisters(d); err != nil {
		return nil, err
	}
	if err := b.buildClasses(d); err != nil {
		return nil, err
	}
	if err := b.buildInstructions(d); err != nil {
		return nil, err
	}
	for name, prog := range b.macros {
		d.macros[name] = &macroRec{prog: prog}
	}
	return d, nil
}

func (b *Builder) checkWidths() error {
	if len(b.widths) == 0 {
		return fmt.Errorf("no size classes declared")
	}
	for i, w := range b.widths {
		if w == 0 || w%8 != 0 || w > 64 {
			return fmt.Errorf("size class %d: width %d bits is not a whole number of bytes up to 64", i, w)
		}
		if i > 0 && w <= b.widths[i-1] {
			return fmt.Errorf("size class %d: width %d does not increase over %d", i, w, b.widths[i-1])
		}
	}
	return nil
}

func (b *Builder) checkTables() error {
	root := tableKey{size: 0, group: 0}
	if len(b.tables[root]) == 0 {
		return fmt.Errorf("root decode table (size class 0, group %q) is empty", b.groupNames[0])
	}

	for k, entries := range b.tables {
		if int(k.size) < 0 || int(k.size) >= len(b.widths) {
			return fmt.Errorf("decode table references undeclared size class %d", k.size)
		}
		if int(k.group) < 0 || int(k.group) >= len(b.groupNames) {
			return fmt.Errorf("decode table references undeclared group %d", k.group)
		}
		width := b.widths[k.size]

		seen := make(map[[2]uint64]int, len(entries))
		for i, e := range entries {
			if err := b.checkEntry(k, width, e); err != nil {
				return err
			}
			pat := [2]uint64{e.Mask, e.Value}
			if j, dup := seen[pat]; dup {
				return &AmbiguousPattern{
					Size:     k.size,
					Group:    k.group,
					Mask:     e.Mask,
					Value:    e.Value,
					Patterns: []string{b.patternName(entries[j].Kind), b.patternName(e.Kind)},
				}
			}
			seen[pat] = i
		}
	}
	return nil
}

func (b *Builder) checkEntry(k tableKey, width uint, e PatternEntry) error {
	if width < 64 && (e.Mask>>width != 0 || e.Value>>width != 0) {
		return fmt.Errorf("table (size %d, group %s): pattern mask=%#x value=%#x exceeds %d-bit chunk",
			k.size, b.groupNames[k.group], e.Mask, e.Value, width)
	}
	if e.Value&^e.Mask != 0 {
		return fmt.Errorf("table (size %d, group %s): pattern value %#x has bits outside mask %#x",
			k.size, b.groupNames[k.group], e.Value, e.Mask)
	}
	switch kind := e.Kind.(type) {
	case LeafInstr:
		if int(kind.Instr) < 0 || int(kind.Instr) >= len(b.instrs) {
			return fmt.Errorf("table (size %d, group %s): pattern targets undeclared instruction %d",
				k.size, b.groupNames[k.group], kind.Instr)
		}
	case ExtendTo:
		if len(b.tables[tableKey{size: kind.Size, group: kind.Group}]) == 0 {
			return fmt.Errorf("table (size %d, group %s): extension targets missing table (size %d, group %d)",
				k.size, b.groupNames[k.group], kind.Size, kind.Group)
		}
		if int(kind.Size) >= len(b.widths) || b.widths[kind.Size] <= width {
			return fmt.Errorf("table (size %d, group %s): extension does not increase width",
				k.size, b.groupNames[k.group])
		}
	case nil:
		return fmt.Errorf("table (size %d, group %s): pattern mask=%#x has no kind",
			k.size, b.groupNames[k.group], e.Mask)
	default:
		return fmt.Errorf("table (size %d, group %s): unsupported pattern kind %T",
			k.size, b.groupNames[k.group], e.Kind)
	}
	return nil
}

func (b *Builder) patternName(kind PatternKind) string {
	switch k := kind.(type) {
	case LeafInstr:
		if int(k.Instr) >= 0 && int(k.Instr) < len(b.instrs) {
			return b.instrs[k.Instr].Name
		}
		return fmt.Sprintf("instruction %d", k.Instr)
	case ExtendTo:
		return fmt.Sprintf("extend to (size %d, group %d)", k.Size, k.Group)
	default:
		return fmt.Sprintf("%T", kind)
	}
}

// warnUnreachable flags tables no extension chain can reach. They are
// legal, so this is a warning rather than a build failure.
func (b *Builder) warnUnreachable(d *Description) {
	reached := map[tableKey]bool{{size: 0, group: 0}: true}
	queue := []tableKey{{size: 0, group: 0}}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		t := d.tables[k]
		if t == nil {
			continue
		}
		for _, e := range t.Entries {
			if ext, ok := e.Kind.(ExtendTo); ok {
				next := tableKey{size: ext.Size, group: ext.Group}
				if !reached[next] {
					reached[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	for k := range d.tables {
		if !reached[k] {
			slog.Warn("decode table is never referenced",
				"size_class", k.size,
				"group", d.groupNames[k.group])
		}
	}
}

func (b *Builder) buildDevices(d *Description) error {
	for i, dev := range b.devices {
		if dev.Name == "" {
			return fmt.Errorf("device %d has no name", i)
		}
		if _, dup := d.deviceByName[dev.Name]; dup {
			return fmt.Errorf("device %q declared twice", dev.Name)
		}
		if dev.Size == 0 {
			return fmt.Errorf("device %q has zero size", dev.Name)
		}
		if dev.Order == nil {
			dev.Order = binary.BigEndian
		}
		d.devices = append(d.devices, dev)
		d.deviceByName[dev.Name] = DeviceID(i)
	}
	return nil
}

func (b *Builder) buildRegisters(d *Description) error {
	defs := make(map[string]*RegisterDef, len(b.registers))
	for i := range b.registers {
		def := &b.registers[i]
		if def.Name == "" {
			return fmt.Errorf("register %d has no name", i)
		}
		if strings.Contains(def.Name, ".") {
			return fmt.Errorf("register name %q contains %q; dots are reserved for subfield paths", def.Name, ".")
		}
		if _, dup := defs[def.Name]; dup {
			return fmt.Errorf("register %q declared twice", def.Name)
		}
		if (def.Device != "") == (def.Redirect != nil) {
			return fmt.Errorf("register %q must declare exactly one of a device or a redirect", def.Name)
		}
		defs[def.Name] = def
	}

	// maxRedirectHops caps the length of a redirect chain.
	const maxRedirectHops = 8

	var resolve func(name string, visiting map[string]bool) (RegLoc, error)
	resolve = func(name string, visiting map[string]bool) (RegLoc, error) {
		reg, sub, hasSub := splitRegName(name)
		def, ok := defs[reg]
		if !ok {
			return RegLoc{}, fmt.Errorf("redirect target %q is not a declared register", reg)
		}

		var loc RegLoc
		if def.Redirect == nil {
			dev, ok := d.deviceByName[def.Device]
			if !ok {
				return RegLoc{}, fmt.Errorf("register %q placed on undeclared device %q", def.Name, def.Device)
			}
			if def.Bits == 0 {
				return RegLoc{}, fmt.Errorf("register %q has zero width", def.Name)
			}
			burst := (def.Bits + 7) / 8
			if def.ByteOffset+uint64(burst) > d.devices[dev].Size {
				return RegLoc{}, fmt.Errorf("register %q exceeds device %q (%d bytes)",
					def.Name, def.Device, d.devices[dev].Size)
			}
			loc = RegLoc{
				Device:     dev,
				ByteOffset: def.ByteOffset,
				BurstBytes: burst,
				BitLen:     def.Bits,
			}
		} else {
			if visiting[reg] {
				return RegLoc{}, fmt.Errorf("register redirect cycle involving %q", reg)
			}
			if len(visiting) >= maxRedirectHops {
				return RegLoc{}, fmt.Errorf("register redirect chain through %q exceeds %d hops",
					reg, maxRedirectHops)
			}
			visiting[reg] = true
			target, err := resolve(def.Redirect.Target, visiting)
			delete(visiting, reg)
			if err != nil {
				return RegLoc{}, err
			}
			if r := def.Redirect.Range; r != nil {
				narrowed, ok := target.narrow(*r)
				if !ok {
					return RegLoc{}, fmt.Errorf("register %q redirect range [%d,+%d) exceeds target %q",
						def.Name, r.Offset, r.Length, def.Redirect.Target)
				}
				target = narrowed
			}
			if def.Bits != 0 && def.Bits != target.BitLen {
				return RegLoc{}, fmt.Errorf("register %q declares %d bits but redirect resolves to %d",
					def.Name, def.Bits, target.BitLen)
			}
			loc = target
		}

		if hasSub {
			subDef := findSubfield(def.Subfields, sub)
			if subDef == nil {
				return RegLoc{}, fmt.Errorf("register %q has no subfield %q", reg, sub)
			}
			narrowed, ok := loc.narrow(bitfield.Range{Offset: subDef.Offset, Length: subDef.Length})
			if !ok {
				return RegLoc{}, fmt.Errorf("subfield %q.%q exceeds the register's %d bits", reg, sub, loc.BitLen)
			}
			loc = narrowed
		}
		return loc, nil
	}

	for i := range b.registers {
		def := &b.registers[i]
		name := def.Name
		loc, err := resolve(name, map[string]bool{})
		if err != nil {
			return err
		}
		subs := make(map[string]bitfield.Range, len(def.Subfields))
		subLocs := make(map[string]RegLoc, len(def.Subfields))
		for _, s := range def.Subfields {
			if s.Name == "" {
				return fmt.Errorf("register %q has an unnamed subfield", name)
			}
			if _, dup := subs[s.Name]; dup {
				return fmt.Errorf("register %q declares subfield %q twice", name, s.Name)
			}
			subLoc, ok := loc.narrow(bitfield.Range{Offset: s.Offset, Length: s.Length})
			if !ok {
				return fmt.Errorf("subfield %q.%q [%d,+%d) exceeds the register's %d bits",
					name, s.Name, s.Offset, s.Length, loc.BitLen)
			}
			subs[s.Name] = bitfield.Range{Offset: s.Offset, Length: s.Length}
			subLocs[s.Name] = subLoc
		}
		d.registers[name] = &Register{Name: name, Loc: loc, Subfields: subs, subLocs: subLocs}
	}
	return nil
}

func (b *Builder) buildClasses(d *Description) error {
	for _, c := range b.classes {
		if c.Name == "" {
			return fmt.Errorf("register class has no name")
		}
		if _, dup := d.classes[c.Name]; dup {
			return fmt.Errorf("register class %q declared twice", c.Name)
		}
		for _, m := range c.Members {
			if _, ok := d.registers[m]; !ok {
				return fmt.Errorf("register class %q lists unknown register %q", c.Name, m)
			}
		}
		cc := c
		cc.Members = append([]string(nil), c.Members...)
		d.classes[c.Name] = &cc
	}
	return nil
}

func (b *Builder) buildInstructions(d *Description) error {
	for id, inst := range b.instrs {
		if inst.Name == "" {
			return fmt.Errorf("instruction %d has no name", id)
		}
		if _, dup := d.instrByName[inst.Name]; dup {
			return fmt.Errorf("instruction %q declared twice", inst.Name)
		}
		if int(inst.Timing) < 0 || int(inst.Timing) >= len(d.timingNames) {
			return fmt.Errorf("instruction %q references undeclared timing class %d", inst.Name, inst.Timing)
		}

		names := make(map[string]bool, len(inst.Operands))
		for _, op := range inst.Operands {
			if op.Name == "" {
				return fmt.Errorf("instruction %q has an unnamed operand", inst.Name)
			}
			if names[op.Name] {
				return fmt.Errorf("instruction %q declares operand %q twice", inst.Name, op.Name)
			}
			names[op.Name] = true
			if w := op.Field.Width(); w > 64 {
				return fmt.Errorf("instruction %q operand %q is %d bits wide; at most 64 supported",
					inst.Name, op.Name, w)
			}
			if op.Role == RoleRegister {
				if _, ok := d.classes[op.Class]; !ok {
					return fmt.Errorf("instruction %q operand %q references unknown register class %q",
						inst.Name, op.Name, op.Class)
				}
			} else if op.Class != "" {
				return fmt.Errorf("instruction %q operand %q sets a register class but is %s",
					inst.Name, op.Name, op.Role)
			}
		}
		for i, opt := range inst.Lift {
			for _, arg := range opt.Args {
				if slot, ok := arg.(SlotArg); ok {
					if slot.Slot < 0 || slot.Slot >= len(inst.Operands) {
						return fmt.Errorf("instruction %q lift op %d references operand slot %d of %d",
							inst.Name, i, slot.Slot, len(inst.Operands))
					}
				}
			}
		}

		rec := &instrRec{def: inst}
		rec.def.Operands = append([]OperandDef(nil), inst.Operands...)
		rec.def.Lift = append(LiftTemplate(nil), inst.Lift...)
		d.instrs = append(d.instrs, rec)
		d.instrByName[inst.Name] = InstrID(id)
	}
	return nil
}

func splitRegName(name string) (reg, sub string, hasSub bool) {
	reg, sub, hasSub = strings.Cut(name, ".")
	return reg, sub, hasSub
}

func findSubfield(subs []SubfieldDef, name string) *SubfieldDef {
	for i := range subs {
		if subs[i].Name == name {
			return &subs[i]
		}
	}
	return nil
}
