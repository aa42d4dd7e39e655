package isa

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
)

// Description is a built machine description. It is immutable and safe
// for concurrent readers; the only internal mutation is the one-shot
// semantic-program validation cache, which synchronizes itself. Values
// handed out by accessors point into the description and must be
// treated as read-only.
type Description struct {
	widths       []uint
	instrOrder   binary.ByteOrder
	groupNames   []string
	tables       map[tableKey]*DecodeTable
	instrs       []*instrRec
	instrByName  map[string]InstrID
	timingNames  []string
	devices      []DeviceDef
	deviceByName map[string]DeviceID
	registers    map[string]*Register
	classes      map[string]*RegisterClass
	macros       map[string]*macroRec
}

type instrRec struct {
	def     Instruction
	compile compileOnce
}

type macroRec struct {
	prog    *Program
	compile compileOnce
}

// compileOnce caches the outcome of a program's first validation.
// Concurrent first uses block until one of them finishes; afterwards
// every use observes the same result without locking.
type compileOnce struct {
	once sync.Once
	err  error
}

// NumSizeClasses returns the number of declared instruction widths.
func (d *Description) NumSizeClasses() int {
	return len(d.widths)
}

// WidthBits returns the chunk width of a size class in bits, or 0 for
// an undeclared class.
func (d *Description) WidthBits(sc SizeClass) uint {
	if int(sc) < 0 || int(sc) >= len(d.widths) {
		return 0
	}
	return d.widths[sc]
}

// ChunkBytes returns the chunk width of a size class in bytes.
func (d *Description) ChunkBytes(sc SizeClass) uint {
	return d.WidthBits(sc) / 8
}

// InstructionOrder is the byte order of stored instruction parcels.
func (d *Description) InstructionOrder() binary.ByteOrder {
	return d.instrOrder
}

// GroupName returns a decode group's declared name.
func (d *Description) GroupName(g GroupID) string {
	if int(g) < 0 || int(g) >= len(d.groupNames) {
		return ""
	}
	return d.groupNames[g]
}

// Table returns the decode table of a (size class, group) pair.
func (d *Description) Table(size SizeClass, group GroupID) (*DecodeTable, bool) {
	t, ok := d.tables[tableKey{size: size, group: group}]
	return t, ok
}

// Tables returns every decode table ordered by size class, then group.
func (d *Description) Tables() []*DecodeTable {
	out := make([]*DecodeTable, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size != out[j].Size {
			return out[i].Size < out[j].Size
		}
		return out[i].Group < out[j].Group
	})
	return out
}

// NumInstructions returns the number of defined instructions.
func (d *Description) NumInstructions() int {
	return len(d.instrs)
}

// Instr returns an instruction definition by handle.
func (d *Description) Instr(id InstrID) (*Instruction, bool) {
	if int(id) < 0 || int(id) >= len(d.instrs) {
		return nil, false
	}
	return &d.instrs[id].def, true
}

// InstrByName looks an instruction up by mnemonic.
func (d *Description) InstrByName(name string) (InstrID, bool) {
	id, ok := d.instrByName[name]
	return id, ok
}

// TimingClassName returns a timing class's declared name.
func (d *Description) TimingClassName(tc TimingClassID) string {
	if int(tc) < 0 || int(tc) >= len(d.timingNames) {
		return ""
	}
	return d.timingNames[tc]
}

// TimingClassNames returns all timing class names in declaration order.
func (d *Description) TimingClassNames() []string {
	return append([]string(nil), d.timingNames...)
}

// NumDevices returns the number of declared devices.
func (d *Description) NumDevices() int {
	return len(d.devices)
}

// Device returns a device declaration by handle.
func (d *Description) Device(id DeviceID) (DeviceDef, bool) {
	if int(id) < 0 || int(id) >= len(d.devices) {
		return DeviceDef{}, false
	}
	return d.devices[id], true
}

// DeviceByName looks a device up by name.
func (d *Description) DeviceByName(name string) (DeviceID, bool) {
	id, ok := d.deviceByName[name]
	return id, ok
}

// Register returns a register by plain name (no subfield path).
func (d *Description) Register(name string) (*Register, bool) {
	r, ok := d.registers[name]
	return r, ok
}

// RegisterNames returns all register names, sorted.
func (d *Description) RegisterNames() []string {
	names := make([]string, 0, len(d.registers))
	for n := range d.registers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveRegister resolves a register path, optionally dotted with a
// subfield ("XER" or "CR0.SO"), to its flattened physical location.
func (d *Description) ResolveRegister(path string) (RegLoc, error) {
	name, sub, hasSub := splitRegName(path)
	reg, ok := d.registers[name]
	if !ok {
		return RegLoc{}, &UnknownRegister{Name: path}
	}
	if !hasSub {
		return reg.Loc, nil
	}
	loc, ok := reg.subLocs[sub]
	if !ok {
		return RegLoc{}, &UnknownRegister{Name: path}
	}
	return loc, nil
}

// Class returns a register class by name.
func (d *Description) Class(name string) (*RegisterClass, bool) {
	c, ok := d.classes[name]
	return c, ok
}

// ClassNames returns all register class names, sorted.
func (d *Description) ClassNames() []string {
	names := make([]string, 0, len(d.classes))
	for n := range d.classes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ClassMember resolves member index of a register class to its
// location.
func (d *Description) ClassMember(class string, index uint64) (RegLoc, error) {
	c, ok := d.classes[class]
	if !ok {
		return RegLoc{}, &UnknownRegister{Name: class}
	}
	if index >= uint64(len(c.Members)) {
		return RegLoc{}, &UnknownRegister{Name: fmt.Sprintf("%s[%d]", class, index)}
	}
	return d.registers[c.Members[index]].Loc, nil
}

// MacroNames returns all macro names, sorted.
func (d *Description) MacroNames() []string {
	names := make([]string, 0, len(d.macros))
	for n := range d.macros {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InstrProgram returns an instruction's semantic program, validating it
// on first use. The validation outcome is cached for the description's
// lifetime.
func (d *Description) InstrProgram(id InstrID) (*Program, error) {
	if int(id) < 0 || int(id) >= len(d.instrs) {
		return nil, fmt.Errorf("instruction %d is not defined", id)
	}
	rec := d.instrs[id]
	if rec.def.Semantics == nil {
		return nil, fmt.Errorf("instruction %q has no semantics", rec.def.Name)
	}
	rec.compile.once.Do(func() {
		if err := d.validateProgram(rec.def.Semantics); err != nil {
			rec.compile.err = fmt.Errorf("failed to compile semantics of %q: %w", rec.def.Name, err)
		}
	})
	if rec.compile.err != nil {
		return nil, rec.compile.err
	}
	return rec.def.Semantics, nil
}

// MacroProgram returns a macro's program, validating it on first use.
func (d *Description) MacroProgram(name string) (*Program, error) {
	rec, ok := d.macros[name]
	if !ok {
		return nil, fmt.Errorf("call to unknown macro %q", name)
	}
	rec.compile.once.Do(func() {
		if err := d.validateProgram(rec.prog); err != nil {
			rec.compile.err = fmt.Errorf("failed to compile macro %q: %w", name, err)
		}
	})
	if rec.compile.err != nil {
		return nil, rec.compile.err
	}
	return rec.prog, nil
}
