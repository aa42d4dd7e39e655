// Package decode turns raw instruction bytes into self-contained
// decoded instructions by walking a description's staged decode tables.
//
// Decoding starts at size class 0, group 0. Each stage fetches enough
// bytes to fill the current chunk width, reverses each fetched parcel
// when the description stores instructions little-endian, and scans the
// stage's table in match order. A leaf match binds operands and
// instantiates the lift template; an extension match fetches the extra
// parcel, keeps the earlier bytes at the most significant end, and
// continues in the wider table.
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/isa"
)

// Statistics holds decoder counters.
type Statistics struct {
	// Decoded counts successfully decoded instructions.
	Decoded uint64
	// Extensions counts width-extension stages taken.
	Extensions uint64
	// Failures counts decodes that returned an error.
	Failures uint64
}

// Decoder decodes instructions from a byte source against one
// description. It is not safe for concurrent use; give each core its
// own decoder.
type Decoder struct {
	desc  *isa.Description
	src   ByteSource
	stats Statistics
}

// NewDecoder creates a decoder reading from src.
func NewDecoder(desc *isa.Description, src ByteSource) *Decoder {
	return &Decoder{desc: desc, src: src}
}

// Stats returns the decoder's counters.
func (d *Decoder) Stats() Statistics {
	return d.stats
}

// ResetStats clears the decoder's counters.
func (d *Decoder) ResetStats() {
	d.stats = Statistics{}
}

// Decode decodes the instruction at pc. A chunk that no pattern
// matches, at any stage, yields a *NoMatch.
func (d *Decoder) Decode(pc uint64) (*DecodedInstruction, error) {
	size := isa.SizeClass(0)
	group := isa.GroupID(0)

	chunk, err := d.fetchParcel(pc, 0, d.desc.ChunkBytes(size))
	if err != nil {
		d.stats.Failures++
		return nil, err
	}

	for {
		value := chunkValue(chunk)
		entry, ok := d.match(size, group, value)
		if !ok {
			d.stats.Failures++
			return nil, &NoMatch{PC: pc, Size: size, Group: group, Bits: value}
		}

		switch kind := entry.Kind.(type) {
		case isa.LeafInstr:
			di, err := d.bind(pc, chunk, value, kind.Instr)
			if err != nil {
				d.stats.Failures++
				return nil, err
			}
			d.stats.Decoded++
			return di, nil
		case isa.ExtendTo:
			n := d.desc.ChunkBytes(kind.Size) - uint(len(chunk))
			parcel, err := d.fetchParcel(pc, uint(len(chunk)), n)
			if err != nil {
				d.stats.Failures++
				return nil, err
			}
			chunk = append(chunk, parcel...)
			size, group = kind.Size, kind.Group
			d.stats.Extensions++
		}
	}
}

// fetchParcel reads the next n instruction bytes, where fetched counts
// the bytes already consumed at pc. Little-endian parcels are
// byte-reversed so the chunk always concatenates MSB first.
func (d *Decoder) fetchParcel(pc uint64, fetched, n uint) ([]byte, error) {
	parcel, err := d.src.ReadRaw(pc+uint64(fetched), n)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %d bytes at %#x: %w",
			n, pc+uint64(fetched), err)
	}
	if d.desc.InstructionOrder() == binary.ByteOrder(binary.LittleEndian) {
		reverseBytes(parcel)
	}
	return parcel, nil
}

// match scans a table in its stored order and returns the first entry
// covering value. A missing table matches nothing.
func (d *Decoder) match(size isa.SizeClass, group isa.GroupID, value uint64) (isa.PatternEntry, bool) {
	table, ok := d.desc.Table(size, group)
	if !ok {
		return isa.PatternEntry{}, false
	}
	for _, e := range table.Entries {
		if value&e.Mask == e.Value {
			return e, true
		}
	}
	return isa.PatternEntry{}, false
}

// bind extracts the matched instruction's operands from the chunk and
// instantiates its lift template.
func (d *Decoder) bind(pc uint64, chunk []byte, value uint64, id isa.InstrID) (*DecodedInstruction, error) {
	inst, ok := d.desc.Instr(id)
	if !ok {
		return nil, fmt.Errorf("pattern names undefined instruction %d", id)
	}

	di := &DecodedInstruction{
		PC:        pc,
		SizeBytes: uint(len(chunk)),
		Bits:      value,
		Instr:     id,
		Mnemonic:  inst.Name,
		Timing:    inst.Timing,
		Operands:  make([]Operand, len(inst.Operands)),
		Ops:       make([]LiftedOp, len(inst.Lift)),
	}

	for i, def := range inst.Operands {
		raw, err := def.Field.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to bind operand %q of %q: %w",
				def.Name, inst.Name, err)
		}
		op := Operand{Name: def.Name, Role: def.Role, Value: raw}
		switch def.Role {
		case isa.RoleSignedImm:
			op.Value = uint64(bitfield.SignExtend(raw, def.Field.Width()))
		case isa.RoleRegister:
			loc, err := d.desc.ClassMember(def.Class, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to bind operand %q of %q: %w",
					def.Name, inst.Name, err)
			}
			op.Class = def.Class
			op.Reg = loc
		}
		di.Operands[i] = op
	}

	for i, t := range inst.Lift {
		op := LiftedOp{Name: t.Name, Args: make([]int64, len(t.Args))}
		for j, arg := range t.Args {
			switch arg := arg.(type) {
			case isa.SlotArg:
				op.Args[j] = int64(di.Operands[arg.Slot].Value)
			case isa.ConstArg:
				op.Args[j] = arg.Value
			}
		}
		di.Ops[i] = op
	}
	return di, nil
}

// chunkValue folds MSB-first chunk bytes into one value.
func chunkValue(chunk []byte) uint64 {
	var v uint64
	for _, b := range chunk {
		v = v<<8 | uint64(b)
	}
	return v
}

func reverseBytes(s []byte) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
