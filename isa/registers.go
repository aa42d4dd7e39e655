package isa

import (
	"encoding/binary"

	"github.com/sarchlab/isasim/bitfield"
)

// DeviceDef declares one state device: a register bank, a memory, or
// any other byte-addressed store the description's registers live in.
// Order is the device's native byte order; nil defaults to big-endian.
type DeviceDef struct {
	Name  string
	Size  uint64
	Order binary.ByteOrder
}

// RegisterDef declares a register in one of two forms. A physical
// register names its device, byte offset, and width. An alias sets
// Redirect instead and inherits its location from the target; its own
// Subfields still apply, layered on the redirected window.
type RegisterDef struct {
	Name       string
	Device     string
	ByteOffset uint64
	Bits       uint
	Subfields  []SubfieldDef
	Redirect   *RedirectDef
}

// SubfieldDef names a bit range within a register's value, counted from
// the register's most significant bit.
type SubfieldDef struct {
	Name   string
	Offset uint
	Length uint
}

// RedirectDef points an alias at another register, or at a dotted
// subfield such as "CR0.SO". Range optionally narrows the alias to a
// sub-range of the target's value.
type RedirectDef struct {
	Target string
	Range  *bitfield.Range
}

// RegLoc is a fully resolved register location: concrete device
// coordinates with every redirect flattened away. BitOffset counts from
// the most significant bit of the BurstBytes-wide container.
type RegLoc struct {
	Device     DeviceID
	ByteOffset uint64
	BurstBytes uint
	BitOffset  uint
	BitLen     uint
}

// Register is the built form of a register definition.
type Register struct {
	Name      string
	Loc       RegLoc
	Subfields map[string]bitfield.Range

	// subLocs holds each subfield composed onto Loc, precomputed at
	// build time.
	subLocs map[string]RegLoc
}

// RegisterClass is an ordered register list indexed by operand values.
type RegisterClass struct {
	Name    string
	Members []string
}

// narrow composes a sub-range onto a location, keeping the container
// coordinates and shrinking the bit window.
func (l RegLoc) narrow(r bitfield.Range) (RegLoc, bool) {
	if r.Offset+r.Length > l.BitLen {
		return RegLoc{}, false
	}
	l.BitOffset += r.Offset
	l.BitLen = r.Length
	return l, true
}
