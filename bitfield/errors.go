package bitfield

import "fmt"

// OutOfRange reports a bit range that does not fit its container. The
// failed operation had no effect.
type OutOfRange struct {
	// Offset is the first bit of the rejected range.
	Offset uint
	// Length is the number of bits requested.
	Length uint
	// ContainerBits is the size of the container in bits.
	ContainerBits uint
}

func (e *OutOfRange) Error() string {
	return fmt.Sprintf("bit range at offset %d length %d exceeds %d-bit container",
		e.Offset, e.Length, e.ContainerBits)
}

// ValueOverflow reports a write whose value has more significant bits
// than the target field can hold. The container was not modified.
type ValueOverflow struct {
	// Value is the rejected value.
	Value uint64
	// Length is the field width in bits.
	Length uint
}

func (e *ValueOverflow) Error() string {
	return fmt.Sprintf("value %#x does not fit in %d-bit field", e.Value, e.Length)
}
