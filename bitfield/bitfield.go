// Package bitfield provides bit-level field access over byte containers.
//
// Bits are numbered most-significant-first: offset 0 is the most
// significant bit of the first byte of the container. This matches the
// order in which instruction bytes are concatenated during decode, so a
// field description written against an instruction-set manual can be used
// verbatim.
//
// Example usage:
//
//	word := []byte{0x7C, 0x63, 0x22, 0x14}
//	opcd, err := bitfield.Read(word, 0, 6) // bits [0:6) = primary opcode
//	if err != nil {
//		log.Fatal(err)
//	}
package bitfield

// Read extracts length bits starting at offset (most-significant-first)
// from container and returns them right-aligned as an unsigned value.
// A zero-length read returns 0.
func Read(container []byte, offset, length uint) (uint64, error) {
	if err := checkRange(container, offset, length); err != nil {
		return 0, err
	}

	var v uint64
	for i := offset; i < offset+length; i++ {
		bit := (container[i/8] >> (7 - i%8)) & 1
		v = v<<1 | uint64(bit)
	}
	return v, nil
}

// ReadSigned extracts length bits starting at offset and sign-extends
// the result from the field's own most significant bit. A zero-length
// read returns 0.
func ReadSigned(container []byte, offset, length uint) (int64, error) {
	v, err := Read(container, offset, length)
	if err != nil {
		return 0, err
	}
	return SignExtend(v, length), nil
}

// Write stores the low length bits of value into container starting at
// offset, leaving every other bit untouched. The container is not
// modified unless the whole write is valid: a range that does not fit
// fails with OutOfRange, and a value wider than the field fails with
// ValueOverflow. A zero-length write is a no-op.
func Write(container []byte, offset, length uint, value uint64) error {
	if err := checkRange(container, offset, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	if length < 64 && value >= 1<<length {
		return &ValueOverflow{Value: value, Length: length}
	}

	for i := uint(0); i < length; i++ {
		pos := offset + i
		mask := byte(1) << (7 - pos%8)
		if (value>>(length-1-i))&1 != 0 {
			container[pos/8] |= mask
		} else {
			container[pos/8] &^= mask
		}
	}
	return nil
}

// SignExtend interprets the low width bits of v as a two's-complement
// value and extends it to 64 bits. Widths of 0 and 64 return v
// unchanged.
func SignExtend(v uint64, width uint) int64 {
	if width == 0 || width >= 64 {
		return int64(v)
	}
	if v&(1<<(width-1)) != 0 {
		return int64(v | ^uint64(0)<<width)
	}
	return int64(v &^ (^uint64(0) << width))
}

func checkRange(container []byte, offset, length uint) error {
	total := uint(len(container)) * 8
	if length > 64 || offset+length > total {
		return &OutOfRange{Offset: offset, Length: length, ContainerBits: total}
	}
	return nil
}
