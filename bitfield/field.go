package bitfield

// Range identifies length bits starting at offset, most-significant-first.
type Range struct {
	Offset uint
	Length uint
}

// Field is an ordered list of disjoint bit ranges forming one logical
// value. The first range contributes the most significant bits. A
// single-range field behaves exactly like the package-level functions;
// multi-range fields cover split encodings such as immediates scattered
// across an instruction word.
type Field []Range

// Width returns the total number of bits the field covers.
func (f Field) Width() uint {
	var w uint
	for _, r := range f {
		w += r.Length
	}
	return w
}

// Read gathers the field's ranges from container and concatenates them
// into one right-aligned unsigned value.
func (f Field) Read(container []byte) (uint64, error) {
	if err := f.check(container); err != nil {
		return 0, err
	}

	var v uint64
	for _, r := range f {
		part, err := Read(container, r.Offset, r.Length)
		if err != nil {
			return 0, err
		}
		v = v<<r.Length | part
	}
	return v, nil
}

// ReadSigned gathers the field and sign-extends it from the field's own
// most significant bit.
func (f Field) ReadSigned(container []byte) (int64, error) {
	v, err := f.Read(container)
	if err != nil {
		return 0, err
	}
	return SignExtend(v, f.Width()), nil
}

// Write scatters the low Width() bits of value across the field's
// ranges. Every range is validated before any byte is modified, so a
// failing write leaves the container untouched.
func (f Field) Write(container []byte, value uint64) error {
	if err := f.check(container); err != nil {
		return err
	}
	w := f.Width()
	if w == 0 {
		return nil
	}
	if w < 64 && value >= 1<<w {
		return &ValueOverflow{Value: value, Length: w}
	}

	rem := w
	for _, r := range f {
		rem -= r.Length
		part := value >> rem
		if r.Length < 64 {
			part &= 1<<r.Length - 1
		}
		if err := Write(container, r.Offset, r.Length, part); err != nil {
			return err
		}
	}
	return nil
}

// check validates every range and the combined width up front.
func (f Field) check(container []byte) error {
	for _, r := range f {
		if err := checkRange(container, r.Offset, r.Length); err != nil {
			return err
		}
	}
	if w := f.Width(); w > 64 {
		return &OutOfRange{Offset: f[0].Offset, Length: w, ContainerBits: uint(len(container)) * 8}
	}
	return nil
}
