package decode

import (
	"fmt"

	"github.com/sarchlab/isasim/isa"
)

// NoMatch reports that no decode pattern matched a fetched chunk. It
// carries the state of the failed stage: after a width extension, Size,
// Group, and Bits describe the extended chunk, not the initial one.
type NoMatch struct {
	PC    uint64
	Size  isa.SizeClass
	Group isa.GroupID
	Bits  uint64
}

func (e *NoMatch) Error() string {
	return fmt.Sprintf("no pattern matches bits %#x at pc %#x (size class %d, group %d)",
		e.Bits, e.PC, e.Size, e.Group)
}
