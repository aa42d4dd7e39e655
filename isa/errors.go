package isa

import (
	"fmt"
	"strings"
)

// AmbiguousPattern reports two or more decode-table entries that share
// an identical (mask, value) pair, which no match order could tell
// apart. Build fails rather than letting declaration order decide.
type AmbiguousPattern struct {
	Size     SizeClass
	Group    GroupID
	Mask     uint64
	Value    uint64
	Patterns []string
}

func (e *AmbiguousPattern) Error() string {
	return fmt.Sprintf("ambiguous pattern mask=%#x value=%#x in table (size %d, group %d): %s",
		e.Mask, e.Value, e.Size, e.Group, strings.Join(e.Patterns, ", "))
}

// UnknownRegister reports a register-space name that the description
// does not define, including class references whose index has no
// member, e.g. "GPR[37]".
type UnknownRegister struct {
	Name string
}

func (e *UnknownRegister) Error() string {
	return fmt.Sprintf("unknown register %q", e.Name)
}
