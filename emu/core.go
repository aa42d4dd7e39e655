package emu

import (
	"fmt"

	"github.com/sarchlab/isasim/decode"
	"github.com/sarchlab/isasim/isa"
)

// Core drives one hart's fetch-decode-execute loop over a machine and
// a decoder.
//
// When the description declares an architectural program-counter
// register, configure it with WithPCRegister: before each instruction
// the core stores the sequential next address there, and afterwards it
// reads the register back, so a program that overwrites it takes a
// branch. Without one the core advances sequentially.
type Core struct {
	machine *Machine
	decoder *decode.Decoder

	pc     uint64
	pcLoc  isa.RegLoc
	hasPC  bool
	pcName string

	instructionCount uint64
	maxInstructions  uint64
}

// CoreOption configures a Core.
type CoreOption func(*Core)

// WithPCRegister names the architectural program-counter register.
func WithPCRegister(name string) CoreOption {
	return func(c *Core) {
		c.pcName = name
	}
}

// WithMaxInstructions bounds Run. A value of 0 means no limit.
func WithMaxInstructions(max uint64) CoreOption {
	return func(c *Core) {
		c.maxInstructions = max
	}
}

// NewCore creates a core stepping the machine over decoded
// instructions.
func NewCore(machine *Machine, decoder *decode.Decoder, opts ...CoreOption) (*Core, error) {
	c := &Core{machine: machine, decoder: decoder}
	for _, opt := range opts {
		opt(c)
	}
	if c.pcName != "" {
		loc, err := machine.Description().ResolveRegister(c.pcName)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pc register: %w", err)
		}
		c.pcLoc = loc
		c.hasPC = true
	}
	return c, nil
}

// Machine returns the core's machine.
func (c *Core) Machine() *Machine {
	return c.machine
}

// Decoder returns the core's decoder.
func (c *Core) Decoder() *decode.Decoder {
	return c.decoder
}

// PC returns the address of the next instruction.
func (c *Core) PC() uint64 {
	return c.pc
}

// SetPC sets the address of the next instruction.
func (c *Core) SetPC(pc uint64) {
	c.pc = pc
}

// InstructionCount returns the number of instructions stepped.
func (c *Core) InstructionCount() uint64 {
	return c.instructionCount
}

// Step decodes and executes one instruction, then advances the PC.
// A decode failure returns a nil instruction and a failed result.
func (c *Core) Step() (*decode.DecodedInstruction, Result) {
	di, err := c.decoder.Decode(c.pc)
	if err != nil {
		return nil, Result{State: StateFailed, Err: err}
	}

	next := c.pc + uint64(di.SizeBytes)
	if c.hasPC {
		if err := c.machine.writeLoc(c.pcLoc, next); err != nil {
			return di, Result{State: StateFailed, Err: err}
		}
	}

	res := c.machine.Execute(di)
	c.instructionCount++
	if res.Err != nil {
		return di, res
	}

	if c.hasPC {
		pc, err := c.machine.readLoc(c.pcLoc)
		if err != nil {
			return di, Result{State: StateFailed, Err: err}
		}
		c.pc = pc
	} else {
		c.pc = next
	}
	return di, res
}

// Run steps until a failure or the instruction limit. It returns the
// number of instructions stepped and the error that stopped the run,
// nil when the limit was reached.
func (c *Core) Run() (uint64, error) {
	var stepped uint64
	for c.maxInstructions == 0 || stepped < c.maxInstructions {
		_, res := c.Step()
		if res.Err != nil {
			return stepped, res.Err
		}
		stepped++
	}
	return stepped, nil
}
