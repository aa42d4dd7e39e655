// Package emu executes decoded instructions by interpreting their
// semantic programs against a description's devices.
package emu

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/isasim/access"
	"github.com/sarchlab/isasim/bitfield"
	"github.com/sarchlab/isasim/decode"
	"github.com/sarchlab/isasim/isa"
)

// RunState is the lifecycle stage of a semantic run.
type RunState int

const (
	// StateIdle means no run is in progress.
	StateIdle RunState = iota
	// StateBound means operands are bound and execution is about to
	// start.
	StateBound
	// StateRunning means statements are executing.
	StateRunning
	// StateCompleted means the last run finished and committed.
	StateCompleted
	// StateFailed means the last run stopped at an error. Effects
	// committed before the error remain; there is no rollback.
	StateFailed
)

// String returns the state name.
func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBound:
		return "bound"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result reports one finished semantic run.
type Result struct {
	// State is StateCompleted or StateFailed.
	State RunState
	// Value is the program's result: its returned value, the value of
	// its last expression statement, or an empty tuple.
	Value Value
	// Err is set when State is StateFailed.
	Err error
}

// InstructionHook observes each whole-instruction execution after its
// effects committed.
type InstructionHook func(di *decode.DecodedInstruction, res Result)

// Statistics holds machine counters.
type Statistics struct {
	Executed   uint64
	Failed     uint64
	HostCalls  uint64
	MacroCalls uint64
	InstrCalls uint64
}

// DefaultCallDepthLimit bounds nested macro and instruction calls.
const DefaultCallDepthLimit = 64

// Machine interprets semantic programs of one description against the
// devices behind an access bridge. Register coordinates address the
// big-endian view of their containers; the bridge converts for
// little-endian devices.
//
// A machine executes one run at a time and is not safe for concurrent
// use.
type Machine struct {
	desc       *isa.Description
	bridge     *access.Bridge
	host       HostServices
	depthLimit int
	hook       InstructionHook

	state RunState
	stats Statistics
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithHostServices sets the host-services collaborator. The default is
// a SoftwareHost with the standard operation set.
func WithHostServices(h HostServices) MachineOption {
	return func(m *Machine) {
		m.host = h
	}
}

// WithCallDepthLimit bounds nested macro and instruction calls.
func WithCallDepthLimit(limit int) MachineOption {
	return func(m *Machine) {
		m.depthLimit = limit
	}
}

// WithInstructionHook registers a callback invoked after every
// executed instruction.
func WithInstructionHook(hook InstructionHook) MachineOption {
	return func(m *Machine) {
		m.hook = hook
	}
}

// NewMachine creates a machine over a description and its devices.
func NewMachine(desc *isa.Description, bridge *access.Bridge, opts ...MachineOption) *Machine {
	m := &Machine{
		desc:       desc,
		bridge:     bridge,
		depthLimit: DefaultCallDepthLimit,
		state:      StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.host == nil {
		m.host = NewSoftwareHost()
	}
	return m
}

// Description returns the machine's description.
func (m *Machine) Description() *isa.Description {
	return m.desc
}

// Bridge returns the machine's access bridge.
func (m *Machine) Bridge() *access.Bridge {
	return m.bridge
}

// State returns the lifecycle stage of the current or most recent run.
func (m *Machine) State() RunState {
	return m.state
}

// Stats returns the machine's counters.
func (m *Machine) Stats() Statistics {
	return m.stats
}

// ResetStats clears the machine's counters.
func (m *Machine) ResetStats() {
	m.stats = Statistics{}
}

// Execute runs a decoded instruction's semantic program. Operand
// values bind by name: register operands as their class index, signed
// immediates sign-extended, other roles zero-extended. Effects commit
// as statements execute; a failed run keeps the effects already
// committed.
func (m *Machine) Execute(di *decode.DecodedInstruction) Result {
	prog, err := m.desc.InstrProgram(di.Instr)
	if err != nil {
		m.state = StateFailed
		return m.finish(di, Result{State: StateFailed, Err: err})
	}

	f := newFrame()
	for _, op := range di.Operands {
		f.locals[op.Name] = operandValue(op)
	}
	m.state = StateBound

	r := &run{m: m}
	m.state = StateRunning
	v, err := r.execProgram(prog, f)

	var res Result
	if err != nil {
		m.state = StateFailed
		res = Result{State: StateFailed, Err: fmt.Errorf("failed to execute %q: %w", di.Mnemonic, err)}
	} else {
		m.state = StateCompleted
		res = Result{State: StateCompleted, Value: v}
	}
	return m.finish(di, res)
}

// RunMacro runs a description macro outside any instruction, binding
// args to the macro's parameters. Useful for reset and initialization
// sequences.
func (m *Machine) RunMacro(name string, args ...Value) Result {
	prog, err := m.desc.MacroProgram(name)
	if err != nil {
		m.state = StateFailed
		return m.finish(nil, Result{State: StateFailed, Err: err})
	}

	f := newFrame()
	if err := bindParams(f, prog.Params, args); err != nil {
		m.state = StateFailed
		return m.finish(nil, Result{State: StateFailed,
			Err: fmt.Errorf("failed to run macro %q: %w", name, err)})
	}
	m.state = StateBound

	r := &run{m: m}
	m.state = StateRunning
	v, err := r.execProgram(prog, f)

	var res Result
	if err != nil {
		m.state = StateFailed
		res = Result{State: StateFailed, Err: fmt.Errorf("failed to run macro %q: %w", name, err)}
	} else {
		m.state = StateCompleted
		res = Result{State: StateCompleted, Value: v}
	}
	return m.finish(nil, res)
}

// finish updates counters, fires the hook, and traces the outcome.
func (m *Machine) finish(di *decode.DecodedInstruction, res Result) Result {
	if res.Err != nil {
		m.stats.Failed++
	} else {
		m.stats.Executed++
	}
	if di != nil {
		if m.hook != nil {
			m.hook(di, res)
		}
		Trace("Execute",
			"PC", di.PC,
			"Instr", di.String(),
			"State", res.State.String(),
			"Value", res.Value.String(),
		)
	}
	return res
}

// ReadRegister reads a register or dotted subfield by path,
// zero-extended.
func (m *Machine) ReadRegister(path string) (uint64, error) {
	loc, err := m.desc.ResolveRegister(path)
	if err != nil {
		return 0, err
	}
	return m.readLoc(loc)
}

// WriteRegister stores v into a register or dotted subfield, masked to
// the destination width.
func (m *Machine) WriteRegister(path string, v uint64) error {
	loc, err := m.desc.ResolveRegister(path)
	if err != nil {
		return err
	}
	return m.writeLoc(loc, v)
}

// readLoc reads a resolved location through the bridge's big-endian
// value view.
func (m *Machine) readLoc(loc isa.RegLoc) (uint64, error) {
	return m.bridge.ReadBits(loc.Device, loc.ByteOffset, loc.BurstBytes,
		bitfield.Range{Offset: loc.BitOffset, Length: loc.BitLen},
		binary.BigEndian)
}

// writeLoc stores to a resolved location, truncating to the
// destination width the way hardware drops high bits.
func (m *Machine) writeLoc(loc isa.RegLoc, v uint64) error {
	if loc.BitLen < 64 {
		v &= 1<<loc.BitLen - 1
	}
	return m.bridge.WriteBits(loc.Device, loc.ByteOffset, loc.BurstBytes,
		bitfield.Range{Offset: loc.BitOffset, Length: loc.BitLen},
		binary.BigEndian, v)
}

// operandValue converts a bound operand to its runtime value.
func operandValue(op decode.Operand) Value {
	return Value{Bits: op.Value, Signed: op.Role == isa.RoleSignedImm}
}
