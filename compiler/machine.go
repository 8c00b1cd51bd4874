package compiler

import (
	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/x64"
)

// Register conventions. The context pointer lives in r15 for the whole
// function body. rbp is the frame pointer, rsp the native stack. rax,
// rcx and rdx are staging temporaries and never hold operand-stack
// values across operator boundaries; rcx additionally serves as the
// shift count and rax/rdx as the division pair. xmm0..xmm2 are the
// SIMD temporaries.
var (
	valueGPRs = []x64.Reg{x64.RSI, x64.RDI, x64.R8, x64.R9, x64.R10, x64.R11}
	tempGPRs  = []x64.Reg{x64.RAX, x64.RCX, x64.RDX}
	valueXMMs = []x64.XMM{x64.XMM3, x64.XMM4, x64.XMM5, x64.XMM6, x64.XMM7}
	tempXMMs  = []x64.XMM{x64.XMM0, x64.XMM1, x64.XMM2}
)

// ContextReg holds the runtime context pointer throughout a compiled
// function body.
const ContextReg = x64.R15

// machine owns physical register and native stack-slot allocation for
// one function and mirrors every allocation into the symbolic
// MachineState when state tracking is on.
type machine struct {
	usedGPR  uint16 // bit per x64.Reg
	usedXMM  uint16 // bit per x64.XMM
	tempGPR  uint16
	tempXMM  uint16
	// stackBytes is the byte distance from rbp to rsp. It covers the
	// saved r15 slot, the locals area and every live spill slot, and
	// keeps call sites able to compute 16-byte alignment exactly.
	stackBytes int32
	// fixedBytes is the prologue-allocated portion of stackBytes
	// (saved r15 plus locals); slots above it are operand spills.
	fixedBytes int32

	trackState bool
	state      MachineState
	lastDiffID int32
}

func newMachine(trackState bool) *machine {
	m := &machine{trackState: trackState, lastDiffID: -1}
	m.state.Registers[gprIndex(ContextReg)] = MachineValue{Kind: MVContextPointer}
	return m
}

func (m *machine) gprUsed(r x64.Reg) bool  { return m.usedGPR&(1<<uint(r)) != 0 }
func (m *machine) xmmUsed(x x64.XMM) bool  { return m.usedXMM&(1<<uint(x)) != 0 }
func (m *machine) markGPR(r x64.Reg)       { m.usedGPR |= 1 << uint(r) }
func (m *machine) unmarkGPR(r x64.Reg)     { m.usedGPR &^= 1 << uint(r) }
func (m *machine) markXMM(x x64.XMM)       { m.usedXMM |= 1 << uint(x) }
func (m *machine) unmarkXMM(x x64.XMM)     { m.usedXMM &^= 1 << uint(x) }

// takeTemp acquires a staging temporary for the current operator. The
// temp pool is disjoint from the value pool, so three temporaries
// always suffice; exhaustion indicates a compiler bug and is reported,
// not asserted.
func (m *machine) takeTemp() (x64.Reg, error) {
	for _, r := range tempGPRs {
		if m.tempGPR&(1<<uint(r)) == 0 {
			m.tempGPR |= 1 << uint(r)
			return r, nil
		}
	}
	return 0, errors.RegistersExhausted("gpr-temp")
}

// takeTempReg acquires a specific temporary, needed when an
// instruction hardwires its register (shift counts in cl, division in
// rax/rdx, cmpxchg in rax).
func (m *machine) takeTempReg(r x64.Reg) (x64.Reg, error) {
	if m.tempGPR&(1<<uint(r)) != 0 {
		return 0, errors.RegistersExhausted("gpr-temp")
	}
	m.tempGPR |= 1 << uint(r)
	return r, nil
}

func (m *machine) releaseTemp(r x64.Reg) { m.tempGPR &^= 1 << uint(r) }

func (m *machine) takeTempXMM() (x64.XMM, error) {
	for _, x := range tempXMMs {
		if m.tempXMM&(1<<uint(x)) == 0 {
			m.tempXMM |= 1 << uint(x)
			return x, nil
		}
	}
	return 0, errors.RegistersExhausted("simd-temp")
}

func (m *machine) releaseTempXMM(x x64.XMM) { m.tempXMM &^= 1 << uint(x) }

// allocClass selects what storage a new operand-stack value wants.
type allocClass uint8

const (
	classGPR allocClass = iota
	classSIMD
)

// acquire allocates storage for a new operand-stack entry at stack
// depth. Registers are preferred; when the pool is exhausted the value
// spills to a fresh frame slot, extending rsp.
func (m *machine) acquire(a *x64.Assembler, class allocClass, depth int) Location {
	switch class {
	case classSIMD:
		for _, x := range valueXMMs {
			if !m.xmmUsed(x) {
				m.markXMM(x)
				m.noteRegister(simdIndex(x), MachineValue{Kind: MVWasmStack, Index: int32(depth)})
				return SIMD(x)
			}
		}
	default:
		for _, r := range valueGPRs {
			if !m.gprUsed(r) {
				m.markGPR(r)
				m.noteRegister(gprIndex(r), MachineValue{Kind: MVWasmStack, Index: int32(depth)})
				return GPR(r)
			}
		}
	}
	return m.acquireSlot(a, MachineValue{Kind: MVWasmStack, Index: int32(depth)})
}

// acquireSlot extends the frame by one 8-byte slot.
func (m *machine) acquireSlot(a *x64.Assembler, mv MachineValue) Location {
	m.stackBytes += 8
	a.AluRegImm(x64.ALUSub, x64.S64, x64.RSP, 8)
	if m.trackState {
		m.state.Stack = append(m.state.Stack, mv)
	}
	return StackSlot(x64.RBP, -m.stackBytes)
}

// release returns a location's storage. Frame slots must be released
// in LIFO order.
func (m *machine) release(a *x64.Assembler, loc Location) {
	switch loc.Kind {
	case LocGPR:
		m.unmarkGPR(loc.Reg)
		m.noteRegister(gprIndex(loc.Reg), MachineValue{})
	case LocSIMD:
		m.unmarkXMM(loc.Xmm)
		m.noteRegister(simdIndex(loc.Xmm), MachineValue{})
	case LocMemory:
		if loc.Base == x64.RBP && loc.Disp == -m.stackBytes && m.stackBytes > m.fixedBytes {
			m.stackBytes -= 8
			a.AluRegImm(x64.ALUAdd, x64.S64, x64.RSP, 8)
			if m.trackState && len(m.state.Stack) > 0 {
				m.state.Stack = m.state.Stack[:len(m.state.Stack)-1]
			}
		}
	}
}

func (m *machine) noteRegister(idx int, mv MachineValue) {
	if m.trackState {
		m.state.Registers[idx] = mv
	}
}

// recordDiff snapshots the state delta since the last recorded point
// and returns the new diff id. prev is threaded through the frame
// structure by the caller.
func (m *machine) recordDiff(fsm *FunctionStateMap, prevState *MachineState) int32 {
	if !m.trackState {
		return -1
	}
	d := diffStates(prevState, &m.state)
	d.Prev = m.lastDiffID
	m.lastDiffID = fsm.appendDiff(d)
	return m.lastDiffID
}

// snapshot returns a deep copy of the symbolic state.
func (m *machine) snapshot() MachineState { return m.state.Clone() }

// restore rewinds the symbolic state to a frame-entry snapshot. The
// physical rsp adjustment is the caller's job.
func (m *machine) restore(s *MachineState, diffID int32) {
	if !m.trackState {
		return
	}
	m.state = s.Clone()
	m.lastDiffID = diffID
}
