package compiler

import (
	"sort"

	"github.com/wasmkit/singlepass/x64"
)

// TrapCode is the semantic classification of a WebAssembly-level fault,
// decoupled from the native mechanism (ud2, #DE, #PF) that detects it.
type TrapCode uint8

const (
	TrapUnreachable TrapCode = iota
	TrapMemoryOutOfBounds
	TrapHeapMisaligned
	TrapIllegalArithmetic
	TrapBadConversionToInteger
	TrapTableOutOfBounds
	TrapIndirectCallNull
	TrapSignatureMismatch
)

var trapNames = [...]string{
	"unreachable", "memory out of bounds", "misaligned atomic access",
	"illegal arithmetic", "bad conversion to integer",
	"table out of bounds", "indirect call to null",
	"indirect call signature mismatch",
}

func (c TrapCode) String() string {
	if int(c) < len(trapNames) {
		return trapNames[c]
	}
	return "unknown trap"
}

// ExceptionRange maps a native instruction byte range to a trap code.
type ExceptionRange struct {
	Start uint32 // inclusive
	End   uint32 // exclusive
	Code  TrapCode
}

// ExceptionTable classifies faulting program counters. Ranges are
// appended in emission order, which is already ascending.
type ExceptionTable struct {
	Ranges []ExceptionRange
}

// Tag records that native offsets [start, end) trap with code.
func (t *ExceptionTable) Tag(start, end uint32, code TrapCode) {
	if start >= end {
		return
	}
	t.Ranges = append(t.Ranges, ExceptionRange{Start: start, End: end, Code: code})
}

// Lookup classifies a faulting offset.
func (t *ExceptionTable) Lookup(off uint32) (TrapCode, bool) {
	i := sort.Search(len(t.Ranges), func(i int) bool {
		return t.Ranges[i].End > off
	})
	if i < len(t.Ranges) && t.Ranges[i].Start <= off {
		return t.Ranges[i].Code, true
	}
	return 0, false
}

// MachineValueKind tags the symbolic content of a register or native
// stack slot at a program point.
type MachineValueKind uint8

const (
	MVUndefined MachineValueKind = iota
	MVContextPointer
	MVPreserveRegister    // saved copy of a physical register
	MVCopyStackBPRelative // copy of the value at a frame-relative slot
	MVExplicitShadow      // call-sequence alignment bookkeeping slot
	MVWasmStack           // WebAssembly operand stack slot N
	MVWasmLocal           // WebAssembly local N
)

// MachineValue symbolically describes what a physical register or stack
// slot holds. It informs state reconstruction only and never drives
// codegen decisions.
type MachineValue struct {
	Kind  MachineValueKind
	Index int32
}

// Register index space: 0..15 general purpose, 16..31 SIMD.
const numRegisters = 32

func gprIndex(r x64.Reg) int  { return int(r) }
func simdIndex(x x64.XMM) int { return 16 + int(x) }

// MachineState is a snapshot of the symbolic machine at one program
// point: what every physical register holds and what every native stack
// slot below the frame pointer holds.
type MachineState struct {
	Registers [numRegisters]MachineValue
	// Stack is indexed by slot: entry i describes [rbp - 8*(i+1)].
	Stack []MachineValue
	// PrivateDepth counts slots pushed for call sequences (spills,
	// shadow, outgoing args) that are not operand-stack storage.
	PrivateDepth int32
}

// Clone returns a deep copy.
func (s *MachineState) Clone() MachineState {
	c := MachineState{
		Registers:    s.Registers,
		PrivateDepth: s.PrivateDepth,
	}
	c.Stack = append([]MachineValue(nil), s.Stack...)
	return c
}

// Equal reports bit-identical states.
func (s *MachineState) Equal(o *MachineState) bool {
	if s.Registers != o.Registers || s.PrivateDepth != o.PrivateDepth {
		return false
	}
	if len(s.Stack) != len(o.Stack) {
		return false
	}
	for i := range s.Stack {
		if s.Stack[i] != o.Stack[i] {
			return false
		}
	}
	return true
}

// RegDiff is one changed register assignment.
type RegDiff struct {
	Index int32
	Value MachineValue
}

// MachineStateDiff is the structural difference between two machine
// states. Diffs chain through Prev back to the function-entry state, so
// replaying a chain reconstructs the exact state at any recorded offset.
type MachineStateDiff struct {
	Prev         int32 // previous diff id, -1 means function entry
	Regs         []RegDiff
	StackPop     int
	StackPush    []MachineValue
	PrivateDepth int32
}

// diff computes new - old.
func diffStates(old, new *MachineState) MachineStateDiff {
	var d MachineStateDiff
	for i := 0; i < numRegisters; i++ {
		if old.Registers[i] != new.Registers[i] {
			d.Regs = append(d.Regs, RegDiff{Index: int32(i), Value: new.Registers[i]})
		}
	}
	prefix := 0
	for prefix < len(old.Stack) && prefix < len(new.Stack) && old.Stack[prefix] == new.Stack[prefix] {
		prefix++
	}
	d.StackPop = len(old.Stack) - prefix
	d.StackPush = append([]MachineValue(nil), new.Stack[prefix:]...)
	d.PrivateDepth = new.PrivateDepth
	return d
}

// apply mutates s to the post-diff state.
func (d *MachineStateDiff) apply(s *MachineState) {
	for _, rd := range d.Regs {
		s.Registers[rd.Index] = rd.Value
	}
	s.Stack = s.Stack[:len(s.Stack)-d.StackPop]
	s.Stack = append(s.Stack, d.StackPush...)
	s.PrivateDepth = d.PrivateDepth
}

// OffsetInfo describes one recorded native offset window.
type OffsetInfo struct {
	ActivateOffset uint32 // offset state reconstruction applies to
	EndOffset      uint32 // exclusive end of the window
	DiffID         int32
}

// OffsetEntry pairs a keyed native offset with its info.
type OffsetEntry struct {
	Offset uint32
	Info   OffsetInfo
}

// FunctionStateMap is the per-function side table mapping native
// offsets to machine-state diffs. Entries exist only at call sites and
// trap-capable instructions.
type FunctionStateMap struct {
	InitialState     MachineState
	Diffs            []MachineStateDiff
	TrappableOffsets []OffsetEntry
	CallOffsets      []OffsetEntry
}

// appendDiff stores d and returns its id.
func (m *FunctionStateMap) appendDiff(d MachineStateDiff) int32 {
	m.Diffs = append(m.Diffs, d)
	return int32(len(m.Diffs) - 1)
}

// Reconstruct replays the diff chain ending at diffID and returns the
// exact machine state recorded there.
func (m *FunctionStateMap) Reconstruct(diffID int32) MachineState {
	var chain []int32
	for id := diffID; id >= 0; id = m.Diffs[id].Prev {
		chain = append(chain, id)
	}
	state := m.InitialState.Clone()
	for i := len(chain) - 1; i >= 0; i-- {
		m.Diffs[chain[i]].apply(&state)
	}
	return state
}

// LookupTrappable finds the trappable window containing off.
func (m *FunctionStateMap) LookupTrappable(off uint32) (OffsetInfo, bool) {
	return lookupWindow(m.TrappableOffsets, off)
}

// LookupCall finds the call window keyed at the return address off.
func (m *FunctionStateMap) LookupCall(off uint32) (OffsetInfo, bool) {
	for _, e := range m.CallOffsets {
		if e.Offset == off {
			return e.Info, true
		}
	}
	return OffsetInfo{}, false
}

func lookupWindow(entries []OffsetEntry, off uint32) (OffsetInfo, bool) {
	for _, e := range entries {
		if e.Info.ActivateOffset <= off && off < e.Info.EndOffset {
			return e.Info, true
		}
	}
	return OffsetInfo{}, false
}
