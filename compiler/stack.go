package compiler

import (
	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

// FloatValue marks an operand-stack entry that holds a float whose NaN
// canonicalization has been deferred. Depth is the entry's value-stack
// index. Pending entries are canonicalized when the value becomes
// observable (stored, passed to a call, returned or reinterpreted).
type FloatValue struct {
	Depth   int
	Prec    x64.Precision
	Pending bool
}

// ifElseState tracks the shape of a conditional control frame.
type ifElseState uint8

const (
	ifElseNone ifElseState = iota
	ifElseIf               // inside the then arm, else label pending
	ifElseElse             // inside the else arm
)

// ControlFrame is one entry of the structured control stack. Label is
// the branch target: the loop header for loops, the end of the
// construct otherwise.
type ControlFrame struct {
	Label     x64.Label
	ElseLabel x64.Label
	IfElse    ifElseState
	LoopLike  bool
	Returns   []wasm.ValType

	// ValueDepth is the operand stack depth at frame entry. Popping
	// the frame truncates the operand stack back to it.
	ValueDepth int
	FPDepth    int
	// StackBytes is the native frame extent at entry; branches and the
	// frame's end rewind rsp to it.
	StackBytes int32

	// State and LastDiffID snapshot the machine at frame entry so
	// branch targets resume from a known state.
	State      MachineState
	LastDiffID int32

	// UsedGPR and UsedXMM snapshot the allocator bitmaps at entry so
	// popping the frame frees registers its values acquired.
	UsedGPR uint16
	UsedXMM uint16
}

func (f *ControlFrame) arity() int { return len(f.Returns) }

// valueStack is the compile-time model of the WebAssembly operand
// stack. Each entry records where the value currently lives.
type valueStack struct {
	values []Location
	types  []wasm.ValType
}

func (s *valueStack) len() int { return len(s.values) }

func (s *valueStack) push(loc Location, t wasm.ValType) {
	s.values = append(s.values, loc)
	s.types = append(s.types, t)
}

func (s *valueStack) pop(op string) (Location, wasm.ValType, error) {
	if len(s.values) == 0 {
		return Location{}, 0, errors.StackUnderflow(op, 0, 1)
	}
	n := len(s.values) - 1
	loc, t := s.values[n], s.types[n]
	s.values = s.values[:n]
	s.types = s.types[:n]
	return loc, t, nil
}

func (s *valueStack) peek(op string) (Location, wasm.ValType, error) {
	if len(s.values) == 0 {
		return Location{}, 0, errors.StackUnderflow(op, 0, 1)
	}
	n := len(s.values) - 1
	return s.values[n], s.types[n], nil
}

// truncate drops entries above depth.
func (s *valueStack) truncate(depth int) {
	if depth < len(s.values) {
		s.values = s.values[:depth]
		s.types = s.types[:depth]
	}
}

// at returns the entry at absolute index i.
func (s *valueStack) at(i int) (Location, wasm.ValType) {
	return s.values[i], s.types[i]
}

func (s *valueStack) setLoc(i int, loc Location) {
	s.values[i] = loc
}

// fpStack tracks deferred NaN canonicalization per float entry on the
// operand stack. It is kept strictly aligned with the value stack:
// entries reference stack depths in increasing order.
type fpStack struct {
	entries []FloatValue
}

func (s *fpStack) push(depth int, prec x64.Precision, pending bool) {
	s.entries = append(s.entries, FloatValue{Depth: depth, Prec: prec, Pending: pending})
}

// popAt removes the entry for depth if one exists, returning it.
func (s *fpStack) popAt(depth int) (FloatValue, bool) {
	n := len(s.entries)
	if n == 0 || s.entries[n-1].Depth != depth {
		return FloatValue{}, false
	}
	fv := s.entries[n-1]
	s.entries = s.entries[:n-1]
	return fv, true
}

// truncateTo shrinks the stack to n entries.
func (s *fpStack) truncateTo(n int) {
	if n < len(s.entries) {
		s.entries = s.entries[:n]
	}
}

// truncate drops entries at or above depth.
func (s *fpStack) truncate(depth int) {
	i := len(s.entries)
	for i > 0 && s.entries[i-1].Depth >= depth {
		i--
	}
	s.entries = s.entries[:i]
}

func (s *fpStack) len() int { return len(s.entries) }
