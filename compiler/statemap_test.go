package compiler

import "testing"

func TestDiffRoundTrip(t *testing.T) {
	var old MachineState
	old.Registers[gprIndex(ContextReg)] = MachineValue{Kind: MVContextPointer}
	old.Stack = []MachineValue{
		{Kind: MVWasmLocal, Index: 0},
		{Kind: MVWasmStack, Index: 0},
		{Kind: MVWasmStack, Index: 1},
	}

	next := old.Clone()
	next.Registers[6] = MachineValue{Kind: MVWasmStack, Index: 2}
	next.Stack = next.Stack[:1]
	next.Stack = append(next.Stack, MachineValue{Kind: MVPreserveRegister, Index: 6})
	next.PrivateDepth = 1

	d := diffStates(&old, &next)
	if d.StackPop != 2 {
		t.Errorf("StackPop = %d, want 2", d.StackPop)
	}
	if len(d.StackPush) != 1 {
		t.Errorf("StackPush len = %d, want 1", len(d.StackPush))
	}
	if len(d.Regs) != 1 || d.Regs[0].Index != 6 {
		t.Errorf("Regs = %v, want single change at index 6", d.Regs)
	}

	replay := old.Clone()
	d.apply(&replay)
	if !replay.Equal(&next) {
		t.Errorf("replayed state differs:\n got %+v\nwant %+v", replay, next)
	}
}

func TestReconstructChain(t *testing.T) {
	fsm := &FunctionStateMap{}
	fsm.InitialState.Registers[gprIndex(ContextReg)] = MachineValue{Kind: MVContextPointer}

	s0 := fsm.InitialState.Clone()
	s1 := s0.Clone()
	s1.Stack = append(s1.Stack, MachineValue{Kind: MVWasmStack, Index: 0})
	d1 := diffStates(&s0, &s1)
	d1.Prev = -1
	id1 := fsm.appendDiff(d1)

	s2 := s1.Clone()
	s2.Registers[6] = MachineValue{Kind: MVWasmStack, Index: 1}
	s2.PrivateDepth = 2
	d2 := diffStates(&s1, &s2)
	d2.Prev = id1
	id2 := fsm.appendDiff(d2)

	got := fsm.Reconstruct(id2)
	if !got.Equal(&s2) {
		t.Fatalf("reconstructed state differs:\n got %+v\nwant %+v", got, s2)
	}
	mid := fsm.Reconstruct(id1)
	if !mid.Equal(&s1) {
		t.Fatalf("intermediate state differs:\n got %+v\nwant %+v", mid, s1)
	}
}

func TestExceptionLookup(t *testing.T) {
	var et ExceptionTable
	et.Tag(10, 12, TrapUnreachable)
	et.Tag(12, 12, TrapIllegalArithmetic) // empty range is dropped
	et.Tag(20, 24, TrapMemoryOutOfBounds)

	tests := []struct {
		off  uint32
		code TrapCode
		ok   bool
	}{
		{9, 0, false},
		{10, TrapUnreachable, true},
		{11, TrapUnreachable, true},
		{12, 0, false},
		{20, TrapMemoryOutOfBounds, true},
		{23, TrapMemoryOutOfBounds, true},
		{24, 0, false},
		{100, 0, false},
	}
	for _, tt := range tests {
		code, ok := et.Lookup(tt.off)
		if ok != tt.ok || (ok && code != tt.code) {
			t.Errorf("Lookup(%d) = %v, %v; want %v, %v", tt.off, code, ok, tt.code, tt.ok)
		}
	}
}

func TestTrappableWindow(t *testing.T) {
	fsm := &FunctionStateMap{}
	fsm.TrappableOffsets = []OffsetEntry{
		{Offset: 8, Info: OffsetInfo{ActivateOffset: 8, EndOffset: 10, DiffID: 0}},
		{Offset: 30, Info: OffsetInfo{ActivateOffset: 30, EndOffset: 36, DiffID: 1}},
	}
	if info, ok := fsm.LookupTrappable(9); !ok || info.DiffID != 0 {
		t.Errorf("LookupTrappable(9) = %+v, %v", info, ok)
	}
	if info, ok := fsm.LookupTrappable(32); !ok || info.DiffID != 1 {
		t.Errorf("LookupTrappable(32) = %+v, %v", info, ok)
	}
	if _, ok := fsm.LookupTrappable(12); ok {
		t.Error("LookupTrappable(12) should miss")
	}
}
