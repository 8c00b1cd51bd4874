package compiler

import (
	"testing"

	"github.com/wasmkit/singlepass/x64"
)

func TestAcquireSpillsAfterRegisters(t *testing.T) {
	m := newMachine(true)
	a := x64.NewAssembler()

	var locs []Location
	for i := 0; i < len(valueGPRs); i++ {
		loc := m.acquire(a, classGPR, i)
		if loc.Kind != LocGPR {
			t.Fatalf("value %d: kind %v, want register", i, loc.Kind)
		}
		if loc.Reg != valueGPRs[i] {
			t.Errorf("value %d: got %v, want %v", i, loc.Reg, valueGPRs[i])
		}
		locs = append(locs, loc)
	}

	before := m.stackBytes
	spill := m.acquire(a, classGPR, len(valueGPRs))
	if spill.Kind != LocMemory {
		t.Fatalf("overflow value kind %v, want memory", spill.Kind)
	}
	if m.stackBytes != before+8 {
		t.Errorf("stackBytes %d, want %d", m.stackBytes, before+8)
	}
	if spill.Base != x64.RBP || spill.Disp != -m.stackBytes {
		t.Errorf("spill slot at [%v%+d], want [rbp%+d]", spill.Base, spill.Disp, -m.stackBytes)
	}
	if got := len(m.state.Stack); got != 1 {
		t.Errorf("tracked stack slots = %d, want 1", got)
	}

	m.release(a, spill)
	if m.stackBytes != before {
		t.Errorf("stackBytes after release = %d, want %d", m.stackBytes, before)
	}
	if len(m.state.Stack) != 0 {
		t.Errorf("tracked stack not rewound: %d slots", len(m.state.Stack))
	}
	for i := len(locs) - 1; i >= 0; i-- {
		m.release(a, locs[i])
	}
	if m.usedGPR != 0 {
		t.Errorf("register bitmap not clear: %#x", m.usedGPR)
	}
}

func TestNonTopSlotReleaseIsDeferred(t *testing.T) {
	m := newMachine(false)
	a := x64.NewAssembler()

	lo := m.acquireSlot(a, MachineValue{})
	hi := m.acquireSlot(a, MachineValue{})
	depth := m.stackBytes

	// Releasing below the live top must not move rsp.
	m.release(a, lo)
	if m.stackBytes != depth {
		t.Fatalf("stackBytes %d after inner release, want %d", m.stackBytes, depth)
	}
	m.release(a, hi)
	if m.stackBytes != depth-8 {
		t.Errorf("stackBytes %d after top release, want %d", m.stackBytes, depth-8)
	}
}

func TestTempPool(t *testing.T) {
	m := newMachine(false)

	var got []x64.Reg
	for i := 0; i < len(tempGPRs); i++ {
		r, err := m.takeTemp()
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, r)
	}
	if _, err := m.takeTemp(); err == nil {
		t.Fatal("fourth temporary should fail")
	}
	for _, r := range got {
		m.releaseTemp(r)
	}
	if _, err := m.takeTemp(); err != nil {
		t.Fatalf("pool not refilled: %v", err)
	}
}

func TestTakeTempRegConflict(t *testing.T) {
	m := newMachine(false)
	if _, err := m.takeTempReg(x64.RAX); err != nil {
		t.Fatal(err)
	}
	if _, err := m.takeTempReg(x64.RAX); err == nil {
		t.Fatal("double acquisition of rax should fail")
	}
	m.releaseTemp(x64.RAX)
	if _, err := m.takeTempReg(x64.RAX); err != nil {
		t.Fatalf("rax not released: %v", err)
	}
}

func TestSimdAcquirePrefersRegisters(t *testing.T) {
	m := newMachine(false)
	a := x64.NewAssembler()

	for i := 0; i < len(valueXMMs); i++ {
		if loc := m.acquire(a, classSIMD, i); loc.Kind != LocSIMD {
			t.Fatalf("value %d: kind %v, want simd register", i, loc.Kind)
		}
	}
	if loc := m.acquire(a, classSIMD, len(valueXMMs)); loc.Kind != LocMemory {
		t.Errorf("overflow value kind %v, want memory", loc.Kind)
	}
}
