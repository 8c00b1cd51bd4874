package compiler

import (
	"testing"

	"github.com/wasmkit/singlepass/wasm"
)

// feed drives a compiler through ops and fails the test on any error.
func feed(t *testing.T, c *FuncCompiler, ops []wasm.Operator) {
	t.Helper()
	for i, o := range ops {
		if err := c.Op(o); err != nil {
			t.Fatalf("op %d (%s): %v", i, o.Name(), err)
		}
	}
}

func TestBalancedSequenceRestoresFrame(t *testing.T) {
	sig := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	c, err := NewFuncCompiler(sig, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	base := c.mach.stackBytes
	if base != c.mach.fixedBytes {
		t.Fatalf("prologue stackBytes %d != fixedBytes %d", base, c.mach.fixedBytes)
	}

	// Ten register-resident values overflow the six-register pool, so
	// some must spill; folding and dropping them rewinds everything.
	var ops []wasm.Operator
	for i := 0; i < 10; i++ {
		ops = append(ops, wasm.Operator{Opcode: wasm.OpLocalGet, Index: 0})
	}
	for i := 0; i < 9; i++ {
		ops = append(ops, wasm.Operator{Opcode: wasm.OpI32Add})
	}
	ops = append(ops, wasm.Operator{Opcode: wasm.OpDrop})
	feed(t, c, ops)

	if c.mach.stackBytes != base {
		t.Errorf("stackBytes %d after balanced sequence, want %d", c.mach.stackBytes, base)
	}
	if c.mach.usedGPR != 0 {
		t.Errorf("value registers still marked: %#x", c.mach.usedGPR)
	}
	if len(c.stack.values) != 0 {
		t.Errorf("operand stack depth %d, want 0", len(c.stack.values))
	}
}

func TestCallNetStackDeltaZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Funcs = []wasm.FuncType{
		{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
	}
	c, err := NewFuncCompiler(wasm.FuncType{}, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	base := c.mach.stackBytes

	feed(t, c, []wasm.Operator{
		{Opcode: wasm.OpI32Const, I32: 1},
		{Opcode: wasm.OpI32Const, I32: 2},
		{Opcode: wasm.OpCall, Index: 0},
	})
	if got := len(c.stack.values); got != 1 {
		t.Fatalf("stack depth after call = %d, want 1 result", got)
	}
	feed(t, c, []wasm.Operator{{Opcode: wasm.OpDrop}})

	if c.mach.stackBytes != base {
		t.Errorf("stackBytes %d after call, want %d", c.mach.stackBytes, base)
	}
	if c.mach.usedGPR != 0 {
		t.Errorf("value registers still marked: %#x", c.mach.usedGPR)
	}
	if c.mach.tempGPR != 0 || c.mach.tempXMM != 0 {
		t.Errorf("temporaries leaked: gpr %#x xmm %#x", c.mach.tempGPR, c.mach.tempXMM)
	}
	if c.mach.state.PrivateDepth != 0 {
		t.Errorf("private depth %d after unwind, want 0", c.mach.state.PrivateDepth)
	}
}

func TestCallWithLiveValuesPreservesThem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Funcs = []wasm.FuncType{
		{Results: []wasm.ValType{wasm.ValI32}},
	}
	c, err := NewFuncCompiler(wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	base := c.mach.stackBytes

	// A live register value across the call forces the spill path.
	feed(t, c, []wasm.Operator{
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpCall, Index: 0},
		{Opcode: wasm.OpI32Add},
		{Opcode: wasm.OpDrop},
	})

	if c.mach.stackBytes != base {
		t.Errorf("stackBytes %d, want %d", c.mach.stackBytes, base)
	}
	if len(c.stack.values) != 0 {
		t.Errorf("operand stack depth %d, want 0", len(c.stack.values))
	}

	// The live register was saved across the call, so the state diff
	// recorded at the call site must count at least one private slot.
	if len(c.fsm.CallOffsets) != 1 {
		t.Fatalf("call offsets = %d, want 1", len(c.fsm.CallOffsets))
	}
	st := c.fsm.Reconstruct(c.fsm.CallOffsets[0].Info.DiffID)
	if st.PrivateDepth < 1 {
		t.Errorf("call-site private depth = %d, want >= 1", st.PrivateDepth)
	}
}

func TestBlockEndReleasesInnerRegisters(t *testing.T) {
	sig := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	c, err := NewFuncCompiler(sig, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	// Two registers live inside the block, gone after its end; the
	// merged result reuses the first value register.
	feed(t, c, []wasm.Operator{
		{Opcode: wasm.OpBlock, Block: wasm.BlockTypeI32},
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpBr, Index: 0},
		{Opcode: wasm.OpEnd},
	})
	if want := uint16(1) << uint(valueGPRs[0]); c.mach.usedGPR != want {
		t.Errorf("usedGPR after block end = %#x, want %#x", c.mach.usedGPR, want)
	}
	feed(t, c, []wasm.Operator{{Opcode: wasm.OpDrop}})
	if c.mach.usedGPR != 0 {
		t.Errorf("usedGPR after drop = %#x, want 0", c.mach.usedGPR)
	}
}

func TestBlockEndRewindsFloatStack(t *testing.T) {
	sig := wasm.FuncType{Params: []wasm.ValType{wasm.ValF32}}
	c, err := NewFuncCompiler(sig, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	feed(t, c, []wasm.Operator{
		{Opcode: wasm.OpBlock, Block: wasm.BlockTypeF32},
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpF32Add},
		{Opcode: wasm.OpBr, Index: 0},
		{Opcode: wasm.OpEnd},
	})
	if got := c.fp.len(); got != 1 {
		t.Errorf("float stack depth after block end = %d, want 1", got)
	}
	if got := c.stack.len(); got != 1 {
		t.Errorf("operand stack depth after block end = %d, want 1", got)
	}
	feed(t, c, []wasm.Operator{{Opcode: wasm.OpDrop}})
	if c.fp.len() != 0 || c.stack.len() != 0 {
		t.Errorf("stacks after drop = %d/%d, want 0/0", c.stack.len(), c.fp.len())
	}
}

func TestSelectKeepsOperandCanonicalState(t *testing.T) {
	sig := wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}}
	c, err := NewFuncCompiler(sig, nil, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	// Reinterpreted bits carry no canonicalization debt; selecting
	// between two such values must not create one.
	feed(t, c, []wasm.Operator{
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpF32ReinterpretI32},
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpF32ReinterpretI32},
		{Opcode: wasm.OpI32Const, I32: 1},
		{Opcode: wasm.OpSelect},
	})
	if got := c.fp.len(); got != 1 {
		t.Fatalf("float stack depth = %d, want 1", got)
	}
	if c.fp.entries[0].Pending {
		t.Error("select of bit-exact operands marked pending")
	}

	// An arithmetic result stays pending through select.
	feed(t, c, []wasm.Operator{
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpF32ReinterpretI32},
		{Opcode: wasm.OpF32Add},
		{Opcode: wasm.OpLocalGet, Index: 0},
		{Opcode: wasm.OpF32ReinterpretI32},
		{Opcode: wasm.OpI32Const, I32: 0},
		{Opcode: wasm.OpSelect},
	})
	if got := c.fp.len(); got != 1 {
		t.Fatalf("float stack depth = %d, want 1", got)
	}
	if !c.fp.entries[len(c.fp.entries)-1].Pending {
		t.Error("select with a pending operand lost the flag")
	}
}
