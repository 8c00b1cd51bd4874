package compiler_test

import (
	"testing"

	"github.com/wasmkit/singlepass/compiler"
	"github.com/wasmkit/singlepass/wasm"
)

func op(code byte) wasm.Operator             { return wasm.Operator{Opcode: code} }
func opIdx(code byte, i uint32) wasm.Operator {
	return wasm.Operator{Opcode: code, Index: i}
}
func i32c(v int32) wasm.Operator { return wasm.Operator{Opcode: wasm.OpI32Const, I32: v} }
func f32c(bits uint32) wasm.Operator {
	return wasm.Operator{Opcode: wasm.OpF32Const, F32: bits}
}
func memOp(code byte) wasm.Operator {
	return wasm.Operator{Opcode: code, Mem: wasm.MemArg{Align: 2}}
}

func sigI32I32toI32() wasm.FuncType {
	return wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32, wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	}
}

func compile(t *testing.T, sig wasm.FuncType, locals []wasm.ValType, cfg compiler.Config, ops []wasm.Operator) *compiler.CompiledFunction {
	t.Helper()
	fc, err := compiler.NewFuncCompiler(sig, locals, cfg)
	if err != nil {
		t.Fatal(err)
	}
	for i, o := range ops {
		if err := fc.Op(o); err != nil {
			t.Fatalf("op %d (%s): %v", i, o.Name(), err)
		}
	}
	out, err := fc.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestCompileAdd(t *testing.T) {
	out := compile(t, sigI32I32toI32(), nil, compiler.DefaultConfig(), []wasm.Operator{
		opIdx(wasm.OpLocalGet, 0),
		opIdx(wasm.OpLocalGet, 1),
		op(wasm.OpI32Add),
		op(wasm.OpEnd),
	})
	if len(out.Code) == 0 {
		t.Fatal("no code emitted")
	}
	if out.Code[0] != 0x55 {
		t.Errorf("first byte %#x, want push rbp", out.Code[0])
	}
	if out.Code[len(out.Code)-1] != 0xC3 {
		t.Errorf("last byte %#x, want ret", out.Code[len(out.Code)-1])
	}
}

func TestMultipleResultsUnsupported(t *testing.T) {
	sig := wasm.FuncType{Results: []wasm.ValType{wasm.ValI32, wasm.ValI32}}
	if _, err := compiler.NewFuncCompiler(sig, nil, compiler.DefaultConfig()); err == nil {
		t.Fatal("expected error for multi-result signature")
	}
}

func TestStackUnderflow(t *testing.T) {
	fc, err := compiler.NewFuncCompiler(wasm.FuncType{}, nil, compiler.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Op(op(wasm.OpI32Add)); err == nil {
		t.Fatal("expected stack underflow")
	}
}

func TestOperatorAfterEnd(t *testing.T) {
	fc, err := compiler.NewFuncCompiler(wasm.FuncType{}, nil, compiler.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Op(op(wasm.OpEnd)); err != nil {
		t.Fatal(err)
	}
	if err := fc.Op(op(wasm.OpNop)); err == nil {
		t.Fatal("expected error for operator after function end")
	}
}

func TestFinishBeforeEnd(t *testing.T) {
	fc, err := compiler.NewFuncCompiler(wasm.FuncType{}, nil, compiler.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fc.Finish(); err == nil {
		t.Fatal("expected error finishing an unterminated body")
	}
}

func TestDeadCodeConsumed(t *testing.T) {
	// After unreachable, structurally invalid operators must be skipped
	// until the enclosing end resynchronizes.
	out := compile(t, wasm.FuncType{}, nil, compiler.DefaultConfig(), []wasm.Operator{
		op(wasm.OpUnreachable),
		op(wasm.OpI32Add), // would underflow if compiled
		wasm.Operator{Opcode: wasm.OpBlock, Block: wasm.BlockTypeVoid},
		op(wasm.OpDrop),
		op(wasm.OpEnd), // closes dead block
		op(wasm.OpEnd), // closes function
	})
	if len(out.Code) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestUnreachableTagged(t *testing.T) {
	out := compile(t, wasm.FuncType{}, nil, compiler.DefaultConfig(), []wasm.Operator{
		op(wasm.OpUnreachable),
		op(wasm.OpEnd),
	})
	found := false
	for _, r := range out.Exceptions.Ranges {
		if r.Code == compiler.TrapUnreachable {
			found = true
			if code, ok := out.Exceptions.Lookup(r.Start); !ok || code != compiler.TrapUnreachable {
				t.Errorf("lookup at %d: %v %v", r.Start, code, ok)
			}
		}
	}
	if !found {
		t.Fatal("no unreachable range tagged")
	}
}

func TestDivisionTagged(t *testing.T) {
	out := compile(t, sigI32I32toI32(), nil, compiler.DefaultConfig(), []wasm.Operator{
		opIdx(wasm.OpLocalGet, 0),
		opIdx(wasm.OpLocalGet, 1),
		op(wasm.OpI32DivS),
		op(wasm.OpEnd),
	})
	found := false
	for _, r := range out.Exceptions.Ranges {
		if r.Code == compiler.TrapIllegalArithmetic {
			found = true
		}
	}
	if !found {
		t.Fatal("no illegal-arithmetic range tagged")
	}
}

func TestDynamicBoundsCheckTagged(t *testing.T) {
	cfg := compiler.DefaultConfig()
	out := compile(t, wasm.FuncType{}, nil, cfg, []wasm.Operator{
		i32c(0),
		memOp(wasm.OpI32Load),
		op(wasm.OpDrop),
		op(wasm.OpEnd),
	})
	found := false
	for _, r := range out.Exceptions.Ranges {
		if r.Code == compiler.TrapMemoryOutOfBounds {
			found = true
		}
	}
	if !found {
		t.Fatal("no out-of-bounds range tagged for dynamic memory")
	}
}

func TestStaticMemorySkipsExplicitCheck(t *testing.T) {
	dynamic := compiler.DefaultConfig()
	static := compiler.DefaultConfig()
	static.Memory = wasm.MemoryStyle{Kind: wasm.MemoryStatic, Bound: 1 << 32}

	ops := []wasm.Operator{
		i32c(0),
		memOp(wasm.OpI32Load),
		op(wasm.OpDrop),
		op(wasm.OpEnd),
	}
	dout := compile(t, wasm.FuncType{}, nil, dynamic, ops)
	sout := compile(t, wasm.FuncType{}, nil, static, ops)
	if len(sout.Code) >= len(dout.Code) {
		t.Errorf("static code %d bytes, dynamic %d; guard pages should elide the check",
			len(sout.Code), len(dout.Code))
	}
	// The guarded access itself must still be classified.
	found := false
	for _, r := range sout.Exceptions.Ranges {
		if r.Code == compiler.TrapMemoryOutOfBounds {
			found = true
		}
	}
	if !found {
		t.Fatal("guarded access not tagged")
	}
}

func TestTruncTrapVsSaturating(t *testing.T) {
	sig := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValF32},
		Results: []wasm.ValType{wasm.ValI32},
	}
	trap := compile(t, sig, nil, compiler.DefaultConfig(), []wasm.Operator{
		opIdx(wasm.OpLocalGet, 0),
		op(wasm.OpI32TruncF32S),
		op(wasm.OpEnd),
	})
	sat := compile(t, sig, nil, compiler.DefaultConfig(), []wasm.Operator{
		opIdx(wasm.OpLocalGet, 0),
		wasm.Operator{Opcode: wasm.OpPrefixMisc, Sub: wasm.MiscI32TruncSatF32S},
		op(wasm.OpEnd),
	})

	trapFound := false
	for _, r := range trap.Exceptions.Ranges {
		if r.Code == compiler.TrapBadConversionToInteger {
			trapFound = true
		}
	}
	if !trapFound {
		t.Error("trapping truncation not tagged")
	}
	for _, r := range sat.Exceptions.Ranges {
		if r.Code == compiler.TrapBadConversionToInteger {
			t.Error("saturating truncation must not trap")
		}
	}
}

func TestControlFlowShapes(t *testing.T) {
	tests := []struct {
		name string
		sig  wasm.FuncType
		ops  []wasm.Operator
	}{
		{
			"block with result",
			wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				wasm.Operator{Opcode: wasm.OpBlock, Block: wasm.BlockTypeI32},
				i32c(7),
				op(wasm.OpEnd),
				op(wasm.OpEnd),
			},
		},
		{
			"early br out of block",
			wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				wasm.Operator{Opcode: wasm.OpBlock, Block: wasm.BlockTypeI32},
				i32c(1),
				opIdx(wasm.OpBr, 0),
				op(wasm.OpEnd),
				op(wasm.OpEnd),
			},
		},
		{
			"loop with conditional back edge",
			wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				wasm.Operator{Opcode: wasm.OpLoop, Block: wasm.BlockTypeVoid},
				opIdx(wasm.OpLocalGet, 0),
				i32c(1),
				op(wasm.OpI32Sub),
				opIdx(wasm.OpLocalTee, 0),
				opIdx(wasm.OpBrIf, 0),
				op(wasm.OpEnd),
				op(wasm.OpEnd),
			},
		},
		{
			"if else",
			wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				opIdx(wasm.OpLocalGet, 0),
				wasm.Operator{Opcode: wasm.OpIf, Block: wasm.BlockTypeI32},
				i32c(10),
				op(wasm.OpElse),
				i32c(20),
				op(wasm.OpEnd),
				op(wasm.OpEnd),
			},
		},
		{
			"if without else",
			wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				opIdx(wasm.OpLocalGet, 0),
				wasm.Operator{Opcode: wasm.OpIf, Block: wasm.BlockTypeVoid},
				op(wasm.OpNop),
				op(wasm.OpEnd),
				op(wasm.OpEnd),
			},
		},
		{
			"br_table",
			wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				wasm.Operator{Opcode: wasm.OpBlock, Block: wasm.BlockTypeI32},
				wasm.Operator{Opcode: wasm.OpBlock, Block: wasm.BlockTypeI32},
				i32c(100),
				opIdx(wasm.OpLocalGet, 0),
				wasm.Operator{Opcode: wasm.OpBrTable, Labels: []uint32{0, 1}, Default: 1},
				op(wasm.OpEnd),
				op(wasm.OpEnd),
				op(wasm.OpEnd),
			},
		},
		{
			"early return",
			wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				i32c(3),
				op(wasm.OpReturn),
				op(wasm.OpEnd),
			},
		},
		{
			"select",
			wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			[]wasm.Operator{
				i32c(1),
				i32c(2),
				opIdx(wasm.OpLocalGet, 0),
				op(wasm.OpSelect),
				op(wasm.OpEnd),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := compile(t, tt.sig, nil, compiler.DefaultConfig(), tt.ops)
			if len(out.Code) == 0 {
				t.Fatal("no code emitted")
			}
		})
	}
}

func TestGlobals(t *testing.T) {
	cfg := compiler.DefaultConfig()
	cfg.Globals = []wasm.ValType{wasm.ValI32, wasm.ValF64}
	out := compile(t, wasm.FuncType{}, nil, cfg, []wasm.Operator{
		opIdx(wasm.OpGlobalGet, 0),
		i32c(1),
		op(wasm.OpI32Add),
		opIdx(wasm.OpGlobalSet, 0),
		op(wasm.OpEnd),
	})
	if len(out.Code) == 0 {
		t.Fatal("no code emitted")
	}

	fc, err := compiler.NewFuncCompiler(wasm.FuncType{}, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := fc.Op(opIdx(wasm.OpGlobalGet, 5)); err == nil {
		t.Fatal("expected error for out-of-range global")
	}
}

func TestCallRecordsStateMap(t *testing.T) {
	cfg := compiler.DefaultConfig()
	cfg.Funcs = []wasm.FuncType{
		{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
	}
	out := compile(t, wasm.FuncType{}, nil, cfg, []wasm.Operator{
		i32c(41),
		opIdx(wasm.OpCall, 0),
		op(wasm.OpDrop),
		op(wasm.OpEnd),
	})
	if len(out.StateMap.CallOffsets) != 1 {
		t.Fatalf("call offsets = %d, want 1", len(out.StateMap.CallOffsets))
	}
	entry := out.StateMap.CallOffsets[0]
	info, ok := out.StateMap.LookupCall(entry.Offset)
	if !ok || info.DiffID != entry.Info.DiffID {
		t.Fatalf("lookup at %d failed", entry.Offset)
	}
	st := out.StateMap.Reconstruct(info.DiffID)
	if st.Registers[15].Kind != compiler.MVContextPointer {
		t.Error("reconstructed state lost the context pointer")
	}
}

func TestCallIndirectTagged(t *testing.T) {
	cfg := compiler.DefaultConfig()
	cfg.Types = []wasm.FuncType{
		{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
	}
	out := compile(t, wasm.FuncType{}, nil, cfg, []wasm.Operator{
		i32c(7),
		i32c(0),
		opIdx(wasm.OpCallIndirect, 0),
		op(wasm.OpDrop),
		op(wasm.OpEnd),
	})
	want := map[compiler.TrapCode]bool{
		compiler.TrapTableOutOfBounds: false,
		compiler.TrapIndirectCallNull: false,
		compiler.TrapSignatureMismatch: false,
	}
	for _, r := range out.Exceptions.Ranges {
		if _, tracked := want[r.Code]; tracked {
			want[r.Code] = true
		}
	}
	for code, seen := range want {
		if !seen {
			t.Errorf("missing %v range", code)
		}
	}
}

func TestCanonicalizeAddsCode(t *testing.T) {
	sig := wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValF32, wasm.ValF32},
		Results: []wasm.ValType{wasm.ValF32},
	}
	ops := []wasm.Operator{
		opIdx(wasm.OpLocalGet, 0),
		opIdx(wasm.OpLocalGet, 1),
		op(wasm.OpF32Add),
		op(wasm.OpEnd),
	}
	canon := compiler.DefaultConfig()
	plain := compiler.DefaultConfig()
	plain.Canonicalize = false

	withBlend := compile(t, sig, nil, canon, ops)
	without := compile(t, sig, nil, plain, ops)
	if len(withBlend.Code) <= len(without.Code) {
		t.Errorf("canonicalizing build %d bytes, plain %d; NaN blend missing",
			len(withBlend.Code), len(without.Code))
	}
}

func TestMemoryIntrinsics(t *testing.T) {
	out := compile(t, wasm.FuncType{Results: []wasm.ValType{wasm.ValI32}}, nil,
		compiler.DefaultConfig(), []wasm.Operator{
			op(wasm.OpMemorySize),
			op(wasm.OpDrop),
			i32c(1),
			op(wasm.OpMemoryGrow),
			op(wasm.OpEnd),
		})
	if len(out.StateMap.CallOffsets) != 2 {
		t.Errorf("intrinsic calls recorded = %d, want 2", len(out.StateMap.CallOffsets))
	}
}

func TestFloatConstStore(t *testing.T) {
	out := compile(t, wasm.FuncType{}, nil, compiler.DefaultConfig(), []wasm.Operator{
		i32c(0),
		f32c(0x3F800000),
		memOp(wasm.OpF32Store),
		op(wasm.OpEnd),
	})
	if len(out.Code) == 0 {
		t.Fatal("no code emitted")
	}
}

func TestAtomicOps(t *testing.T) {
	ops := []wasm.Operator{
		i32c(0),
		i32c(5),
		{Opcode: wasm.OpPrefixAtomic, Sub: wasm.AtomicI32RmwAdd, Mem: wasm.MemArg{Align: 2}},
		op(wasm.OpDrop),
		i32c(0),
		i32c(1),
		i32c(2),
		{Opcode: wasm.OpPrefixAtomic, Sub: wasm.AtomicI32RmwCmpxchg, Mem: wasm.MemArg{Align: 2}},
		op(wasm.OpDrop),
		{Opcode: wasm.OpPrefixAtomic, Sub: wasm.AtomicFence},
		op(wasm.OpEnd),
	}
	out := compile(t, wasm.FuncType{}, nil, compiler.DefaultConfig(), ops)
	found := false
	for _, r := range out.Exceptions.Ranges {
		if r.Code == compiler.TrapHeapMisaligned {
			found = true
		}
	}
	if !found {
		t.Error("aligned-access check not tagged for atomics")
	}
}
