package wasm_test

import (
	"testing"

	"github.com/wasmkit/singlepass/wasm"
)

// addModule is a complete binary for:
//
//	(module
//	  (memory 1)
//	  (func (export "add") (param i32 i32) (result i32)
//	    local.get 0
//	    local.get 1
//	    i32.add))
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
	// type section: (i32, i32) -> i32
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7F, 0x7F, 0x01, 0x7F,
	// function section: one function of type 0
	0x03, 0x02, 0x01, 0x00,
	// memory section: min 1 page
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export section: "add" -> func 0
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	// code section: local.get 0; local.get 1; i32.add; end
	0x0A, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6A, 0x0B,
}

func TestParseModule(t *testing.T) {
	m, err := wasm.ParseModule(addModule)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Types) != 1 {
		t.Fatalf("types = %d, want 1", len(m.Types))
	}
	sig := m.Types[0]
	if len(sig.Params) != 2 || sig.Params[0] != wasm.ValI32 || sig.Params[1] != wasm.ValI32 {
		t.Errorf("params = %v", sig.Params)
	}
	if len(sig.Results) != 1 || sig.Results[0] != wasm.ValI32 {
		t.Errorf("results = %v", sig.Results)
	}

	if len(m.Funcs) != 1 || m.Funcs[0] != 0 {
		t.Errorf("funcs = %v", m.Funcs)
	}
	if len(m.Memories) != 1 || m.Memories[0].Limits.Min != 1 {
		t.Errorf("memories = %v", m.Memories)
	}
	if len(m.Exports) != 1 || m.Exports[0].Name != "add" || m.Exports[0].Kind != wasm.KindFunc {
		t.Errorf("exports = %v", m.Exports)
	}
	if len(m.Code) != 1 || len(m.Code[0].Locals) != 0 {
		t.Fatalf("code = %v", m.Code)
	}
}

func TestParseModuleBadHeader(t *testing.T) {
	bad := append([]byte(nil), addModule...)
	bad[0] = 'X'
	if _, err := wasm.ParseModule(bad); err != wasm.ErrInvalidMagic {
		t.Errorf("magic: got %v", err)
	}

	bad = append([]byte(nil), addModule...)
	bad[4] = 0x02
	if _, err := wasm.ParseModule(bad); err != wasm.ErrInvalidVersion {
		t.Errorf("version: got %v", err)
	}

	if _, err := wasm.ParseModule(addModule[:4]); err == nil {
		t.Error("truncated header should fail")
	}
}

func TestDecodeFunctionBody(t *testing.T) {
	m, err := wasm.ParseModule(addModule)
	if err != nil {
		t.Fatal(err)
	}
	ops, err := wasm.DecodeFunctionBody(m.Code[0].Expr)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		opcode byte
		index  uint32
	}{
		{wasm.OpLocalGet, 0},
		{wasm.OpLocalGet, 1},
		{wasm.OpI32Add, 0},
		{wasm.OpEnd, 0},
	}
	if len(ops) != len(want) {
		t.Fatalf("decoded %d operators, want %d", len(ops), len(want))
	}
	for i, w := range want {
		if ops[i].Opcode != w.opcode || ops[i].Index != w.index {
			t.Errorf("op %d: got {%#x %d}, want {%#x %d}",
				i, ops[i].Opcode, ops[i].Index, w.opcode, w.index)
		}
	}
}

func TestDecodeImmediates(t *testing.T) {
	tests := []struct {
		name  string
		expr  []byte
		check func(t *testing.T, op wasm.Operator)
	}{
		{
			"i32.const -5",
			[]byte{0x41, 0x7B},
			func(t *testing.T, op wasm.Operator) {
				if op.I32 != -5 {
					t.Errorf("I32 = %d", op.I32)
				}
			},
		},
		{
			"i64.const 624485",
			[]byte{0x42, 0xE5, 0x8E, 0x26},
			func(t *testing.T, op wasm.Operator) {
				if op.I64 != 624485 {
					t.Errorf("I64 = %d", op.I64)
				}
			},
		},
		{
			"f32.const 1.0",
			[]byte{0x43, 0x00, 0x00, 0x80, 0x3F},
			func(t *testing.T, op wasm.Operator) {
				if op.F32 != 0x3F800000 {
					t.Errorf("F32 = %#x", op.F32)
				}
			},
		},
		{
			"f64.const 1.0",
			[]byte{0x44, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F},
			func(t *testing.T, op wasm.Operator) {
				if op.F64 != 0x3FF0000000000000 {
					t.Errorf("F64 = %#x", op.F64)
				}
			},
		},
		{
			"i32.load offset=8 align=2",
			[]byte{0x28, 0x02, 0x08},
			func(t *testing.T, op wasm.Operator) {
				if op.Mem.Align != 2 || op.Mem.Offset != 8 {
					t.Errorf("mem = %+v", op.Mem)
				}
			},
		},
		{
			"br_table",
			[]byte{0x0E, 0x02, 0x00, 0x01, 0x02},
			func(t *testing.T, op wasm.Operator) {
				if len(op.Labels) != 2 || op.Labels[0] != 0 || op.Labels[1] != 1 || op.Default != 2 {
					t.Errorf("labels = %v default = %d", op.Labels, op.Default)
				}
			},
		},
		{
			"block (result i32)",
			[]byte{0x02, 0x7F},
			func(t *testing.T, op wasm.Operator) {
				if op.Block != wasm.BlockTypeI32 {
					t.Errorf("block = %d", op.Block)
				}
			},
		},
		{
			"i32.trunc_sat_f32_s",
			[]byte{0xFC, 0x00},
			func(t *testing.T, op wasm.Operator) {
				if op.Sub != wasm.MiscI32TruncSatF32S {
					t.Errorf("sub = %d", op.Sub)
				}
			},
		},
		{
			"i32.atomic.rmw.add offset=4",
			[]byte{0xFE, 0x1E, 0x02, 0x04},
			func(t *testing.T, op wasm.Operator) {
				if op.Sub != wasm.AtomicI32RmwAdd || op.Mem.Offset != 4 {
					t.Errorf("op = %+v", op)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := wasm.DecodeFunctionBody(tt.expr)
			if err != nil {
				t.Fatal(err)
			}
			if len(ops) != 1 {
				t.Fatalf("decoded %d operators", len(ops))
			}
			tt.check(t, ops[0])
		})
	}
}

func TestOperatorName(t *testing.T) {
	tests := []struct {
		op   wasm.Operator
		want string
	}{
		{wasm.Operator{Opcode: wasm.OpI32Add}, "i32.add"},
		{wasm.Operator{Opcode: wasm.OpPrefixMisc, Sub: wasm.MiscI64TruncSatF64U}, "i64.trunc_sat_f64_u"},
		{wasm.Operator{Opcode: wasm.OpPrefixAtomic, Sub: wasm.AtomicI64RmwCmpxchg}, "i64.atomic.rmw.cmpxchg"},
		{wasm.Operator{Opcode: 0xFB}, "op[0xfb]"},
	}
	for _, tt := range tests {
		if got := tt.op.Name(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}
