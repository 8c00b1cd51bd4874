package wasm

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MemArg holds memory access parameters for load and store operators.
type MemArg struct {
	Align  uint32 // log2 of the natural alignment hint
	Offset uint64
}

// Operator is one decoded WebAssembly operator. Immediates live in flat
// fields keyed by opcode; unused fields are zero.
type Operator struct {
	Opcode byte
	Sub    uint32 // sub-opcode for 0xFC/0xFE prefixed operators

	Block   int64    // block/loop/if block type (s33 encoding)
	Index   uint32   // local/global/func/label/type index
	Labels  []uint32 // br_table targets
	Default uint32   // br_table default target
	Mem     MemArg

	I32 int32  // i32.const
	I64 int64  // i64.const
	F32 uint32 // f32.const bit pattern
	F64 uint64 // f64.const bit pattern
}

// Name returns the operator's text-format mnemonic, or a hex form for
// opcodes outside the compiled subset.
func (op Operator) Name() string {
	if op.Opcode == OpPrefixMisc {
		if n, ok := miscNames[op.Sub]; ok {
			return n
		}
		return fmt.Sprintf("misc[0x%02x]", op.Sub)
	}
	if op.Opcode == OpPrefixAtomic {
		if n, ok := atomicNames[op.Sub]; ok {
			return n
		}
		return fmt.Sprintf("atomic[0x%02x]", op.Sub)
	}
	if n, ok := opNames[op.Opcode]; ok {
		return n
	}
	return fmt.Sprintf("op[0x%02x]", op.Opcode)
}

var opNames = map[byte]string{
	OpUnreachable: "unreachable", OpNop: "nop", OpBlock: "block",
	OpLoop: "loop", OpIf: "if", OpElse: "else", OpEnd: "end",
	OpBr: "br", OpBrIf: "br_if", OpBrTable: "br_table",
	OpReturn: "return", OpCall: "call", OpCallIndirect: "call_indirect",
	OpDrop: "drop", OpSelect: "select",
	OpLocalGet: "local.get", OpLocalSet: "local.set", OpLocalTee: "local.tee",
	OpGlobalGet: "global.get", OpGlobalSet: "global.set",
	OpI32Load: "i32.load", OpI64Load: "i64.load", OpF32Load: "f32.load",
	OpF64Load: "f64.load", OpI32Load8S: "i32.load8_s", OpI32Load8U: "i32.load8_u",
	OpI32Load16S: "i32.load16_s", OpI32Load16U: "i32.load16_u",
	OpI64Load8S: "i64.load8_s", OpI64Load8U: "i64.load8_u",
	OpI64Load16S: "i64.load16_s", OpI64Load16U: "i64.load16_u",
	OpI64Load32S: "i64.load32_s", OpI64Load32U: "i64.load32_u",
	OpI32Store: "i32.store", OpI64Store: "i64.store", OpF32Store: "f32.store",
	OpF64Store: "f64.store", OpI32Store8: "i32.store8", OpI32Store16: "i32.store16",
	OpI64Store8: "i64.store8", OpI64Store16: "i64.store16", OpI64Store32: "i64.store32",
	OpMemorySize: "memory.size", OpMemoryGrow: "memory.grow",
	OpI32Const: "i32.const", OpI64Const: "i64.const",
	OpF32Const: "f32.const", OpF64Const: "f64.const",
	OpI32Eqz: "i32.eqz", OpI32Eq: "i32.eq", OpI32Ne: "i32.ne",
	OpI32LtS: "i32.lt_s", OpI32LtU: "i32.lt_u", OpI32GtS: "i32.gt_s",
	OpI32GtU: "i32.gt_u", OpI32LeS: "i32.le_s", OpI32LeU: "i32.le_u",
	OpI32GeS: "i32.ge_s", OpI32GeU: "i32.ge_u",
	OpI64Eqz: "i64.eqz", OpI64Eq: "i64.eq", OpI64Ne: "i64.ne",
	OpI64LtS: "i64.lt_s", OpI64LtU: "i64.lt_u", OpI64GtS: "i64.gt_s",
	OpI64GtU: "i64.gt_u", OpI64LeS: "i64.le_s", OpI64LeU: "i64.le_u",
	OpI64GeS: "i64.ge_s", OpI64GeU: "i64.ge_u",
	OpF32Eq: "f32.eq", OpF32Ne: "f32.ne", OpF32Lt: "f32.lt",
	OpF32Gt: "f32.gt", OpF32Le: "f32.le", OpF32Ge: "f32.ge",
	OpF64Eq: "f64.eq", OpF64Ne: "f64.ne", OpF64Lt: "f64.lt",
	OpF64Gt: "f64.gt", OpF64Le: "f64.le", OpF64Ge: "f64.ge",
	OpI32Clz: "i32.clz", OpI32Ctz: "i32.ctz", OpI32Popcnt: "i32.popcnt",
	OpI32Add: "i32.add", OpI32Sub: "i32.sub", OpI32Mul: "i32.mul",
	OpI32DivS: "i32.div_s", OpI32DivU: "i32.div_u",
	OpI32RemS: "i32.rem_s", OpI32RemU: "i32.rem_u",
	OpI32And: "i32.and", OpI32Or: "i32.or", OpI32Xor: "i32.xor",
	OpI32Shl: "i32.shl", OpI32ShrS: "i32.shr_s", OpI32ShrU: "i32.shr_u",
	OpI32Rotl: "i32.rotl", OpI32Rotr: "i32.rotr",
	OpI64Clz: "i64.clz", OpI64Ctz: "i64.ctz", OpI64Popcnt: "i64.popcnt",
	OpI64Add: "i64.add", OpI64Sub: "i64.sub", OpI64Mul: "i64.mul",
	OpI64DivS: "i64.div_s", OpI64DivU: "i64.div_u",
	OpI64RemS: "i64.rem_s", OpI64RemU: "i64.rem_u",
	OpI64And: "i64.and", OpI64Or: "i64.or", OpI64Xor: "i64.xor",
	OpI64Shl: "i64.shl", OpI64ShrS: "i64.shr_s", OpI64ShrU: "i64.shr_u",
	OpI64Rotl: "i64.rotl", OpI64Rotr: "i64.rotr",
	OpF32Abs: "f32.abs", OpF32Neg: "f32.neg", OpF32Ceil: "f32.ceil",
	OpF32Floor: "f32.floor", OpF32Trunc: "f32.trunc", OpF32Nearest: "f32.nearest",
	OpF32Sqrt: "f32.sqrt", OpF32Add: "f32.add", OpF32Sub: "f32.sub",
	OpF32Mul: "f32.mul", OpF32Div: "f32.div", OpF32Min: "f32.min",
	OpF32Max: "f32.max", OpF32Copysign: "f32.copysign",
	OpF64Abs: "f64.abs", OpF64Neg: "f64.neg", OpF64Ceil: "f64.ceil",
	OpF64Floor: "f64.floor", OpF64Trunc: "f64.trunc", OpF64Nearest: "f64.nearest",
	OpF64Sqrt: "f64.sqrt", OpF64Add: "f64.add", OpF64Sub: "f64.sub",
	OpF64Mul: "f64.mul", OpF64Div: "f64.div", OpF64Min: "f64.min",
	OpF64Max: "f64.max", OpF64Copysign: "f64.copysign",
	OpI32WrapI64: "i32.wrap_i64",
	OpI32TruncF32S: "i32.trunc_f32_s", OpI32TruncF32U: "i32.trunc_f32_u",
	OpI32TruncF64S: "i32.trunc_f64_s", OpI32TruncF64U: "i32.trunc_f64_u",
	OpI64ExtendI32S: "i64.extend_i32_s", OpI64ExtendI32U: "i64.extend_i32_u",
	OpI64TruncF32S: "i64.trunc_f32_s", OpI64TruncF32U: "i64.trunc_f32_u",
	OpI64TruncF64S: "i64.trunc_f64_s", OpI64TruncF64U: "i64.trunc_f64_u",
	OpF32ConvertI32S: "f32.convert_i32_s", OpF32ConvertI32U: "f32.convert_i32_u",
	OpF32ConvertI64S: "f32.convert_i64_s", OpF32ConvertI64U: "f32.convert_i64_u",
	OpF32DemoteF64:   "f32.demote_f64",
	OpF64ConvertI32S: "f64.convert_i32_s", OpF64ConvertI32U: "f64.convert_i32_u",
	OpF64ConvertI64S: "f64.convert_i64_s", OpF64ConvertI64U: "f64.convert_i64_u",
	OpF64PromoteF32:  "f64.promote_f32",
	OpI32ReinterpretF32: "i32.reinterpret_f32", OpI64ReinterpretF64: "i64.reinterpret_f64",
	OpF32ReinterpretI32: "f32.reinterpret_i32", OpF64ReinterpretI64: "f64.reinterpret_i64",
	OpI32Extend8S: "i32.extend8_s", OpI32Extend16S: "i32.extend16_s",
	OpI64Extend8S: "i64.extend8_s", OpI64Extend16S: "i64.extend16_s",
	OpI64Extend32S: "i64.extend32_s",
}

var miscNames = map[uint32]string{
	MiscI32TruncSatF32S: "i32.trunc_sat_f32_s",
	MiscI32TruncSatF32U: "i32.trunc_sat_f32_u",
	MiscI32TruncSatF64S: "i32.trunc_sat_f64_s",
	MiscI32TruncSatF64U: "i32.trunc_sat_f64_u",
	MiscI64TruncSatF32S: "i64.trunc_sat_f32_s",
	MiscI64TruncSatF32U: "i64.trunc_sat_f32_u",
	MiscI64TruncSatF64S: "i64.trunc_sat_f64_s",
	MiscI64TruncSatF64U: "i64.trunc_sat_f64_u",
}

var atomicNames = map[uint32]string{
	AtomicFence:     "atomic.fence",
	AtomicI32Load:   "i32.atomic.load",
	AtomicI64Load:   "i64.atomic.load",
	AtomicI32Load8U: "i32.atomic.load8_u", AtomicI32Load16U: "i32.atomic.load16_u",
	AtomicI64Load8U: "i64.atomic.load8_u", AtomicI64Load16U: "i64.atomic.load16_u",
	AtomicI64Load32U: "i64.atomic.load32_u",
	AtomicI32Store:   "i32.atomic.store", AtomicI64Store: "i64.atomic.store",
	AtomicI32Store8: "i32.atomic.store8", AtomicI32Store16: "i32.atomic.store16",
	AtomicI64Store8: "i64.atomic.store8", AtomicI64Store16: "i64.atomic.store16",
	AtomicI64Store32: "i64.atomic.store32",
	AtomicI32RmwAdd:  "i32.atomic.rmw.add", AtomicI64RmwAdd: "i64.atomic.rmw.add",
	AtomicI32Rmw8AddU: "i32.atomic.rmw8.add_u", AtomicI32Rmw16AddU: "i32.atomic.rmw16.add_u",
	AtomicI64Rmw8AddU: "i64.atomic.rmw8.add_u", AtomicI64Rmw16AddU: "i64.atomic.rmw16.add_u",
	AtomicI64Rmw32AddU: "i64.atomic.rmw32.add_u",
	AtomicI32RmwSub:    "i32.atomic.rmw.sub", AtomicI64RmwSub: "i64.atomic.rmw.sub",
	AtomicI32Rmw8SubU: "i32.atomic.rmw8.sub_u", AtomicI32Rmw16SubU: "i32.atomic.rmw16.sub_u",
	AtomicI64Rmw8SubU: "i64.atomic.rmw8.sub_u", AtomicI64Rmw16SubU: "i64.atomic.rmw16.sub_u",
	AtomicI64Rmw32SubU: "i64.atomic.rmw32.sub_u",
	AtomicI32RmwAnd:    "i32.atomic.rmw.and", AtomicI64RmwAnd: "i64.atomic.rmw.and",
	AtomicI32Rmw8AndU: "i32.atomic.rmw8.and_u", AtomicI32Rmw16AndU: "i32.atomic.rmw16.and_u",
	AtomicI64Rmw8AndU: "i64.atomic.rmw8.and_u", AtomicI64Rmw16AndU: "i64.atomic.rmw16.and_u",
	AtomicI64Rmw32AndU: "i64.atomic.rmw32.and_u",
	AtomicI32RmwOr:     "i32.atomic.rmw.or", AtomicI64RmwOr: "i64.atomic.rmw.or",
	AtomicI32Rmw8OrU: "i32.atomic.rmw8.or_u", AtomicI32Rmw16OrU: "i32.atomic.rmw16.or_u",
	AtomicI64Rmw8OrU: "i64.atomic.rmw8.or_u", AtomicI64Rmw16OrU: "i64.atomic.rmw16.or_u",
	AtomicI64Rmw32OrU: "i64.atomic.rmw32.or_u",
	AtomicI32RmwXor:   "i32.atomic.rmw.xor", AtomicI64RmwXor: "i64.atomic.rmw.xor",
	AtomicI32Rmw8XorU: "i32.atomic.rmw8.xor_u", AtomicI32Rmw16XorU: "i32.atomic.rmw16.xor_u",
	AtomicI64Rmw8XorU: "i64.atomic.rmw8.xor_u", AtomicI64Rmw16XorU: "i64.atomic.rmw16.xor_u",
	AtomicI64Rmw32XorU: "i64.atomic.rmw32.xor_u",
	AtomicI32RmwXchg:   "i32.atomic.rmw.xchg", AtomicI64RmwXchg: "i64.atomic.rmw.xchg",
	AtomicI32Rmw8XchgU: "i32.atomic.rmw8.xchg_u", AtomicI32Rmw16XchgU: "i32.atomic.rmw16.xchg_u",
	AtomicI64Rmw8XchgU: "i64.atomic.rmw8.xchg_u", AtomicI64Rmw16XchgU: "i64.atomic.rmw16.xchg_u",
	AtomicI64Rmw32XchgU: "i64.atomic.rmw32.xchg_u",
	AtomicI32RmwCmpxchg: "i32.atomic.rmw.cmpxchg", AtomicI64RmwCmpxchg: "i64.atomic.rmw.cmpxchg",
	AtomicI32Rmw8CmpxchgU: "i32.atomic.rmw8.cmpxchg_u", AtomicI32Rmw16CmpxchgU: "i32.atomic.rmw16.cmpxchg_u",
	AtomicI64Rmw8CmpxchgU: "i64.atomic.rmw8.cmpxchg_u", AtomicI64Rmw16CmpxchgU: "i64.atomic.rmw16.cmpxchg_u",
	AtomicI64Rmw32CmpxchgU: "i64.atomic.rmw32.cmpxchg_u",
}

// DecodeFunctionBody decodes a function body expression into operators.
// The trailing end operator of the body is included.
func DecodeFunctionBody(expr []byte) ([]Operator, error) {
	r := bytes.NewReader(expr)
	var ops []Operator
	for r.Len() > 0 {
		op, err := decodeOperator(r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func decodeOperator(r *bytes.Reader) (Operator, error) {
	var op Operator
	opcode, err := r.ReadByte()
	if err != nil {
		return op, err
	}
	op.Opcode = opcode

	switch opcode {
	case OpBlock, OpLoop, OpIf:
		op.Block, err = ReadLEB128s33(r)

	case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee,
		OpGlobalGet, OpGlobalSet:
		op.Index, err = ReadLEB128u(r)

	case OpBrTable:
		var n uint32
		n, err = ReadLEB128u(r)
		if err != nil {
			return op, err
		}
		op.Labels = make([]uint32, n)
		for i := range op.Labels {
			op.Labels[i], err = ReadLEB128u(r)
			if err != nil {
				return op, err
			}
		}
		op.Default, err = ReadLEB128u(r)

	case OpCallIndirect:
		op.Index, err = ReadLEB128u(r)
		if err != nil {
			return op, err
		}
		_, err = ReadLEB128u(r) // table index

	case OpI32Const:
		op.I32, err = ReadLEB128s(r)

	case OpI64Const:
		op.I64, err = ReadLEB128s64(r)

	case OpF32Const:
		var raw [4]byte
		_, err = r.Read(raw[:])
		op.F32 = binary.LittleEndian.Uint32(raw[:])

	case OpF64Const:
		var raw [8]byte
		_, err = r.Read(raw[:])
		op.F64 = binary.LittleEndian.Uint64(raw[:])

	case OpMemorySize, OpMemoryGrow:
		_, err = r.ReadByte() // memory index, single byte in core wasm

	case OpPrefixMisc:
		op.Sub, err = ReadLEB128u(r)

	case OpPrefixAtomic:
		op.Sub, err = ReadLEB128u(r)
		if err != nil {
			return op, err
		}
		if op.Sub == AtomicFence {
			_, err = r.ReadByte() // fence flags, must be zero
		} else {
			err = readMemArg(r, &op.Mem)
		}

	default:
		if opcode >= OpI32Load && opcode <= OpI64Store32 {
			err = readMemArg(r, &op.Mem)
		}
		// All remaining opcodes carry no immediates.
	}

	return op, err
}

func readMemArg(r *bytes.Reader, m *MemArg) error {
	align, err := ReadLEB128u(r)
	if err != nil {
		return err
	}
	offset, err := ReadLEB128u64(r)
	if err != nil {
		return err
	}
	m.Align = align
	m.Offset = offset
	return nil
}
