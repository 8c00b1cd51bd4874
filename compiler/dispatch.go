package compiler

import (
	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

// Op compiles one decoded operator. Operators must arrive in body
// order; after the body's final end only Finish may be called.
func (c *FuncCompiler) Op(op wasm.Operator) error {
	if c.finished {
		return errors.InvalidData("operator after function end", nil)
	}
	if c.dead {
		return c.deadOp(op)
	}
	return c.dispatch(op)
}

// deadOp consumes operators in unreachable code. Nested structures are
// counted so the matching end or a live else can resynchronize.
func (c *FuncCompiler) deadOp(op wasm.Operator) error {
	switch op.Opcode {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		c.deadNest++
	case wasm.OpElse:
		if c.deadNest == 0 {
			return c.emitElse()
		}
	case wasm.OpEnd:
		if c.deadNest > 0 {
			c.deadNest--
			return nil
		}
		return c.emitEnd()
	}
	return nil
}

func (c *FuncCompiler) dispatch(op wasm.Operator) error {
	switch op.Opcode {
	case wasm.OpUnreachable:
		c.emitUnreachable()
		return nil
	case wasm.OpNop:
		return nil

	case wasm.OpBlock:
		return c.emitBlock(op.Block)
	case wasm.OpLoop:
		return c.emitLoop(op.Block)
	case wasm.OpIf:
		return c.emitIf(op.Block)
	case wasm.OpElse:
		return c.emitElse()
	case wasm.OpEnd:
		return c.emitEnd()
	case wasm.OpBr:
		return c.emitBr(op.Index)
	case wasm.OpBrIf:
		return c.emitBrIf(op.Index)
	case wasm.OpBrTable:
		return c.emitBrTable(op.Labels, op.Default)
	case wasm.OpReturn:
		return c.emitReturn()
	case wasm.OpCall:
		return c.emitCall(op.Index)
	case wasm.OpCallIndirect:
		return c.emitCallIndirect(op.Index)

	case wasm.OpDrop:
		return c.emitDrop()
	case wasm.OpSelect:
		return c.emitSelect()

	case wasm.OpLocalGet:
		return c.emitLocalGet(op.Index)
	case wasm.OpLocalSet:
		return c.emitLocalSet(op.Index, false)
	case wasm.OpLocalTee:
		return c.emitLocalSet(op.Index, true)
	case wasm.OpGlobalGet:
		return c.emitGlobalGet(op.Index)
	case wasm.OpGlobalSet:
		return c.emitGlobalSet(op.Index)

	case wasm.OpI32Load:
		return c.emitLoad("i32.load", op.Mem, wasm.ValI32, x64.S32, false, false)
	case wasm.OpI64Load:
		return c.emitLoad("i64.load", op.Mem, wasm.ValI64, x64.S64, false, false)
	case wasm.OpF32Load:
		return c.emitLoad("f32.load", op.Mem, wasm.ValF32, x64.S32, false, false)
	case wasm.OpF64Load:
		return c.emitLoad("f64.load", op.Mem, wasm.ValF64, x64.S64, false, false)
	case wasm.OpI32Load8S:
		return c.emitLoad("i32.load8_s", op.Mem, wasm.ValI32, x64.S8, true, false)
	case wasm.OpI32Load8U:
		return c.emitLoad("i32.load8_u", op.Mem, wasm.ValI32, x64.S8, false, false)
	case wasm.OpI32Load16S:
		return c.emitLoad("i32.load16_s", op.Mem, wasm.ValI32, x64.S16, true, false)
	case wasm.OpI32Load16U:
		return c.emitLoad("i32.load16_u", op.Mem, wasm.ValI32, x64.S16, false, false)
	case wasm.OpI64Load8S:
		return c.emitLoad("i64.load8_s", op.Mem, wasm.ValI64, x64.S8, true, false)
	case wasm.OpI64Load8U:
		return c.emitLoad("i64.load8_u", op.Mem, wasm.ValI64, x64.S8, false, false)
	case wasm.OpI64Load16S:
		return c.emitLoad("i64.load16_s", op.Mem, wasm.ValI64, x64.S16, true, false)
	case wasm.OpI64Load16U:
		return c.emitLoad("i64.load16_u", op.Mem, wasm.ValI64, x64.S16, false, false)
	case wasm.OpI64Load32S:
		return c.emitLoad("i64.load32_s", op.Mem, wasm.ValI64, x64.S32, true, false)
	case wasm.OpI64Load32U:
		return c.emitLoad("i64.load32_u", op.Mem, wasm.ValI64, x64.S32, false, false)

	case wasm.OpI32Store:
		return c.emitStore("i32.store", op.Mem, wasm.ValI32, x64.S32, false)
	case wasm.OpI64Store:
		return c.emitStore("i64.store", op.Mem, wasm.ValI64, x64.S64, false)
	case wasm.OpF32Store:
		return c.emitStore("f32.store", op.Mem, wasm.ValF32, x64.S32, false)
	case wasm.OpF64Store:
		return c.emitStore("f64.store", op.Mem, wasm.ValF64, x64.S64, false)
	case wasm.OpI32Store8:
		return c.emitStore("i32.store8", op.Mem, wasm.ValI32, x64.S8, false)
	case wasm.OpI32Store16:
		return c.emitStore("i32.store16", op.Mem, wasm.ValI32, x64.S16, false)
	case wasm.OpI64Store8:
		return c.emitStore("i64.store8", op.Mem, wasm.ValI64, x64.S8, false)
	case wasm.OpI64Store16:
		return c.emitStore("i64.store16", op.Mem, wasm.ValI64, x64.S16, false)
	case wasm.OpI64Store32:
		return c.emitStore("i64.store32", op.Mem, wasm.ValI64, x64.S32, false)

	case wasm.OpMemorySize:
		return c.emitMemorySize()
	case wasm.OpMemoryGrow:
		return c.emitMemoryGrow()

	case wasm.OpI32Const:
		c.push1(Imm32(uint32(op.I32)), wasm.ValI32)
		return nil
	case wasm.OpI64Const:
		c.push1(Imm64(uint64(op.I64)), wasm.ValI64)
		return nil
	case wasm.OpF32Const:
		c.push1(Imm32(op.F32), wasm.ValF32)
		return nil
	case wasm.OpF64Const:
		c.push1(Imm64(op.F64), wasm.ValF64)
		return nil

	case wasm.OpI32Eqz:
		return c.emitEqz("i32.eqz", x64.S32)
	case wasm.OpI32Eq:
		return c.emitCmp("i32.eq", x64.S32, x64.CondE)
	case wasm.OpI32Ne:
		return c.emitCmp("i32.ne", x64.S32, x64.CondNE)
	case wasm.OpI32LtS:
		return c.emitCmp("i32.lt_s", x64.S32, x64.CondL)
	case wasm.OpI32LtU:
		return c.emitCmp("i32.lt_u", x64.S32, x64.CondB)
	case wasm.OpI32GtS:
		return c.emitCmp("i32.gt_s", x64.S32, x64.CondG)
	case wasm.OpI32GtU:
		return c.emitCmp("i32.gt_u", x64.S32, x64.CondA)
	case wasm.OpI32LeS:
		return c.emitCmp("i32.le_s", x64.S32, x64.CondLE)
	case wasm.OpI32LeU:
		return c.emitCmp("i32.le_u", x64.S32, x64.CondBE)
	case wasm.OpI32GeS:
		return c.emitCmp("i32.ge_s", x64.S32, x64.CondGE)
	case wasm.OpI32GeU:
		return c.emitCmp("i32.ge_u", x64.S32, x64.CondAE)

	case wasm.OpI64Eqz:
		return c.emitEqz("i64.eqz", x64.S64)
	case wasm.OpI64Eq:
		return c.emitCmp("i64.eq", x64.S64, x64.CondE)
	case wasm.OpI64Ne:
		return c.emitCmp("i64.ne", x64.S64, x64.CondNE)
	case wasm.OpI64LtS:
		return c.emitCmp("i64.lt_s", x64.S64, x64.CondL)
	case wasm.OpI64LtU:
		return c.emitCmp("i64.lt_u", x64.S64, x64.CondB)
	case wasm.OpI64GtS:
		return c.emitCmp("i64.gt_s", x64.S64, x64.CondG)
	case wasm.OpI64GtU:
		return c.emitCmp("i64.gt_u", x64.S64, x64.CondA)
	case wasm.OpI64LeS:
		return c.emitCmp("i64.le_s", x64.S64, x64.CondLE)
	case wasm.OpI64LeU:
		return c.emitCmp("i64.le_u", x64.S64, x64.CondBE)
	case wasm.OpI64GeS:
		return c.emitCmp("i64.ge_s", x64.S64, x64.CondGE)
	case wasm.OpI64GeU:
		return c.emitCmp("i64.ge_u", x64.S64, x64.CondAE)

	case wasm.OpF32Eq:
		return c.emitFloatCmp("f32.eq", x64.PS32, x64.CmpEQ, false)
	case wasm.OpF32Ne:
		return c.emitFloatCmp("f32.ne", x64.PS32, x64.CmpNEQ, false)
	case wasm.OpF32Lt:
		return c.emitFloatCmp("f32.lt", x64.PS32, x64.CmpLT, false)
	case wasm.OpF32Gt:
		return c.emitFloatCmp("f32.gt", x64.PS32, x64.CmpLT, true)
	case wasm.OpF32Le:
		return c.emitFloatCmp("f32.le", x64.PS32, x64.CmpLE, false)
	case wasm.OpF32Ge:
		return c.emitFloatCmp("f32.ge", x64.PS32, x64.CmpLE, true)

	case wasm.OpF64Eq:
		return c.emitFloatCmp("f64.eq", x64.PS64, x64.CmpEQ, false)
	case wasm.OpF64Ne:
		return c.emitFloatCmp("f64.ne", x64.PS64, x64.CmpNEQ, false)
	case wasm.OpF64Lt:
		return c.emitFloatCmp("f64.lt", x64.PS64, x64.CmpLT, false)
	case wasm.OpF64Gt:
		return c.emitFloatCmp("f64.gt", x64.PS64, x64.CmpLT, true)
	case wasm.OpF64Le:
		return c.emitFloatCmp("f64.le", x64.PS64, x64.CmpLE, false)
	case wasm.OpF64Ge:
		return c.emitFloatCmp("f64.ge", x64.PS64, x64.CmpLE, true)

	case wasm.OpI32Clz:
		return c.emitBitCount("i32.clz", bcLzcnt, x64.S32, wasm.ValI32)
	case wasm.OpI32Ctz:
		return c.emitBitCount("i32.ctz", bcTzcnt, x64.S32, wasm.ValI32)
	case wasm.OpI32Popcnt:
		return c.emitBitCount("i32.popcnt", bcPopcnt, x64.S32, wasm.ValI32)
	case wasm.OpI32Add:
		return c.emitALUBinop("i32.add", x64.ALUAdd, x64.S32, wasm.ValI32)
	case wasm.OpI32Sub:
		return c.emitALUBinop("i32.sub", x64.ALUSub, x64.S32, wasm.ValI32)
	case wasm.OpI32Mul:
		return c.emitMul("i32.mul", x64.S32, wasm.ValI32)
	case wasm.OpI32DivS:
		return c.emitDivRem("i32.div_s", x64.S32, true, false, wasm.ValI32)
	case wasm.OpI32DivU:
		return c.emitDivRem("i32.div_u", x64.S32, false, false, wasm.ValI32)
	case wasm.OpI32RemS:
		return c.emitDivRem("i32.rem_s", x64.S32, true, true, wasm.ValI32)
	case wasm.OpI32RemU:
		return c.emitDivRem("i32.rem_u", x64.S32, false, true, wasm.ValI32)
	case wasm.OpI32And:
		return c.emitALUBinop("i32.and", x64.ALUAnd, x64.S32, wasm.ValI32)
	case wasm.OpI32Or:
		return c.emitALUBinop("i32.or", x64.ALUOr, x64.S32, wasm.ValI32)
	case wasm.OpI32Xor:
		return c.emitALUBinop("i32.xor", x64.ALUXor, x64.S32, wasm.ValI32)
	case wasm.OpI32Shl:
		return c.emitShift("i32.shl", x64.ShiftShl, x64.S32, wasm.ValI32)
	case wasm.OpI32ShrS:
		return c.emitShift("i32.shr_s", x64.ShiftSar, x64.S32, wasm.ValI32)
	case wasm.OpI32ShrU:
		return c.emitShift("i32.shr_u", x64.ShiftShr, x64.S32, wasm.ValI32)
	case wasm.OpI32Rotl:
		return c.emitShift("i32.rotl", x64.ShiftRol, x64.S32, wasm.ValI32)
	case wasm.OpI32Rotr:
		return c.emitShift("i32.rotr", x64.ShiftRor, x64.S32, wasm.ValI32)

	case wasm.OpI64Clz:
		return c.emitBitCount("i64.clz", bcLzcnt, x64.S64, wasm.ValI64)
	case wasm.OpI64Ctz:
		return c.emitBitCount("i64.ctz", bcTzcnt, x64.S64, wasm.ValI64)
	case wasm.OpI64Popcnt:
		return c.emitBitCount("i64.popcnt", bcPopcnt, x64.S64, wasm.ValI64)
	case wasm.OpI64Add:
		return c.emitALUBinop("i64.add", x64.ALUAdd, x64.S64, wasm.ValI64)
	case wasm.OpI64Sub:
		return c.emitALUBinop("i64.sub", x64.ALUSub, x64.S64, wasm.ValI64)
	case wasm.OpI64Mul:
		return c.emitMul("i64.mul", x64.S64, wasm.ValI64)
	case wasm.OpI64DivS:
		return c.emitDivRem("i64.div_s", x64.S64, true, false, wasm.ValI64)
	case wasm.OpI64DivU:
		return c.emitDivRem("i64.div_u", x64.S64, false, false, wasm.ValI64)
	case wasm.OpI64RemS:
		return c.emitDivRem("i64.rem_s", x64.S64, true, true, wasm.ValI64)
	case wasm.OpI64RemU:
		return c.emitDivRem("i64.rem_u", x64.S64, false, true, wasm.ValI64)
	case wasm.OpI64And:
		return c.emitALUBinop("i64.and", x64.ALUAnd, x64.S64, wasm.ValI64)
	case wasm.OpI64Or:
		return c.emitALUBinop("i64.or", x64.ALUOr, x64.S64, wasm.ValI64)
	case wasm.OpI64Xor:
		return c.emitALUBinop("i64.xor", x64.ALUXor, x64.S64, wasm.ValI64)
	case wasm.OpI64Shl:
		return c.emitShift("i64.shl", x64.ShiftShl, x64.S64, wasm.ValI64)
	case wasm.OpI64ShrS:
		return c.emitShift("i64.shr_s", x64.ShiftSar, x64.S64, wasm.ValI64)
	case wasm.OpI64ShrU:
		return c.emitShift("i64.shr_u", x64.ShiftShr, x64.S64, wasm.ValI64)
	case wasm.OpI64Rotl:
		return c.emitShift("i64.rotl", x64.ShiftRol, x64.S64, wasm.ValI64)
	case wasm.OpI64Rotr:
		return c.emitShift("i64.rotr", x64.ShiftRor, x64.S64, wasm.ValI64)

	case wasm.OpF32Abs:
		return c.emitFloatAbs("f32.abs", x64.PS32)
	case wasm.OpF32Neg:
		return c.emitFloatNeg("f32.neg", x64.PS32)
	case wasm.OpF32Ceil:
		return c.emitFloatRound("f32.ceil", x64.PS32, x64.RoundUp)
	case wasm.OpF32Floor:
		return c.emitFloatRound("f32.floor", x64.PS32, x64.RoundDown)
	case wasm.OpF32Trunc:
		return c.emitFloatRound("f32.trunc", x64.PS32, x64.RoundToZero)
	case wasm.OpF32Nearest:
		return c.emitFloatRound("f32.nearest", x64.PS32, x64.RoundNearest)
	case wasm.OpF32Sqrt:
		return c.emitFloatSqrt("f32.sqrt", x64.PS32)
	case wasm.OpF32Add:
		return c.emitFloatArith("f32.add", x64.PS32, x64.SSEAdd)
	case wasm.OpF32Sub:
		return c.emitFloatArith("f32.sub", x64.PS32, x64.SSESub)
	case wasm.OpF32Mul:
		return c.emitFloatArith("f32.mul", x64.PS32, x64.SSEMul)
	case wasm.OpF32Div:
		return c.emitFloatArith("f32.div", x64.PS32, x64.SSEDiv)
	case wasm.OpF32Min:
		return c.emitFloatMinMax("f32.min", x64.PS32, false)
	case wasm.OpF32Max:
		return c.emitFloatMinMax("f32.max", x64.PS32, true)
	case wasm.OpF32Copysign:
		return c.emitFloatCopysign("f32.copysign", x64.PS32)

	case wasm.OpF64Abs:
		return c.emitFloatAbs("f64.abs", x64.PS64)
	case wasm.OpF64Neg:
		return c.emitFloatNeg("f64.neg", x64.PS64)
	case wasm.OpF64Ceil:
		return c.emitFloatRound("f64.ceil", x64.PS64, x64.RoundUp)
	case wasm.OpF64Floor:
		return c.emitFloatRound("f64.floor", x64.PS64, x64.RoundDown)
	case wasm.OpF64Trunc:
		return c.emitFloatRound("f64.trunc", x64.PS64, x64.RoundToZero)
	case wasm.OpF64Nearest:
		return c.emitFloatRound("f64.nearest", x64.PS64, x64.RoundNearest)
	case wasm.OpF64Sqrt:
		return c.emitFloatSqrt("f64.sqrt", x64.PS64)
	case wasm.OpF64Add:
		return c.emitFloatArith("f64.add", x64.PS64, x64.SSEAdd)
	case wasm.OpF64Sub:
		return c.emitFloatArith("f64.sub", x64.PS64, x64.SSESub)
	case wasm.OpF64Mul:
		return c.emitFloatArith("f64.mul", x64.PS64, x64.SSEMul)
	case wasm.OpF64Div:
		return c.emitFloatArith("f64.div", x64.PS64, x64.SSEDiv)
	case wasm.OpF64Min:
		return c.emitFloatMinMax("f64.min", x64.PS64, false)
	case wasm.OpF64Max:
		return c.emitFloatMinMax("f64.max", x64.PS64, true)
	case wasm.OpF64Copysign:
		return c.emitFloatCopysign("f64.copysign", x64.PS64)

	case wasm.OpI32WrapI64:
		return c.emitWrap()
	case wasm.OpI32TruncF32S:
		return c.emitTrunc("i32.trunc_f32_s", x64.PS32, x64.S32, true, false)
	case wasm.OpI32TruncF32U:
		return c.emitTrunc("i32.trunc_f32_u", x64.PS32, x64.S32, false, false)
	case wasm.OpI32TruncF64S:
		return c.emitTrunc("i32.trunc_f64_s", x64.PS64, x64.S32, true, false)
	case wasm.OpI32TruncF64U:
		return c.emitTrunc("i32.trunc_f64_u", x64.PS64, x64.S32, false, false)
	case wasm.OpI64ExtendI32S:
		return c.emitExtend("i64.extend_i32_s", x64.S32, true, wasm.ValI64)
	case wasm.OpI64ExtendI32U:
		return c.emitExtend("i64.extend_i32_u", x64.S32, false, wasm.ValI64)
	case wasm.OpI64TruncF32S:
		return c.emitTrunc("i64.trunc_f32_s", x64.PS32, x64.S64, true, false)
	case wasm.OpI64TruncF32U:
		return c.emitTrunc("i64.trunc_f32_u", x64.PS32, x64.S64, false, false)
	case wasm.OpI64TruncF64S:
		return c.emitTrunc("i64.trunc_f64_s", x64.PS64, x64.S64, true, false)
	case wasm.OpI64TruncF64U:
		return c.emitTrunc("i64.trunc_f64_u", x64.PS64, x64.S64, false, false)

	case wasm.OpF32ConvertI32S:
		return c.emitConvert("f32.convert_i32_s", x64.PS32, x64.S32, true)
	case wasm.OpF32ConvertI32U:
		return c.emitConvert("f32.convert_i32_u", x64.PS32, x64.S32, false)
	case wasm.OpF32ConvertI64S:
		return c.emitConvert("f32.convert_i64_s", x64.PS32, x64.S64, true)
	case wasm.OpF32ConvertI64U:
		return c.emitConvert("f32.convert_i64_u", x64.PS32, x64.S64, false)
	case wasm.OpF32DemoteF64:
		return c.emitDemote()
	case wasm.OpF64ConvertI32S:
		return c.emitConvert("f64.convert_i32_s", x64.PS64, x64.S32, true)
	case wasm.OpF64ConvertI32U:
		return c.emitConvert("f64.convert_i32_u", x64.PS64, x64.S32, false)
	case wasm.OpF64ConvertI64S:
		return c.emitConvert("f64.convert_i64_s", x64.PS64, x64.S64, true)
	case wasm.OpF64ConvertI64U:
		return c.emitConvert("f64.convert_i64_u", x64.PS64, x64.S64, false)
	case wasm.OpF64PromoteF32:
		return c.emitPromote()

	case wasm.OpI32ReinterpretF32:
		return c.emitReinterpret(false, wasm.ValI32)
	case wasm.OpI64ReinterpretF64:
		return c.emitReinterpret(false, wasm.ValI64)
	case wasm.OpF32ReinterpretI32:
		return c.emitReinterpret(true, wasm.ValF32)
	case wasm.OpF64ReinterpretI64:
		return c.emitReinterpret(true, wasm.ValF64)

	case wasm.OpI32Extend8S:
		return c.emitExtend("i32.extend8_s", x64.S8, true, wasm.ValI32)
	case wasm.OpI32Extend16S:
		return c.emitExtend("i32.extend16_s", x64.S16, true, wasm.ValI32)
	case wasm.OpI64Extend8S:
		return c.emitExtend("i64.extend8_s", x64.S8, true, wasm.ValI64)
	case wasm.OpI64Extend16S:
		return c.emitExtend("i64.extend16_s", x64.S16, true, wasm.ValI64)
	case wasm.OpI64Extend32S:
		return c.emitExtend("i64.extend32_s", x64.S32, true, wasm.ValI64)

	case wasm.OpPrefixMisc:
		return c.dispatchMisc(op)
	case wasm.OpPrefixAtomic:
		return c.dispatchAtomic(op)
	}
	return errors.Unsupported(op.Name())
}

func (c *FuncCompiler) dispatchMisc(op wasm.Operator) error {
	switch op.Sub {
	case wasm.MiscI32TruncSatF32S:
		return c.emitTrunc("i32.trunc_sat_f32_s", x64.PS32, x64.S32, true, true)
	case wasm.MiscI32TruncSatF32U:
		return c.emitTrunc("i32.trunc_sat_f32_u", x64.PS32, x64.S32, false, true)
	case wasm.MiscI32TruncSatF64S:
		return c.emitTrunc("i32.trunc_sat_f64_s", x64.PS64, x64.S32, true, true)
	case wasm.MiscI32TruncSatF64U:
		return c.emitTrunc("i32.trunc_sat_f64_u", x64.PS64, x64.S32, false, true)
	case wasm.MiscI64TruncSatF32S:
		return c.emitTrunc("i64.trunc_sat_f32_s", x64.PS32, x64.S64, true, true)
	case wasm.MiscI64TruncSatF32U:
		return c.emitTrunc("i64.trunc_sat_f32_u", x64.PS32, x64.S64, false, true)
	case wasm.MiscI64TruncSatF64S:
		return c.emitTrunc("i64.trunc_sat_f64_s", x64.PS64, x64.S64, true, true)
	case wasm.MiscI64TruncSatF64U:
		return c.emitTrunc("i64.trunc_sat_f64_u", x64.PS64, x64.S64, false, true)
	}
	return errors.Unsupported(op.Name())
}

func (c *FuncCompiler) dispatchAtomic(op wasm.Operator) error {
	switch op.Sub {
	case wasm.AtomicFence:
		c.emitAtomicFence()
		return nil

	case wasm.AtomicI32Load:
		return c.emitLoad("i32.atomic.load", op.Mem, wasm.ValI32, x64.S32, false, true)
	case wasm.AtomicI64Load:
		return c.emitLoad("i64.atomic.load", op.Mem, wasm.ValI64, x64.S64, false, true)
	case wasm.AtomicI32Load8U:
		return c.emitLoad("i32.atomic.load8_u", op.Mem, wasm.ValI32, x64.S8, false, true)
	case wasm.AtomicI32Load16U:
		return c.emitLoad("i32.atomic.load16_u", op.Mem, wasm.ValI32, x64.S16, false, true)
	case wasm.AtomicI64Load8U:
		return c.emitLoad("i64.atomic.load8_u", op.Mem, wasm.ValI64, x64.S8, false, true)
	case wasm.AtomicI64Load16U:
		return c.emitLoad("i64.atomic.load16_u", op.Mem, wasm.ValI64, x64.S16, false, true)
	case wasm.AtomicI64Load32U:
		return c.emitLoad("i64.atomic.load32_u", op.Mem, wasm.ValI64, x64.S32, false, true)

	case wasm.AtomicI32Store:
		return c.emitStore("i32.atomic.store", op.Mem, wasm.ValI32, x64.S32, true)
	case wasm.AtomicI64Store:
		return c.emitStore("i64.atomic.store", op.Mem, wasm.ValI64, x64.S64, true)
	case wasm.AtomicI32Store8:
		return c.emitStore("i32.atomic.store8", op.Mem, wasm.ValI32, x64.S8, true)
	case wasm.AtomicI32Store16:
		return c.emitStore("i32.atomic.store16", op.Mem, wasm.ValI32, x64.S16, true)
	case wasm.AtomicI64Store8:
		return c.emitStore("i64.atomic.store8", op.Mem, wasm.ValI64, x64.S8, true)
	case wasm.AtomicI64Store16:
		return c.emitStore("i64.atomic.store16", op.Mem, wasm.ValI64, x64.S16, true)
	case wasm.AtomicI64Store32:
		return c.emitStore("i64.atomic.store32", op.Mem, wasm.ValI64, x64.S32, true)

	case wasm.AtomicI32RmwAdd:
		return c.emitAtomicRmw("i32.atomic.rmw.add", op.Mem, wasm.ValI32, x64.S32, rmwAdd)
	case wasm.AtomicI64RmwAdd:
		return c.emitAtomicRmw("i64.atomic.rmw.add", op.Mem, wasm.ValI64, x64.S64, rmwAdd)
	case wasm.AtomicI32Rmw8AddU:
		return c.emitAtomicRmw("i32.atomic.rmw8.add_u", op.Mem, wasm.ValI32, x64.S8, rmwAdd)
	case wasm.AtomicI32Rmw16AddU:
		return c.emitAtomicRmw("i32.atomic.rmw16.add_u", op.Mem, wasm.ValI32, x64.S16, rmwAdd)
	case wasm.AtomicI64Rmw8AddU:
		return c.emitAtomicRmw("i64.atomic.rmw8.add_u", op.Mem, wasm.ValI64, x64.S8, rmwAdd)
	case wasm.AtomicI64Rmw16AddU:
		return c.emitAtomicRmw("i64.atomic.rmw16.add_u", op.Mem, wasm.ValI64, x64.S16, rmwAdd)
	case wasm.AtomicI64Rmw32AddU:
		return c.emitAtomicRmw("i64.atomic.rmw32.add_u", op.Mem, wasm.ValI64, x64.S32, rmwAdd)

	case wasm.AtomicI32RmwSub:
		return c.emitAtomicRmw("i32.atomic.rmw.sub", op.Mem, wasm.ValI32, x64.S32, rmwSub)
	case wasm.AtomicI64RmwSub:
		return c.emitAtomicRmw("i64.atomic.rmw.sub", op.Mem, wasm.ValI64, x64.S64, rmwSub)
	case wasm.AtomicI32Rmw8SubU:
		return c.emitAtomicRmw("i32.atomic.rmw8.sub_u", op.Mem, wasm.ValI32, x64.S8, rmwSub)
	case wasm.AtomicI32Rmw16SubU:
		return c.emitAtomicRmw("i32.atomic.rmw16.sub_u", op.Mem, wasm.ValI32, x64.S16, rmwSub)
	case wasm.AtomicI64Rmw8SubU:
		return c.emitAtomicRmw("i64.atomic.rmw8.sub_u", op.Mem, wasm.ValI64, x64.S8, rmwSub)
	case wasm.AtomicI64Rmw16SubU:
		return c.emitAtomicRmw("i64.atomic.rmw16.sub_u", op.Mem, wasm.ValI64, x64.S16, rmwSub)
	case wasm.AtomicI64Rmw32SubU:
		return c.emitAtomicRmw("i64.atomic.rmw32.sub_u", op.Mem, wasm.ValI64, x64.S32, rmwSub)

	case wasm.AtomicI32RmwAnd:
		return c.emitAtomicRmw("i32.atomic.rmw.and", op.Mem, wasm.ValI32, x64.S32, rmwAnd)
	case wasm.AtomicI64RmwAnd:
		return c.emitAtomicRmw("i64.atomic.rmw.and", op.Mem, wasm.ValI64, x64.S64, rmwAnd)
	case wasm.AtomicI32Rmw8AndU:
		return c.emitAtomicRmw("i32.atomic.rmw8.and_u", op.Mem, wasm.ValI32, x64.S8, rmwAnd)
	case wasm.AtomicI32Rmw16AndU:
		return c.emitAtomicRmw("i32.atomic.rmw16.and_u", op.Mem, wasm.ValI32, x64.S16, rmwAnd)
	case wasm.AtomicI64Rmw8AndU:
		return c.emitAtomicRmw("i64.atomic.rmw8.and_u", op.Mem, wasm.ValI64, x64.S8, rmwAnd)
	case wasm.AtomicI64Rmw16AndU:
		return c.emitAtomicRmw("i64.atomic.rmw16.and_u", op.Mem, wasm.ValI64, x64.S16, rmwAnd)
	case wasm.AtomicI64Rmw32AndU:
		return c.emitAtomicRmw("i64.atomic.rmw32.and_u", op.Mem, wasm.ValI64, x64.S32, rmwAnd)

	case wasm.AtomicI32RmwOr:
		return c.emitAtomicRmw("i32.atomic.rmw.or", op.Mem, wasm.ValI32, x64.S32, rmwOr)
	case wasm.AtomicI64RmwOr:
		return c.emitAtomicRmw("i64.atomic.rmw.or", op.Mem, wasm.ValI64, x64.S64, rmwOr)
	case wasm.AtomicI32Rmw8OrU:
		return c.emitAtomicRmw("i32.atomic.rmw8.or_u", op.Mem, wasm.ValI32, x64.S8, rmwOr)
	case wasm.AtomicI32Rmw16OrU:
		return c.emitAtomicRmw("i32.atomic.rmw16.or_u", op.Mem, wasm.ValI32, x64.S16, rmwOr)
	case wasm.AtomicI64Rmw8OrU:
		return c.emitAtomicRmw("i64.atomic.rmw8.or_u", op.Mem, wasm.ValI64, x64.S8, rmwOr)
	case wasm.AtomicI64Rmw16OrU:
		return c.emitAtomicRmw("i64.atomic.rmw16.or_u", op.Mem, wasm.ValI64, x64.S16, rmwOr)
	case wasm.AtomicI64Rmw32OrU:
		return c.emitAtomicRmw("i64.atomic.rmw32.or_u", op.Mem, wasm.ValI64, x64.S32, rmwOr)

	case wasm.AtomicI32RmwXor:
		return c.emitAtomicRmw("i32.atomic.rmw.xor", op.Mem, wasm.ValI32, x64.S32, rmwXor)
	case wasm.AtomicI64RmwXor:
		return c.emitAtomicRmw("i64.atomic.rmw.xor", op.Mem, wasm.ValI64, x64.S64, rmwXor)
	case wasm.AtomicI32Rmw8XorU:
		return c.emitAtomicRmw("i32.atomic.rmw8.xor_u", op.Mem, wasm.ValI32, x64.S8, rmwXor)
	case wasm.AtomicI32Rmw16XorU:
		return c.emitAtomicRmw("i32.atomic.rmw16.xor_u", op.Mem, wasm.ValI32, x64.S16, rmwXor)
	case wasm.AtomicI64Rmw8XorU:
		return c.emitAtomicRmw("i64.atomic.rmw8.xor_u", op.Mem, wasm.ValI64, x64.S8, rmwXor)
	case wasm.AtomicI64Rmw16XorU:
		return c.emitAtomicRmw("i64.atomic.rmw16.xor_u", op.Mem, wasm.ValI64, x64.S16, rmwXor)
	case wasm.AtomicI64Rmw32XorU:
		return c.emitAtomicRmw("i64.atomic.rmw32.xor_u", op.Mem, wasm.ValI64, x64.S32, rmwXor)

	case wasm.AtomicI32RmwXchg:
		return c.emitAtomicRmw("i32.atomic.rmw.xchg", op.Mem, wasm.ValI32, x64.S32, rmwXchg)
	case wasm.AtomicI64RmwXchg:
		return c.emitAtomicRmw("i64.atomic.rmw.xchg", op.Mem, wasm.ValI64, x64.S64, rmwXchg)
	case wasm.AtomicI32Rmw8XchgU:
		return c.emitAtomicRmw("i32.atomic.rmw8.xchg_u", op.Mem, wasm.ValI32, x64.S8, rmwXchg)
	case wasm.AtomicI32Rmw16XchgU:
		return c.emitAtomicRmw("i32.atomic.rmw16.xchg_u", op.Mem, wasm.ValI32, x64.S16, rmwXchg)
	case wasm.AtomicI64Rmw8XchgU:
		return c.emitAtomicRmw("i64.atomic.rmw8.xchg_u", op.Mem, wasm.ValI64, x64.S8, rmwXchg)
	case wasm.AtomicI64Rmw16XchgU:
		return c.emitAtomicRmw("i64.atomic.rmw16.xchg_u", op.Mem, wasm.ValI64, x64.S16, rmwXchg)
	case wasm.AtomicI64Rmw32XchgU:
		return c.emitAtomicRmw("i64.atomic.rmw32.xchg_u", op.Mem, wasm.ValI64, x64.S32, rmwXchg)

	case wasm.AtomicI32RmwCmpxchg:
		return c.emitAtomicCmpxchg("i32.atomic.rmw.cmpxchg", op.Mem, wasm.ValI32, x64.S32)
	case wasm.AtomicI64RmwCmpxchg:
		return c.emitAtomicCmpxchg("i64.atomic.rmw.cmpxchg", op.Mem, wasm.ValI64, x64.S64)
	case wasm.AtomicI32Rmw8CmpxchgU:
		return c.emitAtomicCmpxchg("i32.atomic.rmw8.cmpxchg_u", op.Mem, wasm.ValI32, x64.S8)
	case wasm.AtomicI32Rmw16CmpxchgU:
		return c.emitAtomicCmpxchg("i32.atomic.rmw16.cmpxchg_u", op.Mem, wasm.ValI32, x64.S16)
	case wasm.AtomicI64Rmw8CmpxchgU:
		return c.emitAtomicCmpxchg("i64.atomic.rmw8.cmpxchg_u", op.Mem, wasm.ValI64, x64.S8)
	case wasm.AtomicI64Rmw16CmpxchgU:
		return c.emitAtomicCmpxchg("i64.atomic.rmw16.cmpxchg_u", op.Mem, wasm.ValI64, x64.S16)
	case wasm.AtomicI64Rmw32CmpxchgU:
		return c.emitAtomicCmpxchg("i64.atomic.rmw32.cmpxchg_u", op.Mem, wasm.ValI64, x64.S32)
	}
	return errors.Unsupported(op.Name())
}
