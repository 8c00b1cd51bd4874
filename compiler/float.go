package compiler

import (
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

// Canonical quiet-NaN bit patterns.
const (
	canonNaN32 uint32 = 0x7FC00000
	canonNaN64 uint64 = 0x7FF8000000000000
)

// Float values live on the operand stack as raw bits in integer
// locations; XMM registers are staging only. Arithmetic results carry
// a deferred-canonicalization mark and are blended to the canonical
// NaN the moment they become observable.

// popFloat pops one value together with its canonicalization mark.
func (c *FuncCompiler) popFloat(op string) (Location, FloatValue, error) {
	loc, _, err := c.stack.pop(op)
	if err != nil {
		return loc, FloatValue{}, err
	}
	fv, _ := c.fp.popAt(c.stack.len())
	return loc, fv, nil
}

// canonicalizeXMM rewrites any NaN in x to the canonical quiet NaN.
// The blend is idempotent: canonical input passes through bit-exact.
func (c *FuncCompiler) canonicalizeXMM(prec x64.Precision, x x64.XMM) error {
	mask, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(mask)
	nan, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(nan)
	g, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(g)

	if prec == x64.PS64 {
		c.asm.MovRegImm64(g, canonNaN64)
		c.asm.MovToXmm(x64.S64, nan, g)
	} else {
		c.asm.MovRegImm32(g, canonNaN32)
		c.asm.MovToXmm(x64.S32, nan, g)
	}
	// mask = all-ones iff x is NaN (unordered with itself).
	c.asm.MovapsRegReg(mask, x)
	c.asm.Cmps(prec, x64.CmpUnord, mask, x)
	c.asm.Logic(x64.LogicAnd, nan, mask)  // nan &= mask
	c.asm.Logic(x64.LogicAndn, mask, x)   // mask = ^mask & x
	c.asm.Logic(x64.LogicOr, mask, nan)   // mask |= nan
	c.asm.MovapsRegReg(x, mask)
	return nil
}

// canonicalizeAt forces the pending canonicalization of the stack
// entry at depth, if any, in place.
func (c *FuncCompiler) canonicalizeAt(depth int) error {
	if !c.cfg.Canonicalize {
		return nil
	}
	for i := range c.fp.entries {
		e := &c.fp.entries[i]
		if e.Depth != depth || !e.Pending {
			continue
		}
		loc, _ := c.stack.at(depth)
		if loc.IsImm() {
			e.Pending = false
			break
		}
		x, err := c.mach.takeTempXMM()
		if err != nil {
			return err
		}
		if err := c.toXMM(e.Prec, loc, x); err != nil {
			c.mach.releaseTempXMM(x)
			return err
		}
		if err := c.canonicalizeXMM(e.Prec, x); err != nil {
			c.mach.releaseTempXMM(x)
			return err
		}
		err = c.fromXMM(e.Prec, x, loc)
		c.mach.releaseTempXMM(x)
		if err != nil {
			return err
		}
		e.Pending = false
		break
	}
	return nil
}

// canonicalizeTop canonicalizes the top of stack if it is marked.
func (c *FuncCompiler) canonicalizeTop() error {
	if c.stack.len() == 0 {
		return nil
	}
	return c.canonicalizeAt(c.stack.len() - 1)
}

func (c *FuncCompiler) emitFloatArith(name string, prec x64.Precision, op x64.SSEOp) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	x2, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x2)
	if err := c.toXMM(prec, a, x1); err != nil {
		return err
	}
	if err := c.toXMM(prec, b, x2); err != nil {
		return err
	}
	c.asm.SSEArith(op, prec, x1, x2)
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)
	dst := c.pushFloatResult(prec, true)
	return c.fromXMM(prec, x1, dst)
}

func (c *FuncCompiler) emitFloatSqrt(name string, prec x64.Precision) error {
	v, _, err := c.popFloat(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	if err := c.toXMM(prec, v, x1); err != nil {
		return err
	}
	c.asm.SSEArith(x64.SSESqrt, prec, x1, x1)
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(prec, true)
	return c.fromXMM(prec, x1, dst)
}

// emitFloatMinMax implements the language's min/max, which differ from
// the bare ISA operations on NaN and on signed zero. Three-way split:
// unordered produces NaN, exact equality merges sign bits, anything
// else is the plain operation.
func (c *FuncCompiler) emitFloatMinMax(name string, prec x64.Precision, isMax bool) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	x2, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x2)
	if err := c.toXMM(prec, a, x1); err != nil {
		return err
	}
	if err := c.toXMM(prec, b, x2); err != nil {
		return err
	}
	nanL := c.asm.NewLabel()
	eqL := c.asm.NewLabel()
	done := c.asm.NewLabel()
	c.asm.Ucomis(prec, x1, x2)
	c.asm.Jcc(x64.CondP, nanL)
	c.asm.Jcc(x64.CondE, eqL)
	op := x64.SSEMin
	if isMax {
		op = x64.SSEMax
	}
	c.asm.SSEArith(op, prec, x1, x2)
	c.asm.Jmp(done)
	c.asm.Bind(eqL)
	// Equal magnitudes: min(-0,+0) is -0, max(-0,+0) is +0.
	if isMax {
		c.asm.Logic(x64.LogicAnd, x1, x2)
	} else {
		c.asm.Logic(x64.LogicOr, x1, x2)
	}
	c.asm.Jmp(done)
	c.asm.Bind(nanL)
	// Adding the operands yields a quiet NaN.
	c.asm.SSEArith(x64.SSEAdd, prec, x1, x2)
	c.asm.Bind(done)
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)
	dst := c.pushFloatResult(prec, true)
	return c.fromXMM(prec, x1, dst)
}

// Sign-manipulation operators work on raw bits in the integer domain
// and preserve NaN payloads.

func (c *FuncCompiler) emitFloatNeg(name string, prec x64.Precision) error {
	v, fv, err := c.popFloat(name)
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if prec == x64.PS32 {
		if err := c.loadToGPR(x64.S32, v, tmp); err != nil {
			return err
		}
		c.asm.AluRegImm(x64.ALUXor, x64.S32, tmp, -0x80000000)
	} else {
		if err := c.loadToGPR(x64.S64, v, tmp); err != nil {
			return err
		}
		m, merr := c.mach.takeTemp()
		if merr != nil {
			return merr
		}
		defer c.mach.releaseTemp(m)
		c.asm.MovRegImm64(m, 0x8000000000000000)
		c.asm.Alu(x64.ALUXor, x64.S64, tmp, m)
	}
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(prec, fv.Pending)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

func (c *FuncCompiler) emitFloatAbs(name string, prec x64.Precision) error {
	v, fv, err := c.popFloat(name)
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if prec == x64.PS32 {
		if err := c.loadToGPR(x64.S32, v, tmp); err != nil {
			return err
		}
		c.asm.AluRegImm(x64.ALUAnd, x64.S32, tmp, 0x7FFFFFFF)
	} else {
		if err := c.loadToGPR(x64.S64, v, tmp); err != nil {
			return err
		}
		m, merr := c.mach.takeTemp()
		if merr != nil {
			return merr
		}
		defer c.mach.releaseTemp(m)
		c.asm.MovRegImm64(m, 0x7FFFFFFFFFFFFFFF)
		c.asm.Alu(x64.ALUAnd, x64.S64, tmp, m)
	}
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(prec, fv.Pending)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

func (c *FuncCompiler) emitFloatCopysign(name string, prec x64.Precision) error {
	b, _, err := c.popFloat(name)
	if err != nil {
		return err
	}
	a, fa, err := c.popFloat(name)
	if err != nil {
		return err
	}
	t1, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(t1)
	t2, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(t2)
	if prec == x64.PS32 {
		if err := c.loadToGPR(x64.S32, a, t1); err != nil {
			return err
		}
		if err := c.loadToGPR(x64.S32, b, t2); err != nil {
			return err
		}
		c.asm.AluRegImm(x64.ALUAnd, x64.S32, t1, 0x7FFFFFFF)
		c.asm.AluRegImm(x64.ALUAnd, x64.S32, t2, -0x80000000)
		c.asm.Alu(x64.ALUOr, x64.S32, t1, t2)
	} else {
		if err := c.loadToGPR(x64.S64, a, t1); err != nil {
			return err
		}
		if err := c.loadToGPR(x64.S64, b, t2); err != nil {
			return err
		}
		m, merr := c.mach.takeTemp()
		if merr != nil {
			return merr
		}
		defer c.mach.releaseTemp(m)
		c.asm.MovRegImm64(m, 0x7FFFFFFFFFFFFFFF)
		c.asm.Alu(x64.ALUAnd, x64.S64, t1, m)
		c.asm.MovRegImm64(m, 0x8000000000000000)
		c.asm.Alu(x64.ALUAnd, x64.S64, t2, m)
		c.asm.Alu(x64.ALUOr, x64.S64, t1, t2)
	}
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)
	dst := c.pushFloatResult(prec, fa.Pending)
	return c.relaxedMov(x64.S64, GPR(t1), dst)
}

func (c *FuncCompiler) emitFloatRound(name string, prec x64.Precision, mode byte) error {
	v, _, err := c.popFloat(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	if err := c.toXMM(prec, v, x1); err != nil {
		return err
	}
	c.asm.Rounds(prec, mode, x1, x1)
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(prec, true)
	return c.fromXMM(prec, x1, dst)
}

// emitFloatCmp pushes exactly 0 or 1 using a compare-mask predicate.
// The predicate set handles NaN per language semantics: eq/lt/le/gt/ge
// are ordered (false on NaN), ne is unordered (true on NaN). Greater
// forms swap operands around the less-than predicates.
func (c *FuncCompiler) emitFloatCmp(name string, prec x64.Precision, pred byte, swap bool) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	x2, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x2)
	if err := c.toXMM(prec, a, x1); err != nil {
		return err
	}
	if err := c.toXMM(prec, b, x2); err != nil {
		return err
	}
	res := x1
	if swap {
		c.asm.Cmps(prec, pred, x2, x1)
		res = x2
	} else {
		c.asm.Cmps(prec, pred, x1, x2)
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	c.asm.MovFromXmm(x64.S32, tmp, res)
	c.asm.AluRegImm(x64.ALUAnd, x64.S32, tmp, 1)
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)
	dst := c.pushResult(wasm.ValI32)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

// emitConvert turns an integer into a float. The result is never NaN,
// so nothing is deferred. Unsigned 64-bit sources need the halving
// dance for values with the top bit set.
func (c *FuncCompiler) emitConvert(name string, prec x64.Precision, srcSz x64.Size, signed bool) error {
	v, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)

	switch {
	case signed:
		if err := c.loadToGPR(srcSz, v, tmp); err != nil {
			return err
		}
		c.asm.Cvtsi2s(prec, srcSz, x1, tmp)
	case srcSz == x64.S32:
		// Zero-extend and convert as a signed 64-bit value.
		if err := c.relaxedZeroExtend(x64.S32, v, GPR(tmp)); err != nil {
			return err
		}
		c.asm.Cvtsi2s(prec, x64.S64, x1, tmp)
	default:
		if err := c.loadToGPR(x64.S64, v, tmp); err != nil {
			return err
		}
		t2, terr := c.mach.takeTemp()
		if terr != nil {
			return terr
		}
		defer c.mach.releaseTemp(t2)
		big := c.asm.NewLabel()
		done := c.asm.NewLabel()
		c.asm.TestRegReg(x64.S64, tmp, tmp)
		c.asm.Jcc(x64.CondS, big)
		c.asm.Cvtsi2s(prec, x64.S64, x1, tmp)
		c.asm.Jmp(done)
		c.asm.Bind(big)
		// Halve with the low bit folded in to keep rounding exact,
		// convert, then double.
		c.asm.MovRegReg(x64.S64, t2, tmp)
		c.asm.ShiftImm(x64.ShiftShr, x64.S64, tmp, 1)
		c.asm.AluRegImm(x64.ALUAnd, x64.S64, t2, 1)
		c.asm.Alu(x64.ALUOr, x64.S64, tmp, t2)
		c.asm.Cvtsi2s(prec, x64.S64, x1, tmp)
		c.asm.SSEArith(x64.SSEAdd, prec, x1, x1)
		c.asm.Bind(done)
	}
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(prec, false)
	return c.fromXMM(prec, x1, dst)
}

// truncBounds returns the exclusive range bounds for float-to-int
// conversion: in range iff strictly above lower and strictly below
// upper. The bit patterns are exact.
func truncBounds(prec x64.Precision, dstSz x64.Size, signed bool) (lower, upper uint64) {
	if prec == x64.PS32 {
		switch {
		case dstSz == x64.S32 && signed:
			return 0xCF000001, 0x4F000000 // (-2147483904, 2^31)
		case dstSz == x64.S32 && !signed:
			return 0xBF800000, 0x4F800000 // (-1, 2^32)
		case signed:
			return 0xDF000001, 0x5F000000 // (~-2^63, 2^63)
		default:
			return 0xBF800000, 0x5F800000 // (-1, 2^64)
		}
	}
	switch {
	case dstSz == x64.S32 && signed:
		return 0xC1E0000000200000, 0x41E0000000000000 // (-2147483649, 2^31)
	case dstSz == x64.S32 && !signed:
		return 0xBFF0000000000000, 0x41F0000000000000 // (-1, 2^32)
	case signed:
		return 0xC3E0000000000001, 0x43E0000000000000
	default:
		return 0xBFF0000000000000, 0x43F0000000000000
	}
}

// two63 is 2^63 as a float bit pattern per precision.
func two63(prec x64.Precision) uint64 {
	if prec == x64.PS32 {
		return 0x5F000000
	}
	return 0x43E0000000000000
}

// loadFloatConst materializes a float bit pattern into an XMM.
func (c *FuncCompiler) loadFloatConst(prec x64.Precision, bits uint64, x x64.XMM) error {
	g, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(g)
	if prec == x64.PS32 {
		c.asm.MovRegImm32(g, uint32(bits))
		c.asm.MovToXmm(x64.S32, x, g)
	} else {
		c.asm.MovRegImm64(g, bits)
		c.asm.MovToXmm(x64.S64, x, g)
	}
	return nil
}

// emitTrunc converts a float to an integer, trapping or saturating on
// out-of-range input. Both variants share the bound classifier: a
// value converts directly iff it compares strictly inside the bounds;
// NaN fails the first comparison through the carry flag.
func (c *FuncCompiler) emitTrunc(name string, prec x64.Precision, dstSz x64.Size, signed, sat bool) error {
	v, _, err := c.popFloat(name)
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	bound, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(bound)
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if err := c.toXMM(prec, v, x1); err != nil {
		return err
	}
	c.mach.release(c.asm, v)

	lower, upper := truncBounds(prec, dstSz, signed)
	t := wasm.ValI32
	if dstSz == x64.S64 {
		t = wasm.ValI64
	}

	lowL := c.asm.NewLabel()
	highL := c.asm.NewLabel()
	done := c.asm.NewLabel()

	if sat {
		c.asm.MovRegImm32(tmp, 0)
		// NaN saturates to zero.
		c.asm.Ucomis(prec, x1, x1)
		c.asm.Jcc(x64.CondP, done)
	}
	if err := c.loadFloatConst(prec, lower, bound); err != nil {
		return err
	}
	c.asm.Ucomis(prec, x1, bound)
	c.asm.Jcc(x64.CondBE, lowL) // also catches NaN in the trapping form
	if err := c.loadFloatConst(prec, upper, bound); err != nil {
		return err
	}
	c.asm.Ucomis(prec, x1, bound)
	c.asm.Jcc(x64.CondAE, highL)

	if err := c.emitTruncConvert(prec, dstSz, signed, x1, bound, tmp); err != nil {
		return err
	}
	c.asm.Jmp(done)

	if sat {
		low, high := truncSatLimits(dstSz, signed)
		c.asm.Bind(lowL)
		c.asm.MovRegImm64(tmp, low)
		c.asm.Jmp(done)
		c.asm.Bind(highL)
		c.asm.MovRegImm64(tmp, high)
	} else {
		c.asm.Bind(lowL)
		c.asm.Bind(highL)
		start := c.asm.Offset()
		c.asm.Ud2()
		c.markTrap(start, TrapBadConversionToInteger)
	}
	c.asm.Bind(done)
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

// emitTruncConvert emits the in-range conversion into g. Unsigned
// 64-bit destinations split around 2^63.
func (c *FuncCompiler) emitTruncConvert(prec x64.Precision, dstSz x64.Size, signed bool, x, scratch x64.XMM, g x64.Reg) error {
	switch {
	case signed:
		c.asm.Cvtts2si(prec, dstSz, g, x)
	case dstSz == x64.S32:
		// In (-1, 2^32): a 64-bit signed conversion is exact.
		c.asm.Cvtts2si(prec, x64.S64, g, x)
	default:
		big := c.asm.NewLabel()
		merged := c.asm.NewLabel()
		if err := c.loadFloatConst(prec, two63(prec), scratch); err != nil {
			return err
		}
		c.asm.Ucomis(prec, x, scratch)
		c.asm.Jcc(x64.CondAE, big)
		c.asm.Cvtts2si(prec, x64.S64, g, x)
		c.asm.Jmp(merged)
		c.asm.Bind(big)
		c.asm.SSEArith(x64.SSESub, prec, x, scratch)
		c.asm.Cvtts2si(prec, x64.S64, g, x)
		t2, err := c.mach.takeTemp()
		if err != nil {
			return err
		}
		c.asm.MovRegImm64(t2, 0x8000000000000000)
		c.asm.Alu(x64.ALUAdd, x64.S64, g, t2)
		c.mach.releaseTemp(t2)
		c.asm.Bind(merged)
	}
	return nil
}

func truncSatLimits(dstSz x64.Size, signed bool) (low, high uint64) {
	switch {
	case dstSz == x64.S32 && signed:
		return 0x80000000, 0x7FFFFFFF
	case dstSz == x64.S32 && !signed:
		return 0, 0xFFFFFFFF
	case signed:
		return 0x8000000000000000, 0x7FFFFFFFFFFFFFFF
	default:
		return 0, 0xFFFFFFFFFFFFFFFF
	}
}

func (c *FuncCompiler) emitDemote() error {
	v, _, err := c.popFloat("f32.demote_f64")
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	if err := c.toXMM(x64.PS64, v, x1); err != nil {
		return err
	}
	c.asm.Cvtsd2ss(x1, x1)
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(x64.PS32, true)
	return c.fromXMM(x64.PS32, x1, dst)
}

func (c *FuncCompiler) emitPromote() error {
	v, _, err := c.popFloat("f64.promote_f32")
	if err != nil {
		return err
	}
	x1, err := c.mach.takeTempXMM()
	if err != nil {
		return err
	}
	defer c.mach.releaseTempXMM(x1)
	if err := c.toXMM(x64.PS32, v, x1); err != nil {
		return err
	}
	c.asm.Cvtss2sd(x1, x1)
	c.mach.release(c.asm, v)
	dst := c.pushFloatResult(x64.PS64, true)
	return c.fromXMM(x64.PS64, x1, dst)
}

// emitReinterpret changes a value's type without changing its bits.
// Float sources become observable integers, so any deferred NaN
// canonicalization fires first. Integer sources pass through exactly;
// the produced float is observable as given.
func (c *FuncCompiler) emitReinterpret(toFloat bool, t wasm.ValType) error {
	if !toFloat {
		if err := c.canonicalizeTop(); err != nil {
			return err
		}
	}
	loc, _, err := c.pop1("reinterpret")
	if err != nil {
		return err
	}
	if toFloat {
		depth := c.stack.len()
		c.stack.push(loc, t)
		c.fp.push(depth, precOf(t), false)
		return nil
	}
	c.stack.push(loc, t)
	return nil
}
