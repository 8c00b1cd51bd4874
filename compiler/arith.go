package compiler

import (
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

// Integer emitters. The common shape is pop, compute into the lower
// operand's storage or a staging temporary, release consumed storage,
// push the result. Results of 32-bit operations leave the upper half
// of their 64-bit home unspecified; every consumer reads at its own
// width.

func (c *FuncCompiler) emitALUBinop(name string, aop x64.ALUOp, sz x64.Size, t wasm.ValType) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	if a.IsImm() {
		tmp, err := c.mach.takeTemp()
		if err != nil {
			return err
		}
		defer c.mach.releaseTemp(tmp)
		if err := c.loadToGPR(sz, a, tmp); err != nil {
			return err
		}
		if err := c.relaxedALU(aop, sz, b, GPR(tmp)); err != nil {
			return err
		}
		c.mach.release(c.asm, b)
		dst := c.pushResult(t)
		return c.relaxedMov(x64.S64, GPR(tmp), dst)
	}
	// In place: the lower operand's storage becomes the result.
	if err := c.relaxedALU(aop, sz, b, a); err != nil {
		return err
	}
	c.mach.release(c.asm, b)
	c.push1(a, t)
	return nil
}

// emitMul stages both operands: imul has no memory-destination form
// and the immediate forms do not pay for themselves here.
func (c *FuncCompiler) emitMul(name string, sz x64.Size, t wasm.ValType) error {
	a, b, err := c.pop2(name)
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
	if err := c.loadToGPR(sz, a, t1); err != nil {
		return err
	}
	if err := c.loadToGPR(sz, b, t2); err != nil {
		return err
	}
	c.asm.ImulRegReg(sz, t1, t2)
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(t1), dst)
}

// emitDivRem uses the ISA's fixed rax/rdx pair. Division by zero and
// signed INT_MIN/-1 overflow fault in hardware and are classified
// through the exception table; the one wrinkle is signed remainder by
// -1, which is defined to be zero and must not fault.
func (c *FuncCompiler) emitDivRem(name string, sz x64.Size, signed, rem bool, t wasm.ValType) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	rax, err := c.mach.takeTempReg(x64.RAX)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(rax)
	rdx, err := c.mach.takeTempReg(x64.RDX)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(rdx)
	div, err := c.mach.takeTemp() // rcx
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(div)

	if err := c.loadToGPR(sz, b, div); err != nil {
		return err
	}
	if err := c.loadToGPR(sz, a, rax); err != nil {
		return err
	}
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)

	done := c.asm.NewLabel()
	if signed {
		if rem {
			// rem_s(x, -1) is 0 for every x, including INT_MIN
			// where idiv would fault.
			doDiv := c.asm.NewLabel()
			c.asm.AluRegImm(x64.ALUCmp, sz, div, -1)
			c.asm.Jcc(x64.CondNE, doDiv)
			c.asm.Alu(x64.ALUXor, x64.S32, rdx, rdx)
			c.asm.Jmp(done)
			c.asm.Bind(doDiv)
		}
		c.asm.Cdq(sz)
	} else {
		c.asm.Alu(x64.ALUXor, x64.S32, rdx, rdx)
	}
	start := c.asm.Offset()
	c.asm.Div(sz, div, signed)
	c.markTrap(start, TrapIllegalArithmetic)
	c.asm.Bind(done)

	res := rax
	if rem {
		res = rdx
	}
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(res), dst)
}

// emitCmp pushes exactly 0 or 1.
func (c *FuncCompiler) emitCmp(name string, sz x64.Size, cond x64.Cond) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	c.asm.MovRegImm32(tmp, 0)
	if err := c.relaxedCmp(sz, b, a); err != nil {
		return err
	}
	c.asm.Setcc(cond, tmp)
	c.mach.release(c.asm, b)
	c.mach.release(c.asm, a)
	dst := c.pushResult(wasm.ValI32)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

func (c *FuncCompiler) emitEqz(name string, sz x64.Size) error {
	v, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	c.asm.MovRegImm32(tmp, 0)
	if err := c.relaxedCmp(sz, Imm32(0), v); err != nil {
		return err
	}
	c.asm.Setcc(x64.CondE, tmp)
	c.mach.release(c.asm, v)
	dst := c.pushResult(wasm.ValI32)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

// emitShift routes the count through cl, the ISA's implicit shift
// register. Counts are masked by hardware to the operand width.
func (c *FuncCompiler) emitShift(name string, sop x64.ShiftOp, sz x64.Size, t wasm.ValType) error {
	a, b, err := c.pop2(name)
	if err != nil {
		return err
	}
	rcx, err := c.mach.takeTempReg(x64.RCX)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(rcx)
	if err := c.loadToGPR(x64.S32, b, rcx); err != nil {
		return err
	}
	c.mach.release(c.asm, b)
	if a.IsReg() {
		c.asm.ShiftCl(sop, sz, a.Reg)
		c.push1(a, t)
		return nil
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if err := c.loadToGPR(sz, a, tmp); err != nil {
		return err
	}
	c.asm.ShiftCl(sop, sz, tmp)
	c.mach.release(c.asm, a)
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

type bitCountKind uint8

const (
	bcLzcnt bitCountKind = iota
	bcTzcnt
	bcPopcnt
)

func (c *FuncCompiler) emitBitCount(name string, kind bitCountKind, sz x64.Size, t wasm.ValType) error {
	v, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if err := c.loadToGPR(sz, v, tmp); err != nil {
		return err
	}
	switch kind {
	case bcLzcnt:
		c.asm.Lzcnt(sz, tmp, tmp)
	case bcTzcnt:
		c.asm.Tzcnt(sz, tmp, tmp)
	default:
		c.asm.Popcnt(sz, tmp, tmp)
	}
	c.mach.release(c.asm, v)
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

// emitWrap narrows i64 to i32. No code: consumers of i32 read 32 bits.
func (c *FuncCompiler) emitWrap() error {
	v, _, err := c.pop1("i32.wrap_i64")
	if err != nil {
		return err
	}
	if v.Kind == LocImm64 {
		c.push1(Imm32(uint32(v.Imm)), wasm.ValI32)
		return nil
	}
	c.push1(v, wasm.ValI32)
	return nil
}

func (c *FuncCompiler) emitExtend(name string, from x64.Size, signed bool, t wasm.ValType) error {
	v, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	if v.IsReg() {
		var eerr error
		if signed {
			eerr = c.relaxedSignExtend(from, v, v)
		} else {
			eerr = c.relaxedZeroExtend(from, v, v)
		}
		if eerr != nil {
			return eerr
		}
		c.push1(v, t)
		return nil
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if signed {
		err = c.relaxedSignExtend(from, v, GPR(tmp))
	} else {
		err = c.relaxedZeroExtend(from, v, GPR(tmp))
	}
	if err != nil {
		return err
	}
	c.mach.release(c.asm, v)
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}
