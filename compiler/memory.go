package compiler

import (
	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

func typeBits(t wasm.ValType) int {
	if t == wasm.ValI64 || t == wasm.ValF64 {
		return 64
	}
	return 32
}

// checkWidth enforces that an access is never wider than the value it
// feeds. Decoded input cannot violate this; the check documents the
// invariant.
func checkWidth(name string, accSz x64.Size, t wasm.ValType) error {
	if accSz.Bits() > typeBits(t) {
		return errors.WidthMismatch(name, accSz.Bits(), typeBits(t))
	}
	return nil
}

// emitAddress pops the index operand and computes the host address of
// the access into a temporary, which the caller must release. The
// dynamic memory style compares the end of the access against the
// current bound; the static style relies on guard pages and emits no
// check. Atomic accesses optionally verify natural alignment.
func (c *FuncCompiler) emitAddress(name string, mem wasm.MemArg, accBytes int32, atomic bool) (x64.Reg, error) {
	idx, _, err := c.pop1(name)
	if err != nil {
		return 0, err
	}
	addr, err := c.mach.takeTemp()
	if err != nil {
		return 0, err
	}
	// The 32-bit index is unsigned; the effective address cannot
	// overflow 64 bits.
	if err := c.relaxedZeroExtend(x64.S32, idx, GPR(addr)); err != nil {
		c.mach.releaseTemp(addr)
		return 0, err
	}
	c.mach.release(c.asm, idx)
	if mem.Offset != 0 {
		if mem.Offset <= 0x7FFFFFFF {
			c.asm.AluRegImm(x64.ALUAdd, x64.S64, addr, int32(mem.Offset))
		} else {
			t2, terr := c.mach.takeTemp()
			if terr != nil {
				c.mach.releaseTemp(addr)
				return 0, terr
			}
			c.asm.MovRegImm64(t2, mem.Offset)
			c.asm.Alu(x64.ALUAdd, x64.S64, addr, t2)
			c.mach.releaseTemp(t2)
		}
	}

	if c.cfg.Memory.Kind == wasm.MemoryDynamic {
		t2, terr := c.mach.takeTemp()
		if terr != nil {
			c.mach.releaseTemp(addr)
			return 0, terr
		}
		c.asm.Lea(x64.S64, t2, x64.Mem{Base: addr, Disp: accBytes})
		c.asm.AluRegMem(x64.ALUCmp, x64.S64, t2, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.MemoryBound})
		ok := c.asm.NewLabel()
		c.asm.Jcc(x64.CondBE, ok)
		start := c.asm.Offset()
		c.asm.Ud2()
		c.markTrap(start, TrapMemoryOutOfBounds)
		c.asm.Bind(ok)
		c.mach.releaseTemp(t2)
	}

	if atomic && c.cfg.EnforceAlignment && accBytes > 1 {
		t2, terr := c.mach.takeTemp()
		if terr != nil {
			c.mach.releaseTemp(addr)
			return 0, terr
		}
		c.asm.MovRegReg(x64.S64, t2, addr)
		c.asm.AluRegImm(x64.ALUAnd, x64.S32, t2, accBytes-1)
		ok := c.asm.NewLabel()
		c.asm.Jcc(x64.CondE, ok)
		start := c.asm.Offset()
		c.asm.Ud2()
		c.markTrap(start, TrapHeapMisaligned)
		c.asm.Bind(ok)
		c.mach.releaseTemp(t2)
	}

	c.asm.AluRegMem(x64.ALUAdd, x64.S64, addr, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.MemoryBase})
	return addr, nil
}

// guarded wraps an access instruction with an out-of-bounds tag when
// the memory style detects bounds violations through guard-page
// faults instead of an explicit check.
func (c *FuncCompiler) guarded(emit func()) {
	if c.cfg.Memory.Kind != wasm.MemoryStatic {
		emit()
		return
	}
	start := c.asm.Offset()
	emit()
	c.markTrap(start, TrapMemoryOutOfBounds)
}

func (c *FuncCompiler) emitLoad(name string, mem wasm.MemArg, t wasm.ValType, accSz x64.Size, signed, atomic bool) error {
	if err := checkWidth(name, accSz, t); err != nil {
		return err
	}
	addr, err := c.emitAddress(name, mem, int32(accSz), atomic)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(addr)
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	wide := x64.S32
	if typeBits(t) == 64 {
		wide = x64.S64
	}
	m := x64.Mem{Base: addr}
	c.guarded(func() {
		switch {
		case accSz == wide:
			c.asm.MovRegMem(accSz, tmp, m)
		case signed:
			c.asm.MovsxMem(wide, accSz, tmp, m)
		case accSz == x64.S32:
			// The 32-bit load zero-extends on its own.
			c.asm.MovRegMem(x64.S32, tmp, m)
		default:
			c.asm.MovzxMem(wide, accSz, tmp, m)
		}
	})
	var dst Location
	if t.IsFloat() {
		dst = c.pushFloatResult(precOf(t), false)
	} else {
		dst = c.pushResult(t)
	}
	return c.relaxedMov(x64.S64, GPR(tmp), dst)
}

func (c *FuncCompiler) emitStore(name string, mem wasm.MemArg, t wasm.ValType, accSz x64.Size, atomic bool) error {
	if err := checkWidth(name, accSz, t); err != nil {
		return err
	}
	// The stored bits are observable.
	if err := c.canonicalizeTop(); err != nil {
		return err
	}
	v, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	addr, err := c.emitAddress(name, mem, int32(accSz), atomic)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(addr)
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if err := c.loadToGPR(x64.S64, v, tmp); err != nil {
		return err
	}
	c.mach.release(c.asm, v)
	m := x64.Mem{Base: addr}
	c.guarded(func() {
		if atomic {
			// xchg carries an implicit lock and publishes the store.
			c.asm.XchgMemReg(accSz, m, tmp)
		} else {
			c.asm.MovMemReg(accSz, m, tmp)
		}
	})
	return nil
}

// rmwKind selects the combining operation of an atomic read-modify-
// write. Exchange short-circuits to a bare xchg; the rest run the
// compare-exchange retry loop.
type rmwKind uint8

const (
	rmwAdd rmwKind = iota
	rmwSub
	rmwAnd
	rmwOr
	rmwXor
	rmwXchg
)

var rmwALU = map[rmwKind]x64.ALUOp{
	rmwAdd: x64.ALUAdd,
	rmwSub: x64.ALUSub,
	rmwAnd: x64.ALUAnd,
	rmwOr:  x64.ALUOr,
	rmwXor: x64.ALUXor,
}

// emitAtomicRmw atomically applies the operation and pushes the old
// value, zero-extended for narrow widths.
func (c *FuncCompiler) emitAtomicRmw(name string, mem wasm.MemArg, t wasm.ValType, accSz x64.Size, kind rmwKind) error {
	if err := checkWidth(name, accSz, t); err != nil {
		return err
	}
	v, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	// Normalize wide immediates so the retry loop never needs a
	// fourth temporary: narrow them when they fit a sign-extended
	// imm32, spill them otherwise.
	if v.Kind == LocImm64 {
		if int64(v.Imm) == int64(int32(uint32(v.Imm))) {
			v = Imm32(uint32(v.Imm))
		} else {
			slot := c.mach.acquireSlot(c.asm, MachineValue{})
			if err := c.relaxedMov(x64.S64, v, slot); err != nil {
				return err
			}
			v = slot
		}
	}
	rax, err := c.mach.takeTempReg(x64.RAX)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(rax)
	addr, err := c.emitAddress(name, mem, int32(accSz), true)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(addr)
	m := x64.Mem{Base: addr}

	if kind == rmwXchg {
		if err := c.loadToGPR(x64.S64, v, rax); err != nil {
			return err
		}
		c.guarded(func() { c.asm.XchgMemReg(accSz, m, rax) })
	} else {
		scratch, serr := c.mach.takeTemp()
		if serr != nil {
			return serr
		}
		defer c.mach.releaseTemp(scratch)
		// Load once with zero extension, then race through cmpxchg:
		// on failure the actual value lands in rax and the loop
		// retries without reloading.
		c.guarded(func() {
			if accSz == x64.S64 || accSz == x64.S32 {
				c.asm.MovRegMem(accSz, rax, m)
			} else {
				c.asm.MovzxMem(x64.S32, accSz, rax, m)
			}
		})
		retry := c.asm.NewLabel()
		c.asm.Bind(retry)
		c.asm.MovRegReg(x64.S64, scratch, rax)
		if err := c.relaxedALU(rmwALU[kind], accSz, v, GPR(scratch)); err != nil {
			return err
		}
		c.asm.CmpxchgMemReg(accSz, m, scratch)
		c.asm.Jcc(x64.CondNE, retry)
	}
	c.mach.release(c.asm, v)
	if accSz == x64.S8 || accSz == x64.S16 {
		c.asm.Movzx(x64.S32, accSz, rax, rax)
	}
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(rax), dst)
}

// emitAtomicCmpxchg pushes the value observed at the address, which
// equals the expected operand iff the replacement was stored.
func (c *FuncCompiler) emitAtomicCmpxchg(name string, mem wasm.MemArg, t wasm.ValType, accSz x64.Size) error {
	if err := checkWidth(name, accSz, t); err != nil {
		return err
	}
	repl, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	expected, _, err := c.pop1(name)
	if err != nil {
		return err
	}
	rax, err := c.mach.takeTempReg(x64.RAX)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(rax)
	addr, err := c.emitAddress(name, mem, int32(accSz), true)
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(addr)
	scratch, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(scratch)

	if err := c.loadToGPR(x64.S64, expected, rax); err != nil {
		return err
	}
	if err := c.loadToGPR(x64.S64, repl, scratch); err != nil {
		return err
	}
	m := x64.Mem{Base: addr}
	c.guarded(func() { c.asm.CmpxchgMemReg(accSz, m, scratch) })
	c.mach.release(c.asm, expected)
	c.mach.release(c.asm, repl)
	if accSz == x64.S8 || accSz == x64.S16 {
		c.asm.Movzx(x64.S32, accSz, rax, rax)
	}
	dst := c.pushResult(t)
	return c.relaxedMov(x64.S64, GPR(rax), dst)
}

func (c *FuncCompiler) emitAtomicFence() {
	c.asm.MFence()
}
