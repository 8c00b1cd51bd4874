package compiler

import (
	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

// Internal calling convention: System V with the context pointer as an
// implicit first argument in rdi. Every WebAssembly argument travels
// integer-class as raw bits, overflow arguments on the stack; the
// result comes back in rax as raw bits.

// emitCallSysv performs a full call: canonicalizes observable
// arguments, saves live caller-saved value registers, aligns the
// native stack with an explicit shadow slot when needed, places
// arguments with a cycle-breaking move sort, calls through emitTarget
// (which must leave the target in rax and issue the call), unwinds
// symmetrically and pushes the result. Net native stack movement is
// zero.
func (c *FuncCompiler) emitCallSysv(name string, sig wasm.FuncType, emitTarget func()) error {
	nArgs := len(sig.Params)
	if c.stack.len() < nArgs {
		return errors.StackUnderflow(name, c.stack.len(), nArgs)
	}
	argBase := c.stack.len() - nArgs
	for i := 0; i < nArgs; i++ {
		if err := c.canonicalizeAt(argBase + i); err != nil {
			return err
		}
	}

	a := c.asm
	m := c.mach

	// Save live operand-stack registers. Pushing preserves the source
	// register, so argument moves below still read them directly.
	var saved []x64.Reg
	for _, r := range valueGPRs {
		if m.gprUsed(r) {
			a.Push(r)
			saved = append(saved, r)
			m.stackBytes += 8
			if m.trackState {
				m.state.Stack = append(m.state.Stack,
					MachineValue{Kind: MVPreserveRegister, Index: int32(r)})
			}
		}
	}
	var savedXMM []x64.XMM
	for _, x := range valueXMMs {
		if m.xmmUsed(x) {
			savedXMM = append(savedXMM, x)
		}
	}
	if len(savedXMM) > 0 {
		a.AluRegImm(x64.ALUSub, x64.S64, x64.RSP, int32(8*len(savedXMM)))
		for i, x := range savedXMM {
			a.MovsStore(x64.PS64, x64.Mem{Base: x64.RSP, Disp: int32(8 * i)}, x)
		}
		m.stackBytes += int32(8 * len(savedXMM))
		if m.trackState {
			for range savedXMM {
				m.state.Stack = append(m.state.Stack,
					MachineValue{Kind: MVPreserveRegister, Index: -1})
			}
		}
	}

	nStack := 0
	if nArgs+1 > len(sysvArgGPRs) {
		nStack = nArgs + 1 - len(sysvArgGPRs)
	}
	// The return address push must leave rsp 16-byte aligned.
	shadow := int32(0)
	if (m.stackBytes+int32(8*nStack))%16 != 0 {
		shadow = 8
		a.AluRegImm(x64.ALUSub, x64.S64, x64.RSP, 8)
		m.stackBytes += 8
		if m.trackState {
			m.state.Stack = append(m.state.Stack, MachineValue{Kind: MVExplicitShadow})
		}
	}

	// Overflow arguments, pushed in reverse so the first lands lowest.
	for i := nArgs - 1; i >= 0; i-- {
		slot := i + 1
		if slot < len(sysvArgGPRs) {
			continue
		}
		loc, _ := c.stack.at(argBase + i)
		if err := c.loadToGPR(x64.S64, loc, x64.RAX); err != nil {
			return err
		}
		a.Push(x64.RAX)
		m.stackBytes += 8
		if m.trackState {
			m.state.Stack = append(m.state.Stack,
				MachineValue{Kind: MVWasmStack, Index: int32(argBase + i)})
		}
	}

	if err := c.emitArgMoves(argBase, nArgs); err != nil {
		return err
	}

	private := int32(len(saved) + len(savedXMM))
	if shadow != 0 {
		private++
	}
	prevPrivate := m.state.PrivateDepth
	m.state.PrivateDepth = private

	emitTarget()
	c.markCall(a.Offset())
	m.state.PrivateDepth = prevPrivate

	// Symmetric unwind.
	unwindBytes := shadow + int32(8*nStack) + int32(8*len(savedXMM))
	popped := nStack + len(savedXMM)
	if shadow != 0 {
		popped++
	}
	if unwindBytes > 0 {
		if len(savedXMM) > 0 {
			for i, x := range savedXMM {
				c.asm.MovsLoad(x64.PS64, x, x64.Mem{Base: x64.RSP, Disp: int32(8*nStack) + shadow + int32(8*i)})
			}
		}
		a.AluRegImm(x64.ALUAdd, x64.S64, x64.RSP, unwindBytes)
		m.stackBytes -= unwindBytes
	}
	for i := len(saved) - 1; i >= 0; i-- {
		a.Pop(saved[i])
		m.stackBytes -= 8
	}
	if m.trackState {
		drop := popped + len(saved)
		m.state.Stack = m.state.Stack[:len(m.state.Stack)-drop]
	}

	// Consume the arguments.
	for i := 0; i < nArgs; i++ {
		loc, _, err := c.pop1(name)
		if err != nil {
			return err
		}
		c.mach.release(c.asm, loc)
	}

	if len(sig.Results) == 1 {
		t := sig.Results[0]
		var dst Location
		if t.IsFloat() {
			dst = c.pushFloatResult(precOf(t), false)
		} else {
			dst = c.pushResult(t)
		}
		return c.relaxedMov(x64.S64, GPR(x64.RAX), dst)
	}
	return nil
}

// emitArgMoves places register-class arguments, including the context
// pointer, breaking move cycles through rax.
func (c *FuncCompiler) emitArgMoves(argBase, nArgs int) error {
	type move struct {
		src Location
		dst x64.Reg
	}
	var regMoves []move  // register sources, may conflict
	var easyMoves []move // memory/immediate sources, never conflict
	regMoves = append(regMoves, move{src: GPR(ContextReg), dst: sysvArgGPRs[0]})
	for i := 0; i < nArgs && i+1 < len(sysvArgGPRs); i++ {
		loc, _ := c.stack.at(argBase + i)
		mv := move{src: loc, dst: sysvArgGPRs[i+1]}
		if loc.IsReg() {
			regMoves = append(regMoves, mv)
		} else {
			easyMoves = append(easyMoves, mv)
		}
	}

	isPendingSource := func(r x64.Reg) bool {
		for _, mv := range regMoves {
			if mv.src.IsReg() && mv.src.Reg == r {
				return true
			}
		}
		return false
	}
	for len(regMoves) > 0 {
		progressed := false
		for i := 0; i < len(regMoves); i++ {
			mv := regMoves[i]
			if mv.src.Reg == mv.dst {
				regMoves = append(regMoves[:i], regMoves[i+1:]...)
				progressed = true
				break
			}
			if !isPendingSource(mv.dst) {
				c.asm.MovRegReg(x64.S64, mv.dst, mv.src.Reg)
				regMoves = append(regMoves[:i], regMoves[i+1:]...)
				progressed = true
				break
			}
		}
		if !progressed {
			// Every remaining destination is also a pending source:
			// a cycle. Rotate one source through rax to break it.
			mv := regMoves[0]
			c.asm.MovRegReg(x64.S64, x64.RAX, mv.src.Reg)
			regMoves[0].src = GPR(x64.RAX)
		}
	}
	for _, mv := range easyMoves {
		if err := c.loadToGPR(x64.S64, mv.src, mv.dst); err != nil {
			return err
		}
	}
	return nil
}

// emitCall compiles a direct call through the context's native entry
// table.
func (c *FuncCompiler) emitCall(funcIdx uint32) error {
	if int(funcIdx) >= len(c.cfg.Funcs) {
		return errors.InvalidData("function index out of range", nil)
	}
	sig := c.cfg.Funcs[funcIdx]
	return c.emitCallSysv("call", sig, func() {
		c.asm.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.FuncTargets})
		c.asm.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: x64.RAX, Disp: int32(8 * funcIdx)})
		c.asm.CallReg(x64.RAX)
	})
}

// Table entries are 16 bytes: native entry pointer, then the canonical
// signature id.
const tableEntrySize = 16

// emitCallIndirect bounds-checks the runtime table index, rejects null
// entries and, when configured, mismatched signatures, then calls the
// resolved target.
func (c *FuncCompiler) emitCallIndirect(typeIdx uint32) error {
	if int(typeIdx) >= len(c.cfg.Types) {
		return errors.InvalidData("type index out of range", nil)
	}
	sig := c.cfg.Types[typeIdx]

	idx, _, err := c.pop1("call_indirect")
	if err != nil {
		return err
	}
	entry, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	if err := c.relaxedZeroExtend(x64.S32, idx, GPR(entry)); err != nil {
		c.mach.releaseTemp(entry)
		return err
	}
	c.mach.release(c.asm, idx)

	a := c.asm
	a.AluRegMem(x64.ALUCmp, x64.S64, entry, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.TableBound})
	okBound := a.NewLabel()
	a.Jcc(x64.CondB, okBound)
	start := a.Offset()
	a.Ud2()
	c.markTrap(start, TrapTableOutOfBounds)
	a.Bind(okBound)

	scratch, err := c.mach.takeTemp()
	if err != nil {
		c.mach.releaseTemp(entry)
		return err
	}
	// entry = TableBase + idx*16, resolved to the element address.
	a.ShiftImm(x64.ShiftShl, x64.S64, entry, 4)
	a.AluRegMem(x64.ALUAdd, x64.S64, entry, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.TableBase})

	a.MovRegMem(x64.S64, scratch, x64.Mem{Base: entry})
	a.TestRegReg(x64.S64, scratch, scratch)
	okNull := a.NewLabel()
	a.Jcc(x64.CondNE, okNull)
	start = a.Offset()
	a.Ud2()
	c.markTrap(start, TrapIndirectCallNull)
	a.Bind(okNull)

	if c.cfg.Table.CallerChecksSignature {
		sigTmp, serr := c.mach.takeTemp()
		if serr != nil {
			c.mach.releaseTemp(entry)
			c.mach.releaseTemp(scratch)
			return serr
		}
		a.MovRegMem(x64.S64, sigTmp, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.SigIDs})
		a.MovRegMem(x64.S32, sigTmp, x64.Mem{Base: sigTmp, Disp: int32(4 * typeIdx)})
		a.AluRegMem(x64.ALUCmp, x64.S32, sigTmp, x64.Mem{Base: entry, Disp: 8})
		okSig := a.NewLabel()
		a.Jcc(x64.CondE, okSig)
		start = a.Offset()
		a.Ud2()
		c.markTrap(start, TrapSignatureMismatch)
		a.Bind(okSig)
		c.mach.releaseTemp(sigTmp)
	}

	// Stash the target: the argument moves below recycle every
	// temporary register.
	slot := c.mach.acquireSlot(c.asm, MachineValue{})
	if err := c.relaxedMov(x64.S64, GPR(scratch), slot); err != nil {
		c.mach.releaseTemp(entry)
		c.mach.releaseTemp(scratch)
		return err
	}
	c.mach.releaseTemp(entry)
	c.mach.releaseTemp(scratch)

	err = c.emitCallSysv("call_indirect", sig, func() {
		c.asm.MovRegMem(x64.S64, x64.RAX, slot.Mem())
		c.asm.CallReg(x64.RAX)
	})
	if err != nil {
		return err
	}
	// The target slot sits under the call result; drop it now.
	return c.dropSlotUnder(slot)
}

// dropSlotUnder releases a scratch frame slot that may no longer be
// the top of frame because a result was pushed above it.
func (c *FuncCompiler) dropSlotUnder(slot Location) error {
	if c.stack.len() > 0 {
		top, t, _ := c.stack.peek("call_indirect")
		if top.IsMem() && top.Disp < slot.Disp {
			// Result spilled above the scratch slot: move it down
			// into the slot and free its own storage instead.
			if err := c.relaxedMov(x64.S64, top, slot); err != nil {
				return err
			}
			c.mach.release(c.asm, top)
			c.stack.truncate(c.stack.len() - 1)
			c.fp.truncate(c.stack.len())
			depth := c.stack.len()
			c.stack.push(slot, t)
			if t.IsFloat() {
				c.fp.push(depth, precOf(t), false)
			}
			return nil
		}
	}
	c.mach.release(c.asm, slot)
	return nil
}

// Host intrinsics bridged through the call sequence.

func (c *FuncCompiler) emitIntrinsic(name string, slot int32, sig wasm.FuncType) error {
	return c.emitCallSysv(name, sig, func() {
		c.asm.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.IntrinsicsBase})
		c.asm.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: x64.RAX, Disp: 8 * slot})
		c.asm.CallReg(x64.RAX)
	})
}

func (c *FuncCompiler) emitMemorySize() error {
	return c.emitIntrinsic("memory.size", IntrinsicMemorySize, wasm.FuncType{
		Results: []wasm.ValType{wasm.ValI32},
	})
}

func (c *FuncCompiler) emitMemoryGrow() error {
	return c.emitIntrinsic("memory.grow", IntrinsicMemoryGrow, wasm.FuncType{
		Params:  []wasm.ValType{wasm.ValI32},
		Results: []wasm.ValType{wasm.ValI32},
	})
}
