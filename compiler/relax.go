package compiler

import (
	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/x64"
)

// Relaxed emitters bridge the gap between abstract source/destination
// locations and the operand combinations the ISA encodes directly.
// Each one inspects the location pair once, stages through at most one
// temporary, and emits a fixed short sequence. No emitter ever looks
// past its own operands, which keeps every decision O(1).

// loadToGPR materializes loc into reg.
func (c *FuncCompiler) loadToGPR(sz x64.Size, loc Location, reg x64.Reg) error {
	switch loc.Kind {
	case LocGPR:
		if loc.Reg != reg {
			c.asm.MovRegReg(sz, reg, loc.Reg)
		}
	case LocMemory:
		c.asm.MovRegMem(sz, reg, loc.Mem())
	case LocImm32:
		c.asm.MovRegImm32(reg, loc.Imm32Val())
	case LocImm64:
		c.asm.MovRegImm64(reg, loc.Imm)
	default:
		return errors.BadLocation("load", loc.String())
	}
	return nil
}

// relaxedMov copies src to dst. Memory-to-memory and wide-immediate
// combinations stage through a temporary.
func (c *FuncCompiler) relaxedMov(sz x64.Size, src, dst Location) error {
	switch dst.Kind {
	case LocGPR:
		return c.loadToGPR(sz, src, dst.Reg)
	case LocMemory:
		switch src.Kind {
		case LocGPR:
			c.asm.MovMemReg(sz, dst.Mem(), src.Reg)
		case LocImm32:
			c.asm.MovMemImm(sz, dst.Mem(), int32(src.Imm32Val()))
		case LocMemory, LocImm64:
			tmp, err := c.mach.takeTemp()
			if err != nil {
				return err
			}
			defer c.mach.releaseTemp(tmp)
			if err := c.loadToGPR(sz, src, tmp); err != nil {
				return err
			}
			c.asm.MovMemReg(sz, dst.Mem(), tmp)
		default:
			return errors.BadLocation("mov", src.String())
		}
	default:
		return errors.BadLocation("mov", dst.String())
	}
	return nil
}

// relaxedALU computes dst = dst OP src in place.
func (c *FuncCompiler) relaxedALU(op x64.ALUOp, sz x64.Size, src, dst Location) error {
	switch dst.Kind {
	case LocGPR:
		switch src.Kind {
		case LocGPR:
			c.asm.Alu(op, sz, dst.Reg, src.Reg)
		case LocMemory:
			c.asm.AluRegMem(op, sz, dst.Reg, src.Mem())
		case LocImm32:
			c.asm.AluRegImm(op, sz, dst.Reg, int32(src.Imm32Val()))
		case LocImm64:
			tmp, err := c.mach.takeTemp()
			if err != nil {
				return err
			}
			defer c.mach.releaseTemp(tmp)
			c.asm.MovRegImm64(tmp, src.Imm)
			c.asm.Alu(op, sz, dst.Reg, tmp)
		default:
			return errors.BadLocation("alu", src.String())
		}
	case LocMemory:
		switch src.Kind {
		case LocGPR:
			c.asm.AluMemReg(op, sz, dst.Mem(), src.Reg)
		case LocImm32:
			c.asm.AluMemImm(op, sz, dst.Mem(), int32(src.Imm32Val()))
		case LocMemory, LocImm64:
			tmp, err := c.mach.takeTemp()
			if err != nil {
				return err
			}
			defer c.mach.releaseTemp(tmp)
			if err := c.loadToGPR(sz, src, tmp); err != nil {
				return err
			}
			c.asm.AluMemReg(op, sz, dst.Mem(), tmp)
		default:
			return errors.BadLocation("alu", src.String())
		}
	default:
		return errors.BadLocation("alu", dst.String())
	}
	return nil
}

// relaxedCmp sets flags for dst CMP src without writing either operand.
func (c *FuncCompiler) relaxedCmp(sz x64.Size, src, dst Location) error {
	if dst.IsImm() {
		tmp, err := c.mach.takeTemp()
		if err != nil {
			return err
		}
		defer c.mach.releaseTemp(tmp)
		if err := c.loadToGPR(sz, dst, tmp); err != nil {
			return err
		}
		return c.relaxedALU(x64.ALUCmp, sz, src, GPR(tmp))
	}
	return c.relaxedALU(x64.ALUCmp, sz, src, dst)
}

// relaxedZeroExtend widens the low from bits of src into a 64-bit dst
// with zero fill.
func (c *FuncCompiler) relaxedZeroExtend(from x64.Size, src, dst Location) error {
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	target := tmp
	if dst.Kind == LocGPR {
		target = dst.Reg
	}
	switch src.Kind {
	case LocGPR:
		if from == x64.S32 {
			// A 32-bit mov zeroes the upper half.
			c.asm.MovRegReg(x64.S32, target, src.Reg)
		} else {
			c.asm.Movzx(x64.S64, from, target, src.Reg)
		}
	case LocMemory:
		if from == x64.S32 {
			c.asm.MovRegMem(x64.S32, target, src.Mem())
		} else {
			c.asm.MovzxMem(x64.S64, from, target, src.Mem())
		}
	case LocImm32, LocImm64:
		imm := src.Imm
		switch from {
		case x64.S8:
			imm &= 0xFF
		case x64.S16:
			imm &= 0xFFFF
		case x64.S32:
			imm &= 0xFFFFFFFF
		}
		c.asm.MovRegImm64(target, imm)
	default:
		return errors.BadLocation("zero-extend", src.String())
	}
	if dst.Kind != LocGPR {
		return c.relaxedMov(x64.S64, GPR(target), dst)
	}
	return nil
}

// relaxedSignExtend widens the low from bits of src into a 64-bit dst
// with sign fill.
func (c *FuncCompiler) relaxedSignExtend(from x64.Size, src, dst Location) error {
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	target := tmp
	if dst.Kind == LocGPR {
		target = dst.Reg
	}
	switch src.Kind {
	case LocGPR:
		c.asm.Movsx(x64.S64, from, target, src.Reg)
	case LocMemory:
		c.asm.MovsxMem(x64.S64, from, target, src.Mem())
	case LocImm32, LocImm64:
		imm := src.Imm
		switch from {
		case x64.S8:
			imm = uint64(int64(int8(imm)))
		case x64.S16:
			imm = uint64(int64(int16(imm)))
		case x64.S32:
			imm = uint64(int64(int32(imm)))
		}
		c.asm.MovRegImm64(target, imm)
	default:
		return errors.BadLocation("sign-extend", src.String())
	}
	if dst.Kind != LocGPR {
		return c.relaxedMov(x64.S64, GPR(target), dst)
	}
	return nil
}

// toXMM materializes a float value, held as raw bits in any location,
// into an XMM register.
func (c *FuncCompiler) toXMM(prec x64.Precision, loc Location, dst x64.XMM) error {
	sz := x64.S32
	if prec == x64.PS64 {
		sz = x64.S64
	}
	switch loc.Kind {
	case LocSIMD:
		if loc.Xmm != dst {
			c.asm.MovapsRegReg(dst, loc.Xmm)
		}
	case LocGPR:
		c.asm.MovToXmm(sz, dst, loc.Reg)
	case LocMemory:
		c.asm.MovsLoad(prec, dst, loc.Mem())
	case LocImm32, LocImm64:
		tmp, err := c.mach.takeTemp()
		if err != nil {
			return err
		}
		defer c.mach.releaseTemp(tmp)
		if sz == x64.S32 {
			c.asm.MovRegImm32(tmp, loc.Imm32Val())
		} else {
			c.asm.MovRegImm64(tmp, loc.Imm)
		}
		c.asm.MovToXmm(sz, dst, tmp)
	default:
		return errors.BadLocation("xmm-load", loc.String())
	}
	return nil
}

// fromXMM stores an XMM value to a location as raw bits.
func (c *FuncCompiler) fromXMM(prec x64.Precision, src x64.XMM, dst Location) error {
	sz := x64.S32
	if prec == x64.PS64 {
		sz = x64.S64
	}
	switch dst.Kind {
	case LocSIMD:
		if dst.Xmm != src {
			c.asm.MovapsRegReg(dst.Xmm, src)
		}
	case LocGPR:
		c.asm.MovFromXmm(sz, dst.Reg, src)
	case LocMemory:
		c.asm.MovsStore(prec, dst.Mem(), src)
	default:
		return errors.BadLocation("xmm-store", dst.String())
	}
	return nil
}
