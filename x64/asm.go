package x64

import (
	"encoding/binary"

	"github.com/wasmkit/singlepass/errors"
)

// Assembler emits x86-64 machine code into an append-only buffer. The
// next instruction's native offset is always known at emission time via
// Offset, which is what the side tables produced by the compiler key on.
type Assembler struct {
	buf     []byte
	labels  []int32 // bound offset, or -1 while unbound
	patches []patch
}

type patch struct {
	label Label
	at    int32 // offset of the rel32 field
}

// Label identifies a jump target, possibly not yet bound.
type Label int

// NewAssembler returns an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{buf: make([]byte, 0, 256)}
}

// Offset returns the native offset of the next emitted byte.
func (a *Assembler) Offset() uint32 {
	return uint32(len(a.buf))
}

// Finish resolves all pending label references and returns the code.
func (a *Assembler) Finish() ([]byte, error) {
	for _, p := range a.patches {
		target := a.labels[p.label]
		if target < 0 {
			return nil, errors.New(errors.PhaseFinish, errors.KindUnboundLabel).
				Detail("label %d referenced at offset %d", p.label, p.at).
				Build()
		}
		rel := target - (p.at + 4)
		binary.LittleEndian.PutUint32(a.buf[p.at:], uint32(rel))
	}
	a.patches = a.patches[:0]
	return a.buf, nil
}

// Raw appends pre-encoded bytes verbatim.
func (a *Assembler) Raw(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *Assembler) put(b ...byte) {
	a.buf = append(a.buf, b...)
}

func (a *Assembler) u32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

func (a *Assembler) u64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

// prefix emits the 0x66 operand-size override and REX prefix as needed
// for an integer instruction. force requires a REX byte even without
// extension bits (8-bit access to spl/bpl/sil/dil).
func (a *Assembler) prefix(sz Size, regHigh, rmHigh, force bool) {
	if sz == S16 {
		a.put(0x66)
	}
	w := sz == S64
	if w || regHigh || rmHigh || force {
		b := byte(0x40)
		if w {
			b |= 0x08
		}
		if regHigh {
			b |= 0x04
		}
		if rmHigh {
			b |= 0x01
		}
		a.put(b)
	}
}

// modRR emits a mod=11 ModRM byte.
func (a *Assembler) modRR(regField, rmField byte) {
	a.put(0xC0 | regField<<3 | rmField)
}

// modMem emits ModRM (+SIB, +displacement) for a base+disp operand.
func (a *Assembler) modMem(regField byte, m Mem) {
	base := m.Base.low()
	needSIB := base == 4 // rsp/r12 encode the base through a SIB byte
	// rbp/r13 as base with mod=00 means rip-relative, so always use a
	// displacement for them.
	var mod byte
	switch {
	case m.Disp == 0 && base != 5:
		mod = 0x00
	case m.Disp >= -128 && m.Disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}
	rm := base
	if needSIB {
		rm = 4
	}
	a.put(mod | regField<<3 | rm)
	if needSIB {
		a.put(0x24) // scale=0, no index, base in low bits
	}
	switch mod {
	case 0x40:
		a.put(byte(m.Disp))
	case 0x80:
		a.u32(uint32(m.Disp))
	}
}

// --- moves ---

// MovRegReg copies src into dst.
func (a *Assembler) MovRegReg(sz Size, dst, src Reg) {
	force := sz == S8 && (dst.needs8() || src.needs8())
	a.prefix(sz, src.high(), dst.high(), force)
	if sz == S8 {
		a.put(0x88)
	} else {
		a.put(0x89)
	}
	a.modRR(src.low(), dst.low())
}

// MovRegImm32 loads a 32-bit immediate, zero-extending into the full
// register.
func (a *Assembler) MovRegImm32(dst Reg, imm uint32) {
	a.prefix(S32, false, dst.high(), false)
	a.put(0xB8 + dst.low())
	a.u32(imm)
}

// MovRegImm64 loads a full 64-bit immediate.
func (a *Assembler) MovRegImm64(dst Reg, imm uint64) {
	a.prefix(S64, false, dst.high(), false)
	a.put(0xB8 + dst.low())
	a.u64(imm)
}

// MovRegMem loads from memory. 8- and 16-bit loads leave the upper bits
// untouched; callers wanting extension use Movzx/Movsx.
func (a *Assembler) MovRegMem(sz Size, dst Reg, m Mem) {
	force := sz == S8 && dst.needs8()
	a.prefix(sz, dst.high(), m.Base.high(), force)
	if sz == S8 {
		a.put(0x8A)
	} else {
		a.put(0x8B)
	}
	a.modMem(dst.low(), m)
}

// MovMemReg stores src to memory at the given width.
func (a *Assembler) MovMemReg(sz Size, m Mem, src Reg) {
	force := sz == S8 && src.needs8()
	a.prefix(sz, src.high(), m.Base.high(), force)
	if sz == S8 {
		a.put(0x88)
	} else {
		a.put(0x89)
	}
	a.modMem(src.low(), m)
}

// MovMemImm stores an immediate to memory. For S64 the immediate is
// sign-extended from 32 bits.
func (a *Assembler) MovMemImm(sz Size, m Mem, imm int32) {
	a.prefix(sz, false, m.Base.high(), false)
	switch sz {
	case S8:
		a.put(0xC6)
		a.modMem(0, m)
		a.put(byte(imm))
	case S16:
		a.put(0xC7)
		a.modMem(0, m)
		a.put(byte(imm), byte(imm>>8))
	default:
		a.put(0xC7)
		a.modMem(0, m)
		a.u32(uint32(imm))
	}
}

// Movzx zero-extends src (of width srcSz) into dst (of width dstSz).
func (a *Assembler) Movzx(dstSz, srcSz Size, dst, src Reg) {
	force := srcSz == S8 && src.needs8()
	a.prefix(dstSz, dst.high(), src.high(), force)
	if srcSz == S8 {
		a.put(0x0F, 0xB6)
	} else {
		a.put(0x0F, 0xB7)
	}
	a.modRR(dst.low(), src.low())
}

// MovzxMem zero-extends a narrow load into dst.
func (a *Assembler) MovzxMem(dstSz, srcSz Size, dst Reg, m Mem) {
	a.prefix(dstSz, dst.high(), m.Base.high(), false)
	if srcSz == S8 {
		a.put(0x0F, 0xB6)
	} else {
		a.put(0x0F, 0xB7)
	}
	a.modMem(dst.low(), m)
}

// Movsx sign-extends src (of width srcSz) into dst. srcSz S32 emits
// movsxd.
func (a *Assembler) Movsx(dstSz, srcSz Size, dst, src Reg) {
	force := srcSz == S8 && src.needs8()
	a.prefix(dstSz, dst.high(), src.high(), force)
	switch srcSz {
	case S8:
		a.put(0x0F, 0xBE)
	case S16:
		a.put(0x0F, 0xBF)
	default:
		a.put(0x63)
	}
	a.modRR(dst.low(), src.low())
}

// MovsxMem sign-extends a narrow load into dst.
func (a *Assembler) MovsxMem(dstSz, srcSz Size, dst Reg, m Mem) {
	a.prefix(dstSz, dst.high(), m.Base.high(), false)
	switch srcSz {
	case S8:
		a.put(0x0F, 0xBE)
	case S16:
		a.put(0x0F, 0xBF)
	default:
		a.put(0x63)
	}
	a.modMem(dst.low(), m)
}

// Lea computes the effective address of m into dst.
func (a *Assembler) Lea(sz Size, dst Reg, m Mem) {
	a.prefix(sz, dst.high(), m.Base.high(), false)
	a.put(0x8D)
	a.modMem(dst.low(), m)
}

// --- integer ALU group ---

// ALUOp selects one instruction of the classic ALU group.
type ALUOp uint8

const (
	ALUAdd ALUOp = iota
	ALUOr
	ALUAnd
	ALUSub
	ALUXor
	ALUCmp
)

var aluBase = [...]byte{0x00, 0x08, 0x20, 0x28, 0x30, 0x38}
var aluDigit = [...]byte{0, 1, 4, 5, 6, 7}

var aluNames = [...]string{"add", "or", "and", "sub", "xor", "cmp"}

func (op ALUOp) String() string { return aluNames[op] }

// Alu performs dst = dst OP src.
func (a *Assembler) Alu(op ALUOp, sz Size, dst, src Reg) {
	force := sz == S8 && (dst.needs8() || src.needs8())
	a.prefix(sz, src.high(), dst.high(), force)
	if sz == S8 {
		a.put(aluBase[op])
	} else {
		a.put(aluBase[op] + 1)
	}
	a.modRR(src.low(), dst.low())
}

// AluMemReg performs [m] = [m] OP src.
func (a *Assembler) AluMemReg(op ALUOp, sz Size, m Mem, src Reg) {
	force := sz == S8 && src.needs8()
	a.prefix(sz, src.high(), m.Base.high(), force)
	if sz == S8 {
		a.put(aluBase[op])
	} else {
		a.put(aluBase[op] + 1)
	}
	a.modMem(src.low(), m)
}

// AluRegMem performs dst = dst OP [m].
func (a *Assembler) AluRegMem(op ALUOp, sz Size, dst Reg, m Mem) {
	force := sz == S8 && dst.needs8()
	a.prefix(sz, dst.high(), m.Base.high(), force)
	if sz == S8 {
		a.put(aluBase[op] + 2)
	} else {
		a.put(aluBase[op] + 3)
	}
	a.modMem(dst.low(), m)
}

// AluRegImm performs dst = dst OP imm. For S64 the immediate is
// sign-extended from 32 bits.
func (a *Assembler) AluRegImm(op ALUOp, sz Size, dst Reg, imm int32) {
	force := sz == S8 && dst.needs8()
	a.prefix(sz, false, dst.high(), force)
	if sz == S8 {
		a.put(0x80)
		a.modRR(aluDigit[op], dst.low())
		a.put(byte(imm))
		return
	}
	a.put(0x81)
	a.modRR(aluDigit[op], dst.low())
	if sz == S16 {
		a.put(byte(imm), byte(imm>>8))
	} else {
		a.u32(uint32(imm))
	}
}

// AluMemImm performs [m] = [m] OP imm.
func (a *Assembler) AluMemImm(op ALUOp, sz Size, m Mem, imm int32) {
	a.prefix(sz, false, m.Base.high(), false)
	if sz == S8 {
		a.put(0x80)
		a.modMem(aluDigit[op], m)
		a.put(byte(imm))
		return
	}
	a.put(0x81)
	a.modMem(aluDigit[op], m)
	if sz == S16 {
		a.put(byte(imm), byte(imm>>8))
	} else {
		a.u32(uint32(imm))
	}
}

// TestRegReg sets flags for x AND y without writing a result.
func (a *Assembler) TestRegReg(sz Size, x, y Reg) {
	force := sz == S8 && (x.needs8() || y.needs8())
	a.prefix(sz, y.high(), x.high(), force)
	if sz == S8 {
		a.put(0x84)
	} else {
		a.put(0x85)
	}
	a.modRR(y.low(), x.low())
}

// ImulRegReg performs dst = dst * src. Memory destinations are not an
// encodable form of imul, which is why the compiler always stages
// multiply operands into registers.
func (a *Assembler) ImulRegReg(sz Size, dst, src Reg) {
	a.prefix(sz, dst.high(), src.high(), false)
	a.put(0x0F, 0xAF)
	a.modRR(dst.low(), src.low())
}

// Cdq sign-extends the accumulator into rdx (cdq for S32, cqo for S64).
func (a *Assembler) Cdq(sz Size) {
	a.prefix(sz, false, false, false)
	a.put(0x99)
}

// Div divides rdx:rax by divisor, leaving the quotient in rax and the
// remainder in rdx.
func (a *Assembler) Div(sz Size, divisor Reg, signed bool) {
	a.prefix(sz, false, divisor.high(), false)
	a.put(0xF7)
	if signed {
		a.modRR(7, divisor.low())
	} else {
		a.modRR(6, divisor.low())
	}
}

// Neg negates dst in place.
func (a *Assembler) Neg(sz Size, dst Reg) {
	a.prefix(sz, false, dst.high(), false)
	a.put(0xF7)
	a.modRR(3, dst.low())
}

// --- shifts ---

// ShiftOp selects a shift or rotate operation.
type ShiftOp uint8

const (
	ShiftRol ShiftOp = 0
	ShiftRor ShiftOp = 1
	ShiftShl ShiftOp = 4
	ShiftShr ShiftOp = 5
	ShiftSar ShiftOp = 7
)

// ShiftCl shifts dst by the count held in cl, the ISA's implicit
// shift-count register.
func (a *Assembler) ShiftCl(op ShiftOp, sz Size, dst Reg) {
	a.prefix(sz, false, dst.high(), false)
	a.put(0xD3)
	a.modRR(byte(op), dst.low())
}

// ShiftImm shifts dst by a constant count.
func (a *Assembler) ShiftImm(op ShiftOp, sz Size, dst Reg, count byte) {
	a.prefix(sz, false, dst.high(), false)
	a.put(0xC1)
	a.modRR(byte(op), dst.low())
	a.put(count)
}

// --- flags materialization ---

// Setcc writes 1 or 0 into the low byte of dst according to cond.
func (a *Assembler) Setcc(cond Cond, dst Reg) {
	a.prefix(S32, false, dst.high(), dst.needs8())
	a.put(0x0F, 0x90+byte(cond))
	a.modRR(0, dst.low())
}

// Cmovcc conditionally copies src into dst.
func (a *Assembler) Cmovcc(sz Size, cond Cond, dst, src Reg) {
	a.prefix(sz, dst.high(), src.high(), false)
	a.put(0x0F, 0x40+byte(cond))
	a.modRR(dst.low(), src.low())
}

// --- bit counting ---

// Lzcnt counts leading zero bits of src into dst.
func (a *Assembler) Lzcnt(sz Size, dst, src Reg) {
	a.put(0xF3)
	a.prefix(sz, dst.high(), src.high(), false)
	a.put(0x0F, 0xBD)
	a.modRR(dst.low(), src.low())
}

// Tzcnt counts trailing zero bits of src into dst.
func (a *Assembler) Tzcnt(sz Size, dst, src Reg) {
	a.put(0xF3)
	a.prefix(sz, dst.high(), src.high(), false)
	a.put(0x0F, 0xBC)
	a.modRR(dst.low(), src.low())
}

// Popcnt counts set bits of src into dst.
func (a *Assembler) Popcnt(sz Size, dst, src Reg) {
	a.put(0xF3)
	a.prefix(sz, dst.high(), src.high(), false)
	a.put(0x0F, 0xB8)
	a.modRR(dst.low(), src.low())
}

// --- stack ---

// Push pushes a 64-bit register.
func (a *Assembler) Push(r Reg) {
	if r.high() {
		a.put(0x41)
	}
	a.put(0x50 + r.low())
}

// Pop pops into a 64-bit register.
func (a *Assembler) Pop(r Reg) {
	if r.high() {
		a.put(0x41)
	}
	a.put(0x58 + r.low())
}

// --- atomics ---

// XchgMemReg atomically exchanges src with [m]; xchg with a memory
// operand has an implicit lock.
func (a *Assembler) XchgMemReg(sz Size, m Mem, src Reg) {
	force := sz == S8 && src.needs8()
	a.prefix(sz, src.high(), m.Base.high(), force)
	if sz == S8 {
		a.put(0x86)
	} else {
		a.put(0x87)
	}
	a.modMem(src.low(), m)
}

// CmpxchgMemReg performs lock cmpxchg [m], src with rax as the compare
// register.
func (a *Assembler) CmpxchgMemReg(sz Size, m Mem, src Reg) {
	a.put(0xF0) // lock
	force := sz == S8 && src.needs8()
	a.prefix(sz, src.high(), m.Base.high(), force)
	if sz == S8 {
		a.put(0x0F, 0xB0)
	} else {
		a.put(0x0F, 0xB1)
	}
	a.modMem(src.low(), m)
}

// MFence serializes all prior memory operations.
func (a *Assembler) MFence() {
	a.put(0x0F, 0xAE, 0xF0)
}

// --- control ---

// CallReg calls through the address in r.
func (a *Assembler) CallReg(r Reg) {
	if r.high() {
		a.put(0x41)
	}
	a.put(0xFF)
	a.modRR(2, r.low())
}

// Ret returns to the caller.
func (a *Assembler) Ret() {
	a.put(0xC3)
}

// Ud2 raises an invalid-opcode fault; the compiler places these at trap
// sites and classifies them via the exception table.
func (a *Assembler) Ud2() {
	a.put(0x0F, 0x0B)
}

// Int3 emits a breakpoint byte.
func (a *Assembler) Int3() {
	a.put(0xCC)
}

// Nop emits a one-byte nop.
func (a *Assembler) Nop() {
	a.put(0x90)
}

// --- labels ---

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind fixes l at the current offset. A label may be bound once.
func (a *Assembler) Bind(l Label) {
	a.labels[l] = int32(len(a.buf))
}

// Jmp emits an unconditional jump to l (rel32 form).
func (a *Assembler) Jmp(l Label) {
	a.put(0xE9)
	a.rel32(l)
}

// Jcc emits a conditional jump to l (rel32 form).
func (a *Assembler) Jcc(cond Cond, l Label) {
	a.put(0x0F, 0x80+byte(cond))
	a.rel32(l)
}

func (a *Assembler) rel32(l Label) {
	if target := a.labels[l]; target >= 0 {
		rel := target - (int32(len(a.buf)) + 4)
		a.u32(uint32(rel))
		return
	}
	a.patches = append(a.patches, patch{label: l, at: int32(len(a.buf))})
	a.u32(0)
}
