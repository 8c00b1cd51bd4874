package x64

// SSE scalar float instruction forms used by the compiler. Prefix order
// is mandatory: legacy prefix (F3/F2/66), then REX, then the 0F escape.

func precPrefix(p Precision) byte {
	if p == PS64 {
		return 0xF2
	}
	return 0xF3
}

// ssePrefix emits legacy prefix + optional REX.
func (a *Assembler) ssePrefix(legacy byte, w, regHigh, rmHigh bool) {
	if legacy != 0 {
		a.put(legacy)
	}
	if w || regHigh || rmHigh {
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

// SSEOp selects a scalar arithmetic operation.
type SSEOp uint8

const (
	SSEAdd SSEOp = iota
	SSESub
	SSEMul
	SSEDiv
	SSESqrt
	SSEMin
	SSEMax
)

var sseOpcode = [...]byte{0x58, 0x5C, 0x59, 0x5E, 0x51, 0x5D, 0x5F}

var sseNames = [...]string{"add", "sub", "mul", "div", "sqrt", "min", "max"}

func (op SSEOp) String() string { return sseNames[op] }

// SSEArith performs dst = dst OP src on scalars of the given precision.
func (a *Assembler) SSEArith(op SSEOp, p Precision, dst, src XMM) {
	a.ssePrefix(precPrefix(p), false, dst.high(), src.high())
	a.put(0x0F, sseOpcode[op])
	a.modRR(dst.low(), src.low())
}

// SSEArithMem performs dst = dst OP [m].
func (a *Assembler) SSEArithMem(op SSEOp, p Precision, dst XMM, m Mem) {
	a.ssePrefix(precPrefix(p), false, dst.high(), m.Base.high())
	a.put(0x0F, sseOpcode[op])
	a.modMem(dst.low(), m)
}

// MovapsRegReg copies the full 128-bit register.
func (a *Assembler) MovapsRegReg(dst, src XMM) {
	a.ssePrefix(0, false, dst.high(), src.high())
	a.put(0x0F, 0x28)
	a.modRR(dst.low(), src.low())
}

// MovsLoad loads a scalar from memory (movss/movsd).
func (a *Assembler) MovsLoad(p Precision, dst XMM, m Mem) {
	a.ssePrefix(precPrefix(p), false, dst.high(), m.Base.high())
	a.put(0x0F, 0x10)
	a.modMem(dst.low(), m)
}

// MovsStore stores a scalar to memory (movss/movsd).
func (a *Assembler) MovsStore(p Precision, m Mem, src XMM) {
	a.ssePrefix(precPrefix(p), false, src.high(), m.Base.high())
	a.put(0x0F, 0x11)
	a.modMem(src.low(), m)
}

// MovToXmm moves a GPR into an XMM register (movd/movq).
func (a *Assembler) MovToXmm(sz Size, dst XMM, src Reg) {
	a.ssePrefix(0x66, sz == S64, dst.high(), src.high())
	a.put(0x0F, 0x6E)
	a.modRR(dst.low(), src.low())
}

// MovFromXmm moves an XMM register into a GPR (movd/movq).
func (a *Assembler) MovFromXmm(sz Size, dst Reg, src XMM) {
	a.ssePrefix(0x66, sz == S64, src.high(), dst.high())
	a.put(0x0F, 0x7E)
	a.modRR(src.low(), dst.low())
}

// Ucomis compares scalars and sets ZF/PF/CF (unordered sets all three).
func (a *Assembler) Ucomis(p Precision, x, y XMM) {
	if p == PS64 {
		a.ssePrefix(0x66, false, x.high(), y.high())
	} else {
		a.ssePrefix(0, false, x.high(), y.high())
	}
	a.put(0x0F, 0x2E)
	a.modRR(x.low(), y.low())
}

// Compare predicates for Cmps.
const (
	CmpEQ    byte = 0
	CmpLT    byte = 1
	CmpLE    byte = 2
	CmpUnord byte = 3
	CmpNEQ   byte = 4
	CmpNLT   byte = 5
	CmpNLE   byte = 6
	CmpOrd   byte = 7
)

// Cmps performs a scalar compare writing an all-ones/all-zero mask into
// dst (cmpss/cmpsd).
func (a *Assembler) Cmps(p Precision, pred byte, dst, src XMM) {
	a.ssePrefix(precPrefix(p), false, dst.high(), src.high())
	a.put(0x0F, 0xC2)
	a.modRR(dst.low(), src.low())
	a.put(pred)
}

// LogicOp selects a bitwise packed-single operation; these operate on
// raw bits and serve both precisions.
type LogicOp uint8

const (
	LogicAnd LogicOp = iota
	LogicAndn
	LogicOr
	LogicXor
)

var logicOpcode = [...]byte{0x54, 0x55, 0x56, 0x57}

// Logic performs dst = dst OP src bitwise (andps/andnps/orps/xorps).
func (a *Assembler) Logic(op LogicOp, dst, src XMM) {
	a.ssePrefix(0, false, dst.high(), src.high())
	a.put(0x0F, logicOpcode[op])
	a.modRR(dst.low(), src.low())
}

// Cvtts2si truncates a scalar float to a signed integer (cvttss2si/
// cvttsd2si). sz selects the integer width.
func (a *Assembler) Cvtts2si(p Precision, sz Size, dst Reg, src XMM) {
	a.ssePrefix(precPrefix(p), sz == S64, dst.high(), src.high())
	a.put(0x0F, 0x2C)
	a.modRR(dst.low(), src.low())
}

// Cvtsi2s converts a signed integer to a scalar float (cvtsi2ss/
// cvtsi2sd). sz selects the integer width.
func (a *Assembler) Cvtsi2s(p Precision, sz Size, dst XMM, src Reg) {
	a.ssePrefix(precPrefix(p), sz == S64, dst.high(), src.high())
	a.put(0x0F, 0x2A)
	a.modRR(dst.low(), src.low())
}

// Cvtss2sd promotes f32 to f64.
func (a *Assembler) Cvtss2sd(dst, src XMM) {
	a.ssePrefix(0xF3, false, dst.high(), src.high())
	a.put(0x0F, 0x5A)
	a.modRR(dst.low(), src.low())
}

// Cvtsd2ss demotes f64 to f32.
func (a *Assembler) Cvtsd2ss(dst, src XMM) {
	a.ssePrefix(0xF2, false, dst.high(), src.high())
	a.put(0x0F, 0x5A)
	a.modRR(dst.low(), src.low())
}

// Rounding modes for Rounds.
const (
	RoundNearest byte = 0x0
	RoundDown    byte = 0x1
	RoundUp      byte = 0x2
	RoundToZero  byte = 0x3
)

// Rounds rounds a scalar with an explicit mode (roundss/roundsd,
// SSE4.1).
func (a *Assembler) Rounds(p Precision, mode byte, dst, src XMM) {
	a.ssePrefix(0x66, false, dst.high(), src.high())
	if p == PS64 {
		a.put(0x0F, 0x3A, 0x0B)
	} else {
		a.put(0x0F, 0x3A, 0x0A)
	}
	a.modRR(dst.low(), src.low())
	// Bit 3 keeps precision exceptions suppressed.
	a.put(mode | 0x08)
}
