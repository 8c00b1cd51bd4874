package x64

// Reg is a general-purpose register.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return "reg?"
}

// low returns the 3-bit register field; high reports the REX extension bit.
func (r Reg) low() byte   { return byte(r) & 7 }
func (r Reg) high() bool  { return r >= R8 }
func (r Reg) needs8() bool { return r >= RSP && r <= RDI } // spl/bpl/sil/dil need REX

// XMM is an SSE register.
type XMM uint8

const (
	XMM0 XMM = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

var xmmNames = [...]string{
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
	"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
}

func (x XMM) String() string {
	if int(x) < len(xmmNames) {
		return xmmNames[x]
	}
	return "xmm?"
}

func (x XMM) low() byte  { return byte(x) & 7 }
func (x XMM) high() bool { return x >= XMM8 }

// Size is an operand width in bytes.
type Size uint8

const (
	S8  Size = 1
	S16 Size = 2
	S32 Size = 4
	S64 Size = 8
)

// Bits returns the width in bits.
func (s Size) Bits() int { return int(s) * 8 }

// Precision selects scalar float width for SSE operations.
type Precision uint8

const (
	PS32 Precision = iota // single (f32)
	PS64                  // double (f64)
)

// Cond is an x86 condition code, usable with setcc/cmovcc/jcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // unsigned <=
	CondA  Cond = 0x7 // unsigned >
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA // parity: unordered float compare
	CondNP Cond = 0xB
	CondL  Cond = 0xC // signed <
	CondGE Cond = 0xD // signed >=
	CondLE Cond = 0xE // signed <=
	CondG  Cond = 0xF // signed >
)

// Mem is a base-plus-displacement memory operand.
type Mem struct {
	Base Reg
	Disp int32
}
