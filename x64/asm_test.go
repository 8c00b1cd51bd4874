package x64_test

import (
	"bytes"
	"testing"

	"github.com/wasmkit/singlepass/x64"
)

func encode(emit func(a *x64.Assembler)) []byte {
	a := x64.NewAssembler()
	emit(a)
	code, err := a.Finish()
	if err != nil {
		panic(err)
	}
	return code
}

func TestIntegerEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *x64.Assembler)
		want []byte
	}{
		{
			"mov rax, rcx",
			func(a *x64.Assembler) { a.MovRegReg(x64.S64, x64.RAX, x64.RCX) },
			[]byte{0x48, 0x89, 0xC8},
		},
		{
			"mov r8d, esi",
			func(a *x64.Assembler) { a.MovRegReg(x64.S32, x64.R8, x64.RSI) },
			[]byte{0x41, 0x89, 0xF0},
		},
		{
			"mov sil, al",
			func(a *x64.Assembler) { a.MovRegReg(x64.S8, x64.RSI, x64.RAX) },
			[]byte{0x40, 0x88, 0xC6},
		},
		{
			"mov ecx, 0x12345678",
			func(a *x64.Assembler) { a.MovRegImm32(x64.RCX, 0x12345678) },
			[]byte{0xB9, 0x78, 0x56, 0x34, 0x12},
		},
		{
			"mov r10, 0x1122334455667788",
			func(a *x64.Assembler) { a.MovRegImm64(x64.R10, 0x1122334455667788) },
			[]byte{0x49, 0xBA, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11},
		},
		{
			"mov rax, [rbp-16]",
			func(a *x64.Assembler) { a.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: x64.RBP, Disp: -16}) },
			[]byte{0x48, 0x8B, 0x45, 0xF0},
		},
		{
			"mov [rsp+8], edi",
			func(a *x64.Assembler) { a.MovMemReg(x64.S32, x64.Mem{Base: x64.RSP, Disp: 8}, x64.RDI) },
			[]byte{0x89, 0x7C, 0x24, 0x08},
		},
		{
			"mov rax, [r12]",
			func(a *x64.Assembler) { a.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: x64.R12}) },
			[]byte{0x49, 0x8B, 0x04, 0x24},
		},
		{
			"mov rax, [r13]",
			func(a *x64.Assembler) { a.MovRegMem(x64.S64, x64.RAX, x64.Mem{Base: x64.R13}) },
			[]byte{0x49, 0x8B, 0x45, 0x00},
		},
		{
			"movzx eax, word [r15+16]",
			func(a *x64.Assembler) { a.MovzxMem(x64.S32, x64.S16, x64.RAX, x64.Mem{Base: x64.R15, Disp: 16}) },
			[]byte{0x41, 0x0F, 0xB7, 0x47, 0x10},
		},
		{
			"movsxd rdx, ecx",
			func(a *x64.Assembler) { a.Movsx(x64.S64, x64.S32, x64.RDX, x64.RCX) },
			[]byte{0x48, 0x63, 0xD1},
		},
		{
			"sub rsp, 8",
			func(a *x64.Assembler) { a.AluRegImm(x64.ALUSub, x64.S64, x64.RSP, 8) },
			[]byte{0x48, 0x81, 0xEC, 0x08, 0x00, 0x00, 0x00},
		},
		{
			"add esi, edi",
			func(a *x64.Assembler) { a.Alu(x64.ALUAdd, x64.S32, x64.RSI, x64.RDI) },
			[]byte{0x01, 0xFE},
		},
		{
			"cmp rsi, [r15+8]",
			func(a *x64.Assembler) { a.AluRegMem(x64.ALUCmp, x64.S64, x64.RSI, x64.Mem{Base: x64.R15, Disp: 8}) },
			[]byte{0x49, 0x3B, 0x77, 0x08},
		},
		{
			"test rax, rax",
			func(a *x64.Assembler) { a.TestRegReg(x64.S64, x64.RAX, x64.RAX) },
			[]byte{0x48, 0x85, 0xC0},
		},
		{
			"imul rsi, rdi",
			func(a *x64.Assembler) { a.ImulRegReg(x64.S64, x64.RSI, x64.RDI) },
			[]byte{0x48, 0x0F, 0xAF, 0xF7},
		},
		{
			"div ecx",
			func(a *x64.Assembler) { a.Div(x64.S32, x64.RCX, false) },
			[]byte{0xF7, 0xF1},
		},
		{
			"idiv rcx",
			func(a *x64.Assembler) { a.Div(x64.S64, x64.RCX, true) },
			[]byte{0x48, 0xF7, 0xF9},
		},
		{
			"cqo",
			func(a *x64.Assembler) { a.Cdq(x64.S64) },
			[]byte{0x48, 0x99},
		},
		{
			"shl rsi, cl",
			func(a *x64.Assembler) { a.ShiftCl(x64.ShiftShl, x64.S64, x64.RSI) },
			[]byte{0x48, 0xD3, 0xE6},
		},
		{
			"shl rsi, 4",
			func(a *x64.Assembler) { a.ShiftImm(x64.ShiftShl, x64.S64, x64.RSI, 4) },
			[]byte{0x48, 0xC1, 0xE6, 0x04},
		},
		{
			"sete al",
			func(a *x64.Assembler) { a.Setcc(x64.CondE, x64.RAX) },
			[]byte{0x0F, 0x94, 0xC0},
		},
		{
			"setb sil",
			func(a *x64.Assembler) { a.Setcc(x64.CondB, x64.RSI) },
			[]byte{0x40, 0x0F, 0x92, 0xC6},
		},
		{
			"cmove rax, rcx",
			func(a *x64.Assembler) { a.Cmovcc(x64.S64, x64.CondE, x64.RAX, x64.RCX) },
			[]byte{0x48, 0x0F, 0x44, 0xC1},
		},
		{
			"lzcnt eax, ecx",
			func(a *x64.Assembler) { a.Lzcnt(x64.S32, x64.RAX, x64.RCX) },
			[]byte{0xF3, 0x0F, 0xBD, 0xC1},
		},
		{
			"popcnt rax, rsi",
			func(a *x64.Assembler) { a.Popcnt(x64.S64, x64.RAX, x64.RSI) },
			[]byte{0xF3, 0x48, 0x0F, 0xB8, 0xC6},
		},
		{
			"push r15 / pop rbp",
			func(a *x64.Assembler) { a.Push(x64.R15); a.Pop(x64.RBP) },
			[]byte{0x41, 0x57, 0x5D},
		},
		{
			"lock cmpxchg [rcx], rdx",
			func(a *x64.Assembler) { a.CmpxchgMemReg(x64.S64, x64.Mem{Base: x64.RCX}, x64.RDX) },
			[]byte{0xF0, 0x48, 0x0F, 0xB1, 0x11},
		},
		{
			"xchg [rcx], edx",
			func(a *x64.Assembler) { a.XchgMemReg(x64.S32, x64.Mem{Base: x64.RCX}, x64.RDX) },
			[]byte{0x87, 0x11},
		},
		{
			"mfence",
			func(a *x64.Assembler) { a.MFence() },
			[]byte{0x0F, 0xAE, 0xF0},
		},
		{
			"call rax",
			func(a *x64.Assembler) { a.CallReg(x64.RAX) },
			[]byte{0xFF, 0xD0},
		},
		{
			"call r11",
			func(a *x64.Assembler) { a.CallReg(x64.R11) },
			[]byte{0x41, 0xFF, 0xD3},
		},
		{
			"ud2 / ret",
			func(a *x64.Assembler) { a.Ud2(); a.Ret() },
			[]byte{0x0F, 0x0B, 0xC3},
		},
		{
			"lea rsp, [rbp-8]",
			func(a *x64.Assembler) { a.Lea(x64.S64, x64.RSP, x64.Mem{Base: x64.RBP, Disp: -8}) },
			[]byte{0x48, 0x8D, 0x65, 0xF8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encode(tt.emit)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % X, want % X", got, tt.want)
			}
		})
	}
}

func TestSSEEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *x64.Assembler)
		want []byte
	}{
		{
			"addsd xmm3, xmm2",
			func(a *x64.Assembler) { a.SSEArith(x64.SSEAdd, x64.PS64, x64.XMM3, x64.XMM2) },
			[]byte{0xF2, 0x0F, 0x58, 0xDA},
		},
		{
			"mulss xmm0, xmm1",
			func(a *x64.Assembler) { a.SSEArith(x64.SSEMul, x64.PS32, x64.XMM0, x64.XMM1) },
			[]byte{0xF3, 0x0F, 0x59, 0xC1},
		},
		{
			"ucomiss xmm0, xmm1",
			func(a *x64.Assembler) { a.Ucomis(x64.PS32, x64.XMM0, x64.XMM1) },
			[]byte{0x0F, 0x2E, 0xC1},
		},
		{
			"ucomisd xmm0, xmm1",
			func(a *x64.Assembler) { a.Ucomis(x64.PS64, x64.XMM0, x64.XMM1) },
			[]byte{0x66, 0x0F, 0x2E, 0xC1},
		},
		{
			"movq xmm0, rax",
			func(a *x64.Assembler) { a.MovToXmm(x64.S64, x64.XMM0, x64.RAX) },
			[]byte{0x66, 0x48, 0x0F, 0x6E, 0xC0},
		},
		{
			"movd eax, xmm1",
			func(a *x64.Assembler) { a.MovFromXmm(x64.S32, x64.RAX, x64.XMM1) },
			[]byte{0x66, 0x0F, 0x7E, 0xC8},
		},
		{
			"movss xmm2, [rbp-8]",
			func(a *x64.Assembler) { a.MovsLoad(x64.PS32, x64.XMM2, x64.Mem{Base: x64.RBP, Disp: -8}) },
			[]byte{0xF3, 0x0F, 0x10, 0x55, 0xF8},
		},
		{
			"movsd [rsp], xmm1",
			func(a *x64.Assembler) { a.MovsStore(x64.PS64, x64.Mem{Base: x64.RSP}, x64.XMM1) },
			[]byte{0xF2, 0x0F, 0x11, 0x0C, 0x24},
		},
		{
			"cmpeqss xmm0, xmm1",
			func(a *x64.Assembler) { a.Cmps(x64.PS32, x64.CmpEQ, x64.XMM0, x64.XMM1) },
			[]byte{0xF3, 0x0F, 0xC2, 0xC1, 0x00},
		},
		{
			"cmpunordsd xmm2, xmm2",
			func(a *x64.Assembler) { a.Cmps(x64.PS64, x64.CmpUnord, x64.XMM2, x64.XMM2) },
			[]byte{0xF2, 0x0F, 0xC2, 0xD2, 0x03},
		},
		{
			"andps xmm0, xmm1",
			func(a *x64.Assembler) { a.Logic(x64.LogicAnd, x64.XMM0, x64.XMM1) },
			[]byte{0x0F, 0x54, 0xC1},
		},
		{
			"xorps xmm0, xmm0",
			func(a *x64.Assembler) { a.Logic(x64.LogicXor, x64.XMM0, x64.XMM0) },
			[]byte{0x0F, 0x57, 0xC0},
		},
		{
			"cvttsd2si eax, xmm1",
			func(a *x64.Assembler) { a.Cvtts2si(x64.PS64, x64.S32, x64.RAX, x64.XMM1) },
			[]byte{0xF2, 0x0F, 0x2C, 0xC1},
		},
		{
			"cvttss2si rax, xmm0",
			func(a *x64.Assembler) { a.Cvtts2si(x64.PS32, x64.S64, x64.RAX, x64.XMM0) },
			[]byte{0xF3, 0x48, 0x0F, 0x2C, 0xC0},
		},
		{
			"cvtsi2sd xmm0, rcx",
			func(a *x64.Assembler) { a.Cvtsi2s(x64.PS64, x64.S64, x64.XMM0, x64.RCX) },
			[]byte{0xF2, 0x48, 0x0F, 0x2A, 0xC1},
		},
		{
			"cvtss2sd xmm0, xmm1",
			func(a *x64.Assembler) { a.Cvtss2sd(x64.XMM0, x64.XMM1) },
			[]byte{0xF3, 0x0F, 0x5A, 0xC1},
		},
		{
			"movaps xmm1, xmm2",
			func(a *x64.Assembler) { a.MovapsRegReg(x64.XMM1, x64.XMM2) },
			[]byte{0x0F, 0x28, 0xCA},
		},
		{
			"roundss xmm1, xmm2, trunc",
			func(a *x64.Assembler) { a.Rounds(x64.PS32, x64.RoundToZero, x64.XMM1, x64.XMM2) },
			[]byte{0x66, 0x0F, 0x3A, 0x0A, 0xCA, 0x0B},
		},
		{
			"roundsd xmm0, xmm0, nearest",
			func(a *x64.Assembler) { a.Rounds(x64.PS64, x64.RoundNearest, x64.XMM0, x64.XMM0) },
			[]byte{0x66, 0x0F, 0x3A, 0x0B, 0xC0, 0x08},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := encode(tt.emit)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("got % X, want % X", got, tt.want)
			}
		})
	}
}

func TestLabels(t *testing.T) {
	t.Run("forward jump", func(t *testing.T) {
		a := x64.NewAssembler()
		l := a.NewLabel()
		a.Jmp(l)
		a.Nop()
		a.Bind(l)
		code, err := a.Finish()
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{0xE9, 0x01, 0x00, 0x00, 0x00, 0x90}
		if !bytes.Equal(code, want) {
			t.Errorf("got % X, want % X", code, want)
		}
	})

	t.Run("backward jcc", func(t *testing.T) {
		a := x64.NewAssembler()
		l := a.NewLabel()
		a.Bind(l)
		a.Jcc(x64.CondE, l)
		code, err := a.Finish()
		if err != nil {
			t.Fatal(err)
		}
		want := []byte{0x0F, 0x84, 0xFA, 0xFF, 0xFF, 0xFF}
		if !bytes.Equal(code, want) {
			t.Errorf("got % X, want % X", code, want)
		}
	})

	t.Run("unbound label fails", func(t *testing.T) {
		a := x64.NewAssembler()
		a.Jmp(a.NewLabel())
		if _, err := a.Finish(); err == nil {
			t.Error("expected error for unbound label")
		}
	})

	t.Run("offset tracks emission", func(t *testing.T) {
		a := x64.NewAssembler()
		if a.Offset() != 0 {
			t.Fatalf("fresh assembler offset = %d", a.Offset())
		}
		a.Ud2()
		if a.Offset() != 2 {
			t.Errorf("offset after ud2 = %d, want 2", a.Offset())
		}
	})
}
