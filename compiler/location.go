package compiler

import (
	"fmt"

	"github.com/wasmkit/singlepass/x64"
)

// LocationKind tags where a logical operand-stack value currently lives.
type LocationKind uint8

const (
	LocNone LocationKind = iota
	LocGPR
	LocSIMD
	LocMemory
	LocImm32
	LocImm64
)

// Location describes where one operand-stack value physically resides.
// Locations are immutable: a value that moves gets a new Location, the
// old one is never mutated in place.
type Location struct {
	Kind LocationKind
	Reg  x64.Reg
	Xmm  x64.XMM
	Base x64.Reg
	Disp int32
	Imm  uint64
}

// GPR returns a general-purpose register location.
func GPR(r x64.Reg) Location {
	return Location{Kind: LocGPR, Reg: r}
}

// SIMD returns a float/vector register location.
func SIMD(x x64.XMM) Location {
	return Location{Kind: LocSIMD, Xmm: x}
}

// StackSlot returns a stack-relative memory location.
func StackSlot(base x64.Reg, disp int32) Location {
	return Location{Kind: LocMemory, Base: base, Disp: disp}
}

// Imm32 returns a 32-bit immediate location.
func Imm32(v uint32) Location {
	return Location{Kind: LocImm32, Imm: uint64(v)}
}

// Imm64 returns a 64-bit immediate location.
func Imm64(v uint64) Location {
	return Location{Kind: LocImm64, Imm: v}
}

// IsReg reports whether l is a general-purpose register.
func (l Location) IsReg() bool { return l.Kind == LocGPR }

// IsSIMD reports whether l is a float/vector register.
func (l Location) IsSIMD() bool { return l.Kind == LocSIMD }

// IsMem reports whether l is a memory slot.
func (l Location) IsMem() bool { return l.Kind == LocMemory }

// IsImm reports whether l is an immediate of either width.
func (l Location) IsImm() bool { return l.Kind == LocImm32 || l.Kind == LocImm64 }

// Imm32Val returns the low 32 bits of an immediate location.
func (l Location) Imm32Val() uint32 { return uint32(l.Imm) }

// Mem returns the x64 memory operand for a memory location.
func (l Location) Mem() x64.Mem {
	return x64.Mem{Base: l.Base, Disp: l.Disp}
}

// Equal reports whether two locations denote the same place.
func (l Location) Equal(o Location) bool {
	return l == o
}

func (l Location) String() string {
	switch l.Kind {
	case LocGPR:
		return l.Reg.String()
	case LocSIMD:
		return l.Xmm.String()
	case LocMemory:
		return fmt.Sprintf("[%s%+d]", l.Base, l.Disp)
	case LocImm32:
		return fmt.Sprintf("imm32(0x%x)", uint32(l.Imm))
	case LocImm64:
		return fmt.Sprintf("imm64(0x%x)", l.Imm)
	}
	return "none"
}
