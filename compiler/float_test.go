package compiler

import (
	"math"
	"testing"

	"github.com/wasmkit/singlepass/x64"
)

func TestTruncBounds(t *testing.T) {
	tests := []struct {
		name         string
		prec         x64.Precision
		sz           x64.Size
		signed       bool
		lower, upper uint64
	}{
		{"f32 to i32 signed", x64.PS32, x64.S32, true, 0xCF000001, 0x4F000000},
		{"f32 to i32 unsigned", x64.PS32, x64.S32, false, 0xBF800000, 0x4F800000},
		{"f32 to i64 signed", x64.PS32, x64.S64, true, 0xDF000001, 0x5F000000},
		{"f32 to i64 unsigned", x64.PS32, x64.S64, false, 0xBF800000, 0x5F800000},
		{"f64 to i32 signed", x64.PS64, x64.S32, true, 0xC1E0000000200000, 0x41E0000000000000},
		{"f64 to i32 unsigned", x64.PS64, x64.S32, false, 0xBFF0000000000000, 0x41F0000000000000},
		{"f64 to i64 signed", x64.PS64, x64.S64, true, 0xC3E0000000000001, 0x43E0000000000000},
		{"f64 to i64 unsigned", x64.PS64, x64.S64, false, 0xBFF0000000000000, 0x43F0000000000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lower, upper := truncBounds(tt.prec, tt.sz, tt.signed)
			if lower != tt.lower || upper != tt.upper {
				t.Errorf("bounds = %#x, %#x; want %#x, %#x", lower, upper, tt.lower, tt.upper)
			}
		})
	}
}

// The bounds are exclusive: a value converts iff it compares strictly
// inside them. The signed i32 case is the canonical pitfall, where
// -2147483904.0 is the largest f32 that must fault while -2147483648.0
// is in range.
func TestTruncBoundValues(t *testing.T) {
	lo, hi := truncBounds(x64.PS32, x64.S32, true)
	if f := math.Float32frombits(uint32(lo)); f != -2147483904.0 {
		t.Errorf("f32->i32 signed lower = %v, want -2147483904.0", f)
	}
	if f := math.Float32frombits(uint32(hi)); f != 2147483648.0 {
		t.Errorf("f32->i32 signed upper = %v, want 2^31", f)
	}
	if f := math.Float32frombits(uint32(lo)); !(-2147483648.0 > f) {
		t.Error("i32 minimum must lie strictly above the lower bound")
	}

	lo, hi = truncBounds(x64.PS64, x64.S32, true)
	if f := math.Float64frombits(lo); f != -2147483649.0 {
		t.Errorf("f64->i32 signed lower = %v, want -2147483649.0", f)
	}
	if f := math.Float64frombits(hi); f != 2147483648.0 {
		t.Errorf("f64->i32 signed upper = %v, want 2^31", f)
	}

	// Unsigned conversions admit (-1, 2^N) so that -0.x truncates to 0.
	for _, prec := range []x64.Precision{x64.PS32, x64.PS64} {
		lo, _ := truncBounds(prec, x64.S32, false)
		var f float64
		if prec == x64.PS32 {
			f = float64(math.Float32frombits(uint32(lo)))
		} else {
			f = math.Float64frombits(lo)
		}
		if f != -1.0 {
			t.Errorf("unsigned lower bound = %v, want -1.0", f)
		}
	}
}

func TestTruncSatLimits(t *testing.T) {
	tests := []struct {
		name      string
		sz        x64.Size
		signed    bool
		low, high uint64
	}{
		{"i32 signed", x64.S32, true, 0x80000000, 0x7FFFFFFF},
		{"i32 unsigned", x64.S32, false, 0, 0xFFFFFFFF},
		{"i64 signed", x64.S64, true, 0x8000000000000000, 0x7FFFFFFFFFFFFFFF},
		{"i64 unsigned", x64.S64, false, 0, 0xFFFFFFFFFFFFFFFF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			low, high := truncSatLimits(tt.sz, tt.signed)
			if low != tt.low || high != tt.high {
				t.Errorf("limits = %#x, %#x; want %#x, %#x", low, high, tt.low, tt.high)
			}
		})
	}
}
