package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/wasmkit/singlepass/wasm"
)

func TestReadLEB128u(t *testing.T) {
	tests := []struct {
		in   []byte
		want uint32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7F}, 127},
		{[]byte{0x80, 0x01}, 128},
		{[]byte{0xE5, 0x8E, 0x26}, 624485},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F}, 0xFFFFFFFF},
	}
	for _, tt := range tests {
		got, err := wasm.ReadLEB128u(bytes.NewReader(tt.in))
		if err != nil {
			t.Errorf("% X: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("% X: got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReadLEB128uOverflow(t *testing.T) {
	in := []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}
	if _, err := wasm.ReadLEB128u(bytes.NewReader(in)); !errors.Is(err, wasm.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestReadLEB128s(t *testing.T) {
	tests := []struct {
		in   []byte
		want int32
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x3F}, 63},
		{[]byte{0x40}, -64},
		{[]byte{0x7F}, -1},
		{[]byte{0x9B, 0xF1, 0x59}, -624485},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07}, 0x7FFFFFFF},
	}
	for _, tt := range tests {
		got, err := wasm.ReadLEB128s(bytes.NewReader(tt.in))
		if err != nil {
			t.Errorf("% X: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("% X: got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReadLEB128s33BlockTypes(t *testing.T) {
	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0x40}, wasm.BlockTypeVoid},
		{[]byte{0x7F}, wasm.BlockTypeI32},
		{[]byte{0x7E}, wasm.BlockTypeI64},
		{[]byte{0x7D}, wasm.BlockTypeF32},
		{[]byte{0x7C}, wasm.BlockTypeF64},
		{[]byte{0x05}, 5}, // type index
	}
	for _, tt := range tests {
		got, err := wasm.ReadLEB128s33(bytes.NewReader(tt.in))
		if err != nil {
			t.Errorf("% X: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("% X: got %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, v := range []uint32{0, 1, 127, 128, 16384, 624485, 0xFFFFFFFF} {
		var buf bytes.Buffer
		wasm.WriteLEB128u(&buf, v)
		got, err := wasm.ReadLEB128u(&buf)
		if err != nil {
			t.Fatalf("%d: %v", v, err)
		}
		if got != v {
			t.Errorf("got %d, want %d", got, v)
		}
	}
	for _, v := range []int32{0, 1, -1, 63, -64, 64, -65, 624485, -624485, -2147483648} {
		var buf bytes.Buffer
		wasm.WriteLEB128s(&buf, v)
		got, err := wasm.ReadLEB128s(&buf)
		if err != nil {
			t.Fatalf("%d: %v", v, err)
		}
		if got != v {
			t.Errorf("got %d, want %d", got, v)
		}
	}
}
