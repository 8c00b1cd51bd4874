package wasm

// ValType is a core WebAssembly value type.
type ValType byte

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32 ValType = 0x7F // 32-bit integer
	ValI64 ValType = 0x7E // 64-bit integer
	ValF32 ValType = 0x7D // 32-bit float
	ValF64 ValType = 0x7C // 64-bit float
)

// IsFloat reports whether t is a floating-point type.
func (t ValType) IsFloat() bool {
	return t == ValF32 || t == ValF64
}

func (t ValType) String() string {
	switch t {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	}
	return "unknown"
}

// FuncType represents a WebAssembly function signature with parameter and
// result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Limits holds the minimum and optional maximum of a memory or table.
type Limits struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// MemoryType describes one linear memory.
type MemoryType struct {
	Limits Limits
	Shared bool
}

// TableType describes one table.
type TableType struct {
	Elem   byte // element type byte (0x70 funcref)
	Limits Limits
}

// Global represents a global definition with its init expression bytes.
type Global struct {
	Type    ValType
	Mutable bool
	Init    []byte
}

// Import represents an imported definition.
type Import struct {
	Module string
	Name   string
	Kind   byte
	// Index into Types for function imports; otherwise unused.
	TypeIdx uint32
	Memory  MemoryType
	Table   TableType
}

// Export represents an exported definition.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// FuncBody is one entry of the code section: declared locals plus the
// instruction expression (terminated by the final end opcode).
type FuncBody struct {
	Locals []ValType
	Expr   []byte
}

// Module represents a parsed core WebAssembly module, trimmed to the
// sections the backend's tooling needs.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices for locally defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Code     []FuncBody
}

// NumImportedFuncs returns the count of imported functions, which offsets
// the index space of locally defined functions.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == KindFunc {
			n++
		}
	}
	return n
}

// MemoryStyleKind selects how the backend addresses a linear memory.
type MemoryStyleKind byte

const (
	// MemoryDynamic requires an explicit bounds check on every access.
	MemoryDynamic MemoryStyleKind = iota
	// MemoryStatic relies on guard-page placement and skips the check.
	MemoryStatic
)

// MemoryStyle is the per-memory addressing style, selected from static
// configuration rather than per access.
type MemoryStyle struct {
	Kind MemoryStyleKind
	// Bound is the guaranteed-addressable byte size for MemoryStatic.
	Bound uint64
}

// TableStyle is the per-table addressing style. Only caller-checks-
// signature exists today.
type TableStyle struct {
	CallerChecksSignature bool
}
