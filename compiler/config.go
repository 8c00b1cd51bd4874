package compiler

import (
	"go.uber.org/zap"

	"github.com/wasmkit/singlepass/wasm"
)

// ContextLayout gives the byte offsets, relative to the context pointer
// held in r15, of the runtime fields compiled code touches directly.
// The embedder's context struct must match this layout.
type ContextLayout struct {
	MemoryBase     int32 // *byte, start of linear memory
	MemoryBound    int32 // uintptr, current byte length
	TableBase      int32 // *anyfunc entry array
	TableBound     int32 // uintptr, element count
	GlobalsBase    int32 // *int64 slot array, one 8-byte slot per global
	FuncTargets    int32 // *uintptr, native entry per function index
	SigIDs         int32 // *uint32, canonical signature id per type index
	IntrinsicsBase int32 // *uintptr, runtime helper entry points
}

// DefaultContextLayout matches the reference runtime context struct.
func DefaultContextLayout() ContextLayout {
	return ContextLayout{
		MemoryBase:     0,
		MemoryBound:    8,
		TableBase:      16,
		TableBound:     24,
		GlobalsBase:    32,
		FuncTargets:    40,
		SigIDs:         48,
		IntrinsicsBase: 56,
	}
}

// Intrinsic slots within the IntrinsicsBase array.
const (
	IntrinsicMemoryGrow = 0
	IntrinsicMemorySize = 1
)

// Config carries per-module compilation options.
type Config struct {
	// Memory selects the bounds-checking strategy for linear memory.
	Memory wasm.MemoryStyle
	// Table controls call_indirect signature checking placement.
	Table wasm.TableStyle
	// Context is the runtime context field layout.
	Context ContextLayout
	// Funcs lists the signature of every function index the body may
	// call, imports first.
	Funcs []wasm.FuncType
	// Types is the module type section, used to check indirect calls.
	Types []wasm.FuncType
	// Globals lists the value type of every global index.
	Globals []wasm.ValType
	// TrackState enables the machine-state side tables. Disabling it
	// skips diff recording but never changes emitted code.
	TrackState bool
	// Canonicalize forces every observable NaN to the canonical
	// quiet-NaN bit pattern before it is stored or passed on.
	Canonicalize bool
	// EnforceAlignment emits alignment checks on atomic accesses.
	// Non-atomic accesses never check alignment.
	EnforceAlignment bool
	// Logger receives compilation-progress events. Nil falls back to
	// the package logger.
	Logger *zap.Logger
}

// DefaultConfig returns a Config suitable for a dynamically bounded
// memory with full state tracking.
func DefaultConfig() Config {
	return Config{
		Memory:           wasm.MemoryStyle{Kind: wasm.MemoryDynamic},
		Table:            wasm.TableStyle{CallerChecksSignature: true},
		Context:          DefaultContextLayout(),
		TrackState:       true,
		Canonicalize:     true,
		EnforceAlignment: true,
	}
}

func (c *Config) logger() *zap.Logger {
	if c.Logger == nil {
		return Logger()
	}
	return c.Logger
}
