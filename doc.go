// Package singlepass provides a single-pass, non-optimizing WebAssembly
// to x86-64 code generator.
//
// The backend compiles one function body at a time into directly
// executable machine code, trading peak runtime performance for minimal
// compilation latency. Every decision is made in a single forward walk
// over the operator stream: there is no register allocation across the
// function, no scheduling, and no multi-pass analysis. This is a design
// choice, not a limitation to be fixed: instantiation latency is the
// budget this backend spends.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	singlepass/          Root package documentation
//	├── compiler/        The singlepass core: operand stack, register
//	│                    allocator, per-operator emitters, side tables
//	├── x64/             x86-64 register model and binary assembler
//	├── wasm/            Input model: value types, signatures, memory
//	│                    styles, and a compact core-module reader
//	├── errors/          Structured compile-error types
//	└── cmd/singlepass/  CLI: compile, dump, inspect, cross-check
//
// # Quick Start
//
// Compile a single function body:
//
//	fc, err := compiler.NewFuncCompiler(sig, locals, compiler.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, op := range ops {
//	    if err := fc.Op(op); err != nil {
//	        log.Fatal(err)
//	    }
//	}
//	out, err := fc.Finish()
//	// out.Code is native x86-64, out.StateMap and out.Exceptions are
//	// the side tables the surrounding runtime consumes.
//
// Compilation of one function is synchronous and single-threaded; the
// compiler context is exclusively owned and takes no locks. Functions of
// the same module may be compiled concurrently, one context each.
package singlepass
