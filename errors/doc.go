// Package errors provides structured error types for the singlepass
// backend.
//
// Errors are categorized by Phase (where in the pipeline the error
// occurred) and Kind (error category). Every error of this package is an
// internal compiler error: it indicates a contract breach by upstream
// code, most often a validator bug, and aborts compilation of the
// current function. It is never a recoverable condition and never
// describes a fault the compiled WebAssembly program itself may raise at
// run time; those are encoded into the emitted code and the exception
// table instead.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseLower, errors.KindBadLocation).
//		Op("i32.add").
//		Detail("immediate destination").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.StackUnderflow("i64.mul", 1, 2)
//	err := errors.RegistersExhausted("gpr")
//
// All errors implement the standard error interface and support
// errors.Is/As.
package errors
