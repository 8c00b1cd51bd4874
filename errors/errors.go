package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the compilation pipeline the error occurred
type Phase string

const (
	PhaseDecode   Phase = "decode"   // operator stream decoding
	PhaseAllocate Phase = "allocate" // register/stack slot allocation
	PhaseEmit     Phase = "emit"     // instruction emission
	PhaseLower    Phase = "lower"    // operand legalization
	PhaseFinish   Phase = "finish"   // function finalization
)

// Kind categorizes the error.
//
// Every kind here is an internal compiler error: a precondition violated
// by upstream code (typically a validator bug), fatal to the current
// function's compilation. WebAssembly-level faults are never represented
// as errors of this package; they are encoded into the emitted machine
// code and classified by the exception table at execution time.
type Kind string

const (
	KindStackUnderflow     Kind = "stack_underflow"
	KindFrameUnderflow     Kind = "frame_underflow"
	KindBadLocation        Kind = "bad_location"
	KindRegistersExhausted Kind = "registers_exhausted"
	KindWidthMismatch      Kind = "width_mismatch"
	KindUnboundLabel       Kind = "unbound_label"
	KindUnsupported        Kind = "unsupported"
	KindInvalidData        Kind = "invalid_data"
	KindArityMismatch      Kind = "arity_mismatch"
)

// Error is the structured error type used throughout the backend
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Op     string // WebAssembly operator being compiled, if any
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the WebAssembly operator being compiled
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// StackUnderflow reports a pop from an operand stack shallower than
// required. Validated input can never trigger this.
func StackUnderflow(op string, have, want int) *Error {
	return &Error{
		Phase:  PhaseEmit,
		Kind:   KindStackUnderflow,
		Op:     op,
		Detail: fmt.Sprintf("operand stack has %d values, need %d", have, want),
	}
}

// FrameUnderflow reports a control-frame pop with no frame open.
func FrameUnderflow(op string) *Error {
	return &Error{
		Phase:  PhaseEmit,
		Kind:   KindFrameUnderflow,
		Op:     op,
		Detail: "no enclosing control frame",
	}
}

// BadLocation reports an operand/location combination no emitter can
// legalize.
func BadLocation(op, detail string) *Error {
	return &Error{
		Phase:  PhaseLower,
		Kind:   KindBadLocation,
		Op:     op,
		Detail: detail,
	}
}

// RegistersExhausted reports an empty temporary pool.
func RegistersExhausted(class string) *Error {
	return &Error{
		Phase:  PhaseAllocate,
		Kind:   KindRegistersExhausted,
		Detail: fmt.Sprintf("no free %s temporary", class),
	}
}

// WidthMismatch reports a memory access wider than the register staged
// for it.
func WidthMismatch(op string, accessBits, regBits int) *Error {
	return &Error{
		Phase:  PhaseEmit,
		Kind:   KindWidthMismatch,
		Op:     op,
		Detail: fmt.Sprintf("%d-bit access staged through %d-bit register", accessBits, regBits),
	}
}

// Unsupported reports an operator or form the backend does not compile.
func Unsupported(what string) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidData reports malformed input bytes.
func InvalidData(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// ArityMismatch reports a function exit with the wrong result count.
func ArityMismatch(have, want int) *Error {
	return &Error{
		Phase:  PhaseFinish,
		Kind:   KindArityMismatch,
		Detail: fmt.Sprintf("operand stack holds %d results, function declares %d", have, want),
	}
}
