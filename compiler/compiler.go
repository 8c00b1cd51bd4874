package compiler

import (
	"go.uber.org/zap"

	"github.com/wasmkit/singlepass/errors"
	"github.com/wasmkit/singlepass/wasm"
	"github.com/wasmkit/singlepass/x64"
)

// sysvArgGPRs is the System V integer argument register order. The
// context pointer occupies the first slot; WebAssembly arguments use
// the rest and overflow to the native stack.
var sysvArgGPRs = []x64.Reg{x64.RDI, x64.RSI, x64.RDX, x64.RCX, x64.R8, x64.R9}

// CompiledFunction is the output of one function compilation.
type CompiledFunction struct {
	Code       []byte
	StateMap   *FunctionStateMap
	Exceptions *ExceptionTable
}

// FuncCompiler compiles one function body, one operator at a time.
// Feed every decoded operator to Op in order, then call Finish. The
// compiler is exclusively owned and takes no locks; compile functions
// of the same module concurrently with one FuncCompiler each.
type FuncCompiler struct {
	cfg Config
	log *zap.Logger

	asm  *x64.Assembler
	mach *machine

	sig    wasm.FuncType
	locals []wasm.ValType // params first, then declared locals

	stack  valueStack
	fp     fpStack
	frames []ControlFrame

	fsm    *FunctionStateMap
	etable *ExceptionTable

	// lastRecorded is the machine state at the most recent diff
	// record point; the next diff is computed against it.
	lastRecorded MachineState

	dead     bool
	deadNest int
	finished bool
}

// NewFuncCompiler starts compiling a function with the given signature
// and declared (non-parameter) locals. The prologue is emitted
// immediately: frame setup, context pointer capture, parameter
// spilling and local zeroing.
func NewFuncCompiler(sig wasm.FuncType, declared []wasm.ValType, cfg Config) (*FuncCompiler, error) {
	if len(sig.Results) > 1 {
		return nil, errors.Unsupported("multiple function results")
	}
	c := &FuncCompiler{
		cfg:    cfg,
		log:    cfg.logger(),
		asm:    x64.NewAssembler(),
		mach:   newMachine(cfg.TrackState),
		sig:    sig,
		locals: append(append([]wasm.ValType(nil), sig.Params...), declared...),
		fsm:    &FunctionStateMap{},
		etable: &ExceptionTable{},
	}
	c.emitPrologue()

	if cfg.TrackState {
		c.fsm.InitialState = c.mach.snapshot()
		c.lastRecorded = c.mach.snapshot()
	}

	// Function-level frame. Its label is the shared return point.
	c.frames = append(c.frames, ControlFrame{
		Label:      c.asm.NewLabel(),
		Returns:    append([]wasm.ValType(nil), sig.Results...),
		ValueDepth: 0,
		State:      c.mach.snapshot(),
		LastDiffID: -1,
		StackBytes: c.mach.stackBytes,
	})
	c.log.Debug("function compilation started",
		zap.Int("params", len(sig.Params)),
		zap.Int("locals", len(declared)))
	return c, nil
}

// localSlot returns the frame-relative home of local i. Slot 0 below
// the saved frame pointer holds the preserved context register; locals
// follow it.
func (c *FuncCompiler) localSlot(i int) Location {
	return StackSlot(x64.RBP, -(16 + 8*int32(i)))
}

func (c *FuncCompiler) emitPrologue() {
	a := c.asm
	a.Push(x64.RBP)
	a.MovRegReg(x64.S64, x64.RBP, x64.RSP)
	a.Push(ContextReg)
	a.MovRegReg(x64.S64, ContextReg, x64.RDI)

	n := len(c.locals)
	if n > 0 {
		a.AluRegImm(x64.ALUSub, x64.S64, x64.RSP, int32(8*n))
	}

	// Incoming arguments: context in rdi, then one integer-class slot
	// per parameter regardless of type, overflow at [rbp+16...].
	for i := range c.sig.Params {
		argIdx := i + 1
		if argIdx < len(sysvArgGPRs) {
			a.MovMemReg(x64.S64, c.localSlot(i).Mem(), sysvArgGPRs[argIdx])
		} else {
			stackArg := x64.Mem{Base: x64.RBP, Disp: int32(16 + 8*(argIdx-len(sysvArgGPRs)))}
			a.MovRegMem(x64.S64, x64.RAX, stackArg)
			a.MovMemReg(x64.S64, c.localSlot(i).Mem(), x64.RAX)
		}
	}
	for i := len(c.sig.Params); i < n; i++ {
		a.MovMemImm(x64.S64, c.localSlot(i).Mem(), 0)
	}

	c.mach.stackBytes = int32(8 + 8*n)
	c.mach.fixedBytes = c.mach.stackBytes
	if c.mach.trackState {
		c.mach.state.Stack = append(c.mach.state.Stack,
			MachineValue{Kind: MVPreserveRegister, Index: int32(ContextReg)})
		for i := 0; i < n; i++ {
			c.mach.state.Stack = append(c.mach.state.Stack,
				MachineValue{Kind: MVWasmLocal, Index: int32(i)})
		}
	}
}

func (c *FuncCompiler) emitEpilogue() {
	a := c.asm
	a.Lea(x64.S64, x64.RSP, x64.Mem{Base: x64.RBP, Disp: -8})
	a.Pop(ContextReg)
	a.Pop(x64.RBP)
	a.Ret()
}

// Finish seals the function. The body must have consumed its final
// end operator.
func (c *FuncCompiler) Finish() (*CompiledFunction, error) {
	if !c.finished {
		return nil, errors.InvalidData("function body not terminated", nil)
	}
	code, err := c.asm.Finish()
	if err != nil {
		return nil, err
	}
	c.log.Debug("function compiled",
		zap.Int("code_bytes", len(code)),
		zap.Int("diffs", len(c.fsm.Diffs)),
		zap.Int("trap_ranges", len(c.etable.Ranges)))
	return &CompiledFunction{Code: code, StateMap: c.fsm, Exceptions: c.etable}, nil
}

// value stack helpers

// push1 pushes a location with its type, tracking float entries.
func (c *FuncCompiler) push1(loc Location, t wasm.ValType) {
	depth := c.stack.len()
	c.stack.push(loc, t)
	if t.IsFloat() {
		c.fp.push(depth, precOf(t), false)
	}
}

// pushResult allocates storage for a result and pushes it.
func (c *FuncCompiler) pushResult(t wasm.ValType) Location {
	loc := c.mach.acquire(c.asm, classGPR, c.stack.len())
	c.push1(loc, t)
	return loc
}

// pushFloatResult allocates storage for a float result whose NaN
// canonicalization may be deferred.
func (c *FuncCompiler) pushFloatResult(prec x64.Precision, pending bool) Location {
	depth := c.stack.len()
	loc := c.mach.acquire(c.asm, classGPR, depth)
	t := wasm.ValF32
	if prec == x64.PS64 {
		t = wasm.ValF64
	}
	c.stack.push(loc, t)
	c.fp.push(depth, prec, pending && c.cfg.Canonicalize)
	return loc
}

// pop1 pops one value. The caller still owns the storage and must
// release it once the value is consumed.
func (c *FuncCompiler) pop1(op string) (Location, wasm.ValType, error) {
	loc, t, err := c.stack.pop(op)
	if err != nil {
		return loc, t, err
	}
	c.fp.popAt(c.stack.len())
	return loc, t, nil
}

// pop2 pops b then a, returning them in push order (a below b).
func (c *FuncCompiler) pop2(op string) (a, b Location, err error) {
	if c.stack.len() < 2 {
		return a, b, errors.StackUnderflow(op, c.stack.len(), 2)
	}
	b, _, _ = c.pop1(op)
	a, _, _ = c.pop1(op)
	return a, b, nil
}

func precOf(t wasm.ValType) x64.Precision {
	if t == wasm.ValF64 {
		return x64.PS64
	}
	return x64.PS32
}

// recordState appends a diff against the last recorded state and
// returns its id.
func (c *FuncCompiler) recordState() int32 {
	if !c.cfg.TrackState {
		return -1
	}
	id := c.mach.recordDiff(c.fsm, &c.lastRecorded)
	c.lastRecorded = c.mach.snapshot()
	return id
}

// markTrap tags [start, current) with code and records the machine
// state active over that window.
func (c *FuncCompiler) markTrap(start uint32, code TrapCode) {
	end := c.asm.Offset()
	c.etable.Tag(start, end, code)
	if c.cfg.TrackState {
		id := c.recordState()
		c.fsm.TrappableOffsets = append(c.fsm.TrappableOffsets, OffsetEntry{
			Offset: start,
			Info:   OffsetInfo{ActivateOffset: start, EndOffset: end, DiffID: id},
		})
	}
}

// markCall records the machine state keyed at a call's return address.
func (c *FuncCompiler) markCall(retAddr uint32) {
	if !c.cfg.TrackState {
		return
	}
	id := c.recordState()
	c.fsm.CallOffsets = append(c.fsm.CallOffsets, OffsetEntry{
		Offset: retAddr,
		Info:   OffsetInfo{ActivateOffset: retAddr, EndOffset: retAddr + 1, DiffID: id},
	})
}

// control flow

func (c *FuncCompiler) frameAt(rel uint32) (*ControlFrame, error) {
	idx := len(c.frames) - 1 - int(rel)
	if idx < 0 {
		return nil, errors.FrameUnderflow("br")
	}
	return &c.frames[idx], nil
}

// branchArity is the number of values a branch to f carries. Loops
// take branches at their header and carry none.
func branchArity(f *ControlFrame) int {
	if f.LoopLike {
		return 0
	}
	return f.arity()
}

// emitBranchTo moves the carried value into rax, unwinds the native
// stack to the target frame's extent and jumps. Compile-time state is
// untouched: the fallthrough path continues from the same state.
func (c *FuncCompiler) emitBranchTo(f *ControlFrame) error {
	if branchArity(f) == 1 {
		if err := c.canonicalizeTop(); err != nil {
			return err
		}
		top, _, err := c.stack.peek("br")
		if err != nil {
			return err
		}
		if err := c.loadToGPR(x64.S64, top, x64.RAX); err != nil {
			return err
		}
	}
	if delta := c.mach.stackBytes - f.StackBytes; delta > 0 {
		c.asm.AluRegImm(x64.ALUAdd, x64.S64, x64.RSP, delta)
	}
	c.asm.Jmp(f.Label)
	return nil
}

func blockReturns(bt int64) ([]wasm.ValType, error) {
	switch bt {
	case wasm.BlockTypeVoid:
		return nil, nil
	case wasm.BlockTypeI32:
		return []wasm.ValType{wasm.ValI32}, nil
	case wasm.BlockTypeI64:
		return []wasm.ValType{wasm.ValI64}, nil
	case wasm.BlockTypeF32:
		return []wasm.ValType{wasm.ValF32}, nil
	case wasm.BlockTypeF64:
		return []wasm.ValType{wasm.ValF64}, nil
	}
	return nil, errors.Unsupported("multi-value block types")
}

func (c *FuncCompiler) pushFrame(f ControlFrame) {
	f.ValueDepth = c.stack.len()
	f.FPDepth = c.fp.len()
	f.State = c.mach.snapshot()
	f.LastDiffID = c.mach.lastDiffID
	f.StackBytes = c.mach.stackBytes
	f.UsedGPR = c.mach.usedGPR
	f.UsedXMM = c.mach.usedXMM
	c.frames = append(c.frames, f)
}

func (c *FuncCompiler) emitBlock(bt int64) error {
	rets, err := blockReturns(bt)
	if err != nil {
		return err
	}
	c.pushFrame(ControlFrame{Label: c.asm.NewLabel(), Returns: rets})
	return nil
}

func (c *FuncCompiler) emitLoop(bt int64) error {
	rets, err := blockReturns(bt)
	if err != nil {
		return err
	}
	l := c.asm.NewLabel()
	c.asm.Bind(l)
	c.pushFrame(ControlFrame{Label: l, LoopLike: true, Returns: rets})
	return nil
}

func (c *FuncCompiler) emitIf(bt int64) error {
	rets, err := blockReturns(bt)
	if err != nil {
		return err
	}
	cond, _, err := c.pop1("if")
	if err != nil {
		return err
	}
	// Stage the condition through a temp so releasing its storage
	// (which may adjust rsp) cannot disturb the flags the jump reads.
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	if err := c.loadToGPR(x64.S32, cond, tmp); err != nil {
		return err
	}
	c.mach.release(c.asm, cond)
	c.asm.TestRegReg(x64.S32, tmp, tmp)
	c.mach.releaseTemp(tmp)
	f := ControlFrame{
		Label:     c.asm.NewLabel(),
		ElseLabel: c.asm.NewLabel(),
		IfElse:    ifElseIf,
		Returns:   rets,
	}
	// Condition false jumps to the else arm (or straight to end).
	c.pushFrame(f)
	c.asm.Jcc(x64.CondE, c.frames[len(c.frames)-1].ElseLabel)
	return nil
}

// restoreToFrame rewinds compile-time state to a frame's entry point.
func (c *FuncCompiler) restoreToFrame(f *ControlFrame) {
	c.stack.truncate(f.ValueDepth)
	c.fp.truncateTo(f.FPDepth)
	c.mach.restore(&f.State, f.LastDiffID)
	c.mach.stackBytes = f.StackBytes
	c.mach.usedGPR = f.UsedGPR
	c.mach.usedXMM = f.UsedXMM
	if c.cfg.TrackState {
		c.lastRecorded = f.State.Clone()
	}
}

func (c *FuncCompiler) emitElse() error {
	if len(c.frames) < 2 {
		return errors.FrameUnderflow("else")
	}
	f := &c.frames[len(c.frames)-1]
	if f.IfElse != ifElseIf {
		return errors.InvalidData("else without matching if", nil)
	}
	if !c.dead {
		if f.arity() == 1 {
			if err := c.canonicalizeTop(); err != nil {
				return err
			}
			top, _, err := c.stack.peek("else")
			if err != nil {
				return err
			}
			if err := c.loadToGPR(x64.S64, top, x64.RAX); err != nil {
				return err
			}
		}
		if delta := c.mach.stackBytes - f.StackBytes; delta > 0 {
			c.asm.AluRegImm(x64.ALUAdd, x64.S64, x64.RSP, delta)
		}
		c.asm.Jmp(f.Label)
	}
	c.asm.Bind(f.ElseLabel)
	c.restoreToFrame(f)
	f.IfElse = ifElseElse
	c.dead = false
	return nil
}

func (c *FuncCompiler) emitEnd() error {
	if len(c.frames) == 0 {
		return errors.FrameUnderflow("end")
	}
	f := c.frames[len(c.frames)-1]
	c.frames = c.frames[:len(c.frames)-1]
	isFunc := len(c.frames) == 0
	hasResult := f.arity() == 1

	if !c.dead {
		if hasResult {
			if err := c.canonicalizeTop(); err != nil {
				return err
			}
			top, _, err := c.stack.peek("end")
			if err != nil {
				return err
			}
			if err := c.loadToGPR(x64.S64, top, x64.RAX); err != nil {
				return err
			}
		}
		if delta := c.mach.stackBytes - f.StackBytes; delta > 0 {
			c.asm.AluRegImm(x64.ALUAdd, x64.S64, x64.RSP, delta)
		}
	}
	if f.IfElse == ifElseIf {
		c.asm.Bind(f.ElseLabel)
	}
	if !f.LoopLike {
		c.asm.Bind(f.Label)
	}
	c.restoreToFrame(&f)

	if isFunc {
		c.emitEpilogue()
		c.finished = true
		c.dead = false
		return nil
	}
	if f.LoopLike && c.dead {
		// Nothing branches past a loop's end; stay unreachable.
		return nil
	}
	c.dead = false
	if hasResult {
		t := f.Returns[0]
		var loc Location
		if t.IsFloat() {
			loc = c.pushFloatResult(precOf(t), false)
		} else {
			loc = c.pushResult(t)
		}
		return c.relaxedMov(x64.S64, GPR(x64.RAX), loc)
	}
	return nil
}

func (c *FuncCompiler) emitBr(rel uint32) error {
	f, err := c.frameAt(rel)
	if err != nil {
		return err
	}
	if err := c.emitBranchTo(f); err != nil {
		return err
	}
	c.dead = true
	return nil
}

func (c *FuncCompiler) emitBrIf(rel uint32) error {
	cond, _, err := c.pop1("br_if")
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if err := c.loadToGPR(x64.S32, cond, tmp); err != nil {
		return err
	}
	c.mach.release(c.asm, cond)
	f, err := c.frameAt(rel)
	if err != nil {
		return err
	}
	// Canonicalize before the test: the branch and fallthrough paths
	// must agree on the value's bits, and the emitted blend would
	// clobber the flags anyway.
	if branchArity(f) == 1 {
		if err := c.canonicalizeTop(); err != nil {
			return err
		}
	}
	c.asm.TestRegReg(x64.S32, tmp, tmp)
	skip := c.asm.NewLabel()
	c.asm.Jcc(x64.CondE, skip)
	if err := c.emitBranchTo(f); err != nil {
		return err
	}
	c.asm.Bind(skip)
	return nil
}

// emitBrTable dispatches through a compare chain. Each arm repeats the
// branch sequence; label resolution happens at the end of assembly.
func (c *FuncCompiler) emitBrTable(labels []uint32, def uint32) error {
	idx, _, err := c.pop1("br_table")
	if err != nil {
		return err
	}
	if c.stack.len() > 0 {
		if err := c.canonicalizeTop(); err != nil {
			return err
		}
	}
	idxReg, err := c.mach.takeTempReg(x64.RCX)
	if err != nil {
		return err
	}
	if err := c.loadToGPR(x64.S32, idx, idxReg); err != nil {
		return err
	}
	c.mach.release(c.asm, idx)
	for i, l := range labels {
		f, err := c.frameAt(l)
		if err != nil {
			return err
		}
		c.asm.AluRegImm(x64.ALUCmp, x64.S32, idxReg, int32(i))
		skip := c.asm.NewLabel()
		c.asm.Jcc(x64.CondNE, skip)
		if err := c.emitBranchTo(f); err != nil {
			return err
		}
		c.asm.Bind(skip)
	}
	f, err := c.frameAt(def)
	if err != nil {
		return err
	}
	if err := c.emitBranchTo(f); err != nil {
		return err
	}
	c.mach.releaseTemp(idxReg)
	c.dead = true
	return nil
}

func (c *FuncCompiler) emitReturn() error {
	if err := c.emitBranchTo(&c.frames[0]); err != nil {
		return err
	}
	c.dead = true
	return nil
}

func (c *FuncCompiler) emitUnreachable() {
	start := c.asm.Offset()
	c.asm.Ud2()
	c.markTrap(start, TrapUnreachable)
	c.dead = true
}

// parametric and variable access

func (c *FuncCompiler) emitDrop() error {
	loc, _, err := c.pop1("drop")
	if err != nil {
		return err
	}
	c.mach.release(c.asm, loc)
	return nil
}

func (c *FuncCompiler) emitSelect() error {
	cond, _, err := c.pop1("select")
	if err != nil {
		return err
	}
	// Select forwards bits unchanged, so the result's canonicalization
	// state is the union of the operands', not a fresh obligation.
	b, _, err := c.stack.pop("select")
	if err != nil {
		return err
	}
	fvB, okB := c.fp.popAt(c.stack.len())
	a, at, err := c.stack.pop("select")
	if err != nil {
		return err
	}
	fvA, okA := c.fp.popAt(c.stack.len())
	pending := (okA && fvA.Pending) || (okB && fvB.Pending)
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	if err := c.loadToGPR(x64.S64, b, tmp); err != nil {
		return err
	}
	resReg := x64.RAX
	if a.IsReg() {
		resReg = a.Reg
	} else {
		spare, terr := c.mach.takeTemp()
		if terr != nil {
			return terr
		}
		defer c.mach.releaseTemp(spare)
		if err := c.loadToGPR(x64.S64, a, spare); err != nil {
			return err
		}
		resReg = spare
	}
	if err := c.relaxedCmp(x64.S32, Imm32(0), cond); err != nil {
		return err
	}
	// Condition zero selects the second value.
	c.asm.Cmovcc(x64.S64, x64.CondE, resReg, tmp)
	c.mach.release(c.asm, cond)
	c.mach.release(c.asm, b)
	if a.IsReg() {
		depth := c.stack.len()
		c.stack.push(a, at)
		if at.IsFloat() {
			c.fp.push(depth, precOf(at), pending)
		}
		return nil
	}
	c.mach.release(c.asm, a)
	var dst Location
	if at.IsFloat() {
		dst = c.pushFloatResult(precOf(at), pending)
	} else {
		dst = c.pushResult(at)
	}
	return c.relaxedMov(x64.S64, GPR(resReg), dst)
}

func (c *FuncCompiler) emitLocalGet(idx uint32) error {
	if int(idx) >= len(c.locals) {
		return errors.InvalidData("local index out of range", nil)
	}
	t := c.locals[idx]
	var loc Location
	if t.IsFloat() {
		loc = c.pushFloatResult(precOf(t), false)
	} else {
		loc = c.pushResult(t)
	}
	return c.relaxedMov(x64.S64, c.localSlot(int(idx)), loc)
}

func (c *FuncCompiler) emitLocalSet(idx uint32, tee bool) error {
	if int(idx) >= len(c.locals) {
		return errors.InvalidData("local index out of range", nil)
	}
	if err := c.canonicalizeTop(); err != nil {
		return err
	}
	if tee {
		top, _, err := c.stack.peek("local.tee")
		if err != nil {
			return err
		}
		return c.relaxedMov(x64.S64, top, c.localSlot(int(idx)))
	}
	v, _, err := c.pop1("local.set")
	if err != nil {
		return err
	}
	if err := c.relaxedMov(x64.S64, v, c.localSlot(int(idx))); err != nil {
		return err
	}
	c.mach.release(c.asm, v)
	return nil
}

func (c *FuncCompiler) emitGlobalGet(idx uint32) error {
	if int(idx) >= len(c.cfg.Globals) {
		return errors.InvalidData("global index out of range", nil)
	}
	t := c.cfg.Globals[idx]
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	c.asm.MovRegMem(x64.S64, tmp, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.GlobalsBase})
	var loc Location
	if t.IsFloat() {
		loc = c.pushFloatResult(precOf(t), false)
	} else {
		loc = c.pushResult(t)
	}
	return c.relaxedMov(x64.S64, StackSlot(tmp, int32(8*idx)), loc)
}

func (c *FuncCompiler) emitGlobalSet(idx uint32) error {
	if int(idx) >= len(c.cfg.Globals) {
		return errors.InvalidData("global index out of range", nil)
	}
	if err := c.canonicalizeTop(); err != nil {
		return err
	}
	v, _, err := c.pop1("global.set")
	if err != nil {
		return err
	}
	tmp, err := c.mach.takeTemp()
	if err != nil {
		return err
	}
	defer c.mach.releaseTemp(tmp)
	c.asm.MovRegMem(x64.S64, tmp, x64.Mem{Base: ContextReg, Disp: c.cfg.Context.GlobalsBase})
	if err := c.relaxedMov(x64.S64, v, StackSlot(tmp, int32(8*idx))); err != nil {
		return err
	}
	c.mach.release(c.asm, v)
	return nil
}
