package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wasmkit/singlepass/compiler"
	"github.com/wasmkit/singlepass/wasm"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to core wasm module")
		funcName    = flag.String("func", "", "Compile only the named export (default: all)")
		dump        = flag.Bool("dump", false, "Hex dump the emitted machine code")
		static      = flag.Uint64("static", 0, "Guard-page bound in bytes; 0 selects dynamic bounds checks")
		check       = flag.Bool("check", false, "Cross-check the module with a reference runtime")
		argsStr     = flag.String("args", "", "Integer arguments for -check invocation (comma-separated)")
		verbose     = flag.Bool("v", false, "Verbose compilation logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: singlepass -wasm <file.wasm> [-func name] [-dump]")
		fmt.Fprintln(os.Stderr, "       singlepass -wasm <file.wasm> -check [-func name -args 1,2]")
		fmt.Fprintln(os.Stderr, "       singlepass -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer log.Sync()
		compiler.SetLogger(log)
	}

	if *interactive {
		if err := runInteractive(*wasmFile, *static); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*wasmFile, *funcName, *argsStr, *static, *dump, *check); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(wasmFile, funcName, argsStr string, staticBound uint64, dump, check bool) error {
	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	mod, err := wasm.ParseModule(data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	fmt.Printf("Module: %s\n", wasmFile)
	fmt.Printf("Types: %d  Imports: %d  Functions: %d  Memories: %d  Tables: %d  Globals: %d\n",
		len(mod.Types), len(mod.Imports), len(mod.Code), len(mod.Memories), len(mod.Tables), len(mod.Globals))

	cfg := moduleConfig(mod, staticBound)
	names := exportNames(mod)

	var totalCode, compiled int
	for i := range mod.Code {
		funcIdx := uint32(mod.NumImportedFuncs() + i)
		name := names[funcIdx]
		if name == "" {
			name = fmt.Sprintf("func[%d]", funcIdx)
		}
		if funcName != "" && name != funcName {
			continue
		}

		out, err := compileFunc(mod, i, cfg)
		if err != nil {
			return fmt.Errorf("compile %s: %w", name, err)
		}
		compiled++
		totalCode += len(out.Code)

		sig := mod.Types[mod.Funcs[i]]
		fmt.Printf("\n%s %s\n", name, sigString(sig))
		fmt.Printf("  code: %d bytes  traps: %d  calls: %d  state diffs: %d\n",
			len(out.Code), len(out.Exceptions.Ranges),
			len(out.StateMap.CallOffsets), len(out.StateMap.Diffs))
		for _, r := range out.Exceptions.Ranges {
			fmt.Printf("  [%#06x, %#06x) %s\n", r.Start, r.End, trapString(r.Code))
		}
		if dump {
			hexDump(os.Stdout, out.Code)
		}
	}

	if funcName != "" && compiled == 0 {
		return fmt.Errorf("no exported function %q", funcName)
	}
	fmt.Printf("\nCompiled %d function(s), %d bytes of machine code\n", compiled, totalCode)

	if check {
		return referenceCheck(data, funcName, argsStr)
	}
	return nil
}

// moduleConfig derives the compiler configuration from the parsed
// module. The full function index space is imports first, then local
// definitions.
func moduleConfig(mod *wasm.Module, staticBound uint64) compiler.Config {
	cfg := compiler.DefaultConfig()
	if staticBound > 0 {
		cfg.Memory = wasm.MemoryStyle{Kind: wasm.MemoryStatic, Bound: staticBound}
	}
	cfg.Types = mod.Types
	for _, imp := range mod.Imports {
		if imp.Kind == wasm.KindFunc {
			cfg.Funcs = append(cfg.Funcs, mod.Types[imp.TypeIdx])
		}
	}
	for _, typeIdx := range mod.Funcs {
		cfg.Funcs = append(cfg.Funcs, mod.Types[typeIdx])
	}
	for _, g := range mod.Globals {
		cfg.Globals = append(cfg.Globals, g.Type)
	}
	return cfg
}

func compileFunc(mod *wasm.Module, local int, cfg compiler.Config) (*compiler.CompiledFunction, error) {
	sig := mod.Types[mod.Funcs[local]]
	body := mod.Code[local]
	ops, err := wasm.DecodeFunctionBody(body.Expr)
	if err != nil {
		return nil, err
	}
	fc, err := compiler.NewFuncCompiler(sig, body.Locals, cfg)
	if err != nil {
		return nil, err
	}
	for _, op := range ops {
		if err := fc.Op(op); err != nil {
			return nil, fmt.Errorf("%s: %w", op.Name(), err)
		}
	}
	return fc.Finish()
}

func exportNames(mod *wasm.Module) map[uint32]string {
	names := make(map[uint32]string)
	for _, exp := range mod.Exports {
		if exp.Kind == wasm.KindFunc {
			names[exp.Index] = exp.Name
		}
	}
	return names
}

func sigString(sig wasm.FuncType) string {
	var params []string
	for _, p := range sig.Params {
		params = append(params, p.String())
	}
	out := "(" + strings.Join(params, ", ") + ")"
	if len(sig.Results) > 0 {
		out += " -> " + sig.Results[0].String()
	}
	return out
}

func trapString(code compiler.TrapCode) string {
	switch code {
	case compiler.TrapUnreachable:
		return "unreachable"
	case compiler.TrapMemoryOutOfBounds:
		return "memory out of bounds"
	case compiler.TrapHeapMisaligned:
		return "misaligned atomic"
	case compiler.TrapIllegalArithmetic:
		return "illegal arithmetic"
	case compiler.TrapBadConversionToInteger:
		return "bad conversion to integer"
	case compiler.TrapTableOutOfBounds:
		return "table out of bounds"
	case compiler.TrapIndirectCallNull:
		return "indirect call to null"
	case compiler.TrapSignatureMismatch:
		return "signature mismatch"
	}
	return fmt.Sprintf("trap(%d)", code)
}

// hexDump prints code 16 bytes per row, narrowing on small terminals.
func hexDump(w *os.File, code []byte) {
	perRow := 16
	if term.IsTerminal(int(w.Fd())) {
		if width, _, err := term.GetSize(int(w.Fd())); err == nil && width < 60 {
			perRow = 8
		}
	}
	for off := 0; off < len(code); off += perRow {
		end := off + perRow
		if end > len(code) {
			end = len(code)
		}
		var row []string
		for _, b := range code[off:end] {
			row = append(row, fmt.Sprintf("%02x", b))
		}
		fmt.Fprintf(w, "  %06x: %s\n", off, strings.Join(row, " "))
	}
}

// referenceCheck validates the binary against an independent runtime
// and optionally invokes one export with integer arguments.
func referenceCheck(data []byte, funcName, argsStr string) error {
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	if _, err := r.CompileModule(ctx, data); err != nil {
		return fmt.Errorf("reference validation: %w", err)
	}
	fmt.Printf("\nReference validation: ok\n")

	if funcName == "" {
		return nil
	}

	inst, err := r.Instantiate(ctx, data)
	if err != nil {
		return fmt.Errorf("reference instantiate: %w", err)
	}
	fn := inst.ExportedFunction(funcName)
	if fn == nil {
		return fmt.Errorf("reference module has no export %q", funcName)
	}

	var args []uint64
	if argsStr != "" {
		for _, s := range strings.Split(argsStr, ",") {
			v, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
			if err != nil {
				return fmt.Errorf("argument %q: %w", s, err)
			}
			args = append(args, uint64(v))
		}
	}

	results, err := fn.Call(ctx, args...)
	if err != nil {
		return fmt.Errorf("reference call: %w", err)
	}
	fmt.Printf("Reference result: %v\n", results)
	return nil
}
