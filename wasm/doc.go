// Package wasm provides the input model the singlepass backend consumes:
// core value types, function signatures, memory and table addressing
// styles, and a compact reader for core WebAssembly binary modules.
//
// The reader exists so tooling can feed function bodies to the compiler;
// it enforces structural well-formedness only. Validation of the operator
// stream is the responsibility of an external collaborator and the
// compiler assumes it has happened.
//
// Parse a module and walk its code section:
//
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for i, body := range module.Code {
//	    ops, err := wasm.DecodeFunctionBody(body.Expr)
//	    ...
//	}
package wasm
