// Package udfbox runs user-defined functions over database values in
// sandboxed Lua and WebAssembly execution contexts.
//
// # Overview
//
// A function is defined once from a resolved signature and a body, and
// called any number of times. Every call gets a fresh execution context
// with a memory ceiling and a time or instruction ceiling, and no access
// to the filesystem, network or other system resources. Arguments are
// encoded from engine values into the runtime, and the single result is
// validated and decoded back against the declared result type.
//
// # Basic Usage
//
//	exec, _ := executor.New(
//	    executor.WithEnabled(true),
//	    executor.WithLanguage(lua.New(), wasm.New()),
//	)
//	defer exec.Close()
//
//	fn, err := exec.Define(ctx, executor.Definition{
//	    Signature: executor.Signature{
//	        Name:       "twice",
//	        ArgNames:   []string{"val"},
//	        ArgTypes:   []*engine.Type{engine.IntType},
//	        ResultType: engine.IntType,
//	        NullPolicy: executor.ReturnsNullOnNull,
//	    },
//	    Language: "lua",
//	    Body:     "return 2 * val",
//	})
//
//	res := fn.Call(ctx, engine.NewInt(21))
//	fmt.Println(res.Value) // 42
//
// # Failures
//
// Every failure is a *sandbox.Error whose Kind tells compile errors,
// marshaling errors, ceiling aborts and runtime faults apart:
//
//	if sandbox.KindOf(res.Error) == sandbox.KindTimedOut { ... }
//
// See the [executor], [engine], [marshal], [sandbox], [hostfunc],
// [language/lua] and [language/wasm] packages for detailed API
// documentation, and [config] for file and environment settings.
package udfbox
