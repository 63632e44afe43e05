// Package executor defines user functions and runs them in sandboxed
// execution contexts.
//
// # Overview
//
// A function is defined once from its signature, language and body. The
// body is compiled at definition time, and every call runs the compiled
// program in a fresh execution context under the configured memory, time
// and step ceilings. A call that exceeds a ceiling fails on its own; the
// process and other calls are unaffected.
//
// # Basic Usage
//
//	exec, err := executor.New(
//	    executor.WithEnabled(true),
//	    executor.WithLanguage(lua.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	fn, err := exec.Define(ctx, executor.Definition{
//	    Signature: executor.Signature{
//	        Name:       "twice",
//	        ArgNames:   []string{"val"},
//	        ArgTypes:   []*engine.Type{engine.IntType},
//	        ResultType: engine.IntType,
//	    },
//	    Language: "lua",
//	    Body:     "return 2 * val",
//	})
//	if err != nil {
//	    log.Fatal(err) // compile errors surface here
//	}
//
//	result := fn.Call(ctx, engine.NewInt(21))
//	fmt.Println(result.Value) // 42
//
// # Null Policy
//
// A function declared with [ReturnsNullOnNull] returns null for any call
// with a null argument without entering the sandbox. With [CalledOnNull]
// null arguments are bound as the runtime's nil.
//
// # Errors
//
// Every failure is a *sandbox.Error; use sandbox.KindOf to tell a
// timeout from an out-of-memory abort or a runtime fault.
//
// # Language Interface
//
// To add support for a new language, implement the [Language] interface.
// See [github.com/caffeineduck/udfbox/language/lua] for an example.
package executor
