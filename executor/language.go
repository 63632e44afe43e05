package executor

import (
	"context"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/sandbox"
)

// Language is a sandboxed runtime that user-defined functions can be
// written in. Implement this interface to add support for new languages.
type Language interface {
	// Name returns the identifier used in function definitions
	// (e.g., "lua", "wasm"). It must be lower case.
	Name() string

	// Compile turns a function body into a Program. It is called once per
	// definition; syntax errors are reported as sandbox.KindCompile.
	Compile(ctx context.Context, sig Signature, body string, limits sandbox.Limits) (Program, error)
}

// Program is a compiled function body. It is immutable and safe for
// concurrent use: every Run gets its own execution context, with the
// ceilings given at compile time, and releases it before returning.
type Program interface {
	// Run binds args in declared order, executes the body and decodes its
	// single result against the signature's result type.
	Run(ctx context.Context, args []engine.Value) (engine.Value, error)
}

// NullPolicy says what a call with a null argument does.
type NullPolicy int

const (
	// CalledOnNull runs the body even when arguments are null.
	CalledOnNull NullPolicy = iota
	// ReturnsNullOnNull returns null without running the body when any
	// argument is null.
	ReturnsNullOnNull
)

func (p NullPolicy) String() string {
	if p == ReturnsNullOnNull {
		return "RETURNS NULL ON NULL INPUT"
	}
	return "CALLED ON NULL INPUT"
}

// Signature is the resolved declaration of a function.
type Signature struct {
	Name       string
	ArgNames   []string
	ArgTypes   []*engine.Type
	ResultType *engine.Type
	NullPolicy NullPolicy
}
