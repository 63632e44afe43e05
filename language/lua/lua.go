package lua

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/hostfunc"
	"github.com/caffeineduck/udfbox/marshal"
	"github.com/caffeineduck/udfbox/sandbox"
	glua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

const name = "lua"

// Language runs function bodies written in Lua 5.1.
type Language struct {
	registry *hostfunc.Registry
}

// Option configures a Language.
type Option func(*Language)

// WithRegistry replaces the capability registry installed into every
// execution context. The default is hostfunc.Default().
func WithRegistry(r *hostfunc.Registry) Option {
	return func(l *Language) {
		l.registry = r
	}
}

func New(opts ...Option) *Language {
	l := &Language{registry: hostfunc.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Language) Name() string {
	return name
}

// Compile compiles body as the body of a function taking the declared
// arguments, so "return 2 * val" works for an argument named val.
func (l *Language) Compile(ctx context.Context, sig executor.Signature, body string, limits sandbox.Limits) (executor.Program, error) {
	for _, name := range sig.ArgNames {
		if !isIdentifier(name) {
			return nil, sandbox.Errorf(sandbox.KindInvalidDefinition, "invalid argument name '%s'", name)
		}
	}
	proto, err := compile(sig.Name, wrap(sig.ArgNames, body))
	if err != nil {
		return nil, err
	}
	return &program{lang: l, sig: sig, proto: proto, limits: limits}, nil
}

func wrap(argNames []string, body string) string {
	return "return function(" + strings.Join(argNames, ", ") + ")\n" + body + "\nend"
}

var keywords = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "if": true,
	"in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true,
}

// isIdentifier reports whether name is a Lua name that is not a keyword.
// Argument names are spliced into the wrapper's parameter list.
func isIdentifier(name string) bool {
	if name == "" || keywords[name] {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func compile(chunkName, src string) (*glua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(src), chunkName)
	if err != nil {
		return nil, compileError(err)
	}
	proto, err := glua.Compile(chunk, chunkName)
	if err != nil {
		return nil, compileError(err)
	}
	return proto, nil
}

// compileError reports positions relative to the user's body, which
// starts on the second line of the wrapper.
func compileError(err error) error {
	var perr *parse.Error
	if errors.As(err, &perr) {
		if perr.Pos.Line == parse.EOF {
			return sandbox.Compile(fmt.Sprintf("at EOF: %s", perr.Message), nil, err)
		}
		pos := &sandbox.Position{Line: max(perr.Pos.Line-1, 1), Column: perr.Pos.Column, Token: perr.Token}
		diag := fmt.Sprintf("line %d(column %d) near '%s': %s", pos.Line, pos.Column, pos.Token, perr.Message)
		return sandbox.Compile(diag, pos, err)
	}
	var cerr *glua.CompileError
	if errors.As(err, &cerr) {
		pos := &sandbox.Position{Line: max(cerr.Line-1, 1)}
		return sandbox.Compile(fmt.Sprintf("line %d: %s", pos.Line, cerr.Message), pos, err)
	}
	return sandbox.Compile(strings.TrimSpace(err.Error()), nil, err)
}

type program struct {
	lang   *Language
	sig    executor.Signature
	proto  *glua.FunctionProto
	limits sandbox.Limits
}

// Run executes the body in a fresh state that is closed before returning.
func (p *program) Run(ctx context.Context, args []engine.Value) (engine.Value, error) {
	meter := sandbox.NewMeter(ctx, p.limits)
	defer meter.Stop()

	L, err := p.lang.newState(p.limits)
	if err != nil {
		return engine.Value{}, err
	}
	defer L.Close()

	meter.SetSampler(newHeapSampler(L, p.limits.CallStackSize))
	L.SetContext(meter)

	// The chunk evaluates to the user function.
	if err := L.CallByParam(glua.P{Fn: L.NewFunctionFromProto(p.proto), NRet: 1, Protect: true}); err != nil {
		return engine.Value{}, classify(meter, err)
	}
	fn := L.Get(-1)
	L.Pop(1)

	base := L.GetTop()
	L.Push(fn)
	for _, arg := range args {
		L.Push(marshal.Encode(L, arg))
	}
	if err := L.PCall(len(args), glua.MultRet, nil); err != nil {
		return engine.Value{}, classify(meter, err)
	}

	if n := L.GetTop() - base; n != 1 {
		return engine.Value{}, sandbox.Arity(n)
	}
	return marshal.Decode(L.Get(-1), p.sig.ResultType)
}

// libs are the standard libraries a context starts with.
var libs = []struct {
	name string
	open glua.LGFunction
}{
	{glua.BaseLibName, glua.OpenBase},
	{glua.TabLibName, glua.OpenTable},
	{glua.StringLibName, glua.OpenString},
	{glua.MathLibName, glua.OpenMath},
}

// slotBytes is the size of one interpreter register.
const slotBytes = 16

func (l *Language) newState(limits sandbox.Limits) (*glua.LState, error) {
	stack := limits.CallStackSize
	if stack <= 0 {
		stack = glua.CallStackSize
	}
	registryMax := glua.RegistrySize * 64
	if limits.MemoryBytes > 0 {
		registryMax = max(glua.RegistrySize, int(limits.MemoryBytes/slotBytes))
	}

	L := glua.NewState(glua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   stack,
		RegistrySize:    glua.RegistrySize,
		RegistryMaxSize: registryMax,
	})
	for _, lib := range libs {
		err := L.CallByParam(glua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, glua.LString(lib.name))
		if err != nil {
			L.Close()
			return nil, fmt.Errorf("open %q library: %w", lib.name, err)
		}
	}
	l.registry.Install(L)
	return L, nil
}

// classify maps a failed protected call to the failure taxonomy. Ceiling
// aborts take precedence over the error the runtime raised for them.
func classify(meter *sandbox.Meter, err error) error {
	diag := err.Error()
	var apiErr *glua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		diag = apiErr.Object.String()
	}

	switch {
	case meter.OutOfMemory(), strings.Contains(diag, "registry overflow"):
		return sandbox.OutOfMemory(name)
	case meter.Aborted():
		return sandbox.Timeout(name, meter.Elapsed(), meter.Cause())
	}
	return sandbox.Fault(name, diag, err)
}

// EvalLiteral evaluates a Lua expression in a fresh context and decodes
// it as t. It is used to read argument values written as Lua literals.
func (l *Language) EvalLiteral(ctx context.Context, expr string, t *engine.Type, limits sandbox.Limits) (engine.Value, error) {
	proto, err := compile("literal", wrap(nil, "return "+expr))
	if err != nil {
		return engine.Value{}, err
	}
	p := &program{lang: l, sig: executor.Signature{Name: "literal", ResultType: t}, proto: proto, limits: limits}
	return p.Run(ctx, nil)
}
