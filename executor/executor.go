package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/sandbox"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by operations on a closed Executor.
var ErrClosed = errors.New("executor is closed")

// Result holds the value and metadata from one function call.
type Result struct {
	Value    engine.Value
	Duration time.Duration
	Error    error
}

// Executor defines user functions and runs them in sandboxed execution
// contexts, at most a bounded number at a time.
type Executor struct {
	languages map[string]Language
	limits    sandbox.Limits
	enabled   bool
	workers   int
	sem       *semaphore.Weighted
	logger    *slog.Logger
	mu        sync.RWMutex
	closed    bool
}

// New creates an Executor. Without [WithEnabled] every definition fails
// with sandbox.KindDefinitionDisabled.
func New(opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	languages := make(map[string]Language, len(cfg.languages))
	for _, lang := range cfg.languages {
		languages[strings.ToLower(lang.Name())] = lang
	}

	workers := cfg.concurrency()
	return &Executor{
		languages: languages,
		limits:    cfg.limits,
		enabled:   cfg.enabled,
		workers:   workers,
		sem:       semaphore.NewWeighted(int64(workers)),
		logger:    logger,
	}, nil
}

// Enabled reports whether definitions are allowed.
func (e *Executor) Enabled() bool { return e.enabled }

// Limits returns the per-invocation ceilings.
func (e *Executor) Limits() sandbox.Limits { return e.limits }

// Languages returns the names of the available languages, sorted.
func (e *Executor) Languages() []string {
	names := make([]string, 0, len(e.languages))
	for name := range e.languages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Definition is a function declaration as written by the user.
type Definition struct {
	Signature
	// Language is matched case-insensitively.
	Language string
	Body     string
}

// Define validates def and compiles its body once. Compile errors fail
// the definition, never a later call.
func (e *Executor) Define(ctx context.Context, def Definition) (*Function, error) {
	if !e.enabled {
		return nil, sandbox.Disabled()
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	lang, ok := e.languages[strings.ToLower(def.Language)]
	if !ok {
		return nil, sandbox.UnsupportedLanguage(def.Language)
	}

	if err := checkSignature(def.Signature); err != nil {
		return nil, err
	}

	start := time.Now()
	prog, err := lang.Compile(ctx, def.Signature, def.Body, e.limits)
	if err != nil {
		e.logger.Debug("compile failed", "function", def.Name, "language", lang.Name(), "error", err)
		return nil, err
	}

	e.logger.Debug("function defined",
		"function", def.Name,
		"language", lang.Name(),
		"args", len(def.ArgTypes),
		"null_policy", def.NullPolicy.String(),
		"duration", time.Since(start))

	return &Function{exec: e, sig: def.Signature, lang: lang, body: def.Body, prog: prog}, nil
}

func checkSignature(sig Signature) error {
	for _, t := range sig.ArgTypes {
		if t != nil && t.Frozen() {
			return sandbox.FrozenSignature()
		}
	}
	if sig.ResultType == nil {
		return sandbox.Errorf(sandbox.KindInvalidDefinition, "function %s has no result type", sig.Name)
	}
	if sig.ResultType.Frozen() {
		return sandbox.FrozenSignature()
	}
	if len(sig.ArgNames) != len(sig.ArgTypes) {
		return sandbox.Errorf(sandbox.KindInvalidDefinition,
			"function %s declares %d argument names and %d argument types", sig.Name, len(sig.ArgNames), len(sig.ArgTypes))
	}
	seen := make(map[string]bool, len(sig.ArgNames))
	for i, name := range sig.ArgNames {
		if sig.ArgTypes[i] == nil {
			return sandbox.Errorf(sandbox.KindInvalidDefinition, "argument %s has no type", name)
		}
		if seen[name] {
			return sandbox.Errorf(sandbox.KindInvalidDefinition, "duplicate argument name '%s'", name)
		}
		seen[name] = true
	}
	return nil
}

// Close releases the resources held by languages that own any.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	for _, lang := range e.languages {
		if c, ok := lang.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", lang.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) isClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// Function is a defined, compiled user function. It is safe for
// concurrent use.
type Function struct {
	exec *Executor
	sig  Signature
	lang Language
	body string
	prog Program
}

func (f *Function) Signature() Signature { return f.sig }

// Language returns the name of the language the body is written in.
func (f *Function) Language() string { return f.lang.Name() }

func (f *Function) Body() string { return f.body }

// Call runs the function on one row of arguments in a fresh execution
// context.
func (f *Function) Call(ctx context.Context, args ...engine.Value) Result {
	start := time.Now()
	v, err := f.call(ctx, start, args)
	res := Result{Value: v, Duration: time.Since(start), Error: err}
	f.exec.logCall(f, res)
	return res
}

func (f *Function) call(ctx context.Context, start time.Time, args []engine.Value) (engine.Value, error) {
	if err := f.checkArgs(args); err != nil {
		return engine.Value{}, err
	}

	if f.sig.NullPolicy == ReturnsNullOnNull && slices.ContainsFunc(args, engine.Value.IsNull) {
		return engine.Null(f.sig.ResultType), nil
	}

	if f.exec.isClosed() {
		return engine.Value{}, ErrClosed
	}

	if err := f.exec.sem.Acquire(ctx, 1); err != nil {
		return engine.Value{}, sandbox.Timeout(f.lang.Name(), time.Since(start), context.Cause(ctx))
	}
	defer f.exec.sem.Release(1)

	return f.prog.Run(ctx, args)
}

func (f *Function) checkArgs(args []engine.Value) error {
	if len(args) != len(f.sig.ArgTypes) {
		return sandbox.Errorf(sandbox.KindInvalidArgument,
			"function %s takes %d arguments, got %d", f.sig.Name, len(f.sig.ArgTypes), len(args))
	}
	for i, arg := range args {
		if arg.Type() == nil || !arg.Type().Equal(f.sig.ArgTypes[i]) {
			return sandbox.Errorf(sandbox.KindInvalidArgument,
				"argument %s of function %s has type %s, expected %s", f.sig.ArgNames[i], f.sig.Name, typeName(arg.Type()), f.sig.ArgTypes[i])
		}
	}
	return nil
}

func typeName(t *engine.Type) string {
	if t == nil {
		return "<none>"
	}
	return t.String()
}

// CallBatch runs the function over many rows concurrently, each in its own
// execution context. A failing row does not affect the others.
func (f *Function) CallBatch(ctx context.Context, rows [][]engine.Value) []Result {
	results := make([]Result, len(rows))

	var g errgroup.Group
	g.SetLimit(f.exec.workers)
	for i, row := range rows {
		g.Go(func() error {
			results[i] = f.Call(ctx, row...)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Executor) logCall(f *Function, res Result) {
	switch sandbox.KindOf(res.Error) {
	case sandbox.KindResourceExhausted, sandbox.KindTimedOut:
		e.logger.Warn("invocation aborted",
			"function", f.sig.Name,
			"language", f.lang.Name(),
			"duration", res.Duration,
			"error", res.Error)
	default:
		e.logger.Debug("function called",
			"function", f.sig.Name,
			"language", f.lang.Name(),
			"duration", res.Duration,
			"error", res.Error)
	}
}
