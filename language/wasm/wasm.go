package wasm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/sandbox"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const name = "wasm"

const (
	pageSize = 65536
	maxPages = 65536
	// nullPacked is the packed value of a null argument or result.
	nullPacked = -1
)

// Language runs function bodies given as base64-encoded WebAssembly
// modules.
type Language struct {
	cache    wazero.CompilationCache
	runtimes map[uint32]wazero.Runtime
	mu       sync.RWMutex
	closed   bool
}

func New() *Language {
	return &Language{
		cache:    wazero.NewCompilationCache(),
		runtimes: make(map[uint32]wazero.Runtime),
	}
}

func (l *Language) Name() string {
	return name
}

// pagesFor converts a memory ceiling in bytes to whole wasm pages.
func pagesFor(limits sandbox.Limits) uint32 {
	if limits.MemoryBytes <= 0 {
		return maxPages
	}
	pages := (limits.MemoryBytes + pageSize - 1) / pageSize
	return uint32(min(max(pages, 1), maxPages))
}

// getRuntime returns the runtime enforcing the given page ceiling, creating
// it if necessary. Runtimes share one compilation cache.
func (l *Language) getRuntime(ctx context.Context, pages uint32) (wazero.Runtime, error) {
	l.mu.RLock()
	if rt, ok := l.runtimes[pages]; ok {
		l.mu.RUnlock()
		return rt, nil
	}
	l.mu.RUnlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, errors.New("wasm language is closed")
	}
	if rt, ok := l.runtimes[pages]; ok {
		return rt, nil
	}

	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(l.cache).
		WithMemoryLimitPages(pages)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	l.runtimes[pages] = rt
	return rt, nil
}

// Compile decodes and compiles the module. The module must export memory,
// alloc(i32) -> i32 and a function named after the signature taking one
// i64 per argument and returning one i64. Imports are rejected: the module
// gets no capabilities.
func (l *Language) Compile(ctx context.Context, sig executor.Signature, body string, limits sandbox.Limits) (executor.Program, error) {
	bin, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(body), ""))
	if err != nil {
		return nil, sandbox.Compile(fmt.Sprintf("module is not valid base64: %v", err), nil, err)
	}

	pages := pagesFor(limits)
	rt, err := l.getRuntime(ctx, pages)
	if err != nil {
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, bin)
	if err != nil {
		return nil, sandbox.Compile(err.Error(), nil, err)
	}
	if err := checkModule(compiled, sig); err != nil {
		compiled.Close(ctx)
		return nil, sandbox.Compile(err.Error(), nil, nil)
	}

	return &program{
		rt:       rt,
		compiled: compiled,
		sig:      sig,
		limits:   limits,
		maxBytes: uint64(pages) * pageSize,
	}, nil
}

func checkModule(m wazero.CompiledModule, sig executor.Signature) error {
	if len(m.ImportedFunctions()) > 0 || len(m.ImportedMemories()) > 0 {
		return errors.New("module imports are not allowed")
	}
	if _, ok := m.ExportedMemories()["memory"]; !ok {
		return errors.New("module must export memory")
	}

	exports := m.ExportedFunctions()
	i32 := []api.ValueType{api.ValueTypeI32}
	if err := checkFunc(exports, "alloc", i32, i32); err != nil {
		return err
	}
	params := slices.Repeat([]api.ValueType{api.ValueTypeI64}, len(sig.ArgTypes))
	return checkFunc(exports, sig.Name, params, []api.ValueType{api.ValueTypeI64})
}

func checkFunc(exports map[string]api.FunctionDefinition, fn string, params, results []api.ValueType) error {
	def, ok := exports[fn]
	if !ok {
		return fmt.Errorf("module must export function %s", fn)
	}
	if !slices.Equal(def.ParamTypes(), params) || !slices.Equal(def.ResultTypes(), results) {
		return fmt.Errorf("function %s must have %d %s parameters and return %s",
			fn, len(params), typeNames(params), typeNames(results))
	}
	return nil
}

func typeNames(ts []api.ValueType) string {
	if len(ts) == 0 {
		return "no"
	}
	return api.ValueTypeName(ts[0])
}

// Close releases every runtime and the compilation cache.
func (l *Language) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	ctx := context.Background()
	var errs []error
	for _, rt := range l.runtimes {
		if err := rt.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := l.cache.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type program struct {
	rt       wazero.Runtime
	compiled wazero.CompiledModule
	sig      executor.Signature
	limits   sandbox.Limits
	maxBytes uint64
}

// Run instantiates a fresh module, passes each argument as canonical
// serialized bytes and deserializes the result.
func (p *program) Run(ctx context.Context, args []engine.Value) (engine.Value, error) {
	// There is no instruction hook, so only time and memory are enforced.
	limits := p.limits
	limits.MaxSteps = 0
	meter := sandbox.NewMeter(ctx, limits)
	defer meter.Stop()

	// The runtime only closes a module on context.Canceled or
	// context.DeadlineExceeded, so the meter cancels a plain context.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := context.AfterFunc(meter, cancel)
	defer stop()

	mod, err := p.rt.InstantiateModule(runCtx, p.compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return engine.Value{}, p.classify(meter, nil, err)
	}
	defer mod.Close(context.Background())

	params := make([]uint64, len(args))
	for i, arg := range args {
		if arg.IsNull() {
			params[i] = api.EncodeI64(nullPacked)
			continue
		}
		packed, err := p.write(runCtx, mod, engine.Serialize(arg))
		if err != nil {
			return engine.Value{}, p.classify(meter, mod, err)
		}
		params[i] = packed
	}

	results, err := mod.ExportedFunction(p.sig.Name).Call(runCtx, params...)
	if err != nil {
		return engine.Value{}, p.classify(meter, mod, err)
	}
	if len(results) != 1 {
		return engine.Value{}, sandbox.Arity(len(results))
	}

	packed := results[0]
	if int64(packed) == nullPacked {
		return engine.Null(p.sig.ResultType), nil
	}
	ptr, size := uint32(packed), uint32(packed>>32)
	data, ok := mod.Memory().Read(ptr, size)
	if !ok {
		return engine.Value{}, sandbox.Fault(name, fmt.Sprintf("result [%d, %d) is out of memory bounds", ptr, uint64(ptr)+uint64(size)), nil)
	}
	v, err := engine.Deserialize(p.sig.ResultType, data)
	if err != nil {
		return engine.Value{}, sandbox.Marshal(err.Error())
	}
	return v, nil
}

// write copies data into memory obtained from the module's alloc export
// and returns its packed len<<32|ptr.
func (p *program) write(ctx context.Context, mod api.Module, data []byte) (uint64, error) {
	res, err := mod.ExportedFunction("alloc").Call(ctx, api.EncodeI32(int32(len(data))))
	if err != nil {
		return 0, err
	}
	ptr := api.DecodeU32(res[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("alloc returned [%d, %d), which is out of memory bounds", ptr, uint64(ptr)+uint64(len(data)))
	}
	return uint64(len(data))<<32 | uint64(ptr), nil
}

func (p *program) classify(meter *sandbox.Meter, mod api.Module, err error) error {
	switch {
	case meter.Aborted():
		return sandbox.Timeout(name, meter.Elapsed(), meter.Cause())
	case mod != nil && mod.Memory() != nil && uint64(mod.Memory().Size()) >= p.maxBytes:
		return sandbox.OutOfMemory(name)
	}
	return sandbox.Fault(name, err.Error(), err)
}
