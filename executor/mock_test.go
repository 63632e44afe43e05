package executor_test

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/sandbox"
)

// mockLanguage implements executor.Language for testing executor logic
// without a real runtime. A body is one of:
//
//	echo   returns the first argument, or null without arguments
//	null   returns null
//	fail   fails with an execution fault
//	spin   blocks until the context is done
//	track  sleeps briefly, recording how many runs overlap
type mockLanguage struct {
	name     string
	compiles atomic.Int64
	runs     atomic.Int64
	active   atomic.Int64
	peak     atomic.Int64
	closed   atomic.Bool
}

func newMockLanguage() *mockLanguage {
	return &mockLanguage{name: "mock"}
}

func (m *mockLanguage) Name() string {
	return m.name
}

func (m *mockLanguage) Compile(ctx context.Context, sig executor.Signature, body string, limits sandbox.Limits) (executor.Program, error) {
	m.compiles.Add(1)
	switch body {
	case "echo", "null", "fail", "spin", "track":
		return &mockProgram{lang: m, sig: sig, body: body}, nil
	}
	return nil, sandbox.Compile("unknown body "+body, &sandbox.Position{Line: 1}, nil)
}

func (m *mockLanguage) Close() error {
	m.closed.Store(true)
	return nil
}

type mockProgram struct {
	lang *mockLanguage
	sig  executor.Signature
	body string
}

func (p *mockProgram) Run(ctx context.Context, args []engine.Value) (engine.Value, error) {
	p.lang.runs.Add(1)
	switch p.body {
	case "echo":
		if len(args) == 0 {
			return engine.Null(p.sig.ResultType), nil
		}
		return args[0], nil
	case "null":
		return engine.Null(p.sig.ResultType), nil
	case "fail":
		return engine.Value{}, sandbox.Fault(p.lang.name, "boom", nil)
	case "spin":
		<-ctx.Done()
		return engine.Value{}, sandbox.Timeout(p.lang.name, 0, context.Cause(ctx))
	case "track":
		n := p.lang.active.Add(1)
		for {
			peak := p.lang.peak.Load()
			if n <= peak || p.lang.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		p.lang.active.Add(-1)
		return engine.NewInt(int32(n)), nil
	}
	panic("unreachable")
}
