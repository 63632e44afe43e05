package executor

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/caffeineduck/udfbox/sandbox"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	languages      []Language
	limits         sandbox.Limits
	enabled        bool
	maxConcurrency int // Max invocations running at once, 0 = GOMAXPROCS
	logger         *slog.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		limits: sandbox.DefaultLimits(),
	}
}

// WithLanguage makes languages available to definitions. A later language
// with the same name replaces an earlier one.
func WithLanguage(langs ...Language) ExecutorOption {
	return func(c *executorConfig) {
		c.languages = append(c.languages, langs...)
	}
}

// WithEnabled turns the facility on or off. It is off by default, and
// every definition fails until it is enabled.
func WithEnabled(enabled bool) ExecutorOption {
	return func(c *executorConfig) {
		c.enabled = enabled
	}
}

// WithLimits sets the per-invocation resource ceilings.
func WithLimits(l sandbox.Limits) ExecutorOption {
	return func(c *executorConfig) {
		c.limits = l
	}
}

// WithMemoryLimit sets the memory ceiling of one invocation in bytes.
// Examples:
//   - WithMemoryLimit(MemoryLimit1MB) is the default
//   - WithMemoryLimit(0) disables the ceiling
func WithMemoryLimit(bytes int64) ExecutorOption {
	return func(c *executorConfig) {
		c.limits.MemoryBytes = bytes
	}
}

// WithTimeout sets the wall-time ceiling of one invocation.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.limits.Timeout = d
	}
}

// WithStepLimit sets the instruction ceiling of one invocation.
func WithStepLimit(steps int64) ExecutorOption {
	return func(c *executorConfig) {
		c.limits.MaxSteps = steps
	}
}

// WithMaxConcurrency bounds the number of invocations running at once.
func WithMaxConcurrency(n int) ExecutorOption {
	return func(c *executorConfig) {
		c.maxConcurrency = n
	}
}

// WithLogger sets the logger for definitions, calls and ceiling aborts.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(c *executorConfig) {
		c.logger = l
	}
}

func (c *executorConfig) concurrency() int {
	if c.maxConcurrency > 0 {
		return c.maxConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB  int64 = 1 << 20
	MemoryLimit16MB int64 = 16 << 20
	MemoryLimit64MB int64 = 64 << 20
)
