// Package config loads the settings of the user-defined function facility
// from an optional YAML file and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/internal/logging"
	"github.com/caffeineduck/udfbox/sandbox"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file.
const (
	EnvEnable          = "UDFBOX_ENABLE"
	EnvAllocationLimit = "UDFBOX_ALLOCATION_LIMIT_BYTES"
	EnvTimeLimit       = "UDFBOX_TIME_LIMIT"
	EnvStepLimit       = "UDFBOX_STEP_LIMIT"
	EnvMaxConcurrency  = "UDFBOX_MAX_CONCURRENCY"
	EnvLogLevel        = "UDFBOX_LOG_LEVEL"
	EnvLogFormat       = "UDFBOX_LOG_FORMAT"
)

// Config holds the settings of the facility.
type Config struct {
	// Enable is the feature switch. Every definition fails while it is off.
	Enable bool `yaml:"enable_user_defined_functions"`

	AllocationLimitBytes int64         `yaml:"user_defined_function_allocation_limit_bytes"`
	TimeLimit            time.Duration `yaml:"user_defined_function_time_limit"`
	// StepLimit is the instruction ceiling; 0 means none.
	StepLimit     int64 `yaml:"user_defined_function_step_limit"`
	CallStackSize int   `yaml:"user_defined_function_call_stack_size"`

	// MaxConcurrentCalls bounds the execution contexts alive at once.
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	Log LogConfig `yaml:"log"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the stock configuration: the facility off, 1 MiB and
// 10ms per invocation.
func Default() *Config {
	return &Config{
		AllocationLimitBytes: sandbox.DefaultMemoryBytes,
		TimeLimit:            sandbox.DefaultTimeout,
		CallStackSize:        sandbox.DefaultCallStackSize,
		MaxConcurrentCalls:   runtime.GOMAXPROCS(0),
		Log:                  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path, if path is not empty, over the defaults and
// then applies environment overrides.
func Load(path string) (_ *Config, err error) {
	defer wrap(&err, "config.Load(%q)", path)

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses data over the defaults. Unknown keys are errors.
func Parse(data []byte) (_ *Config, err error) {
	defer wrap(&err, "config.Parse(data)")

	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides fields from the environment, read through lookup.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if err := envValue(lookup, EnvEnable, &c.Enable, strconv.ParseBool); err != nil {
		return err
	}
	if err := envValue(lookup, EnvAllocationLimit, &c.AllocationLimitBytes, parseInt64); err != nil {
		return err
	}
	if err := envValue(lookup, EnvTimeLimit, &c.TimeLimit, time.ParseDuration); err != nil {
		return err
	}
	if err := envValue(lookup, EnvStepLimit, &c.StepLimit, parseInt64); err != nil {
		return err
	}
	if err := envValue(lookup, EnvMaxConcurrency, &c.MaxConcurrentCalls, strconv.Atoi); err != nil {
		return err
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvLogFormat); ok {
		c.Log.Format = v
	}
	return nil
}

func envValue[T any](lookup func(string) (string, bool), key string, field *T, parse func(string) (T, error)) error {
	s, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := parse(s)
	if err != nil {
		return fmt.Errorf("bad value %q for %s: %w", s, key, err)
	}
	*field = v
	return nil
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// Validate checks the ceilings and the log settings.
func (c *Config) Validate() error {
	if err := c.Limits().Validate(); err != nil {
		return err
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls must not be negative, got %d", c.MaxConcurrentCalls)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return err
	}
	return nil
}

// Limits returns the per-invocation ceilings.
func (c *Config) Limits() sandbox.Limits {
	return sandbox.Limits{
		MemoryBytes:   c.AllocationLimitBytes,
		Timeout:       c.TimeLimit,
		MaxSteps:      c.StepLimit,
		CallStackSize: c.CallStackSize,
	}
}

// ExecutorOptions returns the executor options this configuration implies.
// Languages and the logger are left to the caller.
func (c *Config) ExecutorOptions() []executor.ExecutorOption {
	return []executor.ExecutorOption{
		executor.WithEnabled(c.Enable),
		executor.WithLimits(c.Limits()),
		executor.WithMaxConcurrency(c.MaxConcurrentCalls),
	}
}

// InitLogger installs the configured logger as the slog default. The
// configuration must be valid.
func (c *Config) InitLogger() *slog.Logger {
	level, _ := logging.ParseLevel(c.Log.Level)
	format, _ := logging.ParseFormat(c.Log.Format)
	return logging.InitLogger(level, format)
}

// wrap adds context to a non-nil error, keeping it unwrappable.
func wrap(errp *error, format string, args ...any) {
	if *errp != nil {
		*errp = fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), *errp)
	}
}
