package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/caffeineduck/udfbox/config"
	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/language/lua"
	"github.com/caffeineduck/udfbox/language/wasm"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "udfbox",
		Short: "Sandboxed user-defined functions in Lua and WebAssembly",
		Long: `udfbox - Define and call user-defined functions over database values.

Function bodies run in Lua or WebAssembly execution contexts with memory and
time ceilings and no access to the filesystem, network or other system
resources. The facility is off until enabled with --enable or the
enable_user_defined_functions setting.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	root.PersistentFlags().Bool("enable", false, "Enable user-defined functions (overrides the configuration)")

	root.AddCommand(newRunCmd(), newCheckCmd(), newServeCmd())
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies the flags that override
// it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("enable") {
		cfg.Enable, _ = flags.GetBool("enable")
	}
	if flags.Changed("timeout") {
		cfg.TimeLimit, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("steps") {
		cfg.StepLimit, _ = flags.GetInt64("steps")
	}
	if flags.Changed("memory") {
		s, _ := flags.GetString("memory")
		n, err := parseMemoryLimit(s)
		if err != nil {
			return nil, err
		}
		cfg.AllocationLimitBytes = n
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newExecutor builds an executor with every language. The Lua language is
// also returned for reading argument literals.
func newExecutor(cfg *config.Config, logger *slog.Logger) (*executor.Executor, *lua.Language, error) {
	luaLang := lua.New()
	opts := append(cfg.ExecutorOptions(),
		executor.WithLanguage(luaLang, wasm.New()),
		executor.WithLogger(logger))
	exec, err := executor.New(opts...)
	if err != nil {
		return nil, nil, err
	}
	return exec, luaLang, nil
}

// parseMemoryLimit accepts 1mb, 16mb, 64mb or a byte count.
func parseMemoryLimit(s string) (int64, error) {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB, nil
	case "16mb":
		return executor.MemoryLimit16MB, nil
	case "64mb":
		return executor.MemoryLimit64MB, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid memory limit %q (expected 1mb, 16mb, 64mb or bytes)", s)
	}
	return n, nil
}
