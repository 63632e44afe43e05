package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Define a function and call it once",
		Long: `Define a user-defined function and call it on one row of arguments.

The body can be provided via:
  - File argument: udfbox run twice.lua --param 'val int' --returns int --arg 21
  - Inline flag:   udfbox run -c 'return 2 * val' --param 'val int' --returns int --arg 21
  - Stdin:         echo 'return 2 * val' | udfbox run --param 'val int' --returns int --arg 21

Arguments are Lua expressions decoded against the parameter types, so
--arg '{1, 2, 3}' is a list and --arg nil is null. The result is printed
as a CQL literal.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRun,
	}
	addFunctionFlags(cmd)
	cmd.Flags().StringArray("arg", nil, "Argument as a Lua expression, in parameter order (repeatable)")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.InitLogger()

	def, err := buildDefinition(cmd, args)
	if err != nil {
		return err
	}

	exec, luaLang, err := newExecutor(cfg, logger)
	if err != nil {
		return err
	}
	defer exec.Close()

	ctx := cmd.Context()
	fn, err := exec.Define(ctx, def)
	if err != nil {
		return err
	}

	literals, _ := cmd.Flags().GetStringArray("arg")
	values, err := evalArgs(ctx, luaLang, def.Signature, literals, exec.Limits())
	if err != nil {
		return err
	}

	res := fn.Call(ctx, values...)
	if res.Error != nil {
		return res.Error
	}
	fmt.Fprintln(cmd.OutOrStdout(), res.Value.String())
	return nil
}
