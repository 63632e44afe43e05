package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Compile a function without calling it",
		Long: `Validate a definition and compile its body, reporting compile errors
with their line and column. Takes the same definition flags as run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCheck,
	}
	addFunctionFlags(cmd)
	return cmd
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.InitLogger()

	def, err := buildDefinition(cmd, args)
	if err != nil {
		return err
	}

	exec, _, err := newExecutor(cfg, logger)
	if err != nil {
		return err
	}
	defer exec.Close()

	fn, err := exec.Define(cmd.Context(), def)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ok: %s LANGUAGE %s\n", formatSignature(fn.Signature()), fn.Language())
	return nil
}
