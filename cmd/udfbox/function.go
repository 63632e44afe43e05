package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/language/lua"
	"github.com/caffeineduck/udfbox/sandbox"
	"github.com/spf13/cobra"
)

var errNoBody = errors.New("function body required: use -c, a file argument or stdin")

func addFunctionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Function body")
	cmd.Flags().StringP("lang", "l", "", "Language: lua, wasm (default: from the file extension, else lua)")
	cmd.Flags().String("name", "f", "Function name; wasm modules export a function of this name")
	cmd.Flags().StringArray("param", nil, "Parameter as 'name type', in order (repeatable)")
	cmd.Flags().String("returns", "", "Result type")
	cmd.Flags().Bool("returns-null-on-null", false, "Return null without running the body when any argument is null")
	cmd.Flags().StringArray("type", nil, "User type as 'name(field type, ...)' (repeatable)")

	cmd.Flags().Duration("timeout", 0, "Time ceiling per call (default from configuration)")
	cmd.Flags().String("memory", "", "Memory ceiling per call: 1mb, 16mb, 64mb or bytes")
	cmd.Flags().Int64("steps", 0, "Instruction ceiling per call, 0 for none")
}

// buildDefinition assembles a definition from the flags and the body source.
func buildDefinition(cmd *cobra.Command, args []string) (executor.Definition, error) {
	flags := cmd.Flags()
	name, _ := flags.GetString("name")
	params, _ := flags.GetStringArray("param")
	decls, _ := flags.GetStringArray("type")
	returns, _ := flags.GetString("returns")
	nullOnNull, _ := flags.GetBool("returns-null-on-null")
	langFlag, _ := flags.GetString("lang")

	sig, err := parseSignature(name, params, decls, returns, nullOnNull)
	if err != nil {
		return executor.Definition{}, err
	}

	body, filename, err := readSource(cmd, args)
	if err != nil {
		return executor.Definition{}, err
	}
	return executor.Definition{
		Signature: sig,
		Language:  languageFor(langFlag, filename),
		Body:      body,
	}, nil
}

// parseSignature resolves parameter and result type expressions. decls
// declare user types, each visible to the ones after it.
func parseSignature(name string, params, decls []string, returns string, nullOnNull bool) (executor.Signature, error) {
	userTypes := make(map[string]*engine.Type)
	for _, decl := range decls {
		t, err := engine.ParseUserType(decl, userTypes)
		if err != nil {
			return executor.Signature{}, err
		}
		userTypes[t.Name()] = t
	}

	sig := executor.Signature{Name: name}
	for _, p := range params {
		argName, typ, ok := strings.Cut(strings.TrimSpace(p), " ")
		if !ok {
			return executor.Signature{}, fmt.Errorf("invalid parameter %q (expected 'name type')", p)
		}
		t, err := engine.ParseType(strings.TrimSpace(typ), userTypes)
		if err != nil {
			return executor.Signature{}, fmt.Errorf("parameter %s: %w", argName, err)
		}
		sig.ArgNames = append(sig.ArgNames, argName)
		sig.ArgTypes = append(sig.ArgTypes, t)
	}

	if returns == "" {
		return executor.Signature{}, errors.New("result type required")
	}
	t, err := engine.ParseType(returns, userTypes)
	if err != nil {
		return executor.Signature{}, fmt.Errorf("result: %w", err)
	}
	sig.ResultType = t
	if nullOnNull {
		sig.NullPolicy = executor.ReturnsNullOnNull
	}
	return sig, nil
}

// readSource returns the body from -c, the file argument or stdin. A .wasm
// file is read as a binary module and base64-encoded.
func readSource(cmd *cobra.Command, args []string) (body, filename string, err error) {
	code, _ := cmd.Flags().GetString("code")
	switch {
	case code != "":
		return code, "", nil
	case len(args) > 0:
		filename = args[0]
		data, err := os.ReadFile(filename)
		if err != nil {
			return "", "", err
		}
		if strings.EqualFold(filepath.Ext(filename), ".wasm") {
			return base64.StdEncoding.EncodeToString(data), filename, nil
		}
		return string(data), filename, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		// No piped input.
		if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
			return "", "", errNoBody
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", "", err
	}
	if len(data) == 0 {
		return "", "", errNoBody
	}
	return string(data), "", nil
}

func languageFor(langFlag, filename string) string {
	if langFlag != "" {
		return langFlag
	}
	if strings.EqualFold(filepath.Ext(filename), ".wasm") {
		return "wasm"
	}
	return "lua"
}

// evalArgs reads one Lua literal per parameter, decoded against its type.
func evalArgs(ctx context.Context, l *lua.Language, sig executor.Signature, literals []string, limits sandbox.Limits) ([]engine.Value, error) {
	if len(literals) != len(sig.ArgTypes) {
		return nil, fmt.Errorf("function %s takes %d arguments, got %d", sig.Name, len(sig.ArgTypes), len(literals))
	}
	values := make([]engine.Value, len(literals))
	for i, lit := range literals {
		v, err := l.EvalLiteral(ctx, lit, sig.ArgTypes[i], limits)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", sig.ArgNames[i], err)
		}
		values[i] = v
	}
	return values, nil
}

// formatSignature renders sig the way a definition statement spells it.
func formatSignature(sig executor.Signature) string {
	params := make([]string, len(sig.ArgNames))
	for i, name := range sig.ArgNames {
		params[i] = name + " " + sig.ArgTypes[i].String()
	}
	return fmt.Sprintf("%s(%s) %s RETURNS %s", sig.Name, strings.Join(params, ", "), sig.NullPolicy, sig.ResultType)
}
