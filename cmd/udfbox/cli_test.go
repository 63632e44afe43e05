package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/udfbox/engine"
	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/sandbox"
	"github.com/spf13/cobra"
)

func executeCommand(root *cobra.Command, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

// runArgs prefixes args with what every enabled run needs.
func runArgs(args ...string) []string {
	return append([]string{"run", "--enable", "--timeout", "2s"}, args...)
}

func TestCLIHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"udfbox",
		"Lua",
		"WebAssembly",
		"run",
		"check",
		"serve",
		"--config",
		"--enable",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("help output should contain %q", phrase)
		}
	}
}

func TestCLIRunHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "run", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedPhrases := []string{
		"--code",
		"--lang",
		"--param",
		"--returns",
		"--returns-null-on-null",
		"--type",
		"--arg",
		"--timeout",
		"--memory",
		"--steps",
	}

	for _, phrase := range expectedPhrases {
		if !strings.Contains(output, phrase) {
			t.Errorf("run help output should contain %q", phrase)
		}
	}
}

func TestCLIServeHelp(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "serve", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, phrase := range []string{"--port", "/call", "/health"} {
		if !strings.Contains(output, phrase) {
			t.Errorf("serve help output should contain %q", phrase)
		}
	}
}

// =============================================================================
// RUN
// =============================================================================

func TestCLIRun(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"scalar", []string{"-c", "return 2 * val", "--param", "val int", "--returns", "int", "--arg", "21"}, "42"},
		{"text", []string{"-c", "return s .. '!'", "--param", "s text", "--returns", "text", "--arg", "'hi'"}, "'hi!'"},
		{"list", []string{"-c", "table.insert(xs, 4) return xs", "--param", "xs list<int>", "--returns", "list<int>", "--arg", "{1, 2, 3}"}, "[1, 2, 3, 4]"},
		{"user type", []string{
			"-c", "return {x = p.y, y = p.x}",
			"--type", "point(x int, y int)",
			"--param", "p point", "--returns", "point",
			"--arg", "{x = 1, y = 2}",
		}, "{x: 2, y: 1}"},
		{"null on null", []string{"-c", "return 1", "--param", "v int", "--returns", "int", "--returns-null-on-null", "--arg", "nil"}, "null"},
		{"called on null", []string{"-c", "if v == nil then return -1 end return v", "--param", "v int", "--returns", "int", "--arg", "nil"}, "-1"},
		{"no arguments", []string{"-c", "return 'x'", "--returns", "ascii"}, "'x'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeCommand(newRootCmd(), runArgs(tt.args...)...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.TrimSpace(output) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, output)
			}
		})
	}
}

func TestCLIRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "twice.lua")
	if err := os.WriteFile(path, []byte("return 2 * val\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output, err := executeCommand(newRootCmd(), runArgs(path, "--param", "val bigint", "--returns", "bigint", "--arg", "5")...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "10" {
		t.Errorf("expected '10', got %q", output)
	}
}

func TestCLIRunStdin(t *testing.T) {
	root := newRootCmd()
	root.SetIn(strings.NewReader("return #s"))
	output, err := executeCommand(root, runArgs("--param", "s text", "--returns", "int", "--arg", "'four'")...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "4" {
		t.Errorf("expected '4', got %q", output)
	}
}

func TestCLIRunFailures(t *testing.T) {
	tests := []struct {
		name string
		args []string
		kind sandbox.Kind
		want string
	}{
		{"timeout", runArgs("-c", "while true do end", "--returns", "int", "--timeout", "20ms"),
			sandbox.KindTimedOut, "lua execution timeout: "},
		{"memory", runArgs("-c", "local t = {} for i = 1, 1e9 do t[i] = i end", "--returns", "int", "--timeout", "10s", "--memory", "1mb"),
			sandbox.KindResourceExhausted, "lua execution failed: not enough memory"},
		{"steps", runArgs("-c", "while true do end", "--returns", "int", "--steps", "1000"),
			sandbox.KindTimedOut, "lua execution timeout: "},
		{"fault", runArgs("-c", "error('boom', 0)", "--returns", "int"),
			sandbox.KindExecutionFault, "lua execution failed: boom"},
		{"bad result", runArgs("-c", "return 4.5", "--returns", "int"),
			sandbox.KindMarshal, "value is not an integer"},
		{"compile", runArgs("-c", "return return", "--returns", "int"),
			sandbox.KindCompile, "could not compile: "},
		{"language", runArgs("-c", "x", "--returns", "int", "--lang", "Java"),
			sandbox.KindUnsupportedLanguage, "Language 'java' is not supported"},
		{"frozen", runArgs("-c", "return x", "--param", "x frozen<list<int>>", "--returns", "int"),
			sandbox.KindInvalidDefinition, "User defined argument and return types should not be frozen"},
		{"disabled", []string{"run", "-c", "return 1", "--returns", "int"},
			sandbox.KindDefinitionDisabled, "User defined functions are disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(newRootCmd(), tt.args...)
			if sandbox.KindOf(err) != tt.kind {
				t.Fatalf("expected %v, got %v", tt.kind, err)
			}
			if !strings.HasPrefix(err.Error(), tt.want) {
				t.Errorf("expected prefix %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestCLIRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no result type", runArgs("-c", "return 1"), "result type required"},
		{"bad parameter", runArgs("-c", "return 1", "--param", "val", "--returns", "int"), "invalid parameter"},
		{"unknown type", runArgs("-c", "return 1", "--param", "val nosuch", "--returns", "int"), "parameter val"},
		{"argument count", runArgs("-c", "return 1", "--param", "val int", "--returns", "int"), "takes 1 arguments, got 0"},
		{"bad argument", runArgs("-c", "return 1", "--param", "val int", "--returns", "int", "--arg", "'x'"), "argument val: value is not a number"},
		{"bad memory", runArgs("-c", "return 1", "--returns", "int", "--memory", "lots"), "invalid memory limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newRootCmd()
			root.SetIn(strings.NewReader(""))
			_, err := executeCommand(root, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, err.Error())
			}
		})
	}
}

func TestCLIRunNoBody(t *testing.T) {
	root := newRootCmd()
	root.SetIn(strings.NewReader(""))
	_, err := executeCommand(root, runArgs("--returns", "int")...)
	if err != errNoBody {
		t.Errorf("expected errNoBody, got %v", err)
	}
}

func TestCLIConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "udfbox.yaml")
	cfg := "enable_user_defined_functions: true\nuser_defined_function_time_limit: 2s\n"
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output, err := executeCommand(newRootCmd(), "run", "--config", path, "-c", "return 7", "--returns", "int")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "7" {
		t.Errorf("expected '7', got %q", output)
	}

	_, err = executeCommand(newRootCmd(), "run", "--config", path, "--enable=false", "-c", "return 7", "--returns", "int")
	if sandbox.KindOf(err) != sandbox.KindDefinitionDisabled {
		t.Errorf("expected --enable=false to override the file, got %v", err)
	}
}

// =============================================================================
// CHECK
// =============================================================================

func TestCLICheck(t *testing.T) {
	output, err := executeCommand(newRootCmd(), "check", "--enable",
		"-c", "return 2 * val", "--name", "twice", "--param", "val int", "--returns", "int", "--returns-null-on-null")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ok: twice(val int) RETURNS NULL ON NULL INPUT RETURNS int LANGUAGE lua"
	if strings.TrimSpace(output) != want {
		t.Errorf("expected %q, got %q", want, output)
	}
}

func TestCLICheckCompileError(t *testing.T) {
	_, err := executeCommand(newRootCmd(), "check", "--enable", "-c", "local x = 1\nlocal = 2", "--returns", "int")
	if sandbox.KindOf(err) != sandbox.KindCompile {
		t.Fatalf("expected compile error, got %v", err)
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected the body line in %q", err.Error())
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func TestParseMemoryLimit(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1mb", executor.MemoryLimit1MB, false},
		{"16MB", executor.MemoryLimit16MB, false},
		{"64mb", executor.MemoryLimit64MB, false},
		{"4096", 4096, false},
		{"0", 0, false},
		{"-1", 0, true},
		{"1gb", 0, true},
	}
	for _, tc := range tests {
		got, err := parseMemoryLimit(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("parseMemoryLimit(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMemoryLimit(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestLanguageFor(t *testing.T) {
	tests := []struct {
		langFlag string
		filename string
		want     string
	}{
		{"", "", "lua"},
		{"", "f.lua", "lua"},
		{"", "f.WASM", "wasm"},
		{"wasm", "", "wasm"},
		{"Lua", "f.wasm", "Lua"},
	}
	for _, tc := range tests {
		if got := languageFor(tc.langFlag, tc.filename); got != tc.want {
			t.Errorf("languageFor(%q, %q) = %q, want %q", tc.langFlag, tc.filename, got, tc.want)
		}
	}
}

func TestParseSignature(t *testing.T) {
	sig, err := parseSignature("f",
		[]string{"p point", "tags  set<text>"},
		[]string{"point(x int, y int)"},
		"map<text, frozen<point>>", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	point := engine.UserType("point", engine.Field{Name: "x", Type: engine.IntType}, engine.Field{Name: "y", Type: engine.IntType})
	if !sig.ArgTypes[0].Equal(point) {
		t.Errorf("expected point, got %v", sig.ArgTypes[0])
	}
	if !sig.ArgTypes[1].Equal(engine.SetOf(engine.TextType)) {
		t.Errorf("expected set<text>, got %v", sig.ArgTypes[1])
	}
	if sig.ResultType.Kind() != engine.Map || sig.NullPolicy != executor.ReturnsNullOnNull {
		t.Errorf("unexpected signature %s", formatSignature(sig))
	}
}
