package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeineduck/udfbox/executor"
	"github.com/caffeineduck/udfbox/internal/logging"
	"github.com/caffeineduck/udfbox/language/lua"
	"github.com/caffeineduck/udfbox/sandbox"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for function calls",
		Long: `Start an HTTP server that defines and calls functions on request.

Endpoints:
  POST   /call     Define a function and call it once
  GET    /health   Health check

A /call request is a JSON object:
  {"language": "lua", "name": "f", "params": ["val int"], "returns": "int",
   "body": "return 2 * val", "args": ["21"], "returns_null_on_null": false,
   "types": ["point(x int, y int)"], "timeout": "50ms"}`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	cmd.Flags().Duration("timeout", 0, "Time ceiling per call (default from configuration)")
	cmd.Flags().String("memory", "", "Memory ceiling per call: 1mb, 16mb, 64mb or bytes")
	cmd.Flags().Int64("steps", 0, "Instruction ceiling per call, 0 for none")
	return cmd
}

type callRequest struct {
	Language          string   `json:"language,omitempty"`
	Name              string   `json:"name,omitempty"`
	Params            []string `json:"params"`
	Types             []string `json:"types,omitempty"`
	Returns           string   `json:"returns"`
	Body              string   `json:"body"`
	Args              []string `json:"args"`
	ReturnsNullOnNull bool     `json:"returns_null_on_null,omitempty"`
	Timeout           string   `json:"timeout,omitempty"`
}

type callResponse struct {
	Value      string `json:"value,omitempty"`
	Null       bool   `json:"null,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type server struct {
	exec *executor.Executor
	lua  *lua.Language
}

func newServer(exec *executor.Executor, luaLang *lua.Language, logger *slog.Logger) http.Handler {
	s := &server{exec: exec, lua: luaLang}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /call", s.handleCall)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return logging.Middleware(logger, mux)
}

func (s *server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Body == "" {
		http.Error(w, "body required", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = "f"
	}
	if req.Language == "" {
		req.Language = "lua"
	}

	sig, err := parseSignature(req.Name, req.Params, req.Types, req.Returns, req.ReturnsNullOnNull)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid timeout %q", req.Timeout), http.StatusBadRequest)
			return
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	fn, err := s.exec.Define(ctx, executor.Definition{Signature: sig, Language: req.Language, Body: req.Body})
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse(err, 0))
		return
	}
	args, err := evalArgs(ctx, s.lua, sig, req.Args, s.exec.Limits())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(err, 0))
		return
	}

	res := fn.Call(ctx, args...)
	if res.Error != nil {
		writeJSON(w, http.StatusOK, errorResponse(res.Error, res.Duration))
		return
	}
	resp := callResponse{DurationMs: res.Duration.Milliseconds()}
	if res.Value.IsNull() {
		resp.Null = true
	} else {
		resp.Value = res.Value.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func errorResponse(err error, d time.Duration) callResponse {
	resp := callResponse{Error: err.Error(), DurationMs: d.Milliseconds()}
	if kind := sandbox.KindOf(err); kind != sandbox.KindUnknown {
		resp.Kind = kind.String()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := cfg.InitLogger()

	exec, luaLang, err := newExecutor(cfg, logger)
	if err != nil {
		return err
	}
	defer exec.Close()

	port, _ := cmd.Flags().GetInt("port")
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           newServer(exec, luaLang, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("udfbox server listening", "addr", srv.Addr, "enabled", exec.Enabled(), "limits", exec.Limits().String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
