// Package main is the entry point for the sandboxd execution service. It
// loads configuration, brings up the container backend and the execution
// engine, and serves the tool-execution API until shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/parsify-dev/codexec/internal/config"
	"github.com/parsify-dev/codexec/internal/engine"
	"github.com/parsify-dev/codexec/internal/runtime/docker"
	"github.com/parsify-dev/codexec/internal/server"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	specs, err := cfg.LanguageSpecs()
	if err != nil {
		logger.Error("invalid language configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	backend, err := docker.New(cfg.BackendConfig(), specs, logger)
	if err != nil {
		logger.Error("failed to start container backend", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.Close()

	eng := engine.New(cfg.EngineOptions(), backend.Adapters(), logger)
	defer eng.Dispose()

	if err := eng.Initialize(context.Background()); err != nil {
		logger.Error("engine initialization failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	srv := server.New(server.Config{Port: cfg.Server.Port}, logger, eng)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
