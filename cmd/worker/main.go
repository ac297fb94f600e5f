package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nikhilranga4/online-compiler-backend/internal/config"
	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/queue"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.Debug)

	if cfg.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is required for the worker")
	}

	registry, err := language.LoadRegistry(cfg.ProfilesPath)
	if err != nil {
		return fmt.Errorf("load language profiles: %w", err)
	}

	workspaces, err := workspace.NewManager(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("create workspace manager: %w", err)
	}

	var exec executor.Executor
	if cfg.ExecutorBackend == "mock" {
		slog.Warn("mock executor configured, code will not be executed")
		exec = executor.NewMockExecutor(registry)
	} else {
		backend, err := isolation.NewDockerBackend()
		if err != nil {
			return fmt.Errorf("isolation backend unavailable: %w", err)
		}
		defer backend.Close()

		limits := isolation.Limits{
			MemoryBytes:      int64(cfg.MemoryMB) * 1024 * 1024,
			CPUQuotaFraction: cfg.CPULimit,
			PidsLimit:        int64(cfg.PidsLimit),
		}
		prov := isolation.NewProvisioner(backend, limits)
		exec = executor.NewDockerExecutor(registry, workspaces, backend, prov)
	}

	exec = executor.NewResilientExecutor(exec, cfg.MaxConcurrent)

	conn, err := queue.NewConnection(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("connect to queue: %w", err)
	}
	defer conn.Close()

	consumer := queue.NewConsumer(conn, exec, queue.ConsumerConfig{
		Workers:     cfg.QueueWorkers,
		Prefetch:    1,
		ExecTimeout: cfg.ExecTimeout,
	})

	ctx := context.Background()
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	slog.Info("worker started", "workers", cfg.QueueWorkers)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("received signal, shutting down", "signal", sig.String())
	consumer.Stop()

	slog.Info("worker stopped")
	return nil
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
