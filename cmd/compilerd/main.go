package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilranga4/online-compiler-backend/internal/config"
	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
	"github.com/nikhilranga4/online-compiler-backend/internal/history"
	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/queue"
	"github.com/nikhilranga4/online-compiler-backend/internal/server"
	"github.com/nikhilranga4/online-compiler-backend/internal/storage/sqlite"
	"github.com/nikhilranga4/online-compiler-backend/internal/terminal"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.Debug)

	registry, err := language.LoadRegistry(cfg.ProfilesPath)
	if err != nil {
		return fmt.Errorf("load language profiles: %w", err)
	}

	workspaces, err := workspace.NewManager(cfg.WorkspaceDir)
	if err != nil {
		return fmt.Errorf("create workspace manager: %w", err)
	}

	ctx := context.Background()

	var exec executor.Executor
	var sessions *terminal.Manager
	var backend *isolation.DockerBackend

	if cfg.ExecutorBackend == "mock" {
		slog.Warn("mock executor configured, code will not be executed")
		exec = executor.NewMockExecutor(registry)
	} else {
		backend, err = isolation.NewDockerBackend()
		if err != nil {
			slog.Warn("isolation backend unavailable, running in degraded mode", "error", err)
			exec = executor.NewMockExecutor(registry)
		} else {
			defer backend.Close()

			limits := isolation.Limits{
				MemoryBytes:      int64(cfg.MemoryMB) * 1024 * 1024,
				CPUQuotaFraction: cfg.CPULimit,
				PidsLimit:        int64(cfg.PidsLimit),
			}
			prov := isolation.NewProvisioner(backend, limits)
			exec = executor.NewDockerExecutor(registry, workspaces, backend, prov)

			store := openSessionStore(cfg.SessionDBPath)
			sessions = terminal.NewManager(registry, workspaces, backend, prov, store, cfg.MaxSessions, cfg.SessionIdleTTL)
			sessions.SweepOrphans(ctx)
			sessions.StartReaper(ctx, time.Minute)
		}
	}

	exec = executor.NewResilientExecutor(exec, cfg.MaxConcurrent)

	var producer *queue.Producer
	var results *queue.ResultConsumer
	if cfg.AMQPURL != "" {
		conn, err := queue.NewConnection(cfg.AMQPURL)
		if err != nil {
			slog.Warn("queue unavailable, async jobs disabled", "error", err)
		} else {
			defer conn.Close()
			producer = queue.NewProducer(conn)
			results = queue.NewResultConsumer(conn)
			if err := results.Start(ctx); err != nil {
				return fmt.Errorf("start result consumer: %w", err)
			}
			defer results.Stop()
		}
	}

	var repo *history.Repository
	if cfg.DatabaseURL != "" {
		repo, err = history.NewRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Warn("history database unavailable, executions will not be recorded", "error", err)
		} else {
			defer repo.Close()
		}
	}

	srv := server.New(server.Options{
		Config:   cfg,
		Registry: registry,
		Executor: exec,
		Sessions: sessions,
		Producer: producer,
		Results:  results,
		History:  repo,
	})

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		slog.Info("received signal, shutting down", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("compiler daemon listening", "port", cfg.Port)
	if err := srv.Start(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	slog.Info("daemon stopped")
	return nil
}

// openSessionStore opens the durable session store, falling back to an
// in-memory store when the database cannot be opened. Without durability
// orphaned environments are not swept across restarts.
func openSessionStore(path string) terminal.Store {
	db, err := sqlite.Open(path)
	if err != nil {
		slog.Warn("session database unavailable, using in-memory store", "error", err)
		return terminal.NewMemoryStore()
	}
	if err := db.EnsureSchema(); err != nil {
		slog.Warn("session schema migration failed, using in-memory store", "error", err)
		return terminal.NewMemoryStore()
	}
	return sqlite.NewSessionStore(db)
}

func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
