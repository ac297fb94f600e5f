package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

const (
	// MaxOutputBytes caps the captured combined output per execution.
	MaxOutputBytes = 1 << 20

	// removeTimeout bounds the force-removal during teardown. Teardown
	// uses a background context so a cancelled request still cleans up.
	removeTimeout = 10 * time.Second
)

// DockerExecutor drives one-shot batch executions against the isolation
// backend: acquire workspace, ensure image, provision, run, capture,
// tear down. Teardown runs on every exit path.
type DockerExecutor struct {
	registry   *language.Registry
	workspaces *workspace.Manager
	backend    isolation.Backend
	prov       *isolation.Provisioner
}

var _ Executor = (*DockerExecutor)(nil)

// NewDockerExecutor creates a batch execution controller.
func NewDockerExecutor(registry *language.Registry, workspaces *workspace.Manager, backend isolation.Backend, prov *isolation.Provisioner) *DockerExecutor {
	return &DockerExecutor{
		registry:   registry,
		workspaces: workspaces,
		backend:    backend,
		prov:       prov,
	}
}

// Run executes the request with a hard wall-clock timeout. A natural exit
// maps exit code 0 to success and anything else to error, with the
// combined output attached. On timeout the environment is force-removed
// and the result is canonically ExecutionTimeout, partial output attached
// for diagnostics.
func (e *DockerExecutor) Run(ctx context.Context, req Request, timeout time.Duration) (*Result, error) {
	// Reject unknown languages before any resource is allocated.
	profile, err := e.registry.LookupString(req.Language)
	if err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	ws, err := e.workspaces.Acquire(id, profile, req.SourceCode, req.Stdin)
	if err != nil {
		return nil, err
	}
	defer e.workspaces.Release(ws)

	env, err := e.prov.Provision(ctx, profile, ws, isolation.ModeBatch)
	if err != nil {
		return nil, err
	}
	defer func() {
		rmCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if err := e.backend.RemoveEnvironment(rmCtx, env.ID); err != nil {
			slog.Warn("failed to remove environment", "execution_id", id, "environment_id", env.ID, "error", err)
		}
	}()

	// Attach and register the waiter before starting so neither output
	// nor a fast exit is missed.
	streams, err := e.backend.AttachEnvironment(ctx, env.ID)
	if err != nil {
		return nil, err
	}
	defer streams.Close()

	exitCh, waitErrCh := e.backend.WaitEnvironment(ctx, env.ID)

	start := time.Now()
	if err := e.backend.StartEnvironment(ctx, env.ID); err != nil {
		return nil, err
	}

	// Stream stdin to the environment and close it to signal EOF.
	go func() {
		if req.Stdin != "" {
			if _, err := io.WriteString(streams, req.Stdin); err != nil {
				slog.Debug("stdin write interrupted", "execution_id", id, "error", err)
			}
		}
		if err := streams.CloseWrite(); err != nil {
			slog.Debug("stdin close failed", "execution_id", id, "error", err)
		}
	}()

	var raw bytes.Buffer
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		io.Copy(&raw, io.LimitReader(streams, MaxOutputBytes))
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case status := <-exitCh:
		<-outDone
		output := isolation.DemuxOutput(raw.Bytes())
		res := &Result{
			ExecutionID: id,
			Status:      StatusSuccess,
			Output:      output,
			ExitCode:    int32(status.ExitCode),
			Duration:    time.Since(start),
		}
		if status.ExitCode != 0 {
			res.Status = StatusError
		}
		return res, nil

	case err := <-waitErrCh:
		streams.Close()
		<-outDone
		return nil, fmt.Errorf("%w: wait for exit: %v", isolation.ErrInfrastructure, err)

	case <-timer.C:
		// Force-terminate; the deferred removal is a no-op afterwards.
		rmCtx, cancel := context.WithTimeout(context.Background(), removeTimeout)
		defer cancel()
		if err := e.backend.RemoveEnvironment(rmCtx, env.ID); err != nil {
			slog.Warn("failed to kill timed-out environment", "execution_id", id, "error", err)
		}
		streams.Close()
		<-outDone
		return &Result{
			ExecutionID: id,
			Status:      StatusError,
			Output:      isolation.DemuxOutput(raw.Bytes()),
			ExitCode:    -1,
			ErrorKind:   KindExecutionTimeout,
			Duration:    time.Since(start),
		}, nil

	case <-ctx.Done():
		streams.Close()
		<-outDone
		return nil, ctx.Err()
	}
}
