package executor

import (
	"context"
	"errors"
	"time"

	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

// Status is the user-visible outcome of an execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Error kinds attached to results and error responses. Timeouts and
// non-zero exits are user-visible outcomes; the rest are platform
// failures.
const (
	KindUnsupportedLanguage = "UnsupportedLanguage"
	KindWorkspaceIO         = "WorkspaceIOError"
	KindImageUnavailable    = "ImageUnavailable"
	KindEnvironmentStart    = "EnvironmentStartError"
	KindExecutionTimeout    = "ExecutionTimeout"
	KindInfrastructure      = "InfrastructureError"
	KindSimulatedExecution  = "SimulatedExecution"
)

// Request is one batch execution submission.
type Request struct {
	ID         string `json:"id"`
	Language   string `json:"language"`
	SourceCode string `json:"sourceCode"`
	Stdin      string `json:"stdin,omitempty"`
}

// Result is the immutable outcome of one batch execution. Output is the
// combined stdout+stderr stream in arrival order.
type Result struct {
	ExecutionID string        `json:"executionId"`
	Status      Status        `json:"status"`
	Output      string        `json:"output"`
	ExitCode    int32         `json:"exitCode"`
	ErrorKind   string        `json:"errorKind,omitempty"`
	Simulated   bool          `json:"simulated,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
}

// Executor runs one-shot batch executions. The Docker implementation is
// authoritative; MockExecutor substitutes for it when isolation is
// unavailable.
type Executor interface {
	Run(ctx context.Context, req Request, timeout time.Duration) (*Result, error)
}

// KindForError maps a platform error to its taxonomy kind.
func KindForError(err error) string {
	switch {
	case errors.Is(err, language.ErrUnsupportedLanguage):
		return KindUnsupportedLanguage
	case errors.Is(err, workspace.ErrWorkspaceIO):
		return KindWorkspaceIO
	case errors.Is(err, isolation.ErrImageUnavailable):
		return KindImageUnavailable
	case errors.Is(err, isolation.ErrEnvironmentStart):
		return KindEnvironmentStart
	default:
		return KindInfrastructure
	}
}

// ResultFromError builds the error-shaped result reported to callers when
// an execution failed before producing an outcome.
func ResultFromError(id string, err error) *Result {
	return &Result{
		ExecutionID: id,
		Status:      StatusError,
		Output:      err.Error(),
		ExitCode:    -1,
		ErrorKind:   KindForError(err),
	}
}
