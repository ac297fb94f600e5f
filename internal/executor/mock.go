package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilranga4/online-compiler-backend/internal/language"
)

// MockExecutor satisfies the Executor contract when the isolation backend
// is unreachable. It performs no execution at all: results are tagged as
// simulated and report that real execution is unavailable, rather than
// guessing at program output or claiming exit codes it never measured.
type MockExecutor struct {
	registry *language.Registry
}

var _ Executor = (*MockExecutor)(nil)

// NewMockExecutor creates a degraded-mode executor.
func NewMockExecutor(registry *language.Registry) *MockExecutor {
	return &MockExecutor{registry: registry}
}

// Run validates the language like the real controller would, then returns
// an explicit non-authoritative response.
func (e *MockExecutor) Run(ctx context.Context, req Request, _ time.Duration) (*Result, error) {
	if _, err := e.registry.LookupString(req.Language); err != nil {
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	return &Result{
		ExecutionID: id,
		Status:      StatusError,
		Output:      "execution backend unavailable: running in degraded mode, code was not executed",
		ExitCode:    -1,
		ErrorKind:   KindSimulatedExecution,
		Simulated:   true,
	}, nil
}
