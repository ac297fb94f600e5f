package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nikhilranga4/online-compiler-backend/internal/language"
)

// ErrWorkspaceIO wraps filesystem failures while creating, writing or
// removing a workspace.
var ErrWorkspaceIO = errors.New("workspace io error")

// StdinFileName is the sibling file stdin is written to when non-empty.
const StdinFileName = "stdin.txt"

// Workspace is the ephemeral filesystem scope backing one execution or
// terminal session. It is owned exclusively by its creator and must be
// released exactly once, on every exit path.
type Workspace struct {
	ID         string
	RootPath   string
	SourceFile string // filename within RootPath
	StdinFile  string // filename within RootPath, empty when no stdin
}

// SourcePath returns the absolute path of the source file.
func (w *Workspace) SourcePath() string {
	return filepath.Join(w.RootPath, w.SourceFile)
}

// Manager creates and destroys workspaces under a base directory.
type Manager struct {
	baseDir string
}

// NewManager creates a workspace manager rooted at baseDir.
func NewManager(baseDir string) (*Manager, error) {
	root := filepath.Join(baseDir, "compiler-workspaces")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create base dir: %v", ErrWorkspaceIO, err)
	}
	return &Manager{baseDir: root}, nil
}

// Acquire creates an isolated directory for one execution, writes the
// source under the profile's filename rule and stdin as a sibling file
// only when non-empty. On any failure the partially created directory is
// removed before returning.
func (m *Manager) Acquire(id string, profile language.Profile, source, stdin string) (*Workspace, error) {
	root := filepath.Join(m.baseDir, id)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create workspace dir: %v", ErrWorkspaceIO, err)
	}

	sourceFile := SourceFileName(profile, source)
	if err := os.WriteFile(filepath.Join(root, sourceFile), []byte(source), 0o644); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("%w: write source: %v", ErrWorkspaceIO, err)
	}

	ws := &Workspace{
		ID:         id,
		RootPath:   root,
		SourceFile: sourceFile,
	}

	if stdin != "" {
		if err := os.WriteFile(filepath.Join(root, StdinFileName), []byte(stdin), 0o644); err != nil {
			os.RemoveAll(root)
			return nil, fmt.Errorf("%w: write stdin: %v", ErrWorkspaceIO, err)
		}
		ws.StdinFile = StdinFileName
	}

	return ws, nil
}

// Release recursively removes the workspace directory. Safe to call on a
// workspace that was already released; failures are logged, never
// propagated, so they cannot mask an execution result.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil || ws.RootPath == "" {
		return
	}
	if err := os.RemoveAll(ws.RootPath); err != nil {
		slog.Warn("failed to remove workspace", "workspace_id", ws.ID, "error", err)
	}
}
