package isolation

import (
	"context"
	"fmt"

	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

// Mode selects the environment shape: one-shot batch run or long-lived
// interactive terminal.
type Mode string

const (
	ModeBatch       Mode = "batch"
	ModeInteractive Mode = "interactive"
)

// WorkspaceMountPath is where the workspace is bind-mounted inside every
// environment.
const WorkspaceMountPath = "/workspace"

// Limits are the uniform resource caps applied to every environment.
type Limits struct {
	MemoryBytes      int64
	CPUQuotaFraction float64
	PidsLimit        int64
}

// Environment is one provisioned isolated execution context. Created
// fresh per execution or session and never reused.
type Environment struct {
	ID        string
	Image     string
	Workspace *workspace.Workspace
	Spec      EnvironmentSpec
}

// Provisioner turns a language profile plus a workspace into a created
// (not yet started) environment. Limits come from configuration, not from
// call sites.
type Provisioner struct {
	backend Backend
	limits  Limits
}

// NewProvisioner creates a provisioner.
func NewProvisioner(backend Backend, limits Limits) *Provisioner {
	return &Provisioner{backend: backend, limits: limits}
}

// Provision ensures the profile's image is available and creates an
// environment for it. Batch environments get no network, a readonly root
// filesystem (unless the language compiles next to its source) and
// auto-removal on exit. Interactive environments get bridge networking, a
// writable filesystem, a pseudo-terminal and no auto-removal: they live
// until their session closes them.
func (p *Provisioner) Provision(ctx context.Context, profile language.Profile, ws *workspace.Workspace, mode Mode) (*Environment, error) {
	if err := p.backend.EnsureImage(ctx, profile.Image); err != nil {
		return nil, err
	}

	spec := EnvironmentSpec{
		Image:      profile.Image,
		WorkingDir: WorkspaceMountPath,
		BindMounts: []BindMount{
			{HostPath: ws.RootPath, ContainerPath: WorkspaceMountPath},
		},
		MemoryBytes:      p.limits.MemoryBytes,
		CPUQuotaFraction: p.limits.CPUQuotaFraction,
		PidsLimit:        p.limits.PidsLimit,
		OpenStdin:        true,
		Labels: map[string]string{
			"compiler.execution": ws.ID,
			"compiler.lang":      profile.ID.String(),
		},
	}

	switch mode {
	case ModeBatch:
		spec.Argv = profile.Argv(ws.SourceFile, ws.StdinFile != "")
		spec.NetworkPolicy = NetworkNone
		spec.FilesystemPolicy = FilesystemReadonly
		if profile.Compiled {
			spec.FilesystemPolicy = FilesystemReadwrite
		}
		spec.AutoRemove = true

	case ModeInteractive:
		spec.Argv = profile.Shell()
		spec.NetworkPolicy = NetworkBridge
		spec.FilesystemPolicy = FilesystemReadwrite
		spec.TTY = true

	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrEnvironmentStart, mode)
	}

	id, err := p.backend.CreateEnvironment(ctx, spec)
	if err != nil {
		return nil, err
	}

	return &Environment{
		ID:        id,
		Image:     profile.Image,
		Workspace: ws,
		Spec:      spec,
	}, nil
}
