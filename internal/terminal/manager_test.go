package terminal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

// termStreams is an in-memory attach connection for interactive
// sessions: the session writes stdin into a buffer, the test feeds
// output through the pipe.
type termStreams struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu        sync.Mutex
	stdin     bytes.Buffer
	closeOnce sync.Once
}

func newTermStreams() *termStreams {
	pr, pw := io.Pipe()
	return &termStreams{pr: pr, pw: pw}
}

func (s *termStreams) Read(p []byte) (int, error) { return s.pr.Read(p) }

func (s *termStreams) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *termStreams) stdinString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.String()
}

func (s *termStreams) CloseWrite() error { return nil }

func (s *termStreams) Close() {
	s.closeOnce.Do(func() {
		s.pr.Close()
		s.pw.Close()
	})
}

type resizeCall struct {
	cols, rows uint
}

// termBackend fakes the isolation backend for session tests.
type termBackend struct {
	mu       sync.Mutex
	nextEnv  int
	attached map[string]*termStreams
	removed  []string
	stopped  []string
	resizes  []resizeCall
}

func newTermBackend() *termBackend {
	return &termBackend{attached: make(map[string]*termStreams)}
}

func (b *termBackend) EnsureImage(ctx context.Context, image string) error { return nil }

func (b *termBackend) CreateEnvironment(ctx context.Context, spec isolation.EnvironmentSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextEnv++
	return fmt.Sprintf("env-%d", b.nextEnv), nil
}

func (b *termBackend) StartEnvironment(ctx context.Context, id string) error { return nil }

func (b *termBackend) AttachEnvironment(ctx context.Context, id string) (isolation.AttachedStreams, error) {
	s := newTermStreams()
	b.mu.Lock()
	b.attached[id] = s
	b.mu.Unlock()
	return s, nil
}

func (b *termBackend) WaitEnvironment(ctx context.Context, id string) (<-chan isolation.ExitStatus, <-chan error) {
	return make(chan isolation.ExitStatus), make(chan error)
}

func (b *termBackend) StopEnvironment(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = append(b.stopped, id)
	return nil
}

func (b *termBackend) RemoveEnvironment(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, id)
	return nil
}

func (b *termBackend) ResizeEnvironment(ctx context.Context, id string, cols, rows uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resizes = append(b.resizes, resizeCall{cols: cols, rows: rows})
	return nil
}

func (b *termBackend) streamsFor(envID string) *termStreams {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached[envID]
}

func (b *termBackend) removedEnvs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.removed...)
}

func (b *termBackend) resizeCalls() []resizeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]resizeCall(nil), b.resizes...)
}

// outputSink collects emitted chunks.
type outputSink struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (o *outputSink) emit(data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chunks = append(o.chunks, data)
}

func (o *outputSink) String() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var buf bytes.Buffer
	for _, c := range o.chunks {
		buf.Write(c)
	}
	return buf.String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestManager(t *testing.T, backend *termBackend, maxSessions int, idleTTL time.Duration) (*Manager, string) {
	t.Helper()
	base := t.TempDir()
	workspaces, err := workspace.NewManager(base)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	registry := language.NewRegistry()
	prov := isolation.NewProvisioner(backend, isolation.Limits{})
	m := NewManager(registry, workspaces, backend, prov, nil, maxSessions, idleTTL)
	return m, filepath.Join(base, "compiler-workspaces")
}

func TestSessionLifecycle(t *testing.T) {
	backend := newTermBackend()
	m, wsRoot := newTestManager(t, backend, 5, time.Hour)

	sink := &outputSink{}
	s, err := m.Create(context.Background(), "python", sink.emit)
	if err != nil {
		t.Fatalf("Create unexpected error: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("state = %q, want active", s.State())
	}

	// Input reaches the environment's stdin in order.
	if err := s.Input("echo one\n"); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if err := s.Input("echo two\n"); err != nil {
		t.Fatalf("Input: %v", err)
	}
	streams := backend.streamsFor(s.EnvID)
	waitFor(t, "stdin delivery", func() bool {
		return streams.stdinString() == "echo one\necho two\n"
	})

	// Output arrives through the emit callback.
	go streams.pw.Write([]byte("one\ntwo\n"))
	waitFor(t, "output emission", func() bool {
		return sink.String() == "one\ntwo\n"
	})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Wait()

	if s.State() != StateClosed {
		t.Errorf("state = %q, want closed", s.State())
	}
	if got := backend.removedEnvs(); len(got) != 1 || got[0] != s.EnvID {
		t.Errorf("removed envs = %v, want [%s]", got, s.EnvID)
	}
	if entries, _ := os.ReadDir(wsRoot); len(entries) != 0 {
		t.Errorf("workspace not released: %v", entries)
	}
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after close error = %v, want ErrSessionNotFound", err)
	}
}

func TestInputAfterClose(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 5, time.Hour)

	s, err := m.Create(context.Background(), "python", func([]byte) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Wait()

	if err := s.Input("ls\n"); !errors.Is(err, ErrInputAfterClose) {
		t.Errorf("Input after close = %v, want ErrInputAfterClose", err)
	}
	if err := s.Resize(80, 24); !errors.Is(err, ErrInputAfterClose) {
		t.Errorf("Resize after close = %v, want ErrInputAfterClose", err)
	}

	// Closing again is a no-op, not an error.
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestNoOutputAfterClose(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 5, time.Hour)

	sink := &outputSink{}
	s, err := m.Create(context.Background(), "python", sink.emit)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s.Wait()

	before := sink.String()
	time.Sleep(50 * time.Millisecond)
	if after := sink.String(); after != before {
		t.Errorf("output emitted after close: %q", after)
	}
}

func TestResize(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 5, time.Hour)

	s, err := m.Create(context.Background(), "python", func([]byte) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() {
		s.Close()
		s.Wait()
	}()

	if err := s.Resize(120, 40); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	waitFor(t, "resize delivery", func() bool {
		calls := backend.resizeCalls()
		return len(calls) == 1 && calls[0].cols == 120 && calls[0].rows == 40
	})
}

func TestMaxSessions(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 1, time.Hour)

	s, err := m.Create(context.Background(), "python", func([]byte) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Create(context.Background(), "python", func([]byte) {}); !errors.Is(err, ErrMaxSessions) {
		t.Errorf("second Create = %v, want ErrMaxSessions", err)
	}

	// Closing the first frees a slot.
	if err := m.Close(s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	s2, err := m.Create(context.Background(), "python", func([]byte) {})
	if err != nil {
		t.Fatalf("Create after slot freed: %v", err)
	}
	m.Close(s2.ID)
}

func TestCreateUnknownLanguage(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 5, time.Hour)

	if _, err := m.Create(context.Background(), "malbolge", func([]byte) {}); !errors.Is(err, language.ErrUnsupportedLanguage) {
		t.Errorf("Create = %v, want ErrUnsupportedLanguage", err)
	}
}

func TestEnvironmentExitClosesSession(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 5, time.Hour)

	s, err := m.Create(context.Background(), "python", func([]byte) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The shell exiting shows up as EOF on the attach stream.
	backend.streamsFor(s.EnvID).pw.Close()

	waitFor(t, "session self-close", func() bool {
		return s.State() == StateClosed
	})
	if _, err := m.Get(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get after self-close = %v, want ErrSessionNotFound", err)
	}
}

func TestReapIdle(t *testing.T) {
	backend := newTermBackend()
	m, _ := newTestManager(t, backend, 5, 20*time.Millisecond)

	s, err := m.Create(context.Background(), "python", func([]byte) {})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	m.reapIdle()

	waitFor(t, "idle session reaped", func() bool {
		return s.State() == StateClosed
	})
}

func TestSweepOrphans(t *testing.T) {
	backend := newTermBackend()
	store := NewMemoryStore()
	store.Save(&Record{ID: "stale-1", EnvironmentID: "env-stale", State: StateActive})

	base := t.TempDir()
	workspaces, err := workspace.NewManager(base)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m := NewManager(language.NewRegistry(), workspaces, backend, isolation.NewProvisioner(backend, isolation.Limits{}), store, 5, time.Hour)

	m.SweepOrphans(context.Background())

	if got := backend.removedEnvs(); len(got) != 1 || got[0] != "env-stale" {
		t.Errorf("removed envs = %v, want [env-stale]", got)
	}
	active, _ := store.ListActive()
	if len(active) != 0 {
		t.Errorf("orphaned records not deleted: %v", active)
	}
}
