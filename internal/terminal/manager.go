package terminal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

// Manager owns the session registry: it provisions one environment per
// session, enforces the concurrent-session limit, reaps idle sessions and
// evicts closed ones.
type Manager struct {
	registry   *language.Registry
	workspaces *workspace.Manager
	backend    isolation.Backend
	prov       *isolation.Provisioner
	store      Store

	maxSessions int
	idleTTL     time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(registry *language.Registry, workspaces *workspace.Manager, backend isolation.Backend, prov *isolation.Provisioner, store Store, maxSessions int, idleTTL time.Duration) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if maxSessions <= 0 {
		maxSessions = 10
	}
	return &Manager{
		registry:    registry,
		workspaces:  workspaces,
		backend:     backend,
		prov:        prov,
		store:       store,
		maxSessions: maxSessions,
		idleTTL:     idleTTL,
		sessions:    make(map[string]*Session),
	}
}

// Create provisions and starts a new interactive session. A session that
// fails during creation never reaches Active and leaves nothing behind.
func (m *Manager) Create(ctx context.Context, lang string, emit OutputFunc) (*Session, error) {
	profile, err := m.registry.LookupString(lang)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrMaxSessions
	}
	m.mu.Unlock()

	id := uuid.New().String()

	ws, err := m.workspaces.Acquire(id, profile, "", "")
	if err != nil {
		return nil, err
	}

	env, err := m.prov.Provision(ctx, profile, ws, isolation.ModeInteractive)
	if err != nil {
		m.workspaces.Release(ws)
		return nil, err
	}

	streams, err := m.backend.AttachEnvironment(ctx, env.ID)
	if err != nil {
		m.teardownFailed(env.ID, ws)
		return nil, err
	}

	if err := m.backend.StartEnvironment(ctx, env.ID); err != nil {
		streams.Close()
		m.teardownFailed(env.ID, ws)
		return nil, err
	}

	now := time.Now()
	s := &Session{
		ID:           id,
		Language:     profile.ID,
		EnvID:        env.ID,
		backend:      m.backend,
		streams:      streams,
		ws:           ws,
		workspaces:   m.workspaces,
		events:       make(chan event, 32),
		done:         make(chan struct{}),
		state:        StateActive,
		lastActivity: now,
		emit:         emit,
		onClose:      m.evict,
	}

	m.mu.Lock()
	if len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		streams.Close()
		m.teardownFailed(env.ID, ws)
		return nil, ErrMaxSessions
	}
	m.sessions[id] = s
	m.mu.Unlock()

	if err := m.store.Save(&Record{
		ID:             id,
		Language:       lang,
		EnvironmentID:  env.ID,
		State:          StateActive,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		slog.Warn("failed to persist session record", "session_id", id, "error", err)
	}

	go s.run()
	go s.pumpOutput()

	slog.Info("terminal session created",
		"session_id", id,
		"language", lang,
		"environment_id", shortID(env.ID),
	)
	return s, nil
}

// Get returns an active session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close closes one session and waits for its teardown.
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := s.Close(); err != nil {
		return err
	}
	s.Wait()
	return nil
}

// CloseAll closes every active session, used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		if err := s.Close(); err == nil {
			s.Wait()
		}
	}
}

// StartReaper starts a background loop that closes sessions idle longer
// than the idle TTL.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.reapIdle()
			}
		}
	}()
}

func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.idleTTL)

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.LastActivityAt().Before(cutoff) {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		slog.Info("reaping idle terminal session", "session_id", s.ID)
		_ = s.Close()
	}
}

// SweepOrphans removes environments recorded as active by a previous
// process. Called once at startup, before any session is created.
func (m *Manager) SweepOrphans(ctx context.Context) {
	orphans, err := m.store.ListActive()
	if err != nil {
		slog.Warn("failed to list orphaned sessions", "error", err)
		return
	}

	for _, rec := range orphans {
		if rec.EnvironmentID != "" {
			if err := m.backend.RemoveEnvironment(ctx, rec.EnvironmentID); err != nil {
				slog.Warn("failed to remove orphaned environment",
					"session_id", rec.ID,
					"environment_id", shortID(rec.EnvironmentID),
					"error", err,
				)
			}
		}
		if err := m.store.Delete(rec.ID); err != nil {
			slog.Warn("failed to delete orphaned session record", "session_id", rec.ID, "error", err)
		}
	}

	if len(orphans) > 0 {
		slog.Info("swept orphaned terminal sessions", "count", len(orphans))
	}
}

// evict removes a closed session from the registry and its record from
// the store.
func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if err := m.store.Delete(s.ID); err != nil {
		slog.Warn("failed to delete session record", "session_id", s.ID, "error", err)
	}
}

func (m *Manager) teardownFailed(envID string, ws *workspace.Workspace) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.backend.RemoveEnvironment(ctx, envID); err != nil {
		slog.Warn("failed to remove environment after session creation failure", "environment_id", shortID(envID), "error", err)
	}
	m.workspaces.Release(ws)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
