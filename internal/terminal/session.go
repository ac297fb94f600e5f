package terminal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nikhilranga4/online-compiler-backend/internal/isolation"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/workspace"
)

var (
	// ErrSessionNotFound means the session id is unknown or already
	// evicted.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInputAfterClose means an event was delivered to a closed
	// session. Closed is terminal: sessions are never resurrected.
	ErrInputAfterClose = errors.New("input after close")

	// ErrMaxSessions means the concurrent session admission limit was
	// reached.
	ErrMaxSessions = errors.New("maximum concurrent sessions reached")
)

// State is the lifecycle state of a terminal session.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// OutputFunc receives output chunks as they arrive from the environment.
// It is never called after the session reaches Closed.
type OutputFunc func(data []byte)

type eventKind int

const (
	evInput eventKind = iota
	evResize
	evClose
)

type event struct {
	kind eventKind
	data string
	cols uint
	rows uint
}

// Session is one long-lived interactive terminal bound to exactly one
// isolated environment for its whole lifetime. Input, resize and close
// events are processed by a single goroutine, so they are serialized
// relative to each other.
type Session struct {
	ID       string
	Language language.Language
	EnvID    string

	backend    isolation.Backend
	streams    isolation.AttachedStreams
	ws         *workspace.Workspace
	workspaces *workspace.Manager

	events chan event
	done   chan struct{}

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	emit    OutputFunc
	onClose func(s *Session)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivityAt returns the time of the last input or resize event.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Input writes data to the environment's stdin, in arrival order.
func (s *Session) Input(data string) error {
	return s.send(event{kind: evInput, data: data})
}

// Resize forwards a resize event to the environment's pseudo-terminal.
func (s *Session) Resize(cols, rows uint) error {
	return s.send(event{kind: evResize, cols: cols, rows: rows})
}

// Close transitions the session to Closing and stops its environment.
// Idempotent: closing an already closed session is a no-op.
func (s *Session) Close() error {
	err := s.send(event{kind: evClose})
	if errors.Is(err, ErrInputAfterClose) {
		return nil
	}
	return err
}

// Wait blocks until the session has fully closed.
func (s *Session) Wait() {
	<-s.done
}

func (s *Session) send(ev event) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrInputAfterClose
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrInputAfterClose
	}
}

// run processes session events until close. It is the only goroutine
// touching the environment's stdin and TTY size.
func (s *Session) run() {
	defer s.shutdown()

	for {
		select {
		case ev := <-s.events:
			switch ev.kind {
			case evInput:
				if _, err := io.WriteString(s.streams, ev.data); err != nil {
					slog.Warn("terminal stdin write failed", "session_id", s.ID, "error", err)
					return
				}
				s.touch()

			case evResize:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := s.backend.ResizeEnvironment(ctx, s.EnvID, ev.cols, ev.rows); err != nil {
					slog.Warn("terminal resize failed", "session_id", s.ID, "error", err)
				}
				cancel()
				s.touch()

			case evClose:
				return
			}

		case <-s.done:
			return
		}
	}
}

// pumpOutput copies environment output to the emit callback as it
// arrives. Emission stops the moment the session leaves Active.
func (s *Session) pumpOutput() {
	buf := make([]byte, 4096)
	for {
		n, err := s.streams.Read(buf)
		if n > 0 {
			s.mu.Lock()
			if s.state != StateActive {
				s.mu.Unlock()
				return
			}
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.mu.Unlock()
			s.emit(chunk)
		}
		if err != nil {
			// Environment exited on its own; close the session.
			go s.Close()
			return
		}
	}
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// shutdown stops and removes the environment, releases the workspace and
// marks the session Closed. Runs exactly once, on every exit path of run.
func (s *Session) shutdown() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.backend.StopEnvironment(ctx, s.EnvID); err != nil {
		slog.Warn("failed to stop session environment", "session_id", s.ID, "error", err)
	}
	if err := s.backend.RemoveEnvironment(ctx, s.EnvID); err != nil {
		slog.Warn("failed to remove session environment", "session_id", s.ID, "error", err)
	}
	s.streams.Close()
	s.workspaces.Release(s.ws)

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	// Evict before releasing waiters so a freed session slot is visible
	// as soon as Wait returns.
	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)

	slog.Info("terminal session closed", "session_id", s.ID)
}
