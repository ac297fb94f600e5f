package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/nikhilranga4/online-compiler-backend/internal/terminal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // auth is handled by the fronting layer
	},
}

// wsIncoming is a terminal event from the client.
type wsIncoming struct {
	Type string `json:"type"` // input, resize, close
	Data string `json:"data,omitempty"`
	Cols uint   `json:"cols,omitempty"`
	Rows uint   `json:"rows,omitempty"`
}

// wsOutgoing is a terminal event to the client.
type wsOutgoing struct {
	Type      string `json:"type"` // created, output, error
	SessionID string `json:"sessionId,omitempty"`
	Data      string `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
}

// handleTerminal upgrades the connection and binds it to a new terminal
// session. The connection owns the session: when it drops, the session
// closes.
func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		http.Error(w, "terminal sessions unavailable in degraded mode", http.StatusServiceUnavailable)
		return
	}

	lang := r.URL.Query().Get("language")
	if lang == "" {
		http.Error(w, "missing language parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Serializes writes: output pump and read loop both write frames.
	var writeMu sync.Mutex
	send := func(msg wsOutgoing) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("websocket write failed", "error", err)
		}
	}

	sess, err := s.sessions.Create(r.Context(), lang, func(data []byte) {
		send(wsOutgoing{Type: "output", Data: string(data)})
	})
	if err != nil {
		send(wsOutgoing{Type: "error", Message: err.Error()})
		return
	}
	// Connection drop closes the session; explicit close below is then a
	// no-op.
	defer sess.Close()

	send(wsOutgoing{Type: "created", SessionID: sess.ID})

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket read failed", "session_id", sess.ID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "input":
			if err := sess.Input(msg.Data); err != nil {
				send(wsOutgoing{Type: "error", Message: errorMessage(err)})
				if errors.Is(err, terminal.ErrInputAfterClose) {
					return
				}
			}

		case "resize":
			if err := sess.Resize(msg.Cols, msg.Rows); err != nil {
				send(wsOutgoing{Type: "error", Message: errorMessage(err)})
			}

		case "close":
			if err := sess.Close(); err != nil {
				slog.Warn("session close failed", "session_id", sess.ID, "error", err)
			}
			return

		default:
			send(wsOutgoing{Type: "error", Message: "unknown event type"})
		}
	}
}

func errorMessage(err error) string {
	if errors.Is(err, terminal.ErrInputAfterClose) {
		return "InputAfterClose"
	}
	if errors.Is(err, terminal.ErrSessionNotFound) {
		return "SessionNotFound"
	}
	return err.Error()
}
