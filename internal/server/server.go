package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/nikhilranga4/online-compiler-backend/internal/config"
	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
	"github.com/nikhilranga4/online-compiler-backend/internal/history"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/queue"
	"github.com/nikhilranga4/online-compiler-backend/internal/terminal"
)

// Server is the compiler API server: synchronous batch execution,
// asynchronous jobs over the queue, and websocket terminal sessions.
type Server struct {
	cfg    *config.Config
	server *http.Server
	router *http.ServeMux

	registry *language.Registry
	exec     executor.Executor
	sessions *terminal.Manager

	// Optional collaborators, nil when not configured.
	producer *queue.Producer
	results  *queue.ResultConsumer
	history  *history.Repository
}

// Options carries the server's collaborators.
type Options struct {
	Config   *config.Config
	Registry *language.Registry
	Executor executor.Executor
	Sessions *terminal.Manager
	Producer *queue.Producer
	Results  *queue.ResultConsumer
	History  *history.Repository
}

// New creates a server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		router:   http.NewServeMux(),
		registry: opts.Registry,
		exec:     opts.Executor,
		sessions: opts.Sessions,
		producer: opts.Producer,
		results:  opts.Results,
		history:  opts.History,
	}

	s.router.HandleFunc("GET /healthz", s.handleHealth)
	s.router.HandleFunc("GET /api/languages", s.handleLanguages)
	s.router.HandleFunc("POST /api/execute", s.handleExecute)
	s.router.HandleFunc("POST /api/jobs", s.handleSubmitJob)
	s.router.HandleFunc("GET /api/jobs/{id}", s.handleJobStatus)
	s.router.HandleFunc("GET /api/executions", s.handleHistory)
	s.router.HandleFunc("GET /api/terminal", s.handleTerminal)

	handler := correlationIDMiddleware(loggingMiddleware(s.router))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Config.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server and closes all terminal sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.sessions != nil {
		s.sessions.CloseAll()
	}
	return s.server.Shutdown(ctx)
}
