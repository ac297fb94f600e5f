package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
	"github.com/nikhilranga4/online-compiler-backend/internal/history"
	"github.com/nikhilranga4/online-compiler-backend/internal/language"
	"github.com/nikhilranga4/online-compiler-backend/internal/queue"
	"github.com/nikhilranga4/online-compiler-backend/internal/terminal"
)

// executeRequest is the body of POST /api/execute and POST /api/jobs.
type executeRequest struct {
	Language       string `json:"language"`
	SourceCode     string `json:"sourceCode"`
	Stdin          string `json:"stdin,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorKind string `json:"errorKind,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	langs := s.registry.Supported()
	ids := make([]string, 0, len(langs))
	for _, l := range langs {
		ids = append(ids, l.String())
	}
	writeJSON(w, http.StatusOK, map[string][]string{"languages": ids})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	res, err := s.exec.Run(r.Context(), executor.Request{
		ID:         uuid.New().String(),
		Language:   req.Language,
		SourceCode: req.SourceCode,
		Stdin:      req.Stdin,
	}, s.timeoutFor(req.TimeoutSeconds))
	if err != nil {
		writeExecError(w, err)
		return
	}

	s.record(res, req.Language)
	writeJSON(w, http.StatusOK, res)
}

// handleSubmitJob enqueues an execution and waits briefly for its result.
// If the result does not arrive in time the job id is returned so the
// caller can correlate the eventual outcome.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.producer == nil || s.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "job queue not configured"})
		return
	}

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	// Unknown languages are rejected here, before the job is enqueued.
	if _, err := s.registry.LookupString(req.Language); err != nil {
		writeExecError(w, err)
		return
	}

	job := queue.NewRunJob(req.Language, req.SourceCode, req.Stdin, req.TimeoutSeconds)

	resultCh := make(chan *queue.RunResult, 1)
	s.results.Subscribe(job.ID.String(), func(res *queue.RunResult) {
		select {
		case resultCh <- res:
		default:
		}
	})
	defer s.results.Unsubscribe(job.ID.String())

	if err := s.producer.PublishRunJob(r.Context(), job); err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to enqueue job"})
		return
	}

	wait := time.NewTimer(s.timeoutFor(req.TimeoutSeconds) + 5*time.Second)
	defer wait.Stop()

	select {
	case res := <-resultCh:
		s.record(&res.Result, req.Language)
		writeJSON(w, http.StatusOK, res)
	case <-wait.C:
		writeJSON(w, http.StatusAccepted, map[string]string{"jobId": job.ID.String()})
	case <-r.Context().Done():
	}
}

// handleJobStatus polls for an async job's result. Pending and unknown
// jobs are indistinguishable once a result ages out of the cache, so both
// report pending.
func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "job queue not configured"})
		return
	}

	id := r.PathValue("id")
	if res, ok := s.results.Result(id); ok {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "pending"})
}

// handleHistory lists recent execution records from the audit log.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "execution history not configured"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	records, err := s.history.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list executions", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "failed to list executions"})
		return
	}
	if records == nil {
		records = []*history.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

func (s *Server) timeoutFor(seconds int) time.Duration {
	if seconds > 0 {
		t := time.Duration(seconds) * time.Second
		if t < s.cfg.ExecTimeout {
			return t
		}
	}
	return s.cfg.ExecTimeout
}

// record stores the result in the execution history when configured.
func (s *Server) record(res *executor.Result, lang string) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Insert(ctx, res, lang); err != nil {
		slog.Warn("failed to record execution", "execution_id", res.ExecutionID, "error", err)
	}
}

func writeExecError(w http.ResponseWriter, err error) {
	kind := executor.KindForError(err)

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, language.ErrUnsupportedLanguage):
		status = http.StatusBadRequest
	case errors.Is(err, terminal.ErrMaxSessions):
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), ErrorKind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
