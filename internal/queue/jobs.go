package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
)

// Queue names
const (
	RunQueueName    = "compiler.runs"
	ResultQueueName = "compiler.results"
)

// RunJob is one batch execution to be processed asynchronously.
type RunJob struct {
	ID             uuid.UUID `json:"id"`
	Language       string    `json:"language"`
	SourceCode     string    `json:"source_code"`
	Stdin          string    `json:"stdin,omitempty"`
	TimeoutSeconds int       `json:"timeout_seconds,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Request converts the job to an executor request.
func (j *RunJob) Request() executor.Request {
	return executor.Request{
		ID:         j.ID.String(),
		Language:   j.Language,
		SourceCode: j.SourceCode,
		Stdin:      j.Stdin,
	}
}

// Timeout returns the job's wall-clock limit, or fallback when unset.
func (j *RunJob) Timeout(fallback time.Duration) time.Duration {
	if j.TimeoutSeconds > 0 {
		return time.Duration(j.TimeoutSeconds) * time.Second
	}
	return fallback
}

// RunResult is the outcome of an asynchronously executed job.
type RunResult struct {
	JobID uuid.UUID `json:"job_id"`
	executor.Result
	CompletedAt time.Time `json:"completed_at"`
}

// NewRunJob creates a run job with a fresh id.
func NewRunJob(lang, sourceCode, stdin string, timeoutSeconds int) *RunJob {
	return &RunJob{
		ID:             uuid.New(),
		Language:       lang,
		SourceCode:     sourceCode,
		Stdin:          stdin,
		TimeoutSeconds: timeoutSeconds,
		CreatedAt:      time.Now(),
	}
}
