package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nikhilranga4/online-compiler-backend/internal/executor"
)

// Consumer consumes run jobs from the queue and executes them through the
// batch execution contract.
type Consumer struct {
	conn        *Connection
	exec        executor.Executor
	producer    *Producer
	workers     int
	prefetch    int
	execTimeout time.Duration
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers     int           // Number of concurrent workers
	Prefetch    int           // Prefetch count per worker
	ExecTimeout time.Duration // Fallback wall-clock limit per job
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:     3,
		Prefetch:    1, // Process one at a time per worker for fairness
		ExecTimeout: 10 * time.Second,
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, exec executor.Executor, cfg ConsumerConfig) *Consumer {
	if cfg.Workers <= 0 {
		cfg.Workers = 3
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = 10 * time.Second
	}

	return &Consumer{
		conn:        conn,
		exec:        exec,
		producer:    NewProducer(conn),
		workers:     cfg.Workers,
		prefetch:    cfg.Prefetch,
		execTimeout: cfg.ExecTimeout,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	// Set QoS (prefetch)
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		RunQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	slog.Info("starting run queue consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

// worker processes messages from the queue
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	slog.Info("worker started", "worker_id", id)

	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				slog.Info("message channel closed", "worker_id", id)
				return
			}

			c.processMessage(ctx, id, msg)
		}
	}
}

// processMessage handles a single message
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	var job RunJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		slog.Error("failed to unmarshal job",
			"worker_id", workerID,
			"error", err,
		)
		// Reject without requeue for malformed messages
		_ = msg.Reject(false)
		return
	}

	slog.Info("processing run job",
		"worker_id", workerID,
		"job_id", job.ID,
		"language", job.Language,
	)

	res, err := c.exec.Run(ctx, job.Request(), job.Timeout(c.execTimeout))
	if err != nil {
		slog.Error("job execution failed",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
		res = executor.ResultFromError(job.ID.String(), err)
	} else {
		slog.Info("job completed",
			"worker_id", workerID,
			"job_id", job.ID,
			"status", res.Status,
			"duration", res.Duration,
		)
	}

	result := &RunResult{
		JobID:       job.ID,
		Result:      *res,
		CompletedAt: time.Now(),
	}
	if err := c.producer.PublishResult(ctx, result); err != nil {
		slog.Error("failed to publish result",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}

	if err := msg.Ack(false); err != nil {
		slog.Error("failed to ack message",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	slog.Info("consumer stopped")
}

// recentResultsLimit bounds the in-memory result cache used for job
// status polling.
const recentResultsLimit = 256

// ResultConsumer consumes run results for the API server so it can route
// them back to waiting clients, keeping a bounded cache of recent results
// for polling.
type ResultConsumer struct {
	conn       *Connection
	handlers   map[string]ResultHandler
	handlersMu sync.RWMutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup

	recentMu sync.Mutex
	recent   map[string]*RunResult
	order    []string
}

// ResultHandler handles a run result for a specific job
type ResultHandler func(result *RunResult)

// NewResultConsumer creates a result consumer
func NewResultConsumer(conn *Connection) *ResultConsumer {
	return &ResultConsumer{
		conn:     conn,
		handlers: make(map[string]ResultHandler),
		recent:   make(map[string]*RunResult),
	}
}

// Subscribe registers a handler for results of a specific job
func (rc *ResultConsumer) Subscribe(jobID string, handler ResultHandler) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	rc.handlers[jobID] = handler
}

// Unsubscribe removes a handler
func (rc *ResultConsumer) Unsubscribe(jobID string) {
	rc.handlersMu.Lock()
	defer rc.handlersMu.Unlock()
	delete(rc.handlers, jobID)
}

// Start begins consuming results
func (rc *ResultConsumer) Start(ctx context.Context) error {
	ctx, rc.cancelFunc = context.WithCancel(ctx)

	ch := rc.conn.Channel()

	msgs, err := ch.Consume(
		ResultQueueName,
		"",    // consumer tag
		true,  // auto-ack (results are fire-and-forget)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start result consumer: %w", err)
	}

	rc.wg.Add(1)
	go rc.consume(ctx, msgs)

	return nil
}

func (rc *ResultConsumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer rc.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			var result RunResult
			if err := json.Unmarshal(msg.Body, &result); err != nil {
				slog.Error("failed to unmarshal result", "error", err)
				continue
			}

			rc.remember(&result)

			rc.handlersMu.RLock()
			handler, ok := rc.handlers[result.JobID.String()]
			rc.handlersMu.RUnlock()

			if ok {
				handler(&result)
			}
		}
	}
}

// Result returns a recently delivered result for a job, if it is still
// in the cache.
func (rc *ResultConsumer) Result(jobID string) (*RunResult, bool) {
	rc.recentMu.Lock()
	defer rc.recentMu.Unlock()
	res, ok := rc.recent[jobID]
	return res, ok
}

func (rc *ResultConsumer) remember(result *RunResult) {
	rc.recentMu.Lock()
	defer rc.recentMu.Unlock()

	id := result.JobID.String()
	if _, exists := rc.recent[id]; !exists {
		rc.order = append(rc.order, id)
	}
	rc.recent[id] = result

	for len(rc.order) > recentResultsLimit {
		oldest := rc.order[0]
		rc.order = rc.order[1:]
		delete(rc.recent, oldest)
	}
}

// Stop stops the result consumer
func (rc *ResultConsumer) Stop() {
	if rc.cancelFunc != nil {
		rc.cancelFunc()
	}
	rc.wg.Wait()
}
