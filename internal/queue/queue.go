// Package queue runs background jobs on a fixed worker pool with a shared
// rate limit and bounded retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Job is one unit of work. Payload is interpreted by the Handler.
type Job struct {
	ID      string
	Name    string
	Payload any
}

// Handler processes a job. Wrap an error with backoff.Permanent to stop retrying.
type Handler func(ctx context.Context, job Job) error

// FailureHook runs once a job has exhausted its attempts.
type FailureHook func(ctx context.Context, job Job, err error)

// Observer receives queue events for metrics.
type Observer interface {
	EmailJob(outcome string)
	QueueDepth(n int)
}

type Config struct {
	Workers     int
	RatePerSec  float64
	MaxAttempts uint
	Backoff     time.Duration
	Buffer      int
}

type Queue struct {
	cfg       Config
	handler   Handler
	onFailure FailureHook
	observer  Observer
	limiter   *rate.Limiter
	logger    *slog.Logger

	jobs   chan Job
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a queue. Call Start to launch the workers.
func New(cfg Config, handler Handler, logger *slog.Logger) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = 1
	}

	limit := rate.Inf
	burst := cfg.Workers
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	return &Queue{
		cfg:     cfg,
		handler: handler,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		jobs:    make(chan Job, cfg.Buffer),
	}
}

// OnFailure sets the hook for jobs that exhausted their retries.
func (q *Queue) OnFailure(hook FailureHook) {
	q.onFailure = hook
}

// SetObserver attaches a metrics observer.
func (q *Queue) SetObserver(o Observer) {
	q.observer = o
}

// Enqueue adds job without blocking. It fails fast when the buffer is full so
// callers can compensate synchronously.
func (q *Queue) Enqueue(job Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.depth()
		return nil
	default:
		q.observe("dropped")
		return fmt.Errorf("enqueue %s: %w", job.Name, ErrQueueFull)
	}
}

// Start launches the workers. They stop when ctx is cancelled or after
// Shutdown drains the buffer.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	q.logger.Info("queue started",
		slog.Int("workers", q.cfg.Workers),
		slog.Float64("rate_per_sec", q.cfg.RatePerSec),
		slog.Uint64("max_attempts", uint64(q.cfg.MaxAttempts)))
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to expire.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len is the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.jobs)
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			q.depth()
			q.process(ctx, id, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, worker int, job Job) {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := q.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		attempt++
		return struct{}{}, q.handler(ctx, job)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(q.cfg.Backoff)),
		backoff.WithMaxTries(q.cfg.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.observe("retried")
			q.logger.Warn("job attempt failed",
				slog.String("job_id", job.ID),
				slog.String("job", job.Name),
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", next),
				slog.Any("error", err))
		}),
	)

	if err == nil {
		q.observe("sent")
		q.logger.Debug("job completed",
			slog.String("job_id", job.ID),
			slog.String("job", job.Name),
			slog.Int("worker", worker))
		return
	}

	q.observe("failed")
	q.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("job", job.Name),
		slog.Int("attempts", attempt),
		slog.Any("error", err))

	if q.onFailure != nil {
		// The worker context may already be cancelled during shutdown; the
		// compensation still has to run.
		hookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		q.onFailure(hookCtx, job, err)
	}
}

func (q *Queue) observe(outcome string) {
	if q.observer != nil {
		q.observer.EmailJob(outcome)
	}
}

func (q *Queue) depth() {
	if q.observer != nil {
		q.observer.QueueDepth(len(q.jobs))
	}
}
