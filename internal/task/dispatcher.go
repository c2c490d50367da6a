package task

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/user/reposync/pkg/logger"
)

// Handler executes one job. A nil return marks the job done; an error
// carrying Transient() == true is re-enqueued with backoff, anything
// else is terminal.
type Handler interface {
	Run(ctx context.Context, job Job) error
}

// transientError is implemented by classified errors that are worth
// retrying (provider rate limits, 5xx, network failures).
type transientError interface {
	Transient() bool
}

func isRetryable(err error) bool {
	var te transientError
	return errors.As(err, &te) && te.Transient()
}

// Dispatcher owns the job queue and its worker pool. Enqueue never
// blocks on execution; retries are scheduled re-enqueues, not sleeps
// inside a worker.
type Dispatcher struct {
	handler     Handler
	queue       chan Job
	workers     int
	maxAttempts int
	baseDelay   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
}

// NewDispatcher creates a dispatcher with the given worker pool size,
// queue capacity and per-job attempt ceiling.
func NewDispatcher(handler Handler, workers, queueSize, maxAttempts int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		handler:     handler,
		queue:       make(chan Job, queueSize),
		workers:     workers,
		maxAttempts: maxAttempts,
		baseDelay:   2 * time.Second,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	g, _ := errgroup.WithContext(d.ctx)
	d.g = g
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			d.workerLoop()
			return nil
		})
	}
	logger.Info().Int("workers", d.workers).Msg("Dispatcher started")
}

// Stop drains nothing: it cancels the workers and waits for the one
// job each may be executing. Queued jobs are lost; the next sweep
// re-enqueues them, which is safe because every job is idempotent.
func (d *Dispatcher) Stop() {
	d.cancel()
	if d.g != nil {
		_ = d.g.Wait()
	}
	logger.Info().Msg("Dispatcher stopped")
}

// Enqueue adds a job to the queue without blocking. It reports false
// when the queue is full.
func (d *Dispatcher) Enqueue(job Job) bool {
	select {
	case d.queue <- job:
		return true
	default:
		logger.Warn().Str("job", job.String()).Msg("Job queue full, dropping job")
		return false
	}
}

func (d *Dispatcher) workerLoop() {
	for {
		select {
		case <-d.ctx.Done():
			return
		case job := <-d.queue:
			d.process(job)
		}
	}
}

func (d *Dispatcher) process(job Job) {
	err := d.handler.Run(d.ctx, job)
	if err == nil {
		logger.Debug().Str("job", job.String()).Msg("Job completed")
		return
	}

	if !isRetryable(err) {
		logger.Error().Err(err).
			Str("job", job.String()).
			Int64("repository_id", job.RepoID).
			Msg("Job failed terminally")
		return
	}

	next := job
	next.Attempt++
	if next.Attempt >= d.maxAttempts {
		logger.Error().Err(err).
			Str("job", job.String()).
			Int64("repository_id", job.RepoID).
			Int("attempts", d.maxAttempts).
			Msg("Job permanently failed after retries")
		return
	}

	delay := d.retryDelay(next.Attempt)
	logger.Warn().Err(err).
		Str("job", job.String()).
		Dur("delay", delay).
		Msg("Transient failure, scheduling retry")

	time.AfterFunc(delay, func() {
		if d.ctx.Err() != nil {
			return
		}
		d.Enqueue(next)
	})
}

// retryDelay returns the exponential backoff interval for the given
// attempt number (1-based for the first retry).
func (d *Dispatcher) retryDelay(attempt int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.baseDelay
	bo.RandomizationFactor = 0.2
	bo.MaxInterval = 5 * time.Minute

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}
