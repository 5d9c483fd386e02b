// Package queue implements the durable delivery job queue: jobs are persisted
// before dispatch, handed to a worker pool, and replayed on an interval until
// delivered or their attempts are exhausted.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/store"
)

// Handler processes one claimed job. A returned error schedules a retry until
// the job's attempts are exhausted.
type Handler func(ctx context.Context, job store.Job) error

// Options tunes the queue.
type Options struct {
	Workers        int
	MaxAttempts    int
	RetryBackoff   time.Duration
	ReplayInterval time.Duration
	BatchSize      int
}

const (
	defaultWorkers        = 4
	defaultMaxAttempts    = 5
	defaultRetryBackoff   = 10 * time.Second
	maxRetryBackoff       = 5 * time.Minute
	defaultReplayInterval = 5 * time.Second
	defaultBatchSize      = 128
)

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.ReplayInterval <= 0 {
		o.ReplayInterval = defaultReplayInterval
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	return o
}

// Queue dispatches persisted jobs to registered handlers.
type Queue struct {
	jobs store.JobStore
	opts Options

	mu       sync.Mutex
	handlers map[string]Handler
	inFlight map[int64]struct{}
	started  bool

	dispatch chan store.Job
	cancel   context.CancelFunc
	wg       conc.WaitGroup
}

// New constructs a queue over the supplied job store.
func New(jobs store.JobStore, opts Options) *Queue {
	return &Queue{
		jobs:     jobs,
		opts:     opts.withDefaults(),
		mu:       sync.Mutex{},
		handlers: make(map[string]Handler),
		inFlight: make(map[int64]struct{}),
		started:  false,
		dispatch: nil,
		cancel:   nil,
		wg:       conc.WaitGroup{},
	}
}

// Handle registers the handler for a job name. Must be called before Start.
func (q *Queue) Handle(name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[name] = handler
}

// Enqueue persists a job for dispatch on the next replay tick.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (store.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return store.Job{}, errs.New("queue", errs.CodeInvalid,
			errs.WithMessage("encode job payload"),
			errs.WithCause(err))
	}
	job, err := q.jobs.EnqueueJob(ctx, name, raw, q.opts.MaxAttempts, time.Now())
	if err != nil {
		return store.Job{}, fmt.Errorf("queue: enqueue %s: %w", name, err)
	}
	return job, nil
}

// Start launches the worker pool and the replay loop.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.dispatch = make(chan store.Job)
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.mu.Unlock()

	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Go(func() { q.workerLoop(ctx) })
	}
	q.wg.Go(func() { q.replayLoop(ctx) })
}

// Stop halts replay and waits for in-flight handlers to finish.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
}

func (q *Queue) replayLoop(ctx context.Context) {
	ticker := time.NewTicker(q.opts.ReplayInterval)
	defer ticker.Stop()
	q.replayPending(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.replayPending(ctx)
		}
	}
}

func (q *Queue) replayPending(ctx context.Context) {
	jobs, err := q.jobs.PendingJobs(ctx, q.opts.BatchSize)
	if err != nil {
		observability.Log().Warn("queue replay list failed",
			observability.F("error", err.Error()))
		return
	}
	for _, job := range jobs {
		if !q.claim(job.ID) {
			continue
		}
		select {
		case <-ctx.Done():
			q.release(job.ID)
			return
		case q.dispatch <- job:
		}
	}
}

// claim guards against the same row being dispatched by overlapping replay
// ticks while a worker still holds it.
func (q *Queue) claim(id int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, held := q.inFlight[id]; held {
		return false
	}
	q.inFlight[id] = struct{}{}
	return true
}

func (q *Queue) release(id int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inFlight, id)
}

func (q *Queue) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.dispatch:
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job store.Job) {
	defer q.release(job.ID)

	q.mu.Lock()
	handler := q.handlers[job.Name]
	q.mu.Unlock()
	if handler == nil {
		observability.Log().Error("queue job without handler",
			observability.F("job", job.Name),
			observability.F("id", job.ID))
		_ = q.jobs.MarkJobFailed(ctx, job.ID, "no handler registered", time.Now().Add(q.retryDelay(job.Attempts)))
		return
	}

	if err := handler(ctx, job); err != nil {
		retryAt := time.Now().Add(q.retryDelay(job.Attempts))
		observability.Log().Warn("queue job failed",
			observability.F("job", job.Name),
			observability.F("id", job.ID),
			observability.F("attempt", job.Attempts+1),
			observability.F("error", err.Error()))
		if markErr := q.jobs.MarkJobFailed(ctx, job.ID, err.Error(), retryAt); markErr != nil {
			observability.Log().Error("queue mark failed",
				observability.F("id", job.ID),
				observability.F("error", markErr.Error()))
		}
		return
	}
	if err := q.jobs.MarkJobDone(ctx, job.ID); err != nil {
		observability.Log().Error("queue mark done",
			observability.F("id", job.ID),
			observability.F("error", err.Error()))
	}
}

func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := q.opts.RetryBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryBackoff {
			return maxRetryBackoff
		}
	}
	return delay
}
