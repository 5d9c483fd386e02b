// Package scheduler runs named periodic jobs. A tick that fires while the
// previous run is still in flight is skipped, never queued.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/csisgpt/arbwatch/internal/observability"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler owns a set of periodic jobs, each on its own timer so a slow job
// never stalls the others.
type Scheduler struct {
	jobs    []Job
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	started bool
}

// New constructs an empty scheduler.
func New() *Scheduler {
	return &Scheduler{
		jobs:    nil,
		cancel:  nil,
		wg:      conc.WaitGroup{},
		started: false,
	}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	if interval <= 0 || run == nil {
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches one timer loop per job.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, job := range s.jobs {
		job := job
		s.wg.Go(func() { s.runLoop(ctx, job) })
	}
}

// Stop cancels all loops and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.started = false
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	var inFlight atomic.Bool
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	var runs conc.WaitGroup
	defer runs.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !inFlight.CompareAndSwap(false, true) {
				observability.Telemetry().IncCounter(observability.MetricScanSkipped, 1,
					map[string]string{"job": job.Name})
				observability.Log().Debug("tick skipped, previous run in flight",
					observability.F("job", job.Name))
				continue
			}
			runs.Go(func() {
				defer inFlight.Store(false)
				job.Run(ctx)
			})
		}
	}
}
