package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestOverlappingTicksAreSkippedNotQueued(t *testing.T) {
	s := New()
	var (
		active  atomic.Int64
		maxSeen atomic.Int64
		runs    atomic.Int64
	)
	s.Add("slow", 10*time.Millisecond, func(context.Context) {
		now := active.Add(1)
		for {
			seen := maxSeen.Load()
			if now <= seen || maxSeen.CompareAndSwap(seen, now) {
				break
			}
		}
		runs.Add(1)
		time.Sleep(35 * time.Millisecond)
		active.Add(-1)
	})
	s.Start()
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	if maxSeen.Load() != 1 {
		t.Fatalf("max concurrent runs = %d, want 1", maxSeen.Load())
	}
	got := runs.Load()
	if got < 2 {
		t.Fatalf("runs = %d, want the job to keep firing after skips", got)
	}
	// 200ms of 10ms ticks with a 35ms body: most ticks must be dropped.
	if got > 8 {
		t.Fatalf("runs = %d, overlapping ticks were queued instead of skipped", got)
	}
}

func TestStopWaitsForInFlightRun(t *testing.T) {
	s := New()
	done := make(chan struct{})
	var finished atomic.Bool
	s.Add("once", 5*time.Millisecond, func(context.Context) {
		select {
		case <-done:
		case <-time.After(50 * time.Millisecond):
		}
		finished.Store(true)
	})
	s.Start()
	time.Sleep(15 * time.Millisecond)
	close(done)
	s.Stop()
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight run finished")
	}
}

func TestAddRejectsInvalidJobs(t *testing.T) {
	s := New()
	s.Add("", 0, nil)
	s.Add("noop", -time.Second, func(context.Context) {})
	if len(s.jobs) != 0 {
		t.Fatalf("jobs = %d, want 0", len(s.jobs))
	}
	s.Start()
	s.Stop()
}
