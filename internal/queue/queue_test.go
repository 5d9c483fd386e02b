package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/csisgpt/arbwatch/internal/store"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestQueueDeliversJobToHandler(t *testing.T) {
	mem := store.NewMemory()
	q := New(mem, Options{Workers: 2, ReplayInterval: 10 * time.Millisecond})

	var got atomic.Value
	q.Handle("send", func(_ context.Context, job store.Job) error {
		var payload map[string]string
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return err
		}
		got.Store(payload["text"])
		return nil
	})
	q.Start()
	defer q.Stop()

	if _, err := q.Enqueue(context.Background(), "send", map[string]string{"text": "hello"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool {
		v, _ := got.Load().(string)
		return v == "hello"
	})
	waitFor(t, func() bool {
		pending, err := mem.PendingJobs(context.Background(), 10)
		return err == nil && len(pending) == 0
	})
}

func TestQueueRetriesFailedJob(t *testing.T) {
	mem := store.NewMemory()
	q := New(mem, Options{
		Workers:        1,
		MaxAttempts:    5,
		RetryBackoff:   time.Millisecond,
		ReplayInterval: 10 * time.Millisecond,
	})

	var calls atomic.Int64
	q.Handle("flaky", func(context.Context, store.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	q.Start()
	defer q.Stop()

	if _, err := q.Enqueue(context.Background(), "flaky", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return calls.Load() >= 3 })
	waitFor(t, func() bool {
		pending, err := mem.PendingJobs(context.Background(), 10)
		return err == nil && len(pending) == 0
	})
}

func TestQueueStopsRetryingAfterMaxAttempts(t *testing.T) {
	mem := store.NewMemory()
	q := New(mem, Options{
		Workers:        1,
		MaxAttempts:    2,
		RetryBackoff:   time.Millisecond,
		ReplayInterval: 10 * time.Millisecond,
	})

	var calls atomic.Int64
	q.Handle("doomed", func(context.Context, store.Job) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	q.Start()
	defer q.Stop()

	if _, err := q.Enqueue(context.Background(), "doomed", nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitFor(t, func() bool { return calls.Load() == 2 })
	waitFor(t, func() bool {
		pending, err := mem.PendingJobs(context.Background(), 10)
		return err == nil && len(pending) == 0
	})
	time.Sleep(50 * time.Millisecond)
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want exactly 2", calls.Load())
	}
}

func TestQueueSurvivesRestart(t *testing.T) {
	mem := store.NewMemory()
	if _, err := mem.EnqueueJob(context.Background(), "send", []byte(`{"text":"queued before boot"}`), 3, time.Now()); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	q := New(mem, Options{Workers: 1, ReplayInterval: 10 * time.Millisecond})
	var handled atomic.Int64
	q.Handle("send", func(context.Context, store.Job) error {
		handled.Add(1)
		return nil
	})
	q.Start()
	defer q.Stop()

	waitFor(t, func() bool { return handled.Load() == 1 })
}
