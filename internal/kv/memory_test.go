package kv

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStoreWithClock(clock.Now)
	t.Cleanup(store.Close)
	return store, clock
}

func TestSetTTLExpires(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	if err := store.SetTTL(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("SetTTL() error = %v", err)
	}
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatalf("expected key present before expiry")
	}
	clock.Advance(11 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatalf("expected key expired")
	}
}

func TestSetNXOnlyFirstWins(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	set, err := store.SetNX(ctx, "cooldown", "1", time.Minute)
	if err != nil || !set {
		t.Fatalf("first SetNX = (%v, %v), want (true, nil)", set, err)
	}
	set, err = store.SetNX(ctx, "cooldown", "1", time.Minute)
	if err != nil || set {
		t.Fatalf("second SetNX = (%v, %v), want (false, nil)", set, err)
	}
	// Once expired the key may be claimed again.
	clock.Advance(2 * time.Minute)
	set, err = store.SetNX(ctx, "cooldown", "1", time.Minute)
	if err != nil || !set {
		t.Fatalf("post-expiry SetNX = (%v, %v), want (true, nil)", set, err)
	}
}

func TestIncrCountsFromZeroAndKeepsExpiry(t *testing.T) {
	store, clock := newTestStore(t)
	ctx := context.Background()

	n, err := store.Incr(ctx, "rate")
	if err != nil || n != 1 {
		t.Fatalf("first Incr = (%d, %v), want (1, nil)", n, err)
	}
	if ok, _ := store.Expire(ctx, "rate", time.Hour); !ok {
		t.Fatalf("Expire() on fresh counter should report present")
	}
	n, err = store.Incr(ctx, "rate")
	if err != nil || n != 2 {
		t.Fatalf("second Incr = (%d, %v), want (2, nil)", n, err)
	}
	clock.Advance(2 * time.Hour)
	n, err = store.Incr(ctx, "rate")
	if err != nil || n != 1 {
		t.Fatalf("Incr after window expiry = (%d, %v), want (1, nil)", n, err)
	}
}

func TestIncrRejectsNonInteger(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if err := store.SetTTL(ctx, "k", "abc", 0); err != nil {
		t.Fatalf("SetTTL() error = %v", err)
	}
	if _, err := store.Incr(ctx, "k"); err == nil {
		t.Fatalf("expected error incrementing non-integer value")
	}
}

func TestExpireMissingKey(t *testing.T) {
	store, _ := newTestStore(t)
	ok, err := store.Expire(context.Background(), "missing", time.Minute)
	if err != nil {
		t.Fatalf("Expire() error = %v", err)
	}
	if ok {
		t.Fatalf("Expire(missing) = true, want false")
	}
}

func TestConcurrentSetNXSingleWinner(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	wins := make(chan bool, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err := store.SetNX(ctx, "claim", "x", time.Minute)
			if err != nil {
				t.Errorf("SetNX() error = %v", err)
				return
			}
			wins <- set
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for set := range wins {
		if set {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one SetNX winner, got %d", winners)
	}
}
