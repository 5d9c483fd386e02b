package kv

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/csisgpt/arbwatch/errs"
)

const sweepInterval = 30 * time.Second

// MemoryStore is an in-memory implementation of the expiring Store.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*entry
	clock    func() time.Time
	shutdown chan struct{}
	once     sync.Once
}

type entry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// NewMemoryStore creates a memory-backed expiring store.
func NewMemoryStore() *MemoryStore {
	store := new(MemoryStore)
	store.entries = make(map[string]*entry)
	store.clock = time.Now
	store.shutdown = make(chan struct{})
	go store.sweepExpired()
	return store
}

// NewMemoryStoreWithClock creates a store with an injected clock, for tests.
func NewMemoryStoreWithClock(clock func() time.Time) *MemoryStore {
	store := new(MemoryStore)
	store.entries = make(map[string]*entry)
	store.clock = clock
	store.shutdown = make(chan struct{})
	return store
}

// Get returns the live value for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctxErr(ctx, "get"); err != nil {
		return "", false, err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		if ok {
			delete(s.entries, key)
		}
		return "", false, nil
	}
	return e.value, true, nil
}

// SetTTL stores value under key, replacing any existing entry.
func (s *MemoryStore) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctxErr(ctx, "set"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &entry{value: value, expiresAt: s.deadline(ttl)}
	return nil
}

// SetNX stores value only when key is absent or expired.
func (s *MemoryStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := ctxErr(ctx, "setnx"); err != nil {
		return false, err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.entries[key] = &entry{value: value, expiresAt: s.deadline(ttl)}
	return true, nil
}

// Incr atomically increments the integer stored at key.
func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	if err := ctxErr(ctx, "incr"); err != nil {
		return 0, err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		s.entries[key] = &entry{value: "1", expiresAt: time.Time{}}
		return 1, nil
	}
	current, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, errs.New("", errs.CodeInvalid,
			errs.WithMessage("increment of non-integer value"),
			errs.WithField("key", key))
	}
	current++
	e.value = strconv.FormatInt(current, 10)
	return current, nil
}

// Expire updates the time-to-live of an existing key.
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctxErr(ctx, "expire"); err != nil {
		return false, err
	}
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		return false, nil
	}
	e.expiresAt = s.deadline(ttl)
	return true, nil
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() {
	s.once.Do(func() {
		close(s.shutdown)
	})
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.clock().Add(ttl)
}

func (s *MemoryStore) sweepExpired() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			now := s.clock()
			s.mu.Lock()
			for key, e := range s.entries {
				if e.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

func ctxErr(ctx context.Context, op string) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("kv %s context: %w", op, ctx.Err())
	default:
		return nil
	}
}
