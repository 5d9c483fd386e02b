// Package snapshot provides the shared market snapshot store: the latest
// ticker and recent final candles per (symbol, provider), with a short TTL so
// a disconnected provider's last value ages out rather than being reused.
package snapshot

import (
	"sync"
	"time"

	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	sweepInterval     = 30 * time.Second
	defaultMaxCandles = 500
)

// Key identifies one (symbol, provider) slot.
type Key struct {
	Symbol   string
	Provider string
}

type tickerEntry struct {
	ticker    schema.Ticker
	updatedAt time.Time
}

type candleKey struct {
	Symbol    string
	Provider  string
	Timeframe schema.Timeframe
}

// Store holds the most recent market state. Writers are the provider ingest
// path (single writer per key); readers are the detection engines.
type Store struct {
	mu         sync.RWMutex
	tickers    map[Key]tickerEntry
	candles    map[candleKey][]schema.Candle
	ttl        time.Duration
	staleness  time.Duration
	maxCandles int
	clock      func() time.Time
	shutdown   chan struct{}
	once       sync.Once
}

// Option tweaks store construction.
type Option func(*Store)

// WithClock injects a deterministic clock, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMaxCandles bounds the per-slot candle history.
func WithMaxCandles(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxCandles = n
		}
	}
}

// New creates a snapshot store. Entries older than ttl are pruned; entries
// older than staleness are treated as absent by readers and counted
// separately from "no data".
func New(ttl, staleness time.Duration, opts ...Option) *Store {
	store := new(Store)
	store.tickers = make(map[Key]tickerEntry)
	store.candles = make(map[candleKey][]schema.Candle)
	store.ttl = ttl
	store.staleness = staleness
	store.maxCandles = defaultMaxCandles
	store.clock = time.Now
	store.shutdown = make(chan struct{})
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	go store.sweepExpired()
	return store
}

// PutTicker stores the latest ticker for its (symbol, provider) slot.
func (s *Store) PutTicker(ticker schema.Ticker) {
	key := Key{Symbol: ticker.Symbol, Provider: ticker.Provider}
	s.mu.Lock()
	s.tickers[key] = tickerEntry{ticker: ticker, updatedAt: s.clock()}
	s.mu.Unlock()
}

// PutCandle appends a final candle to the slot history. In-progress candles
// are ephemeral and never retained.
func (s *Store) PutCandle(candle schema.Candle) {
	if !candle.IsFinal {
		return
	}
	key := candleKey{Symbol: candle.Symbol, Provider: candle.Provider, Timeframe: candle.Timeframe}
	s.mu.Lock()
	history := s.candles[key]
	if n := len(history); n > 0 && history[n-1].OpenTime.Equal(candle.OpenTime) {
		history[n-1] = candle
	} else {
		history = append(history, candle)
	}
	if len(history) > s.maxCandles {
		history = history[len(history)-s.maxCandles:]
	}
	s.candles[key] = history
	s.mu.Unlock()
}

// Candles returns a copy of the stored history for the slot, oldest first.
func (s *Store) Candles(symbol, provider string, timeframe schema.Timeframe) []schema.Candle {
	key := candleKey{Symbol: symbol, Provider: provider, Timeframe: timeframe}
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.candles[key]
	out := make([]schema.Candle, len(history))
	copy(out, history)
	return out
}

// View is a point-in-time read across all symbols and providers: the unit of
// input to a detection scan.
type View struct {
	TakenAt    time.Time
	Tickers    map[string]map[string]schema.Ticker // symbol -> provider -> ticker
	StaleCount int
}

// Providers returns the per-provider tickers observed for the symbol.
func (v *View) Providers(symbol string) map[string]schema.Ticker {
	if v == nil || v.Tickers == nil {
		return nil
	}
	return v.Tickers[symbol]
}

// Symbols lists the symbols present in the view.
func (v *View) Symbols() []string {
	out := make([]string, 0, len(v.Tickers))
	for symbol := range v.Tickers {
		out = append(out, symbol)
	}
	return out
}

// Snapshot captures the current fresh state. Stale entries are excluded and
// counted, both on the view and on the stale-reads metric.
func (s *Store) Snapshot() *View {
	now := s.clock()
	view := &View{
		TakenAt:    now,
		Tickers:    make(map[string]map[string]schema.Ticker),
		StaleCount: 0,
	}
	s.mu.RLock()
	for key, entry := range s.tickers {
		if now.Sub(entry.updatedAt) > s.staleness {
			view.StaleCount++
			continue
		}
		byProvider, ok := view.Tickers[key.Symbol]
		if !ok {
			byProvider = make(map[string]schema.Ticker)
			view.Tickers[key.Symbol] = byProvider
		}
		byProvider[key.Provider] = entry.ticker
	}
	s.mu.RUnlock()
	if view.StaleCount > 0 {
		observability.Telemetry().IncCounter(observability.MetricStaleReads, float64(view.StaleCount), nil)
	}
	return view
}

// Ticker returns the fresh ticker for one slot, distinguishing stale from
// missing for observability.
func (s *Store) Ticker(symbol, provider string) (schema.Ticker, bool) {
	now := s.clock()
	s.mu.RLock()
	entry, ok := s.tickers[Key{Symbol: symbol, Provider: provider}]
	s.mu.RUnlock()
	if !ok {
		observability.Telemetry().IncCounter(observability.MetricMissingReads, 1, nil)
		return schema.Ticker{}, false
	}
	if now.Sub(entry.updatedAt) > s.staleness {
		observability.Telemetry().IncCounter(observability.MetricStaleReads, 1, nil)
		return schema.Ticker{}, false
	}
	return entry.ticker, true
}

// Close stops background maintenance routines.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.shutdown)
	})
}

func (s *Store) sweepExpired() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.pruneExpired()
		}
	}
}

func (s *Store) pruneExpired() {
	if s.ttl <= 0 {
		return
	}
	now := s.clock()
	s.mu.Lock()
	for key, entry := range s.tickers {
		if now.Sub(entry.updatedAt) > s.ttl {
			delete(s.tickers, key)
		}
	}
	s.mu.Unlock()
}
