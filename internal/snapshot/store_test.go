package snapshot

import (
	"sync"
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/internal/schema"
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

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := New(45*time.Second, 30*time.Second, WithClock(clock.Now))
	t.Cleanup(store.Close)
	return store, clock
}

func tick(provider, symbol string, last float64) schema.Ticker {
	return schema.Ticker{
		Provider: provider, Symbol: symbol,
		Timestamp: time.Now(), Last: last, Bid: last - 1, Ask: last + 1,
	}
}

func TestSnapshotGroupsBySymbol(t *testing.T) {
	store, _ := newTestStore(t)
	store.PutTicker(tick("binance", "BTCUSDT", 50000))
	store.PutTicker(tick("kraken", "BTCUSDT", 50010))
	store.PutTicker(tick("binance", "ETHUSDT", 3000))

	view := store.Snapshot()
	if len(view.Providers("BTCUSDT")) != 2 {
		t.Fatalf("expected 2 providers for BTCUSDT, got %d", len(view.Providers("BTCUSDT")))
	}
	if len(view.Providers("ETHUSDT")) != 1 {
		t.Fatalf("expected 1 provider for ETHUSDT, got %d", len(view.Providers("ETHUSDT")))
	}
	if view.StaleCount != 0 {
		t.Fatalf("expected no stale entries, got %d", view.StaleCount)
	}
}

func TestStaleEntryTreatedAsAbsentAndCounted(t *testing.T) {
	store, clock := newTestStore(t)
	store.PutTicker(tick("binance", "BTCUSDT", 50000))
	clock.Advance(5 * time.Minute)
	store.PutTicker(tick("kraken", "BTCUSDT", 50010))

	view := store.Snapshot()
	providers := view.Providers("BTCUSDT")
	if len(providers) != 1 {
		t.Fatalf("expected only the fresh provider, got %d", len(providers))
	}
	if _, ok := providers["kraken"]; !ok {
		t.Fatalf("expected kraken to survive, got %v", providers)
	}
	if view.StaleCount != 1 {
		t.Fatalf("expected 1 stale entry, got %d", view.StaleCount)
	}

	if _, ok := store.Ticker("BTCUSDT", "binance"); ok {
		t.Fatalf("stale single read should report absent")
	}
	if _, ok := store.Ticker("BTCUSDT", "kraken"); !ok {
		t.Fatalf("fresh single read should report present")
	}
}

func TestPruneExpiredRemovesAgedEntries(t *testing.T) {
	store, clock := newTestStore(t)
	store.PutTicker(tick("binance", "BTCUSDT", 50000))
	clock.Advance(time.Minute)
	store.pruneExpired()

	store.mu.RLock()
	remaining := len(store.tickers)
	store.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected pruned store, %d entries remain", remaining)
	}
}

func TestPutCandleKeepsOnlyFinal(t *testing.T) {
	store, _ := newTestStore(t)
	open := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store.PutCandle(schema.Candle{
		Provider: "binance", Symbol: "BTCUSDT", Timeframe: schema.Timeframe1m,
		OpenTime: open, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10, IsFinal: false,
	})
	if got := store.Candles("BTCUSDT", "binance", schema.Timeframe1m); len(got) != 0 {
		t.Fatalf("in-progress candle must not be retained, got %d", len(got))
	}

	store.PutCandle(schema.Candle{
		Provider: "binance", Symbol: "BTCUSDT", Timeframe: schema.Timeframe1m,
		OpenTime: open, Open: 1, High: 2, Low: 1, Close: 2, Volume: 10, IsFinal: true,
	})
	// Same open time replaces rather than duplicates.
	store.PutCandle(schema.Candle{
		Provider: "binance", Symbol: "BTCUSDT", Timeframe: schema.Timeframe1m,
		OpenTime: open, Open: 1, High: 3, Low: 1, Close: 3, Volume: 12, IsFinal: true,
	})
	got := store.Candles("BTCUSDT", "binance", schema.Timeframe1m)
	if len(got) != 1 {
		t.Fatalf("expected deduplicated history of 1, got %d", len(got))
	}
	if got[0].Close != 3 {
		t.Fatalf("expected replacement candle, close = %v", got[0].Close)
	}
}

func TestCandleHistoryBounded(t *testing.T) {
	store, _ := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 600; i++ {
		store.PutCandle(schema.Candle{
			Provider: "binance", Symbol: "BTCUSDT", Timeframe: schema.Timeframe1m,
			OpenTime: base.Add(time.Duration(i) * time.Minute),
			Open:     1, High: 2, Low: 1, Close: 2, Volume: 1, IsFinal: true,
		})
	}
	got := store.Candles("BTCUSDT", "binance", schema.Timeframe1m)
	if len(got) != defaultMaxCandles {
		t.Fatalf("expected history capped at %d, got %d", defaultMaxCandles, len(got))
	}
	if !got[len(got)-1].OpenTime.Equal(base.Add(599 * time.Minute)) {
		t.Fatalf("expected newest candle retained")
	}
}
