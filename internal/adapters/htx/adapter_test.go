package htx

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/internal/schema"
)

func compress(t *testing.T, payload string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(payload)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func subscribe(t *testing.T, a *Adapter) {
	t.Helper()
	mapping := schema.InstrumentMapping{
		Provider:       "htx",
		Symbol:         "BTCUSDT",
		ProviderSymbol: "btcusdt",
		ProviderID:     "",
		MarketType:     schema.MarketTypeSpot,
		Active:         true,
	}
	if err := a.SubscribeTickers([]schema.InstrumentMapping{mapping}); err != nil {
		t.Fatalf("subscribe tickers: %v", err)
	}
	if err := a.SubscribeCandles([]schema.InstrumentMapping{mapping},
		[]schema.Timeframe{schema.Timeframe1m}); err != nil {
		t.Fatalf("subscribe candles: %v", err)
	}
}

func TestParseGzippedTicker(t *testing.T) {
	a := New(config.ProviderSettings{})
	subscribe(t, a)
	payload := compress(t, `{"ch":"market.btcusdt.ticker","ts":1700000000000,"tick":{"lastPrice":42000.5,"bid":41999.9,"ask":42001.1,"vol":1234.5}}`)
	a.parse(a.WSAdapter, payload)

	select {
	case ev := <-a.Events():
		if ev.Ticker == nil || ev.Ticker.Last != 42000.5 || ev.Ticker.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatalf("no event emitted")
	}
}

func TestKlineFinalizedWhenNextBarOpens(t *testing.T) {
	a := New(config.ProviderSettings{})
	subscribe(t, a)

	first := compress(t, `{"ch":"market.btcusdt.kline.1min","ts":1700000030000,"tick":{"id":1700000000,"open":42000,"high":42100,"low":41900,"close":42050,"vol":10}}`)
	a.parse(a.WSAdapter, first)
	if ev := <-a.Events(); ev.Candle == nil || ev.Candle.IsFinal {
		t.Fatalf("live bar should not be final: %+v", ev)
	}

	second := compress(t, `{"ch":"market.btcusdt.kline.1min","ts":1700000070000,"tick":{"id":1700000060,"open":42050,"high":42060,"low":42040,"close":42055,"vol":2}}`)
	a.parse(a.WSAdapter, second)

	closed := <-a.Events()
	if closed.Candle == nil || !closed.Candle.IsFinal {
		t.Fatalf("previous bar should be emitted final: %+v", closed)
	}
	if closed.Candle.Close != 42050 {
		t.Fatalf("finalized wrong bar: %+v", closed.Candle)
	}
	live := <-a.Events()
	if live.Candle == nil || live.Candle.IsFinal {
		t.Fatalf("new live bar should not be final: %+v", live)
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	a := New(config.ProviderSettings{})
	// The pong is queued while disconnected rather than dropped.
	a.parse(a.WSAdapter, compress(t, `{"ping":1700000000000}`))
	if got := a.Health().FailureCount; got != 0 {
		t.Fatalf("ping counted as failure: %d", got)
	}
}
