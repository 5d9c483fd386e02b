package kraken

import (
	"testing"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/internal/schema"
)

func testMapping(symbol, native string) schema.InstrumentMapping {
	return schema.InstrumentMapping{
		Provider:       "kraken",
		Symbol:         symbol,
		ProviderSymbol: native,
		ProviderID:     "",
		MarketType:     schema.MarketTypeSpot,
		Active:         true,
	}
}

func TestParseTickerArrayFrame(t *testing.T) {
	a := New(config.ProviderSettings{})
	if err := a.SubscribeTickers([]schema.InstrumentMapping{testMapping("BTCUSD", "XBT/USD")}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	payload := []byte(`[340,{"a":["42001.1",1,"1.000"],"b":["41999.9",1,"1.000"],"c":["42000.5","0.1"],"v":["100.0","250.0"]},"ticker","XBT/USD"]`)
	parse(a.WSAdapter, payload)

	select {
	case ev := <-a.Events():
		if ev.Ticker == nil {
			t.Fatalf("expected ticker event")
		}
		if ev.Ticker.Symbol != "BTCUSD" {
			t.Fatalf("symbol = %s, want BTCUSD", ev.Ticker.Symbol)
		}
		if ev.Ticker.Last != 42000.5 || ev.Ticker.Bid != 41999.9 || ev.Ticker.Ask != 42001.1 {
			t.Fatalf("unexpected prices %+v", ev.Ticker)
		}
		if ev.Ticker.Volume24h != 250.0 {
			t.Fatalf("volume = %v, want 250", ev.Ticker.Volume24h)
		}
	default:
		t.Fatalf("no event emitted")
	}
}

func TestParseIgnoresEventFrames(t *testing.T) {
	a := New(config.ProviderSettings{})
	parse(a.WSAdapter, []byte(`{"event":"heartbeat"}`))
	parse(a.WSAdapter, []byte(`{"event":"systemStatus","status":"online"}`))
	if got := a.Health().FailureCount; got != 0 {
		t.Fatalf("event frames counted as failures: %d", got)
	}
	select {
	case ev := <-a.Events():
		t.Fatalf("event frame produced data: %+v", ev)
	default:
	}
}

func TestParseOHLCFrame(t *testing.T) {
	a := New(config.ProviderSettings{})
	if err := a.SubscribeCandles([]schema.InstrumentMapping{testMapping("BTCUSD", "XBT/USD")},
		[]schema.Timeframe{schema.Timeframe1m}); err != nil {
		t.Fatalf("subscribe candles: %v", err)
	}
	payload := []byte(`[42,["1700000000.1","1700000060.0","42000.0","42100.0","41900.0","42050.0","42010.0","12.5",30],"ohlc-1","XBT/USD"]`)
	parse(a.WSAdapter, payload)

	select {
	case ev := <-a.Events():
		if ev.Candle == nil {
			t.Fatalf("expected candle event")
		}
		if ev.Candle.Open != 42000.0 || ev.Candle.Close != 42050.0 || ev.Candle.Volume != 12.5 {
			t.Fatalf("unexpected candle %+v", ev.Candle)
		}
		if ev.Candle.Timeframe != schema.Timeframe1m {
			t.Fatalf("timeframe = %s", ev.Candle.Timeframe)
		}
	default:
		t.Fatalf("no event emitted")
	}
}
