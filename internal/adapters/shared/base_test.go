package shared

import (
	"context"
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

func validTicker() schema.Ticker {
	return schema.Ticker{
		Provider:  "binance",
		Symbol:    "BTCUSDT",
		Timestamp: time.Now(),
		Last:      42000,
		Bid:       41990,
		Ask:       42010,
	}
}

func TestEmitTickerAppliesScalePolicy(t *testing.T) {
	b := NewWSAdapter("binance", "wss://example", Hooks{}, time.Minute)
	defer b.Stop()
	b.SetScale(symbols.NewScalePolicy(map[string]float64{"binance": 0.5}))

	b.EmitTicker(validTicker())

	select {
	case ev := <-b.Events():
		if ev.Ticker == nil {
			t.Fatal("expected a ticker event")
		}
		if ev.Ticker.Last != 21000 || ev.Ticker.Bid != 20995 || ev.Ticker.Ask != 21005 {
			t.Fatalf("emitted prices not scaled: %+v", ev.Ticker)
		}
	default:
		t.Fatal("no event emitted")
	}
}

func TestEmitCandleAppliesScalePolicy(t *testing.T) {
	b := NewWSAdapter("binance", "wss://example", Hooks{}, time.Minute)
	defer b.Stop()
	b.SetScale(symbols.NewScalePolicy(map[string]float64{"binance": 0.5}))

	b.EmitCandle(schema.Candle{
		Provider:  "binance",
		Symbol:    "BTCUSDT",
		Timeframe: schema.Timeframe1m,
		OpenTime:  time.Now(),
		Open:      42000,
		High:      42100,
		Low:       41900,
		Close:     42050,
		Volume:    3,
		IsFinal:   true,
	})

	select {
	case ev := <-b.Events():
		if ev.Candle == nil {
			t.Fatal("expected a candle event")
		}
		if ev.Candle.Close != 21025 || ev.Candle.Volume != 3 {
			t.Fatalf("emitted candle not scaled (volume must stay native): %+v", ev.Candle)
		}
	default:
		t.Fatal("no event emitted")
	}
}

func TestStopDuringEmitDoesNotPanic(t *testing.T) {
	tick := validTicker()
	for i := 0; i < 500; i++ {
		b := NewWSAdapter("binance", "wss://example", Hooks{}, time.Minute)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for j := 0; j < 16; j++ {
				b.EmitTicker(tick)
			}
		}()
		if err := b.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		<-done
	}
}

func TestPollerStopDuringPollDoesNotPanic(t *testing.T) {
	mapping := schema.InstrumentMapping{
		Provider:       "coingecko",
		Symbol:         "BTCUSDT",
		ProviderSymbol: "BTCUSDT",
		Active:         true,
	}
	fetch := func(context.Context, []schema.InstrumentMapping) ([]schema.Ticker, error) {
		t := validTicker()
		t.Provider = "coingecko"
		return []schema.Ticker{t, t, t}, nil
	}
	for i := 0; i < 500; i++ {
		p := NewPoller("coingecko", time.Minute, fetch)
		if err := p.SubscribeTickers([]schema.InstrumentMapping{mapping}); err != nil {
			t.Fatalf("SubscribeTickers: %v", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			p.pollOnce(context.Background())
		}()
		if err := p.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		<-done
	}
}

func TestPollerAppliesScalePolicy(t *testing.T) {
	mapping := schema.InstrumentMapping{
		Provider:       "coingecko",
		Symbol:         "BTCUSDT",
		ProviderSymbol: "BTCUSDT",
		Active:         true,
	}
	fetch := func(context.Context, []schema.InstrumentMapping) ([]schema.Ticker, error) {
		t := validTicker()
		t.Provider = "coingecko"
		return []schema.Ticker{t}, nil
	}
	p := NewPoller("coingecko", time.Minute, fetch)
	defer p.Stop()
	p.SetScale(symbols.NewScalePolicy(map[string]float64{"coingecko": 0.5}))
	if err := p.SubscribeTickers([]schema.InstrumentMapping{mapping}); err != nil {
		t.Fatalf("SubscribeTickers: %v", err)
	}

	p.pollOnce(context.Background())

	select {
	case ev := <-p.Events():
		if ev.Ticker == nil || ev.Ticker.Last != 21000 {
			t.Fatalf("polled ticker not scaled: %+v", ev.Ticker)
		}
	default:
		t.Fatal("no event emitted")
	}
}
