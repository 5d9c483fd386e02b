package registry

import (
	"context"
	"reflect"
	"testing"

	"github.com/csisgpt/arbwatch/internal/adapters"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

type stubAdapter struct {
	name       string
	tickerSubs []schema.InstrumentMapping
	candleSubs []schema.InstrumentMapping
	timeframes []schema.Timeframe
}

func (s *stubAdapter) Name() string                  { return s.name }
func (s *stubAdapter) Start(context.Context) error   { return nil }
func (s *stubAdapter) Stop() error                   { return nil }
func (s *stubAdapter) SetScale(*symbols.ScalePolicy) {}
func (s *stubAdapter) Events() <-chan adapters.Event { return nil }
func (s *stubAdapter) Health() schema.ProviderHealth {
	return schema.ProviderHealth{Provider: s.name, Connected: true}
}

func (s *stubAdapter) SubscribeTickers(mappings []schema.InstrumentMapping) error {
	s.tickerSubs = mappings
	return nil
}

func (s *stubAdapter) SubscribeCandles(mappings []schema.InstrumentMapping, timeframes []schema.Timeframe) error {
	s.candleSubs = mappings
	s.timeframes = timeframes
	return nil
}

func (s *stubAdapter) FetchTickers(context.Context, []schema.InstrumentMapping) ([]schema.Ticker, error) {
	return nil, nil
}

func (s *stubAdapter) FetchCandles(context.Context, schema.InstrumentMapping, schema.Timeframe, int) ([]schema.Candle, error) {
	return nil, nil
}

func TestSetActiveSymbolsNormalizesAndDeduplicates(t *testing.T) {
	r := New(nil, nil)
	r.SetActiveSymbols([]string{" btcusdt ", "ETHUSDT", "BTCUSDT", "", "XYZQQQ"})
	got := r.ActiveSymbols()
	want := []string{"BTCUSDT", "ETHUSDT"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("active symbols = %v, want %v", got, want)
	}
}

func TestEnabledProvidersExcludesUnknownNames(t *testing.T) {
	a := &stubAdapter{name: "binance"}
	b := &stubAdapter{name: "kraken"}
	r := New([]string{"kraken", "nonexistent", "binance"}, []adapters.Adapter{a, b})
	enabled := r.EnabledProviders()
	if len(enabled) != 2 {
		t.Fatalf("enabled = %d adapters, want 2", len(enabled))
	}
	if enabled[0].Name() != "kraken" || enabled[1].Name() != "binance" {
		t.Fatalf("unexpected order: %s, %s", enabled[0].Name(), enabled[1].Name())
	}
}

func TestMappingsForProviderAppliesDialect(t *testing.T) {
	r := New(nil, nil)
	r.SetActiveSymbols([]string{"BTCUSD"})
	mappings := r.MappingsForProvider("kraken")
	if len(mappings) != 1 {
		t.Fatalf("mappings = %d, want 1", len(mappings))
	}
	if mappings[0].ProviderSymbol != "XBT/USD" {
		t.Fatalf("provider symbol = %s, want XBT/USD", mappings[0].ProviderSymbol)
	}
}

func TestApplySubscriptionsPushesMappings(t *testing.T) {
	a := &stubAdapter{name: "binance"}
	r := New([]string{"binance"}, []adapters.Adapter{a})
	r.SetActiveSymbols([]string{"BTCUSDT", "ETHUSDT"})
	r.ApplySubscriptions([]schema.Timeframe{schema.Timeframe1m})

	if len(a.tickerSubs) != 2 || len(a.candleSubs) != 2 {
		t.Fatalf("subscriptions not applied: %d tickers, %d candles", len(a.tickerSubs), len(a.candleSubs))
	}
	if a.tickerSubs[0].ProviderSymbol != "BTCUSDT" {
		t.Fatalf("unexpected mapping %+v", a.tickerSubs[0])
	}
	if len(a.timeframes) != 1 || a.timeframes[0] != schema.Timeframe1m {
		t.Fatalf("unexpected timeframes %v", a.timeframes)
	}
}
