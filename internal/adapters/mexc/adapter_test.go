package mexc

import (
	"testing"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/internal/schema"
)

func TestParseBookTickerSynthesizesLast(t *testing.T) {
	a := New(config.ProviderSettings{})
	err := a.SubscribeTickers([]schema.InstrumentMapping{{
		Provider:       "mexc",
		Symbol:         "BTCUSDT",
		ProviderSymbol: "BTCUSDT",
		ProviderID:     "",
		MarketType:     schema.MarketTypeSpot,
		Active:         true,
	}})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	payload := []byte(`{"c":"spot@public.bookTicker.v3.api@BTCUSDT","s":"BTCUSDT","t":1700000000000,"d":{"b":"41999.0","B":"1.5","a":"42001.0","A":"2.0"}}`)
	parse(a.WSAdapter, payload)

	select {
	case ev := <-a.Events():
		if ev.Ticker == nil {
			t.Fatalf("expected ticker event")
		}
		if ev.Ticker.Last != 42000.0 {
			t.Fatalf("last = %v, want midpoint 42000", ev.Ticker.Last)
		}
		if ev.Ticker.Bid != 41999.0 || ev.Ticker.Ask != 42001.0 {
			t.Fatalf("unexpected quotes %+v", ev.Ticker)
		}
	default:
		t.Fatalf("no event emitted")
	}
}

func TestParseIgnoresPongFrames(t *testing.T) {
	a := New(config.ProviderSettings{})
	parse(a.WSAdapter, []byte(`{"id":0,"code":0,"msg":"PONG"}`))
	if got := a.Health().FailureCount; got != 0 {
		t.Fatalf("pong counted as failure: %d", got)
	}
}
