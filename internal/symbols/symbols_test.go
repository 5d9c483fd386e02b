package symbols

import (
	"testing"

	"github.com/csisgpt/arbwatch/internal/schema"
)

func TestSplitRecognisesLongestQuoteFirst(t *testing.T) {
	cases := []struct {
		symbol string
		base   string
		quote  string
	}{
		{"BTCUSDT", "BTC", "USDT"},
		{"ETHBTC", "ETH", "BTC"},
		{"SOLUSDC", "SOL", "USDC"},
		{"EURUSD", "EUR", "USD"},
		{"BTCFDUSD", "BTC", "FDUSD"},
	}
	for _, tc := range cases {
		base, quote, err := Split(tc.symbol)
		if err != nil {
			t.Fatalf("Split(%s) error = %v", tc.symbol, err)
		}
		if base != tc.base || quote != tc.quote {
			t.Fatalf("Split(%s) = %s/%s, want %s/%s", tc.symbol, base, quote, tc.base, tc.quote)
		}
	}
}

func TestSplitRejectsUnknownQuote(t *testing.T) {
	if _, _, err := Split("BTCXYZ"); err == nil {
		t.Fatalf("expected error for unknown quote asset")
	}
}

func TestToProviderDialects(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"binance", "BTCUSDT"},
		{"okx", "BTC-USDT"},
		{"kucoin", "BTC-USDT"},
		{"gateio", "BTC_USDT"},
		{"htx", "btcusdt"},
		{"bitstamp", "btcusdt"},
		{"bitfinex", "tBTCUST"},
	}
	for _, tc := range cases {
		got, err := ToProvider(tc.provider, "BTCUSDT")
		if err != nil {
			t.Fatalf("ToProvider(%s) error = %v", tc.provider, err)
		}
		if got != tc.want {
			t.Fatalf("ToProvider(%s) = %q, want %q", tc.provider, got, tc.want)
		}
	}
}

func TestKrakenBaseAlias(t *testing.T) {
	got, err := ToProvider("kraken", "BTCUSD")
	if err != nil {
		t.Fatalf("ToProvider(kraken) error = %v", err)
	}
	if got != "XBT/USD" {
		t.Fatalf("ToProvider(kraken, BTCUSD) = %q, want XBT/USD", got)
	}

	back, err := FromProvider("kraken", "XBT/USD")
	if err != nil {
		t.Fatalf("FromProvider(kraken) error = %v", err)
	}
	if back != "BTCUSD" {
		t.Fatalf("FromProvider(kraken, XBT/USD) = %q, want BTCUSD", back)
	}
}

func TestRoundTripAllDialects(t *testing.T) {
	providers := []string{
		"binance", "bybit", "mexc", "bitget", "okx", "kucoin", "coinbase",
		"gateio", "cryptocom", "htx", "bitstamp", "kraken", "bitfinex",
	}
	for _, provider := range providers {
		for _, symbol := range []string{"BTCUSDT", "ETHUSD", "SOLUSDC"} {
			native, err := ToProvider(provider, symbol)
			if err != nil {
				t.Fatalf("ToProvider(%s, %s) error = %v", provider, symbol, err)
			}
			back, err := FromProvider(provider, native)
			if err != nil {
				t.Fatalf("FromProvider(%s, %s) error = %v", provider, native, err)
			}
			if back != symbol {
				t.Fatalf("round trip %s via %s: got %q", symbol, provider, back)
			}
		}
	}
}

func TestMappingsSkipsUnmappable(t *testing.T) {
	instruments := []schema.Instrument{
		{Symbol: "BTCUSDT", Base: "BTC", Quote: "USDT", Active: true},
		{Symbol: "BTCXYZ", Base: "BTC", Quote: "XYZ", Active: true},
		{Symbol: "ETHUSDT", Base: "ETH", Quote: "USDT", Active: false},
	}
	mapped, skipped := Mappings("okx", instruments)
	if len(mapped) != 1 {
		t.Fatalf("expected 1 mapping, got %d", len(mapped))
	}
	if mapped[0].ProviderSymbol != "BTC-USDT" {
		t.Fatalf("unexpected provider symbol %q", mapped[0].ProviderSymbol)
	}
	if len(skipped) != 1 || skipped[0] != "BTCXYZ" {
		t.Fatalf("expected BTCXYZ skipped, got %v", skipped)
	}
}

func TestScalePolicyExplicitFactorsOnly(t *testing.T) {
	policy := NewScalePolicy(map[string]float64{"exchangerate/USDTRY": 0.01})
	if got := policy.Apply("exchangerate", "USDTRY", 3200); got != 32 {
		t.Fatalf("Apply() = %v, want 32", got)
	}
	// No inference for unconfigured instruments, whatever the magnitude.
	if got := policy.Apply("exchangerate", "USDJPY", 15000); got != 15000 {
		t.Fatalf("Apply() = %v, want passthrough", got)
	}
}

func TestScalePolicyProviderWideFallback(t *testing.T) {
	policy := NewScalePolicy(map[string]float64{
		"htx":          0.5,
		"htx/DOGEUSDT": 100,
	})
	// Instrument key wins over the provider-wide factor.
	if got := policy.Apply("htx", "DOGEUSDT", 2); got != 200 {
		t.Fatalf("Apply() = %v, want 200", got)
	}
	if got := policy.Apply("htx", "BTCUSDT", 42000); got != 21000 {
		t.Fatalf("Apply() = %v, want 21000", got)
	}
	if got := policy.Apply("kraken", "BTCUSDT", 42000); got != 42000 {
		t.Fatalf("Apply() = %v, want passthrough", got)
	}
}

func TestScalePolicyAppliesToAllPriceFields(t *testing.T) {
	policy := NewScalePolicy(map[string]float64{"htx": 0.5})
	ticker := policy.ApplyTicker(schema.Ticker{Provider: "htx", Symbol: "BTCUSDT", Last: 42000, Bid: 41990, Ask: 42010})
	if ticker.Last != 21000 || ticker.Bid != 20995 || ticker.Ask != 21005 {
		t.Fatalf("ApplyTicker() = %+v", ticker)
	}
	candle := policy.ApplyCandle(schema.Candle{Provider: "htx", Symbol: "BTCUSDT", Open: 42000, High: 42100, Low: 41900, Close: 42050, Volume: 3})
	if candle.Close != 21025 || candle.Volume != 3 {
		t.Fatalf("ApplyCandle() = %+v (volume must stay native)", candle)
	}
}
