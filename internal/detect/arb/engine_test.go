package arb

import (
	"context"
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/internal/kv"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
)

func viewWith(tickers map[string]map[string]schema.Ticker) *snapshot.View {
	return &snapshot.View{
		TakenAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Tickers:    tickers,
		StaleCount: 0,
	}
}

func quote(provider string, bid, ask float64) schema.Ticker {
	return schema.Ticker{
		Provider:  provider,
		Symbol:    "BTCUSDT",
		Timestamp: time.Now().UTC(),
		Last:      (bid + ask) / 2,
		Bid:       bid,
		Ask:       ask,
		Volume24h: 0,
	}
}

func TestSpreadPicksLowestAskAndHighestBid(t *testing.T) {
	strategy := NewCrossExchangeSpread(SpreadConfig{
		MinSpreadPct: 0.1,
		MinNetPct:    0.1,
		TakerFeeBps:  nil,
	})
	view := viewWith(map[string]map[string]schema.Ticker{
		"BTCUSDT": {
			"a": quote("a", 100, 101),
			"b": quote("b", 102, 103),
			"c": quote("c", 99, 105),
		},
	})
	opps := strategy.Scan(view)
	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	opp := opps[0]
	if opp.BuyExchange != "a" || opp.SellExchange != "b" {
		t.Fatalf("picked buy=%s sell=%s, want buy=a sell=b", opp.BuyExchange, opp.SellExchange)
	}
	if opp.BuyPrice != 101 || opp.SellPrice != 102 {
		t.Fatalf("prices buy=%v sell=%v", opp.BuyPrice, opp.SellPrice)
	}
	if opp.SpreadAbs != 1 {
		t.Fatalf("spreadAbs = %v, want 1", opp.SpreadAbs)
	}
}

func TestSpreadSkipsSingleProviderSymbols(t *testing.T) {
	strategy := NewCrossExchangeSpread(SpreadConfig{MinSpreadPct: 0, MinNetPct: 0, TakerFeeBps: nil})
	view := viewWith(map[string]map[string]schema.Ticker{
		"BTCUSDT": {"a": quote("a", 100, 101)},
	})
	if opps := strategy.Scan(view); len(opps) != 0 {
		t.Fatalf("single-provider symbol produced %d opportunities", len(opps))
	}
}

func TestSpreadSkipsSameVenueBothSides(t *testing.T) {
	strategy := NewCrossExchangeSpread(SpreadConfig{MinSpreadPct: 0, MinNetPct: 0, TakerFeeBps: nil})
	view := viewWith(map[string]map[string]schema.Ticker{
		"BTCUSDT": {
			"a": quote("a", 102, 101),
			"b": quote("b", 100, 104),
		},
	})
	if opps := strategy.Scan(view); len(opps) != 0 {
		t.Fatalf("same-venue pair produced %d opportunities", len(opps))
	}
}

func TestSpreadSubtractsTakerFees(t *testing.T) {
	strategy := NewCrossExchangeSpread(SpreadConfig{
		MinSpreadPct: 0.5,
		MinNetPct:    0.5,
		TakerFeeBps:  map[string]float64{"a": 30, "b": 30},
	})
	// 1% gross, 0.6% fees, 0.4% net: below the net floor.
	view := viewWith(map[string]map[string]schema.Ticker{
		"BTCUSDT": {
			"a": quote("a", 99, 100),
			"b": quote("b", 101, 102),
		},
	})
	if opps := strategy.Scan(view); len(opps) != 0 {
		t.Fatalf("fee-eaten spread still emitted: %+v", opps)
	}
}

func TestEngineSuppressesDuplicateWithinTTL(t *testing.T) {
	store := kv.NewMemoryStore()
	defer store.Close()
	strategy := NewCrossExchangeSpread(SpreadConfig{MinSpreadPct: 0.1, MinNetPct: 0.1, TakerFeeBps: nil})
	engine := NewEngine(store, time.Minute, strategy)
	view := viewWith(map[string]map[string]schema.Ticker{
		"BTCUSDT": {
			"a": quote("a", 100, 101),
			"b": quote("b", 103, 104),
		},
	})

	first, err := engine.Scan(context.Background(), view)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first scan = %d opportunities, want 1", len(first))
	}
	second, err := engine.Scan(context.Background(), view)
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("duplicate within TTL re-fired: %+v", second)
	}
}

func TestScriptStrategyEmitsOpportunities(t *testing.T) {
	source := `
function scan(snapshot) {
	var out = [];
	for (var symbol in snapshot) {
		var venues = snapshot[symbol];
		if (venues.a && venues.b && venues.b.bid > venues.a.ask) {
			out.push({
				symbol: symbol,
				buyExchange: "a",
				sellExchange: "b",
				buyPrice: venues.a.ask,
				sellPrice: venues.b.bid
			});
		}
	}
	return out;
}`
	strategy, err := NewScriptStrategy("gap", source)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	view := viewWith(map[string]map[string]schema.Ticker{
		"BTCUSDT": {
			"a": quote("a", 100, 101),
			"b": quote("b", 103, 104),
		},
	})
	opps := strategy.Scan(view)
	if len(opps) != 1 {
		t.Fatalf("script emitted %d opportunities, want 1", len(opps))
	}
	if opps[0].BuyPrice != 101 || opps[0].SellPrice != 103 {
		t.Fatalf("unexpected prices %+v", opps[0])
	}
	if opps[0].DedupKey == "" {
		t.Fatalf("dedup key not derived")
	}
}

func TestScriptStrategyRejectsMissingScan(t *testing.T) {
	if _, err := NewScriptStrategy("bad", `var x = 1;`); err == nil {
		t.Fatalf("expected error for script without scan()")
	}
}
