// Package arb detects cross-venue price dislocations from market snapshots.
package arb

import (
	"math"
	"sort"

	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
)

// Strategy turns one snapshot into candidate opportunities. Strategies are
// the extension point of the engine: adding a detection style means adding a
// Strategy, never touching the engine loop.
type Strategy interface {
	Name() string
	Scan(view *snapshot.View) []schema.ArbOpportunity
}

// SpreadConfig tunes the cross-exchange spread strategy.
type SpreadConfig struct {
	MinSpreadPct float64
	MinNetPct    float64
	// TakerFeeBps maps provider name to taker fee in basis points.
	TakerFeeBps map[string]float64
}

// CrossExchangeSpread is the reference strategy: buy at the venue with the
// lowest ask, sell at the venue with the highest bid.
type CrossExchangeSpread struct {
	cfg SpreadConfig
}

// NewCrossExchangeSpread builds the reference spread strategy.
func NewCrossExchangeSpread(cfg SpreadConfig) *CrossExchangeSpread {
	return &CrossExchangeSpread{cfg: cfg}
}

// Name identifies the strategy in logs and persisted opportunities.
func (s *CrossExchangeSpread) Name() string { return "cross_exchange_spread" }

// Scan walks every symbol in the view. Symbols are visited in sorted order so
// a cycle's output is reproducible; callers must still not read priority into
// the ordering.
func (s *CrossExchangeSpread) Scan(view *snapshot.View) []schema.ArbOpportunity {
	if view == nil {
		return nil
	}
	symbols := view.Symbols()
	sort.Strings(symbols)
	var out []schema.ArbOpportunity
	for _, symbol := range symbols {
		if opp, ok := s.scanSymbol(symbol, view.Providers(symbol), view); ok {
			out = append(out, opp)
		}
	}
	return out
}

func (s *CrossExchangeSpread) scanSymbol(symbol string, tickers map[string]schema.Ticker, view *snapshot.View) (schema.ArbOpportunity, bool) {
	type quote struct {
		provider string
		bid      float64
		ask      float64
	}
	quotes := make([]quote, 0, len(tickers))
	for provider, t := range tickers {
		if !finite(t.Bid) || !finite(t.Ask) {
			continue
		}
		quotes = append(quotes, quote{provider: provider, bid: t.Bid, ask: t.Ask})
	}
	if len(quotes) < 2 {
		return schema.ArbOpportunity{}, false
	}
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].provider < quotes[j].provider })

	buy, sell := quotes[0], quotes[0]
	for _, q := range quotes[1:] {
		if q.ask < buy.ask {
			buy = q
		}
		if q.bid > sell.bid {
			sell = q
		}
	}
	if buy.provider == sell.provider {
		return schema.ArbOpportunity{}, false
	}
	spreadAbs := sell.bid - buy.ask
	spreadPct := spreadAbs / buy.ask * 100
	netPct := spreadPct - s.feePct(buy.provider) - s.feePct(sell.provider)
	if spreadPct < s.cfg.MinSpreadPct || netPct < s.cfg.MinNetPct {
		return schema.ArbOpportunity{}, false
	}
	return schema.ArbOpportunity{
		ID:           0,
		Symbol:       symbol,
		Timestamp:    view.TakenAt,
		BuyExchange:  buy.provider,
		SellExchange: sell.provider,
		BuyPrice:     buy.ask,
		SellPrice:    sell.bid,
		SpreadAbs:    spreadAbs,
		SpreadPct:    spreadPct,
		NetPct:       netPct,
		Confidence:   confidenceOf(netPct),
		DedupKey:     schema.BuildDedupKey(symbol, buy.provider, sell.provider),
	}, true
}

func (s *CrossExchangeSpread) feePct(provider string) float64 {
	return s.cfg.TakerFeeBps[provider] / 100
}

// confidenceOf maps net spread onto a 0-100 score. Anything at or above 2%
// net is as confident as this strategy gets.
func confidenceOf(netPct float64) float64 {
	score := 50 + netPct*25
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// FundingRateDivergence is declared ahead of perp funding data being wired
// in; it scans nothing until then.
type FundingRateDivergence struct{}

// Name identifies the strategy.
func (FundingRateDivergence) Name() string { return "funding_rate_divergence" }

// Scan returns nothing; the strategy has no data source yet.
func (FundingRateDivergence) Scan(*snapshot.View) []schema.ArbOpportunity { return nil }

// Triangular is declared ahead of order-book depth being wired in; it scans
// nothing until then.
type Triangular struct{}

// Name identifies the strategy.
func (Triangular) Name() string { return "triangular" }

// Scan returns nothing; the strategy has no data source yet.
func (Triangular) Scan(*snapshot.View) []schema.ArbOpportunity { return nil }
