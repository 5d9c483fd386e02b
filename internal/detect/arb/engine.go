package arb

import (
	"context"
	"time"

	"github.com/csisgpt/arbwatch/internal/kv"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
)

// Engine fans a snapshot out to every registered strategy and concatenates
// the results, suppressing repeats of the same dedup key within the TTL
// window. After the window an identical condition legitimately re-fires.
type Engine struct {
	strategies []Strategy
	dedup      kv.Store
	dedupTTL   time.Duration
}

// NewEngine builds the engine. A nil dedup store disables suppression.
func NewEngine(dedup kv.Store, dedupTTL time.Duration, strategies ...Strategy) *Engine {
	return &Engine{
		strategies: strategies,
		dedup:      dedup,
		dedupTTL:   dedupTTL,
	}
}

// Scan runs every strategy against the view. Strategy output order is
// preserved per strategy; no cross-strategy ordering is meaningful.
func (e *Engine) Scan(ctx context.Context, view *snapshot.View) ([]schema.ArbOpportunity, error) {
	var out []schema.ArbOpportunity
	for _, strategy := range e.strategies {
		for _, opp := range strategy.Scan(view) {
			fresh, err := e.claim(ctx, opp.DedupKey)
			if err != nil {
				return out, err
			}
			if !fresh {
				continue
			}
			out = append(out, opp)
			observability.Telemetry().IncCounter(observability.MetricOpportunities, 1,
				map[string]string{"strategy": strategy.Name(), "symbol": opp.Symbol})
			observability.Log().Info("arbitrage opportunity",
				observability.F("strategy", strategy.Name()),
				observability.F("symbol", opp.Symbol),
				observability.F("buy", opp.BuyExchange),
				observability.F("sell", opp.SellExchange),
				observability.F("net_pct", opp.NetPct))
		}
	}
	return out, nil
}

func (e *Engine) claim(ctx context.Context, key string) (bool, error) {
	if e.dedup == nil || key == "" {
		return true, nil
	}
	return e.dedup.SetNX(ctx, key, "1", e.dedupTTL)
}
