package signals

import (
	"context"
	"fmt"
	"time"

	"github.com/csisgpt/arbwatch/internal/kv"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
)

const (
	emaFastPeriod = 12
	emaSlowPeriod = 26
	rsiPeriod     = 14
	rsiOverbought = 70
	rsiOversold   = 30
)

// Engine evaluates indicator strategies over the candle history held by the
// snapshot store. Like the arbitrage engine it suppresses repeats of a dedup
// key within the TTL window.
type Engine struct {
	store    *snapshot.Store
	dedup    kv.Store
	dedupTTL time.Duration
	now      func() time.Time
}

// NewEngine builds the signals engine. A nil dedup store disables suppression.
func NewEngine(store *snapshot.Store, dedup kv.Store, dedupTTL time.Duration) *Engine {
	return &Engine{
		store:    store,
		dedup:    dedup,
		dedupTTL: dedupTTL,
		now:      time.Now,
	}
}

// Scan evaluates every (symbol, provider, timeframe) combination and returns
// the signals that fired. A combination with too little history contributes
// nothing; it never errors.
func (e *Engine) Scan(ctx context.Context, symbols, providers []string, timeframes []schema.Timeframe) ([]schema.Signal, error) {
	var out []schema.Signal
	for _, symbol := range symbols {
		for _, provider := range providers {
			for _, tf := range timeframes {
				candles := e.store.Candles(symbol, provider, tf)
				if len(candles) == 0 {
					continue
				}
				closes := make([]float64, len(candles))
				for i, c := range candles {
					closes[i] = c.Close
				}
				price := closes[len(closes)-1]
				for _, candidate := range evaluate(closes) {
					signal := schema.Signal{
						ID:         0,
						Symbol:     symbol,
						Provider:   provider,
						Timeframe:  tf,
						Strategy:   candidate.strategy,
						Direction:  candidate.direction,
						Price:      price,
						Confidence: candidate.confidence,
						Timestamp:  e.now().UTC(),
						DedupKey: fmt.Sprintf("sig:%s:%s:%s:%s:%s",
							candidate.strategy, symbol, provider, tf, candidate.direction),
					}
					fresh, err := e.claim(ctx, signal.DedupKey)
					if err != nil {
						return out, err
					}
					if !fresh {
						continue
					}
					out = append(out, signal)
					observability.Telemetry().IncCounter(observability.MetricSignals, 1,
						map[string]string{"strategy": candidate.strategy, "symbol": symbol})
				}
			}
		}
	}
	return out, nil
}

type candidate struct {
	strategy   string
	direction  schema.SignalDirection
	confidence float64
}

// evaluate runs the indicator set over one close series.
func evaluate(closes []float64) []candidate {
	var out []candidate
	if c, ok := emaCross(closes); ok {
		out = append(out, c)
	}
	if c, ok := rsiExtreme(closes); ok {
		out = append(out, c)
	}
	return out
}

// emaCross fires when the fast EMA crosses the slow EMA on the latest candle.
func emaCross(closes []float64) (candidate, bool) {
	fast := EMA(closes, emaFastPeriod)
	slow := EMA(closes, emaSlowPeriod)
	if fast == nil || slow == nil || len(closes) < emaSlowPeriod+1 {
		return candidate{}, false
	}
	last := len(closes) - 1
	prevDiff := fast[last-1] - slow[last-1]
	currDiff := fast[last] - slow[last]
	switch {
	case prevDiff <= 0 && currDiff > 0:
		return candidate{strategy: "ema_cross", direction: schema.SignalLong, confidence: crossConfidence(currDiff, closes[last])}, true
	case prevDiff >= 0 && currDiff < 0:
		return candidate{strategy: "ema_cross", direction: schema.SignalShort, confidence: crossConfidence(-currDiff, closes[last])}, true
	default:
		return candidate{}, false
	}
}

// crossConfidence scales the EMA separation relative to price onto 50-100.
func crossConfidence(diff, price float64) float64 {
	if price <= 0 {
		return 50
	}
	score := 50 + diff/price*100*50
	if score > 100 {
		return 100
	}
	return score
}

// rsiExtreme fires on overbought/oversold readings of the latest candle.
func rsiExtreme(closes []float64) (candidate, bool) {
	value, ok := RSI(closes, rsiPeriod)
	if !ok {
		return candidate{}, false
	}
	switch {
	case value >= rsiOverbought:
		return candidate{strategy: "rsi_extreme", direction: schema.SignalShort, confidence: 50 + (value-rsiOverbought)/(100-rsiOverbought)*50}, true
	case value <= rsiOversold:
		return candidate{strategy: "rsi_extreme", direction: schema.SignalLong, confidence: 50 + (rsiOversold-value)/rsiOversold*50}, true
	default:
		return candidate{}, false
	}
}

func (e *Engine) claim(ctx context.Context, key string) (bool, error) {
	if e.dedup == nil || key == "" {
		return true, nil
	}
	return e.dedup.SetNX(ctx, key, "1", e.dedupTTL)
}
