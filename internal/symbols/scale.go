package symbols

import "github.com/csisgpt/arbwatch/internal/schema"

// ScalePolicy is an explicit per-instrument unit conversion applied to prices
// arriving from a provider. It replaces magnitude-based guessing for
// low-liquidity fiat-quoted instruments: a factor is configured, or it is 1.
type ScalePolicy struct {
	factors map[string]float64
}

// NewScalePolicy builds a policy from configured factors. Keys are either
// "provider/SYMBOL" for one instrument or a bare provider name for every
// instrument on that venue; the instrument key wins when both are set.
func NewScalePolicy(factors map[string]float64) *ScalePolicy {
	policy := new(ScalePolicy)
	policy.factors = make(map[string]float64, len(factors))
	for key, factor := range factors {
		if factor > 0 {
			policy.factors[key] = factor
		}
	}
	return policy
}

// Apply converts a provider-native price into canonical units.
func (p *ScalePolicy) Apply(provider, symbol string, price float64) float64 {
	if p == nil || len(p.factors) == 0 {
		return price
	}
	if factor, ok := p.factors[provider+"/"+symbol]; ok {
		return price * factor
	}
	if factor, ok := p.factors[provider]; ok {
		return price * factor
	}
	return price
}

// ApplyTicker scales every price field of one ticker.
func (p *ScalePolicy) ApplyTicker(t schema.Ticker) schema.Ticker {
	t.Last = p.Apply(t.Provider, t.Symbol, t.Last)
	t.Bid = p.Apply(t.Provider, t.Symbol, t.Bid)
	t.Ask = p.Apply(t.Provider, t.Symbol, t.Ask)
	return t
}

// ApplyCandle scales every price field of one candle. Volume is left in
// provider units.
func (p *ScalePolicy) ApplyCandle(c schema.Candle) schema.Candle {
	c.Open = p.Apply(c.Provider, c.Symbol, c.Open)
	c.High = p.Apply(c.Provider, c.Symbol, c.High)
	c.Low = p.Apply(c.Provider, c.Symbol, c.Low)
	c.Close = p.Apply(c.Provider, c.Symbol, c.Close)
	return c
}
