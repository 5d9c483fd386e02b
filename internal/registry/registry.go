// Package registry tracks the active instrument universe and the set of
// enabled provider adapters, and derives per-provider subscription lists.
package registry

import (
	"sort"
	"strings"
	"sync"

	"github.com/csisgpt/arbwatch/internal/adapters"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

// Registry is the single source of truth for which symbols are monitored and
// which providers are active.
type Registry struct {
	mu          sync.RWMutex
	adapterSet  map[string]adapters.Adapter
	allow       []string
	instruments []schema.Instrument
}

// New builds a registry over the full adapter set with a configured
// allow-list. Allow-list entries naming no known adapter are dropped
// silently; an operator typo disables a provider, it never aborts boot.
func New(allow []string, list []adapters.Adapter) *Registry {
	set := make(map[string]adapters.Adapter, len(list))
	for _, a := range list {
		set[a.Name()] = a
	}
	return &Registry{
		adapterSet:  set,
		allow:       append([]string(nil), allow...),
		instruments: nil,
	}
}

// SetActiveSymbols replaces the monitored symbol set. Input is normalized to
// canonical uppercase and deduplicated; symbols whose quote asset is not
// recognised are logged and skipped rather than failing the batch.
func (r *Registry) SetActiveSymbols(input []string) {
	seen := make(map[string]bool, len(input))
	instruments := make([]schema.Instrument, 0, len(input))
	for _, raw := range input {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		base, quote, err := symbols.Split(symbol)
		if err != nil {
			observability.Log().Warn("skipping unmappable symbol",
				observability.F("symbol", symbol),
				observability.F("error", err.Error()))
			continue
		}
		instruments = append(instruments, schema.Instrument{
			Symbol:     symbol,
			AssetClass: assetClassOf(base, quote),
			Base:       base,
			Quote:      quote,
			Active:     true,
		})
	}
	sort.Slice(instruments, func(i, j int) bool {
		return instruments[i].Symbol < instruments[j].Symbol
	})
	r.mu.Lock()
	r.instruments = instruments
	r.mu.Unlock()
}

func assetClassOf(base, quote string) schema.AssetClass {
	if fiat(base) && fiat(quote) {
		return schema.AssetClassFiat
	}
	return schema.AssetClassCrypto
}

func fiat(asset string) bool {
	switch asset {
	case "USD", "EUR", "GBP", "JPY", "TRY", "BRL":
		return true
	default:
		return false
	}
}

// ActiveSymbols returns the canonical monitored symbols in sorted order.
func (r *Registry) ActiveSymbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst.Symbol)
	}
	return out
}

// Instruments returns a copy of the active instrument universe.
func (r *Registry) Instruments() []schema.Instrument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]schema.Instrument(nil), r.instruments...)
}

// MappingsForProvider derives the provider's subscription list from the
// active universe. Instruments the canonicalizer cannot render for this
// provider are logged and skipped.
func (r *Registry) MappingsForProvider(provider string) []schema.InstrumentMapping {
	r.mu.RLock()
	instruments := append([]schema.Instrument(nil), r.instruments...)
	r.mu.RUnlock()
	mapped, skipped := symbols.Mappings(provider, instruments)
	if len(skipped) > 0 {
		observability.Log().Warn("skipped unmappable instruments",
			observability.F("provider", provider),
			observability.F("count", len(skipped)),
			observability.F("symbols", strings.Join(skipped, ",")))
	}
	return mapped
}

// EnabledProviders returns the adapters named by the allow-list, in allow-list
// order. Unknown names are excluded without error.
func (r *Registry) EnabledProviders() []adapters.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]adapters.Adapter, 0, len(r.allow))
	for _, name := range r.allow {
		if a, ok := r.adapterSet[name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Adapter looks up one adapter by name regardless of the allow-list.
func (r *Registry) Adapter(name string) (adapters.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapterSet[name]
	return a, ok
}

// ApplySubscriptions pushes the current per-provider mapping lists to every
// enabled adapter. Called after the active symbol set changes.
func (r *Registry) ApplySubscriptions(timeframes []schema.Timeframe) {
	for _, a := range r.EnabledProviders() {
		mappings := r.MappingsForProvider(a.Name())
		if err := a.SubscribeTickers(mappings); err != nil {
			observability.Log().Warn("ticker subscription failed",
				observability.F("provider", a.Name()),
				observability.F("error", err.Error()))
		}
		if err := a.SubscribeCandles(mappings, timeframes); err != nil {
			observability.Log().Warn("candle subscription failed",
				observability.F("provider", a.Name()),
				observability.F("error", err.Error()))
		}
	}
}

// HealthReport snapshots every enabled adapter's connection state.
func (r *Registry) HealthReport() []schema.ProviderHealth {
	enabled := r.EnabledProviders()
	out := make([]schema.ProviderHealth, 0, len(enabled))
	for _, a := range enabled {
		out = append(out, a.Health())
	}
	return out
}
