// Package adapters defines the uniform provider capability contract and hosts
// one concrete implementation per supported exchange.
package adapters

import (
	"context"

	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

// Event is one normalized market-data record pushed on an adapter's bounded
// event channel. Exactly one of the fields is set.
type Event struct {
	Ticker *schema.Ticker
	Candle *schema.Candle
}

// Adapter is the uniform capability contract every provider implements.
// WS-based adapters own a persistent connection lifecycle; polling-only
// providers satisfy the same contract via timer-driven REST polls. From the
// registry's perspective both are indistinguishable producers of events.
type Adapter interface {
	Name() string
	// Start opens the provider connection (or polling loop). Calling Start on
	// a running adapter is a no-op.
	Start(ctx context.Context) error
	// Stop cancels timers and closes transports. It never panics and
	// tolerates being called when no connection exists.
	Stop() error
	// SetScale installs the unit-conversion policy applied to prices emitted
	// on the event channel. Fetch results stay provider-native; the caller
	// scales them.
	SetScale(policy *symbols.ScalePolicy)
	// SubscribeTickers replaces the set of ticker subscriptions.
	SubscribeTickers(mappings []schema.InstrumentMapping) error
	// SubscribeCandles replaces the set of candle subscriptions.
	SubscribeCandles(mappings []schema.InstrumentMapping, timeframes []schema.Timeframe) error
	// FetchTickers pulls current tickers over REST, used for cold-start and
	// polling-only providers.
	FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error)
	// FetchCandles pulls recent candles over REST.
	FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error)
	// Health returns the adapter's connection state, read-only for callers.
	Health() schema.ProviderHealth
	// Events exposes the adapter's normalized output channel. Closed on Stop.
	Events() <-chan Event
}
