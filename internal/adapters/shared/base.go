package shared

import (
	"context"
	"sync"
	"time"

	"github.com/csisgpt/arbwatch/internal/adapters"
	"github.com/csisgpt/arbwatch/internal/observability"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

const eventBuffer = 256

// Hooks are the provider-specific pieces of a websocket adapter. Everything
// else (lifecycle, subscription bookkeeping, event fan-out) lives in WSAdapter.
type Hooks struct {
	// URL returns the dial URL. Called on every dial attempt so providers
	// that encode subscriptions in the URL always see the current set.
	URL func(b *WSAdapter) string
	// Subscriptions builds the payloads (re)issued after every open.
	Subscriptions func(b *WSAdapter) [][]byte
	// Parse handles one raw frame and emits events through the base.
	Parse func(b *WSAdapter, payload []byte)
	// Ping overrides the transport heartbeat for providers with an
	// application-level ping message. Nil uses a websocket ping frame.
	Ping func(send func(payload []byte) error) error
}

// WSAdapter holds the state common to all websocket-based provider adapters:
// the managed connection, the current subscription set, and the bounded event
// channel consumed by the ingest stage.
type WSAdapter struct {
	name  string
	hooks Hooks
	conn  *WSConn

	mu         sync.Mutex
	tickers    []schema.InstrumentMapping
	candles    []schema.InstrumentMapping
	timeframes []schema.Timeframe
	byNative   map[string]string
	scale      *symbols.ScalePolicy
	events     chan adapters.Event
	closed     bool
}

// NewWSAdapter wires a managed connection around the provider hooks.
func NewWSAdapter(name, url string, hooks Hooks, heartbeat time.Duration) *WSAdapter {
	b := &WSAdapter{
		name:     name,
		hooks:    hooks,
		byNative: make(map[string]string),
		events:   make(chan adapters.Event, eventBuffer),
	}
	if hooks.URL == nil {
		b.hooks.URL = func(*WSAdapter) string { return url }
	}
	b.conn = NewWSConn(WSConfig{
		Provider:          name,
		HeartbeatInterval: heartbeat,
		URL:               func() string { return b.hooks.URL(b) },
		OnOpen: func(send func([]byte) error) error {
			if b.hooks.Subscriptions == nil {
				return nil
			}
			for _, payload := range b.hooks.Subscriptions(b) {
				if err := send(payload); err != nil {
					return err
				}
			}
			return nil
		},
		OnMessage: func(payload []byte) {
			if b.hooks.Parse != nil {
				b.hooks.Parse(b, payload)
			}
		},
		Ping: hooks.Ping,
	})
	return b
}

// Name returns the provider identifier.
func (b *WSAdapter) Name() string { return b.name }

// Start opens the managed connection.
func (b *WSAdapter) Start(ctx context.Context) error {
	return b.conn.Start(ctx)
}

// Stop tears down the connection and closes the event channel.
func (b *WSAdapter) Stop() error {
	b.conn.Stop()
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
	return nil
}

// SubscribeTickers replaces the ticker subscription set.
func (b *WSAdapter) SubscribeTickers(mappings []schema.InstrumentMapping) error {
	b.mu.Lock()
	b.tickers = append([]schema.InstrumentMapping(nil), mappings...)
	b.rebuildNativeLocked()
	b.mu.Unlock()
	b.conn.Resubscribe()
	return nil
}

// SubscribeCandles replaces the candle subscription set.
func (b *WSAdapter) SubscribeCandles(mappings []schema.InstrumentMapping, timeframes []schema.Timeframe) error {
	b.mu.Lock()
	b.candles = append([]schema.InstrumentMapping(nil), mappings...)
	b.timeframes = append([]schema.Timeframe(nil), timeframes...)
	b.rebuildNativeLocked()
	b.mu.Unlock()
	b.conn.Resubscribe()
	return nil
}

// Send writes a raw payload on the managed connection, queueing it while
// disconnected. Used by adapters that must answer server-initiated frames.
func (b *WSAdapter) Send(payload []byte) error {
	return b.conn.Send(payload)
}

// Health reports connection state.
func (b *WSAdapter) Health() schema.ProviderHealth {
	return b.conn.Health()
}

// Events exposes the normalized output channel.
func (b *WSAdapter) Events() <-chan adapters.Event {
	return b.events
}

// TickerMappings returns the current ticker subscription set.
func (b *WSAdapter) TickerMappings() []schema.InstrumentMapping {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]schema.InstrumentMapping(nil), b.tickers...)
}

// CandleMappings returns the current candle subscription set.
func (b *WSAdapter) CandleMappings() []schema.InstrumentMapping {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]schema.InstrumentMapping(nil), b.candles...)
}

// Timeframes returns the subscribed candle intervals.
func (b *WSAdapter) Timeframes() []schema.Timeframe {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]schema.Timeframe(nil), b.timeframes...)
}

// Canonical resolves a provider-native symbol from the current subscription
// set. Unknown symbols return false; the caller drops the record.
func (b *WSAdapter) Canonical(native string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	symbol, ok := b.byNative[native]
	return symbol, ok
}

// SetScale installs the unit-conversion policy applied to emitted prices.
func (b *WSAdapter) SetScale(policy *symbols.ScalePolicy) {
	b.mu.Lock()
	b.scale = policy
	b.mu.Unlock()
}

// EmitTicker scales, validates, and publishes one ticker. Records failing
// validation are discarded and counted, never propagated.
func (b *WSAdapter) EmitTicker(t schema.Ticker) {
	b.mu.Lock()
	scale := b.scale
	b.mu.Unlock()
	t = scale.ApplyTicker(t)
	if err := t.Validate(); err != nil {
		b.discard()
		return
	}
	b.emit(adapters.Event{Ticker: &t, Candle: nil})
}

// EmitCandle scales, validates, and publishes one candle.
func (b *WSAdapter) EmitCandle(c schema.Candle) {
	b.mu.Lock()
	scale := b.scale
	b.mu.Unlock()
	c = scale.ApplyCandle(c)
	if err := c.Validate(); err != nil {
		b.discard()
		return
	}
	b.emit(adapters.Event{Ticker: nil, Candle: &c})
}

// ParseFailure counts one dropped malformed frame.
func (b *WSAdapter) ParseFailure() {
	b.conn.RecordParseFailure()
}

func (b *WSAdapter) emit(ev adapters.Event) {
	// The send happens under the same lock as Stop's close so an in-flight
	// parse can never write to a closed channel.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	// Bounded channel: an ingest stage that cannot keep up loses the oldest
	// style of data there is, a superseded quote. Count it and move on.
	select {
	case b.events <- ev:
	default:
		b.discard()
	}
}

func (b *WSAdapter) discard() {
	observability.Telemetry().IncCounter(observability.MetricDiscardedRecords, 1,
		map[string]string{"provider": b.name})
}

func (b *WSAdapter) rebuildNativeLocked() {
	b.byNative = make(map[string]string, len(b.tickers)+len(b.candles))
	for _, m := range b.tickers {
		b.byNative[m.ProviderSymbol] = m.Symbol
	}
	for _, m := range b.candles {
		b.byNative[m.ProviderSymbol] = m.Symbol
	}
}
