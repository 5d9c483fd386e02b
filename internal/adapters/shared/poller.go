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

// FetchFunc pulls the current tickers for the subscribed mappings.
type FetchFunc func(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error)

// Poller satisfies the adapter contract for providers without a public
// websocket. A timer-driven REST poll produces the same ticker events a
// socket would; the registry cannot tell the two apart.
type Poller struct {
	name     string
	interval time.Duration
	fetch    FetchFunc

	mu       sync.Mutex
	mappings []schema.InstrumentMapping
	scale    *symbols.ScalePolicy
	events   chan adapters.Event
	cancel   context.CancelFunc
	closed   bool
	running  bool

	healthMu        sync.Mutex
	lastMessageTime time.Time
	failureCount    int64
	lastError       string
}

// NewPoller builds a polling adapter with the given cadence.
func NewPoller(name string, interval time.Duration, fetch FetchFunc) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		name:     name,
		interval: interval,
		fetch:    fetch,
		events:   make(chan adapters.Event, eventBuffer),
	}
}

// Name returns the provider identifier.
func (p *Poller) Name() string { return p.name }

// Start launches the poll loop. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.closed {
		return nil
	}
	p.running = true
	pctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	go p.loop(pctx)
	return nil
}

// Stop halts polling and closes the event channel.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
	if !p.closed {
		p.closed = true
		close(p.events)
	}
	p.mu.Unlock()
	return nil
}

// SetScale installs the unit-conversion policy applied to emitted prices.
func (p *Poller) SetScale(policy *symbols.ScalePolicy) {
	p.mu.Lock()
	p.scale = policy
	p.mu.Unlock()
}

// SubscribeTickers replaces the set of polled instruments.
func (p *Poller) SubscribeTickers(mappings []schema.InstrumentMapping) error {
	p.mu.Lock()
	p.mappings = append([]schema.InstrumentMapping(nil), mappings...)
	p.mu.Unlock()
	return nil
}

// SubscribeCandles is accepted and ignored; polling providers surface candles
// only through FetchCandles.
func (p *Poller) SubscribeCandles([]schema.InstrumentMapping, []schema.Timeframe) error {
	return nil
}

// FetchTickers runs one poll on demand, the cold-start path.
func (p *Poller) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	return p.fetch(ctx, mappings)
}

// Health reports poller state. Connected means the loop is running.
func (p *Poller) Health() schema.ProviderHealth {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	p.healthMu.Lock()
	defer p.healthMu.Unlock()
	return schema.ProviderHealth{
		Provider:        p.name,
		Connected:       running,
		LastMessageTime: p.lastMessageTime,
		ReconnectCount:  0,
		FailureCount:    p.failureCount,
		LastError:       p.lastError,
	}
}

// Events exposes the normalized output channel.
func (p *Poller) Events() <-chan adapters.Event {
	return p.events
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	p.mu.Lock()
	mappings := append([]schema.InstrumentMapping(nil), p.mappings...)
	scale := p.scale
	p.mu.Unlock()
	if len(mappings) == 0 {
		return
	}
	tickers, err := p.fetch(ctx, mappings)
	if err != nil {
		p.healthMu.Lock()
		p.failureCount++
		p.lastError = err.Error()
		p.healthMu.Unlock()
		observability.Log().Warn("poll failed",
			observability.F("provider", p.name),
			observability.F("error", err.Error()))
		return
	}
	p.healthMu.Lock()
	p.lastMessageTime = time.Now().UTC()
	p.healthMu.Unlock()
	for i := range tickers {
		t := scale.ApplyTicker(tickers[i])
		if err := t.Validate(); err != nil {
			p.discard()
			continue
		}
		if !p.emit(adapters.Event{Ticker: &t, Candle: nil}) {
			return
		}
	}
}

// emit sends one event, holding the same lock as Stop's close so a poll that
// straddles teardown can never write to a closed channel. Returns false once
// the poller is stopped.
func (p *Poller) emit(ev adapters.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.events <- ev:
	default:
		p.discard()
	}
	return true
}

func (p *Poller) discard() {
	observability.Telemetry().IncCounter(observability.MetricDiscardedRecords, 1,
		map[string]string{"provider": p.name})
}
