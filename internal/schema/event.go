package schema

import (
	"fmt"
	"time"
)

// EntityType names the kinds of detected events flowing through notification.
type EntityType string

const (
	// EntityArbitrage marks cross-exchange arbitrage opportunities.
	EntityArbitrage EntityType = "arbitrage"
	// EntitySignal marks technical-indicator signals.
	EntitySignal EntityType = "signal"
	// EntityNews marks news items ingested by external collaborators.
	EntityNews EntityType = "news"
)

// Valid reports whether the entity type is recognised.
func (e EntityType) Valid() bool {
	switch e {
	case EntityArbitrage, EntitySignal, EntityNews:
		return true
	default:
		return false
	}
}

// ArbOpportunity is one detected cross-venue price dislocation. Immutable once
// persisted.
type ArbOpportunity struct {
	ID           int64     `json:"id,omitempty"`
	Symbol       string    `json:"symbol"`
	Timestamp    time.Time `json:"timestamp"`
	BuyExchange  string    `json:"buy_exchange"`
	SellExchange string    `json:"sell_exchange"`
	BuyPrice     float64   `json:"buy_price"`
	SellPrice    float64   `json:"sell_price"`
	SpreadAbs    float64   `json:"spread_abs"`
	SpreadPct    float64   `json:"spread_pct"`
	NetPct       float64   `json:"net_pct"`
	Confidence   float64   `json:"confidence"`
	DedupKey     string    `json:"dedup_key"`
}

// BuildDedupKey derives the identity of "the same opportunity" across
// detection cycles. Prices are excluded on purpose: a repeat of the same
// venue pair within the suppression TTL is the same event.
func BuildDedupKey(symbol, buyExchange, sellExchange string) string {
	return fmt.Sprintf("arb:%s:%s:%s", symbol, buyExchange, sellExchange)
}

// SignalDirection marks which way an indicator signal points.
type SignalDirection string

const (
	// SignalLong marks a bullish signal.
	SignalLong SignalDirection = "long"
	// SignalShort marks a bearish signal.
	SignalShort SignalDirection = "short"
)

// Signal is one technical-indicator event emitted by the signals engine.
type Signal struct {
	ID         int64           `json:"id,omitempty"`
	Symbol     string          `json:"symbol"`
	Provider   string          `json:"provider"`
	Timeframe  Timeframe       `json:"timeframe"`
	Strategy   string          `json:"strategy"`
	Direction  SignalDirection `json:"direction"`
	Price      float64         `json:"price"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
	DedupKey   string          `json:"dedup_key"`
}

// NewsImpact grades how urgent a news item is.
type NewsImpact string

const (
	// NewsImpactUrgent marks items that bypass quiet hours.
	NewsImpactUrgent NewsImpact = "urgent"
	// NewsImpactHigh marks items that bypass quiet hours.
	NewsImpactHigh NewsImpact = "high"
	// NewsImpactNormal marks routine items.
	NewsImpactNormal NewsImpact = "normal"
)

// NewsItem is an externally-scraped news event entering the notification path.
type NewsItem struct {
	ID        int64      `json:"id,omitempty"`
	Title     string     `json:"title"`
	Source    string     `json:"source"`
	URL       string     `json:"url,omitempty"`
	Impact    NewsImpact `json:"impact"`
	Symbols   []string   `json:"symbols,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ProviderHealth is the externally read-only connection state of one adapter.
// Mutated only by the owning adapter.
type ProviderHealth struct {
	Provider        string    `json:"provider"`
	Connected       bool      `json:"connected"`
	LastMessageTime time.Time `json:"last_message_time"`
	ReconnectCount  int64     `json:"reconnect_count"`
	FailureCount    int64     `json:"failure_count"`
	LastError       string    `json:"last_error,omitempty"`
}
