// Package policy decides, per recipient and per event, whether a notification
// may be delivered. Evaluate performs no I/O; every runtime fact it needs
// (clock, rate counter, cooldown state) arrives as an argument, which keeps
// the decision deterministic and testable.
package policy

import (
	"strings"
	"time"

	"github.com/csisgpt/arbwatch/internal/schema"
)

// Machine-readable denial reasons, recorded on skipped delivery rows and
// counted per reason.
const (
	ReasonDigest        = "digest_enabled"
	ReasonEntityOff     = "entity_disabled"
	ReasonTimeframe     = "timeframe_filtered"
	ReasonWatchlist     = "watchlist_filtered"
	ReasonConfidence    = "below_min_confidence"
	ReasonMuted         = "muted"
	ReasonProvider      = "provider_filtered"
	ReasonQuietHours    = "quiet_hours"
	ReasonRateLimited   = "rate_limited"
	ReasonCooldown      = "cooldown"
	ReasonHourlyCapZero = "hourly_cap_zero"
)

// Quiet-hours exceptions: events this strong are delivered regardless.
const (
	quietHoursSignalConfidence = 85
	quietHoursArbNetPct        = 0.5
)

// Payload carries the policy-relevant attributes of one event.
type Payload struct {
	Symbol     string
	Provider   string
	Timeframe  schema.Timeframe
	Confidence float64
	NetPct     float64
	Impact     schema.NewsImpact
}

// FromOpportunity projects an arbitrage opportunity onto a policy payload.
// The buy venue stands in as the provider for allow-list purposes.
func FromOpportunity(opp schema.ArbOpportunity) Payload {
	return Payload{
		Symbol:     opp.Symbol,
		Provider:   opp.BuyExchange,
		Timeframe:  "",
		Confidence: opp.Confidence,
		NetPct:     opp.NetPct,
		Impact:     "",
	}
}

// FromSignal projects an indicator signal onto a policy payload.
func FromSignal(sig schema.Signal) Payload {
	return Payload{
		Symbol:     sig.Symbol,
		Provider:   sig.Provider,
		Timeframe:  sig.Timeframe,
		Confidence: sig.Confidence,
		NetPct:     0,
		Impact:     "",
	}
}

// FromNews projects a news item onto a policy payload. Items tagged with
// several instruments are filtered on the first one.
func FromNews(item schema.NewsItem) Payload {
	symbol := ""
	if len(item.Symbols) > 0 {
		symbol = item.Symbols[0]
	}
	return Payload{
		Symbol:     symbol,
		Provider:   "",
		Timeframe:  "",
		Confidence: 0,
		NetPct:     0,
		Impact:     item.Impact,
	}
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Allowed bool
	Reason  string
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluate applies every per-recipient check in a fixed order; the first
// failing check wins. rateLimitHit and cooldownHit are supplied by the caller
// because only the orchestrator may touch the shared counters.
func Evaluate(entityType schema.EntityType, prefs schema.ChatPreferences, now time.Time, p Payload, rateLimitHit, cooldownHit bool) Decision {
	if prefs.DigestEnabled {
		return deny(ReasonDigest)
	}
	if prefs.EnabledEntities != nil && !prefs.EnabledEntities[entityType] {
		return deny(ReasonEntityOff)
	}
	if entityType == schema.EntitySignal && !timeframeAllowed(prefs.Timeframes, p.Timeframe) {
		return deny(ReasonTimeframe)
	}
	if !watchlistMatches(prefs.Watchlist, p.Symbol) {
		return deny(ReasonWatchlist)
	}
	if entityType != schema.EntityNews && p.Confidence < prefs.EffectiveMinConfidence() {
		return deny(ReasonConfidence)
	}
	for _, mute := range prefs.Mutes {
		if mute.Active(now, p.Symbol) {
			return deny(ReasonMuted)
		}
	}
	if !providerAllowed(prefs.EnabledProviders, p.Provider) {
		return deny(ReasonProvider)
	}
	if prefs.QuietHours.Contains(now) && !bypassesQuietHours(entityType, p) {
		return deny(ReasonQuietHours)
	}
	if rateLimitHit {
		return deny(ReasonRateLimited)
	}
	if cooldownHit {
		return deny(ReasonCooldown)
	}
	if prefs.EffectiveMaxPerHour() <= 0 {
		return deny(ReasonHourlyCapZero)
	}
	return Decision{Allowed: true, Reason: ""}
}

func timeframeAllowed(allowed []schema.Timeframe, tf schema.Timeframe) bool {
	if len(allowed) == 0 || tf == "" {
		return true
	}
	for _, candidate := range allowed {
		if candidate == tf {
			return true
		}
	}
	return false
}

// watchlistMatches applies a case-insensitive substring match; an empty
// watchlist matches everything, and an event without an instrument (e.g.
// market-wide news) is never filtered out here.
func watchlistMatches(watchlist []string, symbol string) bool {
	if len(watchlist) == 0 || symbol == "" {
		return true
	}
	upper := strings.ToUpper(symbol)
	for _, entry := range watchlist {
		trimmed := strings.ToUpper(strings.TrimSpace(entry))
		if trimmed == "" {
			continue
		}
		if strings.Contains(upper, trimmed) {
			return true
		}
	}
	return false
}

func providerAllowed(enabled []string, provider string) bool {
	if len(enabled) == 0 || provider == "" {
		return true
	}
	for _, entry := range enabled {
		if strings.EqualFold(strings.TrimSpace(entry), provider) {
			return true
		}
	}
	return false
}

func bypassesQuietHours(entityType schema.EntityType, p Payload) bool {
	switch entityType {
	case schema.EntitySignal:
		return p.Confidence >= quietHoursSignalConfidence
	case schema.EntityNews:
		return p.Impact == schema.NewsImpactUrgent || p.Impact == schema.NewsImpactHigh
	case schema.EntityArbitrage:
		return p.NetPct >= quietHoursArbNetPct
	default:
		return false
	}
}
