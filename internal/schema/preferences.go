package schema

import (
	"strings"
	"time"
)

// Mode is a named preference preset that shifts confidence floors and hourly caps.
type Mode string

const (
	// ModeStandard applies the recipient's configured thresholds unchanged.
	ModeStandard Mode = "STANDARD"
	// ModeQuiet raises the confidence floor and lowers the hourly cap.
	ModeQuiet Mode = "QUIET"
	// ModeAggressive lowers the confidence floor and raises the hourly cap.
	ModeAggressive Mode = "AGGRESSIVE"
)

// QuietHours is a minute-of-day UTC window that may wrap midnight.
// A window whose start equals its end is disabled.
type QuietHours struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// Enabled reports whether the window suppresses anything at all.
func (q QuietHours) Enabled() bool {
	return q.StartMinute != q.EndMinute
}

// Contains reports whether the given UTC instant falls inside the window.
func (q QuietHours) Contains(now time.Time) bool {
	if !q.Enabled() {
		return false
	}
	minute := now.UTC().Hour()*60 + now.UTC().Minute()
	if q.StartMinute < q.EndMinute {
		return minute >= q.StartMinute && minute < q.EndMinute
	}
	// Wraps midnight, e.g. 23:00-08:00.
	return minute >= q.StartMinute || minute < q.EndMinute
}

// MuteWindow silences notifications entirely, optionally for one instrument.
type MuteWindow struct {
	Until  time.Time `json:"until"`
	Symbol string    `json:"symbol,omitempty"`
}

// Active reports whether the mute applies to the given symbol at the given time.
func (m MuteWindow) Active(now time.Time, symbol string) bool {
	if !now.Before(m.Until) {
		return false
	}
	if m.Symbol == "" {
		return true
	}
	return strings.EqualFold(m.Symbol, symbol)
}

// ChatPreferences is the per-recipient configuration snapshot the policy
// engine evaluates against. Loaded once per orchestrator pass; never mutated
// by the pipeline.
type ChatPreferences struct {
	ChatID           int64               `json:"chat_id"`
	Enabled          bool                `json:"enabled"`
	Mode             Mode                `json:"mode"`
	Watchlist        []string            `json:"watchlist"`
	EnabledProviders []string            `json:"enabled_providers"`
	EnabledEntities  map[EntityType]bool `json:"enabled_entities"`
	Timeframes       []Timeframe         `json:"timeframes"`
	QuietHours       QuietHours          `json:"quiet_hours"`
	CooldownSeconds  map[EntityType]int  `json:"cooldown_seconds"`
	MaxPerHour       int                 `json:"max_per_hour"`
	MinConfidence    float64             `json:"min_confidence"`
	DigestEnabled    bool                `json:"digest_enabled"`
	DigestTimes      []int               `json:"digest_times,omitempty"` // minutes of day, UTC
	Mutes            []MuteWindow        `json:"mutes,omitempty"`
}

// EffectiveMinConfidence applies the mode preset to the configured floor.
func (p ChatPreferences) EffectiveMinConfidence() float64 {
	switch p.Mode {
	case ModeQuiet:
		return p.MinConfidence + 15
	case ModeAggressive:
		return p.MinConfidence - 15
	default:
		return p.MinConfidence
	}
}

// EffectiveMaxPerHour applies the mode preset to the configured hourly cap.
func (p ChatPreferences) EffectiveMaxPerHour() int {
	switch p.Mode {
	case ModeQuiet:
		return p.MaxPerHour / 2
	case ModeAggressive:
		return p.MaxPerHour * 2
	default:
		return p.MaxPerHour
	}
}

// CooldownFor returns the enforced per-entity-kind cooldown.
func (p ChatPreferences) CooldownFor(entity EntityType) time.Duration {
	if p.CooldownSeconds == nil {
		return 0
	}
	return time.Duration(p.CooldownSeconds[entity]) * time.Second
}
