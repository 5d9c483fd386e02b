package policy

import (
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/internal/schema"
)

func basePrefs() schema.ChatPreferences {
	return schema.ChatPreferences{
		ChatID:        1,
		Enabled:       true,
		Mode:          schema.ModeStandard,
		MaxPerHour:    10,
		MinConfidence: 50,
	}
}

func noon() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestEvaluateAllowsByDefault(t *testing.T) {
	d := Evaluate(schema.EntityArbitrage, basePrefs(), noon(), Payload{Symbol: "BTCUSDT", Confidence: 70}, false, false)
	if !d.Allowed || d.Reason != "" {
		t.Fatalf("decision = %+v, want allowed with empty reason", d)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	prefs := basePrefs()
	prefs.QuietHours = schema.QuietHours{StartMinute: 23 * 60, EndMinute: 8 * 60}
	payload := Payload{Symbol: "BTCUSDT", Confidence: 60}
	at := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)

	first := Evaluate(schema.EntityArbitrage, prefs, at, payload, false, false)
	second := Evaluate(schema.EntityArbitrage, prefs, at, payload, false, false)
	if first != second {
		t.Fatalf("decisions differ: %+v vs %+v", first, second)
	}
	if first.Allowed || first.Reason != ReasonQuietHours {
		t.Fatalf("decision = %+v, want quiet-hours denial", first)
	}
}

func TestEvaluateOrderFirstFailingCheckWins(t *testing.T) {
	prefs := basePrefs()
	prefs.DigestEnabled = true
	prefs.EnabledEntities = map[schema.EntityType]bool{schema.EntityArbitrage: false}
	prefs.MaxPerHour = 0

	d := Evaluate(schema.EntityArbitrage, prefs, noon(), Payload{Symbol: "BTCUSDT", Confidence: 99}, true, true)
	if d.Reason != ReasonDigest {
		t.Fatalf("reason = %q, want %q (digest checked first)", d.Reason, ReasonDigest)
	}

	prefs.DigestEnabled = false
	d = Evaluate(schema.EntityArbitrage, prefs, noon(), Payload{Symbol: "BTCUSDT", Confidence: 99}, true, true)
	if d.Reason != ReasonEntityOff {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonEntityOff)
	}
}

func TestWatchlistSubstringMatch(t *testing.T) {
	prefs := basePrefs()
	prefs.Watchlist = []string{"btc"}

	if d := Evaluate(schema.EntityArbitrage, prefs, noon(), Payload{Symbol: "BTCUSDT", Confidence: 70}, false, false); !d.Allowed {
		t.Fatalf("BTCUSDT should match watchlist entry btc, got %+v", d)
	}
	if d := Evaluate(schema.EntityArbitrage, prefs, noon(), Payload{Symbol: "ETHUSDT", Confidence: 70}, false, false); d.Reason != ReasonWatchlist {
		t.Fatalf("reason = %q, want %q", d.Reason, ReasonWatchlist)
	}
	// Market-wide news carries no instrument and passes the watchlist.
	if d := Evaluate(schema.EntityNews, prefs, noon(), Payload{Impact: schema.NewsImpactNormal}, false, false); !d.Allowed {
		t.Fatalf("symbol-less payload should pass watchlist, got %+v", d)
	}
}

func TestModePresetsShiftConfidenceFloor(t *testing.T) {
	prefs := basePrefs()
	payload := Payload{Symbol: "BTCUSDT", Confidence: 55}

	if d := Evaluate(schema.EntitySignal, prefs, noon(), payload, false, false); !d.Allowed {
		t.Fatalf("standard mode should allow confidence 55, got %+v", d)
	}
	prefs.Mode = schema.ModeQuiet
	if d := Evaluate(schema.EntitySignal, prefs, noon(), payload, false, false); d.Reason != ReasonConfidence {
		t.Fatalf("quiet mode raises floor to 65; reason = %q", d.Reason)
	}
	prefs.Mode = schema.ModeAggressive
	low := Payload{Symbol: "BTCUSDT", Confidence: 40}
	if d := Evaluate(schema.EntitySignal, prefs, noon(), low, false, false); !d.Allowed {
		t.Fatalf("aggressive mode lowers floor to 35, got %+v", d)
	}
}

func TestQuietHoursWraparoundAndExceptions(t *testing.T) {
	prefs := basePrefs()
	prefs.QuietHours = schema.QuietHours{StartMinute: 23 * 60, EndMinute: 8 * 60}

	inWindow := []time.Time{
		time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 4, 0, 0, 0, time.UTC),
	}
	for _, at := range inWindow {
		d := Evaluate(schema.EntitySignal, prefs, at, Payload{Symbol: "BTCUSDT", Confidence: 60}, false, false)
		if d.Reason != ReasonQuietHours {
			t.Fatalf("at %v reason = %q, want quiet hours", at, d.Reason)
		}
	}
	d := Evaluate(schema.EntitySignal, prefs, noon(), Payload{Symbol: "BTCUSDT", Confidence: 60}, false, false)
	if !d.Allowed {
		t.Fatalf("noon is outside the window, got %+v", d)
	}

	// Disabled window (start == end) suppresses nothing.
	prefs.QuietHours = schema.QuietHours{StartMinute: 300, EndMinute: 300}
	d = Evaluate(schema.EntitySignal, prefs, time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC), Payload{Symbol: "BTCUSDT", Confidence: 60}, false, false)
	if !d.Allowed {
		t.Fatalf("disabled window should not suppress, got %+v", d)
	}

	prefs.QuietHours = schema.QuietHours{StartMinute: 23 * 60, EndMinute: 8 * 60}
	at := time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)
	cases := []struct {
		entity  schema.EntityType
		payload Payload
		allowed bool
	}{
		{schema.EntitySignal, Payload{Symbol: "BTCUSDT", Confidence: 85}, true},
		{schema.EntitySignal, Payload{Symbol: "BTCUSDT", Confidence: 84}, false},
		{schema.EntityNews, Payload{Impact: schema.NewsImpactUrgent}, true},
		{schema.EntityNews, Payload{Impact: schema.NewsImpactNormal}, false},
		{schema.EntityArbitrage, Payload{Symbol: "BTCUSDT", Confidence: 70, NetPct: 0.6}, true},
		{schema.EntityArbitrage, Payload{Symbol: "BTCUSDT", Confidence: 70, NetPct: 0.4}, false},
	}
	for _, tc := range cases {
		d := Evaluate(tc.entity, prefs, at, tc.payload, false, false)
		if d.Allowed != tc.allowed {
			t.Fatalf("%s %+v: allowed = %v, want %v (reason %q)", tc.entity, tc.payload, d.Allowed, tc.allowed, d.Reason)
		}
	}
}

func TestRuntimeFlagsAndHourlyCap(t *testing.T) {
	prefs := basePrefs()
	payload := Payload{Symbol: "BTCUSDT", Confidence: 70}

	if d := Evaluate(schema.EntityArbitrage, prefs, noon(), payload, true, false); d.Reason != ReasonRateLimited {
		t.Fatalf("reason = %q, want rate limited", d.Reason)
	}
	if d := Evaluate(schema.EntityArbitrage, prefs, noon(), payload, false, true); d.Reason != ReasonCooldown {
		t.Fatalf("reason = %q, want cooldown", d.Reason)
	}

	prefs.MaxPerHour = 1
	prefs.Mode = schema.ModeQuiet // halves the cap to zero
	if d := Evaluate(schema.EntityArbitrage, prefs, noon(), Payload{Symbol: "BTCUSDT", Confidence: 80}, false, false); d.Reason != ReasonHourlyCapZero {
		t.Fatalf("reason = %q, want hourly cap zero", d.Reason)
	}
}

func TestTimeframeFilterAppliesToSignalsOnly(t *testing.T) {
	prefs := basePrefs()
	prefs.Timeframes = []schema.Timeframe{schema.Timeframe1h}

	sig := Payload{Symbol: "BTCUSDT", Timeframe: schema.Timeframe5m, Confidence: 70}
	if d := Evaluate(schema.EntitySignal, prefs, noon(), sig, false, false); d.Reason != ReasonTimeframe {
		t.Fatalf("reason = %q, want timeframe filtered", d.Reason)
	}
	if d := Evaluate(schema.EntityArbitrage, prefs, noon(), Payload{Symbol: "BTCUSDT", Confidence: 70}, false, false); !d.Allowed {
		t.Fatalf("timeframe filter must not apply to arbitrage, got %+v", d)
	}
}
