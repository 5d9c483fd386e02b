package signals

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/snapshot"
)

func TestEMAWarmupAndSmoothing(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	out := EMA(values, 5)
	if out == nil {
		t.Fatalf("ema returned nil")
	}
	if out[4] != 3 {
		t.Fatalf("warmup value = %v, want simple average 3", out[4])
	}
	for i := 5; i < len(out); i++ {
		if out[i] <= out[i-1] {
			t.Fatalf("ema not rising on rising input at %d: %v <= %v", i, out[i], out[i-1])
		}
	}
	if EMA(values, 11) != nil {
		t.Fatalf("short history should return nil")
	}
}

func TestRSIBounds(t *testing.T) {
	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(100 + i)
	}
	value, ok := RSI(rising, 14)
	if !ok {
		t.Fatalf("rsi not computed")
	}
	if value != 100 {
		t.Fatalf("rsi of monotonic rise = %v, want 100", value)
	}

	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = float64(200 - i)
	}
	value, ok = RSI(falling, 14)
	if !ok {
		t.Fatalf("rsi not computed")
	}
	if value > 1 {
		t.Fatalf("rsi of monotonic fall = %v, want near 0", value)
	}

	if _, ok := RSI(rising[:10], 14); ok {
		t.Fatalf("short history should not compute")
	}
}

func seedCandles(store *snapshot.Store, closes []float64) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		store.PutCandle(schema.Candle{
			Provider:  "binance",
			Symbol:    "BTCUSDT",
			Timeframe: schema.Timeframe1m,
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			Open:      c,
			High:      c * 1.001,
			Low:       c * 0.999,
			Close:     c,
			Volume:    1,
			IsFinal:   true,
		})
	}
}

func TestScanEmitsRSISignalOnce(t *testing.T) {
	store := snapshot.New(time.Minute, 30*time.Second)
	defer store.Close()
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i)*2
	}
	seedCandles(store, closes)

	engine := NewEngine(store, nil, 0)
	out, err := engine.Scan(context.Background(),
		[]string{"BTCUSDT"}, []string{"binance"}, []schema.Timeframe{schema.Timeframe1m})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var found *schema.Signal
	for i := range out {
		if out[i].Strategy == "rsi_extreme" {
			found = &out[i]
		}
	}
	if found == nil {
		t.Fatalf("monotonic rise produced no rsi signal: %+v", out)
	}
	if found.Direction != schema.SignalShort {
		t.Fatalf("direction = %s, want short (overbought)", found.Direction)
	}
	if found.Price != closes[len(closes)-1] {
		t.Fatalf("price = %v, want last close %v", found.Price, closes[len(closes)-1])
	}
	if math.IsNaN(found.Confidence) || found.Confidence < 50 || found.Confidence > 100 {
		t.Fatalf("confidence out of range: %v", found.Confidence)
	}
}

func TestScanQuietOnFlatHistory(t *testing.T) {
	store := snapshot.New(time.Minute, 30*time.Second)
	defer store.Close()
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	seedCandles(store, closes)

	engine := NewEngine(store, nil, 0)
	out, err := engine.Scan(context.Background(),
		[]string{"BTCUSDT"}, []string{"binance"}, []schema.Timeframe{schema.Timeframe1m})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("flat history fired %d signals: %+v", len(out), out)
	}
}
