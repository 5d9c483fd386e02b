package notify

import (
	"strings"
	"testing"

	"github.com/csisgpt/arbwatch/internal/schema"
)

func TestChunkMessageSplitsAtLineBoundaries(t *testing.T) {
	var lines []string
	for len(strings.Join(lines, "\n")) < 9000 {
		lines = append(lines, strings.Repeat("x", 80))
	}
	text := strings.Join(lines, "\n")

	const limit = 2000
	chunks := ChunkMessage(text, limit)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for %d chars, got %d", len(text), len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > limit {
			t.Fatalf("chunk %d has %d chars, limit %d", i, len(chunk), limit)
		}
		if strings.HasPrefix(chunk, "\n") || strings.HasSuffix(chunk, "\n") {
			t.Fatalf("chunk %d has dangling newline", i)
		}
	}
	if got := strings.Join(chunks, "\n"); got != text {
		t.Fatal("joining chunks with newline does not reproduce the original text")
	}
}

func TestChunkMessageShortTextSingleChunk(t *testing.T) {
	chunks := ChunkMessage("hello\nworld", 100)
	if len(chunks) != 1 || chunks[0] != "hello\nworld" {
		t.Fatalf("chunks = %q, want single unchanged chunk", chunks)
	}
}

func TestChunkMessageOversizedLineOwnChunk(t *testing.T) {
	long := strings.Repeat("y", 500)
	text := "head\n" + long + "\ntail"
	chunks := ChunkMessage(text, 100)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if chunks[1] != long {
		t.Fatal("oversized line must stay intact in its own chunk")
	}
}

func TestFormatOpportunityMentionsBothVenues(t *testing.T) {
	text := FormatOpportunity(schema.ArbOpportunity{
		Symbol:       "BTCUSDT",
		BuyExchange:  "binance",
		SellExchange: "kraken",
		BuyPrice:     42000.5,
		SellPrice:    42100.25,
		SpreadPct:    0.237,
		NetPct:       0.197,
		Confidence:   55,
	})
	for _, want := range []string{"BTCUSDT", "binance", "kraken", "42000.5", "42100.25"} {
		if !strings.Contains(text, want) {
			t.Fatalf("formatted text missing %q:\n%s", want, text)
		}
	}
}

func TestFormatSignalIncludesDirectionAndTimeframe(t *testing.T) {
	text := FormatSignal(schema.Signal{
		Symbol:     "ETHUSDT",
		Provider:   "okx",
		Timeframe:  schema.Timeframe1h,
		Strategy:   "rsi_extreme",
		Direction:  schema.SignalShort,
		Price:      3200,
		Confidence: 80,
	})
	for _, want := range []string{"ETHUSDT", "SHORT", "1h", "okx", "rsi_extreme"} {
		if !strings.Contains(text, want) {
			t.Fatalf("formatted text missing %q:\n%s", want, text)
		}
	}
}
