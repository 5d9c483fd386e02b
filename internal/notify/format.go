// Package notify implements the notification orchestration layer: message
// formatting, the stateful per-recipient orchestrator, digest buffering, and
// the delivery worker consuming the durable queue.
package notify

import (
	"fmt"
	"strings"

	"github.com/csisgpt/arbwatch/internal/schema"
)

// FormatOpportunity renders an arbitrage opportunity for chat delivery.
func FormatOpportunity(opp schema.ArbOpportunity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Arbitrage %s\n", opp.Symbol)
	fmt.Fprintf(&b, "Buy %s @ %s\n", opp.BuyExchange, trimFloat(opp.BuyPrice))
	fmt.Fprintf(&b, "Sell %s @ %s\n", opp.SellExchange, trimFloat(opp.SellPrice))
	fmt.Fprintf(&b, "Spread %.3f%% (net %.3f%%), confidence %.0f", opp.SpreadPct, opp.NetPct, opp.Confidence)
	return b.String()
}

// FormatSignal renders an indicator signal for chat delivery.
func FormatSignal(sig schema.Signal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Signal %s %s\n", sig.Symbol, strings.ToUpper(string(sig.Direction)))
	fmt.Fprintf(&b, "%s on %s %s\n", sig.Strategy, sig.Provider, sig.Timeframe)
	fmt.Fprintf(&b, "Price %s, confidence %.0f", trimFloat(sig.Price), sig.Confidence)
	return b.String()
}

// FormatNews renders a news item for chat delivery.
func FormatNews(item schema.NewsItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "News [%s] %s\n", item.Impact, item.Title)
	fmt.Fprintf(&b, "Source: %s", item.Source)
	if item.URL != "" {
		fmt.Fprintf(&b, "\n%s", item.URL)
	}
	return b.String()
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.8f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// ChunkMessage splits text into chunks of at most limit characters, breaking
// at line boundaries only. A single line longer than the limit becomes its own
// oversized chunk rather than being cut mid-line.
func ChunkMessage(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}
	lines := strings.Split(text, "\n")
	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}
	for _, line := range lines {
		if len(line) > limit {
			flush()
			chunks = append(chunks, line)
			continue
		}
		needed := len(line)
		if current.Len() > 0 {
			needed += current.Len() + 1
		}
		if needed > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}
	flush()
	if len(chunks) == 0 {
		chunks = []string{""}
	}
	return chunks
}
