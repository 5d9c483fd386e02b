// Package coinbase implements the provider adapter for the Coinbase Exchange
// websocket feed and REST API.
package coinbase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/adapters/shared"
	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	defaultWS   = "wss://ws-feed.exchange.coinbase.com"
	defaultREST = "https://api.exchange.coinbase.com"
)

// REST candle granularities are seconds; the feed has no candle channel.
var granularities = map[schema.Timeframe]int{
	schema.Timeframe1m:  60,
	schema.Timeframe5m:  300,
	schema.Timeframe15m: 900,
	schema.Timeframe1h:  3600,
	schema.Timeframe1d:  86400,
}

// Adapter streams the ticker channel; candles come from REST only.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the Coinbase adapter from provider settings.
func New(cfg config.ProviderSettings) *Adapter {
	wsURL := cfg.WebsocketURL
	if wsURL == "" {
		wsURL = defaultWS
	}
	restURL := cfg.RESTURL
	if restURL == "" {
		restURL = defaultREST
	}
	a := &Adapter{
		WSAdapter: nil,
		rest:      shared.NewRESTClient("coinbase", 8, 4),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("coinbase", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping:          nil,
	}, 25*time.Second)
	return a
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	mappings := b.TickerMappings()
	if len(mappings) == 0 {
		return nil
	}
	products := make([]string, 0, len(mappings))
	for _, m := range mappings {
		products = append(products, m.ProviderSymbol)
	}
	payload, _ := json.Marshal(map[string]any{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"ticker", "heartbeat"},
	})
	return [][]byte{payload}
}

type message struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	BestBid   string `json:"best_bid"`
	BestAsk   string `json:"best_ask"`
	Volume24h string `json:"volume_24h"`
	Time      string `json:"time"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Type != "ticker" {
		return
	}
	symbol, ok := b.Canonical(msg.ProductID)
	if !ok {
		return
	}
	last, okL := shared.ParseF(msg.Price)
	bid, okB := shared.ParseF(msg.BestBid)
	ask, okA := shared.ParseF(msg.BestAsk)
	if !okL || !okB || !okA {
		b.ParseFailure()
		return
	}
	volume, _ := shared.ParseF(msg.Volume24h)
	ts := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339Nano, msg.Time); err == nil {
		ts = parsed.UTC()
	}
	b.EmitTicker(schema.Ticker{
		Provider:  "coinbase",
		Symbol:    symbol,
		Timestamp: ts,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume24h: volume,
	})
}

type productTicker struct {
	Price  string `json:"price"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Volume string `json:"volume"`
	Time   string `json:"time"`
}

// FetchTickers pulls the product ticker endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var pt productTicker
		url := fmt.Sprintf("%s/products/%s/ticker", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &pt); err != nil {
			return out, err
		}
		last, okL := shared.ParseF(pt.Price)
		bid, okB := shared.ParseF(pt.Bid)
		ask, okA := shared.ParseF(pt.Ask)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(pt.Volume)
		ts := time.Now().UTC()
		if parsed, err := time.Parse(time.RFC3339Nano, pt.Time); err == nil {
			ts = parsed.UTC()
		}
		out = append(out, schema.Ticker{
			Provider:  "coinbase",
			Symbol:    m.Symbol,
			Timestamp: ts,
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

// FetchCandles pulls historic rates for one mapping. Rows are
// [time, low, high, open, close, volume], newest first.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	granularity, ok := granularities[timeframe]
	if !ok {
		return nil, errs.New("coinbase", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var rows [][]float64
	url := fmt.Sprintf("%s/products/%s/candles?granularity=%d", a.restURL, mapping.ProviderSymbol, granularity)
	if err := a.rest.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]schema.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		openTime := time.Unix(int64(row[0]), 0).UTC()
		out = append(out, schema.Candle{
			Provider:  "coinbase",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      row[3],
			High:      row[2],
			Low:       row[1],
			Close:     row[4],
			Volume:    row[5],
			IsFinal:   openTime.Add(timeframe.Duration()).Before(time.Now()),
		})
	}
	return out, nil
}
