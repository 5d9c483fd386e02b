// Package htx implements the provider adapter for the HTX (Huobi) spot API.
// HTX gzip-compresses every frame and drives the heartbeat from the server
// side with {"ping":ts} messages.
package htx

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/adapters/shared"
	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	defaultWS   = "wss://api.huobi.pro/ws"
	defaultREST = "https://api.huobi.pro"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1min",
	schema.Timeframe5m:  "5min",
	schema.Timeframe15m: "15min",
	schema.Timeframe1h:  "60min",
	schema.Timeframe4h:  "4hour",
	schema.Timeframe1d:  "1day",
}

// Adapter streams the market ticker and kline channels. Kline frames carry no
// finality flag; a bar is emitted as final when a frame with a newer open
// time arrives for the same (symbol, timeframe).
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string

	mu   sync.Mutex
	live map[string]schema.Candle
}

// New builds the HTX adapter from provider settings.
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
		rest:      shared.NewRESTClient("htx", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
		live:      make(map[string]schema.Candle),
	}
	a.WSAdapter = shared.NewWSAdapter("htx", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         a.parse,
		// Heartbeat is server-initiated; an outbound ping would be rejected.
		Ping: func(func([]byte) error) error { return nil },
	}, time.Hour)
	return a
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var payloads [][]byte
	sub := func(topic string) {
		payload, _ := json.Marshal(map[string]any{"sub": topic, "id": topic})
		payloads = append(payloads, payload)
	}
	for _, m := range b.TickerMappings() {
		sub("market." + m.ProviderSymbol + ".ticker")
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			sub("market." + m.ProviderSymbol + ".kline." + interval)
		}
	}
	return payloads
}

type message struct {
	Ping    int64           `json:"ping"`
	Channel string          `json:"ch"`
	TS      int64           `json:"ts"`
	Tick    json.RawMessage `json:"tick"`
}

type tickerTick struct {
	Last float64 `json:"lastPrice"`
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Vol  float64 `json:"vol"`
}

type klineTick struct {
	ID     int64   `json:"id"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"vol"`
}

func (a *Adapter) parse(b *shared.WSAdapter, payload []byte) {
	raw, err := gunzip(payload)
	if err != nil {
		// Plain-text error frames are not compressed.
		raw = payload
	}
	var msg message
	if err := json.Unmarshal(raw, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Ping != 0 {
		pong, _ := json.Marshal(map[string]int64{"pong": msg.Ping})
		_ = a.Send(pong)
		return
	}
	if msg.Channel == "" || len(msg.Tick) == 0 {
		return
	}
	parts := strings.Split(msg.Channel, ".")
	if len(parts) < 3 || parts[0] != "market" {
		b.ParseFailure()
		return
	}
	symbol, ok := b.Canonical(parts[1])
	if !ok {
		return
	}
	switch parts[2] {
	case "ticker":
		var tick tickerTick
		if err := json.Unmarshal(msg.Tick, &tick); err != nil {
			b.ParseFailure()
			return
		}
		b.EmitTicker(schema.Ticker{
			Provider:  "htx",
			Symbol:    symbol,
			Timestamp: time.UnixMilli(msg.TS).UTC(),
			Last:      tick.Last,
			Bid:       tick.Bid,
			Ask:       tick.Ask,
			Volume24h: tick.Vol,
		})
	case "kline":
		if len(parts) != 4 {
			b.ParseFailure()
			return
		}
		tf, ok := timeframeOf(parts[3])
		if !ok {
			return
		}
		var tick klineTick
		if err := json.Unmarshal(msg.Tick, &tick); err != nil {
			b.ParseFailure()
			return
		}
		candle := schema.Candle{
			Provider:  "htx",
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.Unix(tick.ID, 0).UTC(),
			Open:      tick.Open,
			High:      tick.High,
			Low:       tick.Low,
			Close:     tick.Close,
			Volume:    tick.Volume,
			IsFinal:   false,
		}
		key := symbol + "|" + string(tf)
		a.mu.Lock()
		prev, had := a.live[key]
		a.live[key] = candle
		a.mu.Unlock()
		if had && candle.OpenTime.After(prev.OpenTime) {
			prev.IsFinal = true
			b.EmitCandle(prev)
		}
		b.EmitCandle(candle)
	}
}

func gunzip(payload []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, 1<<24))
}

func timeframeOf(interval string) (schema.Timeframe, bool) {
	for tf, v := range intervals {
		if v == interval {
			return tf, true
		}
	}
	return "", false
}

type mergedResponse struct {
	Status string `json:"status"`
	TS     int64  `json:"ts"`
	Tick   struct {
		Close float64   `json:"close"`
		Bid   []float64 `json:"bid"`
		Ask   []float64 `json:"ask"`
		Vol   float64   `json:"vol"`
	} `json:"tick"`
}

// FetchTickers pulls the merged detail endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var resp mergedResponse
		url := fmt.Sprintf("%s/market/detail/merged?symbol=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
			return out, err
		}
		if resp.Status != "ok" || len(resp.Tick.Bid) == 0 || len(resp.Tick.Ask) == 0 {
			continue
		}
		out = append(out, schema.Ticker{
			Provider:  "htx",
			Symbol:    m.Symbol,
			Timestamp: time.UnixMilli(resp.TS).UTC(),
			Last:      resp.Tick.Close,
			Bid:       resp.Tick.Bid[0],
			Ask:       resp.Tick.Ask[0],
			Volume24h: resp.Tick.Vol,
		})
	}
	return out, nil
}

type klineResponse struct {
	Status string      `json:"status"`
	Data   []klineTick `json:"data"`
}

// FetchCandles pulls kline history for one mapping. Rows arrive newest first
// and are reversed to chronological order.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("htx", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var resp klineResponse
	url := fmt.Sprintf("%s/market/history/kline?symbol=%s&period=%s&size=%s",
		a.restURL, mapping.ProviderSymbol, interval, strconv.Itoa(limit))
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, errs.New("htx", errs.CodeUnavailable, errs.WithMessage("kline request rejected"))
	}
	out := make([]schema.Candle, 0, len(resp.Data))
	for i := len(resp.Data) - 1; i >= 0; i-- {
		tick := resp.Data[i]
		openTime := time.Unix(tick.ID, 0).UTC()
		out = append(out, schema.Candle{
			Provider:  "htx",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      tick.Open,
			High:      tick.High,
			Low:       tick.Low,
			Close:     tick.Close,
			Volume:    tick.Volume,
			IsFinal:   openTime.Add(timeframe.Duration()).Before(time.Now()),
		})
	}
	return out, nil
}
