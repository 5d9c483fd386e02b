// Package bitfinex implements the provider adapter for the Bitfinex v2 API.
// Data frames are arrays addressed by a channel id assigned at subscribe
// time, so the adapter tracks the id-to-subscription map itself.
package bitfinex

import (
	"context"
	"fmt"
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
	defaultWS   = "wss://api-pub.bitfinex.com/ws/2"
	defaultREST = "https://api-pub.bitfinex.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1h",
	schema.Timeframe4h:  "4h",
	schema.Timeframe1d:  "1D",
}

type channelInfo struct {
	kind      string
	native    string
	timeframe schema.Timeframe
}

// Adapter streams the v2 ticker and candles channels.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string

	mu       sync.Mutex
	channels map[int64]channelInfo
}

// New builds the Bitfinex adapter from provider settings.
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
		rest:      shared.NewRESTClient("bitfinex", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
		channels:  make(map[int64]channelInfo),
	}
	a.WSAdapter = shared.NewWSAdapter("bitfinex", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: a.subscriptions,
		Parse:         a.parse,
		Ping:          nil,
	}, 25*time.Second)
	return a
}

func (a *Adapter) subscriptions(b *shared.WSAdapter) [][]byte {
	// Channel ids from any previous session are void after a reconnect.
	a.mu.Lock()
	a.channels = make(map[int64]channelInfo)
	a.mu.Unlock()

	var payloads [][]byte
	for _, m := range b.TickerMappings() {
		payload, _ := json.Marshal(map[string]any{
			"event":   "subscribe",
			"channel": "ticker",
			"symbol":  m.ProviderSymbol,
		})
		payloads = append(payloads, payload)
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			payload, _ := json.Marshal(map[string]any{
				"event":   "subscribe",
				"channel": "candles",
				"key":     "trade:" + interval + ":" + m.ProviderSymbol,
			})
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

type eventMsg struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	ChanID  int64  `json:"chanId"`
	Symbol  string `json:"symbol"`
	Key     string `json:"key"`
}

func (a *Adapter) parse(b *shared.WSAdapter, payload []byte) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var ev eventMsg
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.ParseFailure()
			return
		}
		if ev.Event == "subscribed" {
			a.registerChannel(ev)
		}
		return
	}

	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil || len(frame) < 2 {
		b.ParseFailure()
		return
	}
	var chanID int64
	if err := json.Unmarshal(frame[0], &chanID); err != nil {
		b.ParseFailure()
		return
	}
	a.mu.Lock()
	info, ok := a.channels[chanID]
	a.mu.Unlock()
	if !ok {
		return
	}
	if string(frame[1]) == `"hb"` {
		return
	}
	symbol, ok := b.Canonical(info.native)
	if !ok {
		return
	}
	switch info.kind {
	case "ticker":
		var row []float64
		if err := json.Unmarshal(frame[1], &row); err != nil || len(row) < 8 {
			b.ParseFailure()
			return
		}
		// [bid, bidSize, ask, askSize, dailyChange, dailyChangePct, last, volume, ...]
		b.EmitTicker(schema.Ticker{
			Provider:  "bitfinex",
			Symbol:    symbol,
			Timestamp: time.Now().UTC(),
			Last:      row[6],
			Bid:       row[0],
			Ask:       row[2],
			Volume24h: row[7],
		})
	case "candles":
		var snapshot [][]float64
		if err := json.Unmarshal(frame[1], &snapshot); err == nil {
			for _, row := range snapshot {
				a.emitCandleRow(b, symbol, info.timeframe, row)
			}
			return
		}
		var row []float64
		if err := json.Unmarshal(frame[1], &row); err != nil {
			b.ParseFailure()
			return
		}
		a.emitCandleRow(b, symbol, info.timeframe, row)
	}
}

func (a *Adapter) registerChannel(ev eventMsg) {
	info := channelInfo{kind: ev.Channel, native: ev.Symbol, timeframe: ""}
	if ev.Channel == "candles" {
		// key is "trade:<interval>:<symbol>"
		parts := strings.SplitN(ev.Key, ":", 3)
		if len(parts) != 3 {
			return
		}
		tf, ok := timeframeOf(parts[1])
		if !ok {
			return
		}
		info.timeframe = tf
		info.native = parts[2]
	}
	a.mu.Lock()
	a.channels[ev.ChanID] = info
	a.mu.Unlock()
}

// emitCandleRow maps one candle array: [mts, open, close, high, low, volume].
func (a *Adapter) emitCandleRow(b *shared.WSAdapter, symbol string, tf schema.Timeframe, row []float64) {
	if len(row) < 6 {
		b.ParseFailure()
		return
	}
	openTime := time.UnixMilli(int64(row[0])).UTC()
	b.EmitCandle(schema.Candle{
		Provider:  "bitfinex",
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      row[1],
		High:      row[3],
		Low:       row[4],
		Close:     row[2],
		Volume:    row[5],
		IsFinal:   openTime.Add(tf.Duration()).Before(time.Now()),
	})
}

func timeframeOf(interval string) (schema.Timeframe, bool) {
	for tf, v := range intervals {
		if v == interval {
			return tf, true
		}
	}
	return "", false
}

// FetchTickers pulls the v2 ticker endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var row []float64
		url := fmt.Sprintf("%s/v2/ticker/%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &row); err != nil {
			return out, err
		}
		if len(row) < 8 {
			continue
		}
		out = append(out, schema.Ticker{
			Provider:  "bitfinex",
			Symbol:    m.Symbol,
			Timestamp: time.Now().UTC(),
			Last:      row[6],
			Bid:       row[0],
			Ask:       row[2],
			Volume24h: row[7],
		})
	}
	return out, nil
}

// FetchCandles pulls candle history for one mapping. Rows arrive newest
// first and are reversed to chronological order.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("bitfinex", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var rows [][]float64
	url := fmt.Sprintf("%s/v2/candles/trade:%s:%s/hist?limit=%d",
		a.restURL, interval, mapping.ProviderSymbol, limit)
	if err := a.rest.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		openTime := time.UnixMilli(int64(row[0])).UTC()
		out = append(out, schema.Candle{
			Provider:  "bitfinex",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      row[1],
			High:      row[3],
			Low:       row[4],
			Close:     row[2],
			Volume:    row[5],
			IsFinal:   openTime.Add(timeframe.Duration()).Before(time.Now()),
		})
	}
	return out, nil
}
