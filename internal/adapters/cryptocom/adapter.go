// Package cryptocom implements the provider adapter for the Crypto.com
// exchange v1 market API. The server drives the heartbeat: every
// public/heartbeat request must be answered or the socket is dropped.
package cryptocom

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/adapters/shared"
	"github.com/csisgpt/arbwatch/internal/schema"
)

const (
	defaultWS   = "wss://stream.crypto.com/exchange/v1/market"
	defaultREST = "https://api.crypto.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "M1",
	schema.Timeframe5m:  "M5",
	schema.Timeframe15m: "M15",
	schema.Timeframe1h:  "H1",
	schema.Timeframe4h:  "H4",
	schema.Timeframe1d:  "D1",
}

// Adapter streams the ticker and candlestick channels.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
	seq     atomic.Int64
}

// New builds the Crypto.com adapter from provider settings.
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
		rest:      shared.NewRESTClient("cryptocom", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("cryptocom", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: a.subscriptions,
		Parse:         a.parse,
		// Server-initiated heartbeat only.
		Ping: func(func([]byte) error) error { return nil },
	}, time.Hour)
	return a
}

func (a *Adapter) subscriptions(b *shared.WSAdapter) [][]byte {
	var channels []string
	for _, m := range b.TickerMappings() {
		channels = append(channels, "ticker."+m.ProviderSymbol)
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			channels = append(channels, "candlestick."+interval+"."+m.ProviderSymbol)
		}
	}
	if len(channels) == 0 {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{
		"id":     a.seq.Add(1),
		"method": "subscribe",
		"params": map[string]any{"channels": channels},
	})
	return [][]byte{payload}
}

type message struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Result struct {
		Channel    string          `json:"channel"`
		Instrument string          `json:"instrument_name"`
		Interval   string          `json:"interval"`
		Data       json.RawMessage `json:"data"`
	} `json:"result"`
}

type tickerData struct {
	Last   string `json:"a"`
	Bid    string `json:"b"`
	Ask    string `json:"k"`
	Volume string `json:"v"`
	TS     int64  `json:"t"`
}

type candleData struct {
	TS     int64  `json:"t"`
	Open   string `json:"o"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Close  string `json:"c"`
	Volume string `json:"v"`
}

func (a *Adapter) parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Method == "public/heartbeat" {
		pong, _ := json.Marshal(map[string]any{"id": msg.ID, "method": "public/respond-heartbeat"})
		_ = a.Send(pong)
		return
	}
	if msg.Method != "subscribe" || len(msg.Result.Data) == 0 {
		return
	}
	symbol, ok := b.Canonical(msg.Result.Instrument)
	if !ok {
		return
	}
	switch msg.Result.Channel {
	case "ticker":
		var rows []tickerData
		if err := json.Unmarshal(msg.Result.Data, &rows); err != nil {
			b.ParseFailure()
			return
		}
		for _, row := range rows {
			last, okL := shared.ParseF(row.Last)
			bid, okB := shared.ParseF(row.Bid)
			ask, okA := shared.ParseF(row.Ask)
			if !okL || !okB || !okA {
				b.ParseFailure()
				continue
			}
			volume, _ := shared.ParseF(row.Volume)
			b.EmitTicker(schema.Ticker{
				Provider:  "cryptocom",
				Symbol:    symbol,
				Timestamp: time.UnixMilli(row.TS).UTC(),
				Last:      last,
				Bid:       bid,
				Ask:       ask,
				Volume24h: volume,
			})
		}
	case "candlestick":
		tf, ok := timeframeOf(msg.Result.Interval)
		if !ok {
			return
		}
		var rows []candleData
		if err := json.Unmarshal(msg.Result.Data, &rows); err != nil {
			b.ParseFailure()
			return
		}
		for _, row := range rows {
			candle, ok := candleFrom(symbol, tf, row)
			if !ok {
				b.ParseFailure()
				continue
			}
			b.EmitCandle(candle)
		}
	}
}

func candleFrom(symbol string, tf schema.Timeframe, row candleData) (schema.Candle, bool) {
	open, okO := shared.ParseF(row.Open)
	high, okH := shared.ParseF(row.High)
	low, okL := shared.ParseF(row.Low)
	closePx, okC := shared.ParseF(row.Close)
	if !okO || !okH || !okL || !okC {
		return schema.Candle{}, false
	}
	volume, _ := shared.ParseF(row.Volume)
	openTime := time.UnixMilli(row.TS).UTC()
	return schema.Candle{
		Provider:  "cryptocom",
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		IsFinal:   openTime.Add(tf.Duration()).Before(time.Now()),
	}, true
}

func timeframeOf(interval string) (schema.Timeframe, bool) {
	for tf, v := range intervals {
		if v == interval {
			return tf, true
		}
	}
	return "", false
}

type restEnvelope struct {
	Code   int `json:"code"`
	Result struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
}

// FetchTickers pulls the public get-tickers endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var env restEnvelope
		url := fmt.Sprintf("%s/exchange/v1/public/get-tickers?instrument_name=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &env); err != nil {
			return out, err
		}
		if env.Code != 0 {
			continue
		}
		var rows []tickerData
		if err := json.Unmarshal(env.Result.Data, &rows); err != nil || len(rows) == 0 {
			continue
		}
		last, okL := shared.ParseF(rows[0].Last)
		bid, okB := shared.ParseF(rows[0].Bid)
		ask, okA := shared.ParseF(rows[0].Ask)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(rows[0].Volume)
		out = append(out, schema.Ticker{
			Provider:  "cryptocom",
			Symbol:    m.Symbol,
			Timestamp: time.UnixMilli(rows[0].TS).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

// FetchCandles pulls the public get-candlestick endpoint for one mapping.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("cryptocom", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var env restEnvelope
	url := fmt.Sprintf("%s/exchange/v1/public/get-candlestick?instrument_name=%s&timeframe=%s&count=%d",
		a.restURL, mapping.ProviderSymbol, interval, limit)
	if err := a.rest.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	if env.Code != 0 {
		return nil, errs.New("cryptocom", errs.CodeUnavailable, errs.WithMessage("candlestick request rejected"))
	}
	var rows []candleData
	if err := json.Unmarshal(env.Result.Data, &rows); err != nil {
		return nil, errs.New("cryptocom", errs.CodeParse, errs.WithCause(err))
	}
	out := make([]schema.Candle, 0, len(rows))
	for _, row := range rows {
		candle, ok := candleFrom(mapping.Symbol, timeframe, row)
		if !ok {
			continue
		}
		out = append(out, candle)
	}
	return out, nil
}
