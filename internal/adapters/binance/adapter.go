// Package binance implements the provider adapter for the Binance spot API.
package binance

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
	defaultWS   = "wss://stream.binance.com:9443"
	defaultREST = "https://api.binance.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1h",
	schema.Timeframe4h:  "4h",
	schema.Timeframe1d:  "1d",
}

// Adapter streams tickers and klines over the combined-stream endpoint, which
// encodes the subscription set in the dial URL.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the Binance adapter from provider settings.
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
		rest:      shared.NewRESTClient("binance", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("binance", wsURL, shared.Hooks{
		URL:           func(b *shared.WSAdapter) string { return streamURL(wsURL, b) },
		Subscriptions: nil,
		Parse:         parse,
		Ping:          nil,
	}, 20*time.Second)
	return a
}

func streamURL(base string, b *shared.WSAdapter) string {
	var streams []string
	for _, m := range b.TickerMappings() {
		streams = append(streams, strings.ToLower(m.ProviderSymbol)+"@ticker")
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			streams = append(streams, strings.ToLower(m.ProviderSymbol)+"@kline_"+interval)
		}
	}
	if len(streams) == 0 {
		// A bare /ws connection stays open with no subscriptions.
		return strings.TrimRight(base, "/") + "/ws"
	}
	return strings.TrimRight(base, "/") + "/stream?streams=" + strings.Join(streams, "/")
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tickerMsg struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Last      string `json:"c"`
	Bid       string `json:"b"`
	Ask       string `json:"a"`
	Volume    string `json:"v"`
}

type klineMsg struct {
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Final    bool   `json:"x"`
	} `json:"k"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || len(env.Data) == 0 {
		b.ParseFailure()
		return
	}
	switch {
	case strings.HasSuffix(env.Stream, "@ticker"):
		var msg tickerMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			b.ParseFailure()
			return
		}
		symbol, ok := b.Canonical(msg.Symbol)
		if !ok {
			return
		}
		last, okL := shared.ParseF(msg.Last)
		bid, okB := shared.ParseF(msg.Bid)
		ask, okA := shared.ParseF(msg.Ask)
		if !okL || !okB || !okA {
			b.ParseFailure()
			return
		}
		volume, _ := shared.ParseF(msg.Volume)
		b.EmitTicker(schema.Ticker{
			Provider:  "binance",
			Symbol:    symbol,
			Timestamp: time.UnixMilli(msg.EventTime).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	case strings.Contains(env.Stream, "@kline_"):
		var msg klineMsg
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			b.ParseFailure()
			return
		}
		symbol, ok := b.Canonical(msg.Symbol)
		if !ok {
			return
		}
		tf, ok := timeframeOf(msg.Kline.Interval)
		if !ok {
			return
		}
		open, okO := shared.ParseF(msg.Kline.Open)
		high, okH := shared.ParseF(msg.Kline.High)
		low, okL := shared.ParseF(msg.Kline.Low)
		closePx, okC := shared.ParseF(msg.Kline.Close)
		if !okO || !okH || !okL || !okC {
			b.ParseFailure()
			return
		}
		volume, _ := shared.ParseF(msg.Kline.Volume)
		b.EmitCandle(schema.Candle{
			Provider:  "binance",
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.UnixMilli(msg.Kline.OpenTime).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			IsFinal:   msg.Kline.Final,
		})
	}
}

func timeframeOf(interval string) (schema.Timeframe, bool) {
	for tf, v := range intervals {
		if v == interval {
			return tf, true
		}
	}
	return "", false
}

type restTicker struct {
	Symbol string `json:"symbol"`
	Last   string `json:"lastPrice"`
	Bid    string `json:"bidPrice"`
	Ask    string `json:"askPrice"`
	Volume string `json:"volume"`
	Close  int64  `json:"closeTime"`
}

// FetchTickers pulls 24hr statistics per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var rt restTicker
		url := fmt.Sprintf("%s/api/v3/ticker/24hr?symbol=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &rt); err != nil {
			return out, err
		}
		last, okL := shared.ParseF(rt.Last)
		bid, okB := shared.ParseF(rt.Bid)
		ask, okA := shared.ParseF(rt.Ask)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(rt.Volume)
		out = append(out, schema.Ticker{
			Provider:  "binance",
			Symbol:    m.Symbol,
			Timestamp: time.UnixMilli(rt.Close).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

// FetchCandles pulls recent klines for one mapping.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("binance", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var rows [][]any
	url := fmt.Sprintf("%s/api/v3/klines?symbol=%s&interval=%s&limit=%d",
		a.restURL, mapping.ProviderSymbol, interval, limit)
	if err := a.rest.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		openTime, okT := shared.F64(row[0])
		open, okO := shared.F64(row[1])
		high, okH := shared.F64(row[2])
		low, okL := shared.F64(row[3])
		closePx, okC := shared.F64(row[4])
		volume, _ := shared.F64(row[5])
		closeTime, okE := shared.F64(row[6])
		if !okT || !okO || !okH || !okL || !okC || !okE {
			continue
		}
		out = append(out, schema.Candle{
			Provider:  "binance",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  time.UnixMilli(int64(openTime)).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			IsFinal:   time.UnixMilli(int64(closeTime)).Before(time.Now()),
		})
	}
	return out, nil
}
