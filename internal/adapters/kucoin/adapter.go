// Package kucoin implements the provider adapter for the KuCoin spot API.
package kucoin

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

// The production endpoint requires a bullet-token handshake; deployments put
// the tokenized URL in configuration.
const (
	defaultWS   = "wss://ws-api-spot.kucoin.com/"
	defaultREST = "https://api.kucoin.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1min",
	schema.Timeframe5m:  "5min",
	schema.Timeframe15m: "15min",
	schema.Timeframe1h:  "1hour",
	schema.Timeframe4h:  "4hour",
	schema.Timeframe1d:  "1day",
}

// Adapter streams the market ticker and candles topics.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
	seq     atomic.Int64
}

// New builds the KuCoin adapter from provider settings.
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
		rest:      shared.NewRESTClient("kucoin", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("kucoin", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: a.subscriptions,
		Parse:         a.parse,
		Ping: func(send func([]byte) error) error {
			payload, _ := json.Marshal(map[string]any{"id": a.seq.Add(1), "type": "ping"})
			return send(payload)
		},
	}, 18*time.Second)
	return a
}

func (a *Adapter) subscriptions(b *shared.WSAdapter) [][]byte {
	var payloads [][]byte
	sub := func(topic string) {
		payload, _ := json.Marshal(map[string]any{
			"id":       a.seq.Add(1),
			"type":     "subscribe",
			"topic":    topic,
			"response": true,
		})
		payloads = append(payloads, payload)
	}
	if tickers := b.TickerMappings(); len(tickers) > 0 {
		symbols := make([]string, 0, len(tickers))
		for _, m := range tickers {
			symbols = append(symbols, m.ProviderSymbol)
		}
		sub("/market/ticker:" + strings.Join(symbols, ","))
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			sub("/market/candles:" + m.ProviderSymbol + "_" + interval)
		}
	}
	return payloads
}

type message struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

type tickerData struct {
	Price   string `json:"price"`
	BestBid string `json:"bestBid"`
	BestAsk string `json:"bestAsk"`
	Time    int64  `json:"time"`
}

type candleData struct {
	Symbol  string   `json:"symbol"`
	Candles []string `json:"candles"`
	Time    int64    `json:"time"`
}

func (a *Adapter) parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Type != "message" {
		// welcome, ack, pong
		return
	}
	switch {
	case strings.HasPrefix(msg.Topic, "/market/ticker:"):
		// multi-symbol subscriptions carry the symbol in the subject
		native := msg.Subject
		if native == "trade.ticker" {
			native = strings.TrimPrefix(msg.Topic, "/market/ticker:")
		}
		symbol, ok := b.Canonical(native)
		if !ok {
			return
		}
		var data tickerData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.ParseFailure()
			return
		}
		last, okL := shared.ParseF(data.Price)
		bid, okB := shared.ParseF(data.BestBid)
		ask, okA := shared.ParseF(data.BestAsk)
		if !okL || !okB || !okA {
			b.ParseFailure()
			return
		}
		b.EmitTicker(schema.Ticker{
			Provider:  "kucoin",
			Symbol:    symbol,
			Timestamp: time.UnixMilli(data.Time).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: 0,
		})
	case strings.HasPrefix(msg.Topic, "/market/candles:"):
		var data candleData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.ParseFailure()
			return
		}
		symbol, ok := b.Canonical(data.Symbol)
		if !ok {
			return
		}
		suffix := msg.Topic[strings.LastIndex(msg.Topic, "_")+1:]
		tf, ok := timeframeOf(suffix)
		if !ok {
			return
		}
		candle, ok := candleFromRow(symbol, tf, data.Candles)
		if !ok {
			b.ParseFailure()
			return
		}
		// "add" signals the previous bar closed and a new one opened.
		candle.IsFinal = msg.Subject == "trade.candles.add"
		b.EmitCandle(candle)
	}
}

// candleFromRow maps one KuCoin candle array: [ts,o,c,h,l,vol,amount].
func candleFromRow(symbol string, tf schema.Timeframe, row []string) (schema.Candle, bool) {
	if len(row) < 6 {
		return schema.Candle{}, false
	}
	ts, okT := shared.ParseF(row[0])
	open, okO := shared.ParseF(row[1])
	closePx, okC := shared.ParseF(row[2])
	high, okH := shared.ParseF(row[3])
	low, okL := shared.ParseF(row[4])
	volume, _ := shared.ParseF(row[5])
	if !okT || !okO || !okC || !okH || !okL {
		return schema.Candle{}, false
	}
	return schema.Candle{
		Provider:  "kucoin",
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  time.Unix(int64(ts), 0).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		IsFinal:   false,
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
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

type statsData struct {
	Last string `json:"last"`
	Buy  string `json:"buy"`
	Sell string `json:"sell"`
	Vol  string `json:"vol"`
	Time int64  `json:"time"`
}

// FetchTickers pulls 24hr market stats per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var env restEnvelope
		url := fmt.Sprintf("%s/api/v1/market/stats?symbol=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &env); err != nil {
			return out, err
		}
		var stats statsData
		if err := json.Unmarshal(env.Data, &stats); err != nil {
			continue
		}
		last, okL := shared.ParseF(stats.Last)
		bid, okB := shared.ParseF(stats.Buy)
		ask, okA := shared.ParseF(stats.Sell)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(stats.Vol)
		out = append(out, schema.Ticker{
			Provider:  "kucoin",
			Symbol:    m.Symbol,
			Timestamp: time.UnixMilli(stats.Time).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

// FetchCandles pulls recent candles for one mapping. Rows arrive newest first
// and are reversed to chronological order.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("kucoin", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var env restEnvelope
	url := fmt.Sprintf("%s/api/v1/market/candles?type=%s&symbol=%s", a.restURL, interval, mapping.ProviderSymbol)
	if err := a.rest.GetJSON(ctx, url, &env); err != nil {
		return nil, err
	}
	var rows [][]string
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, errs.New("kucoin", errs.CodeParse, errs.WithCause(err))
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	out := make([]schema.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		candle, ok := candleFromRow(mapping.Symbol, timeframe, rows[i])
		if !ok {
			continue
		}
		candle.IsFinal = candle.OpenTime.Add(timeframe.Duration()).Before(time.Now())
		out = append(out, candle)
	}
	return out, nil
}
