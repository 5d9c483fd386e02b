// Package gateio implements the provider adapter for the Gate.io v4 spot API.
package gateio

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
	defaultWS   = "wss://api.gateio.ws/ws/v4/"
	defaultREST = "https://api.gateio.ws"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1h",
	schema.Timeframe4h:  "4h",
	schema.Timeframe1d:  "1d",
}

// Adapter streams the spot.tickers and spot.candlesticks channels.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the Gate.io adapter from provider settings.
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
		rest:      shared.NewRESTClient("gateio", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("gateio", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping: func(send func([]byte) error) error {
			payload, _ := json.Marshal(map[string]any{
				"time":    time.Now().Unix(),
				"channel": "spot.ping",
			})
			return send(payload)
		},
	}, 20*time.Second)
	return a
}

func subscribeMsg(channel string, payload []string) []byte {
	msg, _ := json.Marshal(map[string]any{
		"time":    time.Now().Unix(),
		"channel": channel,
		"event":   "subscribe",
		"payload": payload,
	})
	return msg
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var payloads [][]byte
	if tickers := b.TickerMappings(); len(tickers) > 0 {
		pairs := make([]string, 0, len(tickers))
		for _, m := range tickers {
			pairs = append(pairs, m.ProviderSymbol)
		}
		payloads = append(payloads, subscribeMsg("spot.tickers", pairs))
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			payloads = append(payloads, subscribeMsg("spot.candlesticks", []string{interval, m.ProviderSymbol}))
		}
	}
	return payloads
}

type message struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Result  json.RawMessage `json:"result"`
}

type tickerResult struct {
	Pair       string `json:"currency_pair"`
	Last       string `json:"last"`
	LowestAsk  string `json:"lowest_ask"`
	HighestBid string `json:"highest_bid"`
	BaseVolume string `json:"base_volume"`
}

type candleResult struct {
	T      string `json:"t"`
	Volume string `json:"v"`
	Close  string `json:"c"`
	High   string `json:"h"`
	Low    string `json:"l"`
	Open   string `json:"o"`
	Name   string `json:"n"`
	Closed bool   `json:"w"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Event != "update" {
		return
	}
	switch msg.Channel {
	case "spot.tickers":
		var result tickerResult
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			b.ParseFailure()
			return
		}
		symbol, ok := b.Canonical(result.Pair)
		if !ok {
			return
		}
		last, okL := shared.ParseF(result.Last)
		bid, okB := shared.ParseF(result.HighestBid)
		ask, okA := shared.ParseF(result.LowestAsk)
		if !okL || !okB || !okA {
			b.ParseFailure()
			return
		}
		volume, _ := shared.ParseF(result.BaseVolume)
		b.EmitTicker(schema.Ticker{
			Provider:  "gateio",
			Symbol:    symbol,
			Timestamp: time.Now().UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	case "spot.candlesticks":
		var result candleResult
		if err := json.Unmarshal(msg.Result, &result); err != nil {
			b.ParseFailure()
			return
		}
		// n is "<interval>_<pair>"
		interval, pair, found := strings.Cut(result.Name, "_")
		if !found {
			b.ParseFailure()
			return
		}
		tf, ok := timeframeOf(interval)
		if !ok {
			return
		}
		symbol, ok := b.Canonical(pair)
		if !ok {
			return
		}
		ts, okT := shared.ParseF(result.T)
		open, okO := shared.ParseF(result.Open)
		high, okH := shared.ParseF(result.High)
		low, okL := shared.ParseF(result.Low)
		closePx, okC := shared.ParseF(result.Close)
		if !okT || !okO || !okH || !okL || !okC {
			b.ParseFailure()
			return
		}
		volume, _ := shared.ParseF(result.Volume)
		b.EmitCandle(schema.Candle{
			Provider:  "gateio",
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.Unix(int64(ts), 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			IsFinal:   result.Closed,
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

// FetchTickers pulls the spot tickers endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var rows []tickerResult
		url := fmt.Sprintf("%s/api/v4/spot/tickers?currency_pair=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &rows); err != nil {
			return out, err
		}
		if len(rows) == 0 {
			continue
		}
		last, okL := shared.ParseF(rows[0].Last)
		bid, okB := shared.ParseF(rows[0].HighestBid)
		ask, okA := shared.ParseF(rows[0].LowestAsk)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(rows[0].BaseVolume)
		out = append(out, schema.Ticker{
			Provider:  "gateio",
			Symbol:    m.Symbol,
			Timestamp: time.Now().UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

// FetchCandles pulls spot candlesticks for one mapping. Rows are arrays of
// strings: [ts, quoteVolume, close, high, low, open, baseVolume, closed].
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("gateio", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var rows [][]string
	url := fmt.Sprintf("%s/api/v4/spot/candlesticks?currency_pair=%s&interval=%s&limit=%d",
		a.restURL, mapping.ProviderSymbol, interval, limit)
	if err := a.rest.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		ts, okT := shared.ParseF(row[0])
		closePx, okC := shared.ParseF(row[2])
		high, okH := shared.ParseF(row[3])
		low, okL := shared.ParseF(row[4])
		open, okO := shared.ParseF(row[5])
		volume, _ := shared.ParseF(row[6])
		if !okT || !okC || !okH || !okL || !okO {
			continue
		}
		final := true
		if len(row) >= 8 {
			final = row[7] == "true"
		}
		out = append(out, schema.Candle{
			Provider:  "gateio",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  time.Unix(int64(ts), 0).UTC(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			IsFinal:   final,
		})
	}
	return out, nil
}
