// Package mexc implements the provider adapter for the MEXC spot v3 API.
package mexc

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
	defaultWS   = "wss://wbs.mexc.com/ws"
	defaultREST = "https://api.mexc.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "Min1",
	schema.Timeframe5m:  "Min5",
	schema.Timeframe15m: "Min15",
	schema.Timeframe1h:  "Min60",
	schema.Timeframe4h:  "Hour4",
	schema.Timeframe1d:  "Day1",
}

var restIntervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "60m",
	schema.Timeframe4h:  "4h",
	schema.Timeframe1d:  "1d",
}

// Adapter streams the v3 bookTicker and kline channels. The book ticker
// carries no last-trade price, so last is synthesized as the bid/ask midpoint.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the MEXC adapter from provider settings.
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
		rest:      shared.NewRESTClient("mexc", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("mexc", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping: func(send func([]byte) error) error {
			return send([]byte(`{"method":"PING"}`))
		},
	}, 25*time.Second)
	return a
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var params []string
	for _, m := range b.TickerMappings() {
		params = append(params, "spot@public.bookTicker.v3.api@"+m.ProviderSymbol)
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			params = append(params, "spot@public.kline.v3.api@"+m.ProviderSymbol+"@"+interval)
		}
	}
	if len(params) == 0 {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{"method": "SUBSCRIPTION", "params": params})
	return [][]byte{payload}
}

type message struct {
	Channel string          `json:"c"`
	Symbol  string          `json:"s"`
	TS      int64           `json:"t"`
	Data    json.RawMessage `json:"d"`
}

type bookTickerData struct {
	Bid string `json:"b"`
	Ask string `json:"a"`
}

type klineData struct {
	Kline struct {
		Start    int64   `json:"t"`
		End      int64   `json:"T"`
		Interval string  `json:"i"`
		Open     float64 `json:"o"`
		High     float64 `json:"h"`
		Low      float64 `json:"l"`
		Close    float64 `json:"c"`
		Volume   float64 `json:"v"`
	} `json:"k"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Channel == "" {
		// PONG and subscription acks
		return
	}
	switch {
	case strings.Contains(msg.Channel, "public.bookTicker"):
		symbol, ok := b.Canonical(msg.Symbol)
		if !ok {
			return
		}
		var data bookTickerData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.ParseFailure()
			return
		}
		bid, okB := shared.ParseF(data.Bid)
		ask, okA := shared.ParseF(data.Ask)
		if !okB || !okA {
			b.ParseFailure()
			return
		}
		b.EmitTicker(schema.Ticker{
			Provider:  "mexc",
			Symbol:    symbol,
			Timestamp: time.UnixMilli(msg.TS).UTC(),
			Last:      schema.Midpoint(bid, ask),
			Bid:       bid,
			Ask:       ask,
			Volume24h: 0,
		})
	case strings.Contains(msg.Channel, "public.kline"):
		symbol, ok := b.Canonical(msg.Symbol)
		if !ok {
			return
		}
		var data klineData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.ParseFailure()
			return
		}
		tf, ok := timeframeOf(data.Kline.Interval)
		if !ok {
			return
		}
		b.EmitCandle(schema.Candle{
			Provider:  "mexc",
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  time.Unix(data.Kline.Start, 0).UTC(),
			Open:      data.Kline.Open,
			High:      data.Kline.High,
			Low:       data.Kline.Low,
			Close:     data.Kline.Close,
			Volume:    data.Kline.Volume,
			IsFinal:   data.Kline.End > 0 && time.Unix(data.Kline.End, 0).Before(time.UnixMilli(msg.TS)),
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
			Provider:  "mexc",
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
	interval, ok := restIntervals[timeframe]
	if !ok {
		return nil, errs.New("mexc", errs.CodeInvalid,
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
			Provider:  "mexc",
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
