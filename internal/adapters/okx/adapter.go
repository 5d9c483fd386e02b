// Package okx implements the provider adapter for the OKX v5 public API.
package okx

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
	defaultWS   = "wss://ws.okx.com:8443/ws/v5/public"
	defaultREST = "https://www.okx.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1H",
	schema.Timeframe4h:  "4H",
	schema.Timeframe1d:  "1D",
}

// Adapter streams the v5 tickers and candle channels.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the OKX adapter from provider settings.
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
		rest:      shared.NewRESTClient("okx", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("okx", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping: func(send func([]byte) error) error {
			// OKX expects a bare text ping, not a control frame.
			return send([]byte("ping"))
		},
	}, 25*time.Second)
	return a
}

type channelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var args []channelArg
	for _, m := range b.TickerMappings() {
		args = append(args, channelArg{Channel: "tickers", InstID: m.ProviderSymbol})
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			args = append(args, channelArg{Channel: "candle" + interval, InstID: m.ProviderSymbol})
		}
	}
	if len(args) == 0 {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{payload}
}

type message struct {
	Arg  channelArg      `json:"arg"`
	Data json.RawMessage `json:"data"`
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	Bid    string `json:"bidPx"`
	Ask    string `json:"askPx"`
	Volume string `json:"vol24h"`
	TS     string `json:"ts"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	if string(payload) == "pong" {
		return
	}
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if len(msg.Data) == 0 {
		// subscribe acks and error events
		return
	}
	switch {
	case msg.Arg.Channel == "tickers":
		var rows []tickerData
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			b.ParseFailure()
			return
		}
		for _, row := range rows {
			symbol, ok := b.Canonical(row.InstID)
			if !ok {
				continue
			}
			last, okL := shared.ParseF(row.Last)
			bid, okB := shared.ParseF(row.Bid)
			ask, okA := shared.ParseF(row.Ask)
			ts, okT := shared.ParseF(row.TS)
			if !okL || !okB || !okA || !okT {
				b.ParseFailure()
				continue
			}
			volume, _ := shared.ParseF(row.Volume)
			b.EmitTicker(schema.Ticker{
				Provider:  "okx",
				Symbol:    symbol,
				Timestamp: time.UnixMilli(int64(ts)).UTC(),
				Last:      last,
				Bid:       bid,
				Ask:       ask,
				Volume24h: volume,
			})
		}
	case strings.HasPrefix(msg.Arg.Channel, "candle"):
		tf, ok := timeframeOf(strings.TrimPrefix(msg.Arg.Channel, "candle"))
		if !ok {
			return
		}
		symbol, ok := b.Canonical(msg.Arg.InstID)
		if !ok {
			return
		}
		var rows [][]string
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			b.ParseFailure()
			return
		}
		for _, row := range rows {
			candle, ok := candleFromRow(symbol, tf, row)
			if !ok {
				b.ParseFailure()
				continue
			}
			b.EmitCandle(candle)
		}
	}
}

// candleFromRow maps one OKX candle array: [ts,o,h,l,c,vol,...,confirm].
func candleFromRow(symbol string, tf schema.Timeframe, row []string) (schema.Candle, bool) {
	if len(row) < 6 {
		return schema.Candle{}, false
	}
	ts, okT := shared.ParseF(row[0])
	open, okO := shared.ParseF(row[1])
	high, okH := shared.ParseF(row[2])
	low, okL := shared.ParseF(row[3])
	closePx, okC := shared.ParseF(row[4])
	volume, _ := shared.ParseF(row[5])
	if !okT || !okO || !okH || !okL || !okC {
		return schema.Candle{}, false
	}
	final := false
	if len(row) >= 9 {
		final = row[8] == "1"
	}
	return schema.Candle{
		Provider:  "okx",
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  time.UnixMilli(int64(ts)).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePx,
		Volume:    volume,
		IsFinal:   final,
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

type restResponse struct {
	Code string            `json:"code"`
	Data []json.RawMessage `json:"data"`
}

// FetchTickers pulls the v5 ticker endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var resp restResponse
		url := fmt.Sprintf("%s/api/v5/market/ticker?instId=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
			return out, err
		}
		if resp.Code != "0" || len(resp.Data) == 0 {
			continue
		}
		var row tickerData
		if err := json.Unmarshal(resp.Data[0], &row); err != nil {
			continue
		}
		last, okL := shared.ParseF(row.Last)
		bid, okB := shared.ParseF(row.Bid)
		ask, okA := shared.ParseF(row.Ask)
		ts, okT := shared.ParseF(row.TS)
		if !okL || !okB || !okA || !okT {
			continue
		}
		volume, _ := shared.ParseF(row.Volume)
		out = append(out, schema.Ticker{
			Provider:  "okx",
			Symbol:    m.Symbol,
			Timestamp: time.UnixMilli(int64(ts)).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

// FetchCandles pulls the history-candles endpoint for one mapping. Rows
// arrive newest first and are reversed to chronological order.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("okx", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var resp restResponse
	url := fmt.Sprintf("%s/api/v5/market/candles?instId=%s&bar=%s&limit=%d",
		a.restURL, mapping.ProviderSymbol, interval, limit)
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(resp.Data))
	for i := len(resp.Data) - 1; i >= 0; i-- {
		var row []string
		if err := json.Unmarshal(resp.Data[i], &row); err != nil {
			continue
		}
		candle, ok := candleFromRow(mapping.Symbol, timeframe, row)
		if !ok {
			continue
		}
		out = append(out, candle)
	}
	return out, nil
}
