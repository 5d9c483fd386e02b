// Package bitget implements the provider adapter for the Bitget v2 spot API.
package bitget

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
	defaultWS   = "wss://ws.bitget.com/v2/ws/public"
	defaultREST = "https://api.bitget.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1H",
	schema.Timeframe4h:  "4H",
	schema.Timeframe1d:  "1D",
}

var restIntervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1min",
	schema.Timeframe5m:  "5min",
	schema.Timeframe15m: "15min",
	schema.Timeframe1h:  "1h",
	schema.Timeframe4h:  "4h",
	schema.Timeframe1d:  "1day",
}

// Adapter streams the v2 public ticker and candle channels.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the Bitget adapter from provider settings.
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
		rest:      shared.NewRESTClient("bitget", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("bitget", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping: func(send func([]byte) error) error {
			return send([]byte("ping"))
		},
	}, 25*time.Second)
	return a
}

type channelArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var args []channelArg
	for _, m := range b.TickerMappings() {
		args = append(args, channelArg{InstType: "SPOT", Channel: "ticker", InstID: m.ProviderSymbol})
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			args = append(args, channelArg{InstType: "SPOT", Channel: "candle" + interval, InstID: m.ProviderSymbol})
		}
	}
	if len(args) == 0 {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{payload}
}

type message struct {
	Action string          `json:"action"`
	Arg    channelArg      `json:"arg"`
	Data   json.RawMessage `json:"data"`
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"lastPr"`
	Bid    string `json:"bidPr"`
	Ask    string `json:"askPr"`
	Volume string `json:"baseVolume"`
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
		return
	}
	switch {
	case msg.Arg.Channel == "ticker":
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
				Provider:  "bitget",
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
			if len(row) < 6 {
				b.ParseFailure()
				continue
			}
			ts, okT := shared.ParseF(row[0])
			open, okO := shared.ParseF(row[1])
			high, okH := shared.ParseF(row[2])
			low, okL := shared.ParseF(row[3])
			closePx, okC := shared.ParseF(row[4])
			volume, _ := shared.ParseF(row[5])
			if !okT || !okO || !okH || !okL || !okC {
				b.ParseFailure()
				continue
			}
			openTime := time.UnixMilli(int64(ts)).UTC()
			// Snapshot rows cover closed bars; the trailing update row is the
			// live bar, detectable by its open time still being current.
			b.EmitCandle(schema.Candle{
				Provider:  "bitget",
				Symbol:    symbol,
				Timeframe: tf,
				OpenTime:  openTime,
				Open:      open,
				High:      high,
				Low:       low,
				Close:     closePx,
				Volume:    volume,
				IsFinal:   msg.Action == "snapshot" || openTime.Add(tf.Duration()).Before(time.Now()),
			})
		}
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

type restResponse struct {
	Code string            `json:"code"`
	Data []json.RawMessage `json:"data"`
}

// FetchTickers pulls spot tickers per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var resp restResponse
		url := fmt.Sprintf("%s/api/v2/spot/market/tickers?symbol=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
			return out, err
		}
		if resp.Code != "00000" || len(resp.Data) == 0 {
			continue
		}
		var row tickerData
		if err := json.Unmarshal(resp.Data[0], &row); err != nil {
			continue
		}
		last, okL := shared.ParseF(row.Last)
		bid, okB := shared.ParseF(row.Bid)
		ask, okA := shared.ParseF(row.Ask)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(row.Volume)
		out = append(out, schema.Ticker{
			Provider:  "bitget",
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

// FetchCandles pulls spot candles for one mapping.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := restIntervals[timeframe]
	if !ok {
		return nil, errs.New("bitget", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var resp restResponse
	url := fmt.Sprintf("%s/api/v2/spot/market/candles?symbol=%s&granularity=%s&limit=%d",
		a.restURL, mapping.ProviderSymbol, interval, limit)
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(resp.Data))
	for _, raw := range resp.Data {
		var row []string
		if err := json.Unmarshal(raw, &row); err != nil || len(row) < 6 {
			continue
		}
		ts, okT := shared.ParseF(row[0])
		open, okO := shared.ParseF(row[1])
		high, okH := shared.ParseF(row[2])
		low, okL := shared.ParseF(row[3])
		closePx, okC := shared.ParseF(row[4])
		volume, _ := shared.ParseF(row[5])
		if !okT || !okO || !okH || !okL || !okC {
			continue
		}
		openTime := time.UnixMilli(int64(ts)).UTC()
		out = append(out, schema.Candle{
			Provider:  "bitget",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			IsFinal:   openTime.Add(timeframe.Duration()).Before(time.Now()),
		})
	}
	return out, nil
}
