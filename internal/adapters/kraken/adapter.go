// Package kraken implements the provider adapter for the Kraken websocket v1
// and REST APIs. Data frames are JSON arrays, not objects.
package kraken

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
	defaultWS   = "wss://ws.kraken.com"
	defaultREST = "https://api.kraken.com"
)

// Websocket OHLC intervals are minutes.
var intervals = map[schema.Timeframe]int{
	schema.Timeframe1m:  1,
	schema.Timeframe5m:  5,
	schema.Timeframe15m: 15,
	schema.Timeframe1h:  60,
	schema.Timeframe4h:  240,
	schema.Timeframe1d:  1440,
}

// Adapter streams the v1 ticker and ohlc subscriptions.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the Kraken adapter from provider settings.
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
		rest:      shared.NewRESTClient("kraken", 5, 3),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("kraken", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping: func(send func([]byte) error) error {
			return send([]byte(`{"event":"ping"}`))
		},
	}, 30*time.Second)
	return a
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var payloads [][]byte
	if tickers := b.TickerMappings(); len(tickers) > 0 {
		pairs := make([]string, 0, len(tickers))
		for _, m := range tickers {
			pairs = append(pairs, m.ProviderSymbol)
		}
		payload, _ := json.Marshal(map[string]any{
			"event":        "subscribe",
			"pair":         pairs,
			"subscription": map[string]any{"name": "ticker"},
		})
		payloads = append(payloads, payload)
	}
	if candles := b.CandleMappings(); len(candles) > 0 {
		pairs := make([]string, 0, len(candles))
		for _, m := range candles {
			pairs = append(pairs, m.ProviderSymbol)
		}
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			payload, _ := json.Marshal(map[string]any{
				"event":        "subscribe",
				"pair":         pairs,
				"subscription": map[string]any{"name": "ohlc", "interval": interval},
			})
			payloads = append(payloads, payload)
		}
	}
	return payloads
}

type tickerPayload struct {
	Ask    []json.Number `json:"a"`
	Bid    []json.Number `json:"b"`
	Close  []json.Number `json:"c"`
	Volume []json.Number `json:"v"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		// event frames: systemStatus, subscriptionStatus, heartbeat, pong
		return
	}
	var frame []json.RawMessage
	if err := json.Unmarshal(payload, &frame); err != nil || len(frame) < 4 {
		b.ParseFailure()
		return
	}
	var channel, pair string
	if err := json.Unmarshal(frame[len(frame)-2], &channel); err != nil {
		b.ParseFailure()
		return
	}
	if err := json.Unmarshal(frame[len(frame)-1], &pair); err != nil {
		b.ParseFailure()
		return
	}
	symbol, ok := b.Canonical(pair)
	if !ok {
		return
	}
	switch {
	case channel == "ticker":
		var tick tickerPayload
		if err := json.Unmarshal(frame[1], &tick); err != nil ||
			len(tick.Ask) == 0 || len(tick.Bid) == 0 || len(tick.Close) == 0 {
			b.ParseFailure()
			return
		}
		ask, okA := shared.ParseF(tick.Ask[0].String())
		bid, okB := shared.ParseF(tick.Bid[0].String())
		last, okL := shared.ParseF(tick.Close[0].String())
		if !okA || !okB || !okL {
			b.ParseFailure()
			return
		}
		volume := 0.0
		if len(tick.Volume) > 1 {
			volume, _ = shared.ParseF(tick.Volume[1].String())
		}
		b.EmitTicker(schema.Ticker{
			Provider:  "kraken",
			Symbol:    symbol,
			Timestamp: time.Now().UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	case strings.HasPrefix(channel, "ohlc"):
		tf, ok := timeframeOf(strings.TrimPrefix(channel, "ohlc-"))
		if !ok {
			return
		}
		var row []json.Number
		if err := json.Unmarshal(frame[1], &row); err != nil || len(row) < 8 {
			b.ParseFailure()
			return
		}
		// [time, etime, open, high, low, close, vwap, volume, count]
		endTime, okT := shared.ParseF(row[1].String())
		open, okO := shared.ParseF(row[2].String())
		high, okH := shared.ParseF(row[3].String())
		low, okL := shared.ParseF(row[4].String())
		closePx, okC := shared.ParseF(row[5].String())
		volume, _ := shared.ParseF(row[7].String())
		if !okT || !okO || !okH || !okL || !okC {
			b.ParseFailure()
			return
		}
		openTime := time.Unix(int64(endTime), 0).UTC().Add(-tf.Duration())
		b.EmitCandle(schema.Candle{
			Provider:  "kraken",
			Symbol:    symbol,
			Timeframe: tf,
			OpenTime:  openTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
			IsFinal:   false,
		})
	}
}

func timeframeOf(minutes string) (schema.Timeframe, bool) {
	for tf, v := range intervals {
		if fmt.Sprintf("%d", v) == minutes {
			return tf, true
		}
	}
	return "", false
}

type restTicker struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Ask    []string `json:"a"`
		Bid    []string `json:"b"`
		Close  []string `json:"c"`
		Volume []string `json:"v"`
	} `json:"result"`
}

// FetchTickers pulls the public Ticker endpoint per mapping. REST pair names
// drop the slash separator.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		pair := strings.ReplaceAll(m.ProviderSymbol, "/", "")
		var resp restTicker
		url := fmt.Sprintf("%s/0/public/Ticker?pair=%s", a.restURL, pair)
		if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
			return out, err
		}
		if len(resp.Error) > 0 {
			continue
		}
		for _, tick := range resp.Result {
			if len(tick.Ask) == 0 || len(tick.Bid) == 0 || len(tick.Close) == 0 {
				continue
			}
			ask, okA := shared.ParseF(tick.Ask[0])
			bid, okB := shared.ParseF(tick.Bid[0])
			last, okL := shared.ParseF(tick.Close[0])
			if !okA || !okB || !okL {
				continue
			}
			volume := 0.0
			if len(tick.Volume) > 1 {
				volume, _ = shared.ParseF(tick.Volume[1])
			}
			out = append(out, schema.Ticker{
				Provider:  "kraken",
				Symbol:    m.Symbol,
				Timestamp: time.Now().UTC(),
				Last:      last,
				Bid:       bid,
				Ask:       ask,
				Volume24h: volume,
			})
			break
		}
	}
	return out, nil
}

type restOHLC struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// FetchCandles pulls the public OHLC endpoint for one mapping.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("kraken", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	pair := strings.ReplaceAll(mapping.ProviderSymbol, "/", "")
	var resp restOHLC
	url := fmt.Sprintf("%s/0/public/OHLC?pair=%s&interval=%d", a.restURL, pair, interval)
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, errs.New("kraken", errs.CodeUnavailable,
			errs.WithMessage(strings.Join(resp.Error, "; ")))
	}
	var out []schema.Candle
	for key, raw := range resp.Result {
		if key == "last" {
			continue
		}
		var rows [][]json.Number
		if err := json.Unmarshal(raw, &rows); err != nil {
			continue
		}
		if len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		for _, row := range rows {
			if len(row) < 8 {
				continue
			}
			ts, okT := shared.ParseF(row[0].String())
			open, okO := shared.ParseF(row[1].String())
			high, okH := shared.ParseF(row[2].String())
			low, okL := shared.ParseF(row[3].String())
			closePx, okC := shared.ParseF(row[4].String())
			volume, _ := shared.ParseF(row[6].String())
			if !okT || !okO || !okH || !okL || !okC {
				continue
			}
			openTime := time.Unix(int64(ts), 0).UTC()
			out = append(out, schema.Candle{
				Provider:  "kraken",
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
		break
	}
	return out, nil
}
