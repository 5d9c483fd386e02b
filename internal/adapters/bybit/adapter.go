// Package bybit implements the provider adapter for the Bybit v5 spot API.
package bybit

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
	defaultWS   = "wss://stream.bybit.com/v5/public/spot"
	defaultREST = "https://api.bybit.com"
)

var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1",
	schema.Timeframe5m:  "5",
	schema.Timeframe15m: "15",
	schema.Timeframe1h:  "60",
	schema.Timeframe4h:  "240",
	schema.Timeframe1d:  "D",
}

// Adapter streams the v5 public spot topics.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string
}

// New builds the Bybit adapter from provider settings.
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
		rest:      shared.NewRESTClient("bybit", 10, 5),
		restURL:   strings.TrimRight(restURL, "/"),
	}
	a.WSAdapter = shared.NewWSAdapter("bybit", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         parse,
		Ping: func(send func([]byte) error) error {
			return send([]byte(`{"op":"ping"}`))
		},
	}, 20*time.Second)
	return a
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var args []string
	for _, m := range b.TickerMappings() {
		args = append(args, "tickers."+m.ProviderSymbol)
	}
	for _, m := range b.CandleMappings() {
		for _, tf := range b.Timeframes() {
			interval, ok := intervals[tf]
			if !ok {
				continue
			}
			args = append(args, "kline."+interval+"."+m.ProviderSymbol)
		}
	}
	if len(args) == 0 {
		return nil
	}
	payload, _ := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	return [][]byte{payload}
}

type message struct {
	Topic string          `json:"topic"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type tickerData struct {
	Symbol string `json:"symbol"`
	Last   string `json:"lastPrice"`
	Bid    string `json:"bid1Price"`
	Ask    string `json:"ask1Price"`
	Volume string `json:"volume24h"`
}

type klineData struct {
	Start    int64  `json:"start"`
	Interval string `json:"interval"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Confirm  bool   `json:"confirm"`
}

func parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	if msg.Topic == "" {
		// op acks and pong frames
		return
	}
	switch {
	case strings.HasPrefix(msg.Topic, "tickers."):
		var data tickerData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			b.ParseFailure()
			return
		}
		symbol, ok := b.Canonical(data.Symbol)
		if !ok {
			return
		}
		last, okL := shared.ParseF(data.Last)
		bid, okB := shared.ParseF(data.Bid)
		ask, okA := shared.ParseF(data.Ask)
		if !okL || !okB || !okA {
			b.ParseFailure()
			return
		}
		volume, _ := shared.ParseF(data.Volume)
		b.EmitTicker(schema.Ticker{
			Provider:  "bybit",
			Symbol:    symbol,
			Timestamp: time.UnixMilli(msg.TS).UTC(),
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	case strings.HasPrefix(msg.Topic, "kline."):
		parts := strings.SplitN(msg.Topic, ".", 3)
		if len(parts) != 3 {
			b.ParseFailure()
			return
		}
		symbol, ok := b.Canonical(parts[2])
		if !ok {
			return
		}
		var rows []klineData
		if err := json.Unmarshal(msg.Data, &rows); err != nil {
			b.ParseFailure()
			return
		}
		for _, row := range rows {
			tf, ok := timeframeOf(row.Interval)
			if !ok {
				continue
			}
			open, okO := shared.ParseF(row.Open)
			high, okH := shared.ParseF(row.High)
			low, okL := shared.ParseF(row.Low)
			closePx, okC := shared.ParseF(row.Close)
			if !okO || !okH || !okL || !okC {
				b.ParseFailure()
				continue
			}
			volume, _ := shared.ParseF(row.Volume)
			b.EmitCandle(schema.Candle{
				Provider:  "bybit",
				Symbol:    symbol,
				Timeframe: tf,
				OpenTime:  time.UnixMilli(row.Start).UTC(),
				Open:      open,
				High:      high,
				Low:       low,
				Close:     closePx,
				Volume:    volume,
				IsFinal:   row.Confirm,
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
	RetCode int `json:"retCode"`
	Result  struct {
		List []json.RawMessage `json:"list"`
	} `json:"result"`
}

// FetchTickers pulls spot tickers per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var resp restResponse
		url := fmt.Sprintf("%s/v5/market/tickers?category=spot&symbol=%s", a.restURL, m.ProviderSymbol)
		if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
			return out, err
		}
		if resp.RetCode != 0 || len(resp.Result.List) == 0 {
			continue
		}
		var data tickerData
		if err := json.Unmarshal(resp.Result.List[0], &data); err != nil {
			continue
		}
		last, okL := shared.ParseF(data.Last)
		bid, okB := shared.ParseF(data.Bid)
		ask, okA := shared.ParseF(data.Ask)
		if !okL || !okB || !okA {
			continue
		}
		volume, _ := shared.ParseF(data.Volume)
		out = append(out, schema.Ticker{
			Provider:  "bybit",
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

// FetchCandles pulls recent klines for one mapping. Rows arrive newest first
// and are reversed to chronological order.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	interval, ok := intervals[timeframe]
	if !ok {
		return nil, errs.New("bybit", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var resp restResponse
	url := fmt.Sprintf("%s/v5/market/kline?category=spot&symbol=%s&interval=%s&limit=%d",
		a.restURL, mapping.ProviderSymbol, interval, limit)
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(resp.Result.List))
	for i := len(resp.Result.List) - 1; i >= 0; i-- {
		var row []string
		if err := json.Unmarshal(resp.Result.List[i], &row); err != nil || len(row) < 6 {
			continue
		}
		start, okT := shared.ParseF(row[0])
		open, okO := shared.ParseF(row[1])
		high, okH := shared.ParseF(row[2])
		low, okL := shared.ParseF(row[3])
		closePx, okC := shared.ParseF(row[4])
		volume, _ := shared.ParseF(row[5])
		if !okT || !okO || !okH || !okL || !okC {
			continue
		}
		openTime := time.UnixMilli(int64(start)).UTC()
		out = append(out, schema.Candle{
			Provider:  "bybit",
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
