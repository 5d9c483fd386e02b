// Package bitstamp implements the provider adapter for the Bitstamp API.
// Bitstamp has no consolidated ticker channel; the adapter joins the
// live_trades stream (last price) with the order_book stream (best bid/ask)
// and emits a ticker whenever either side updates with both present.
package bitstamp

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
	defaultWS   = "wss://ws.bitstamp.net"
	defaultREST = "https://www.bitstamp.net"
)

// OHLC steps are seconds.
var steps = map[schema.Timeframe]int{
	schema.Timeframe1m:  60,
	schema.Timeframe5m:  300,
	schema.Timeframe15m: 900,
	schema.Timeframe1h:  3600,
	schema.Timeframe4h:  14400,
	schema.Timeframe1d:  86400,
}

type quoteState struct {
	last float64
	bid  float64
	ask  float64
}

// Adapter joins trades and order book updates into canonical tickers.
type Adapter struct {
	*shared.WSAdapter
	rest    *shared.RESTClient
	restURL string

	mu     sync.Mutex
	quotes map[string]*quoteState
}

// New builds the Bitstamp adapter from provider settings.
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
		rest:      shared.NewRESTClient("bitstamp", 8, 4),
		restURL:   strings.TrimRight(restURL, "/"),
		quotes:    make(map[string]*quoteState),
	}
	a.WSAdapter = shared.NewWSAdapter("bitstamp", wsURL, shared.Hooks{
		URL:           nil,
		Subscriptions: subscriptions,
		Parse:         a.parse,
		Ping: func(send func([]byte) error) error {
			return send([]byte(`{"event":"bts:heartbeat"}`))
		},
	}, 20*time.Second)
	return a
}

func subscriptions(b *shared.WSAdapter) [][]byte {
	var payloads [][]byte
	sub := func(channel string) {
		payload, _ := json.Marshal(map[string]any{
			"event": "bts:subscribe",
			"data":  map[string]string{"channel": channel},
		})
		payloads = append(payloads, payload)
	}
	for _, m := range b.TickerMappings() {
		sub("live_trades_" + m.ProviderSymbol)
		sub("order_book_" + m.ProviderSymbol)
	}
	return payloads
}

type message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type tradeData struct {
	Price     float64 `json:"price"`
	Timestamp string  `json:"timestamp"`
}

type bookData struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

func (a *Adapter) parse(b *shared.WSAdapter, payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.ParseFailure()
		return
	}
	switch msg.Event {
	case "trade":
		native := strings.TrimPrefix(msg.Channel, "live_trades_")
		symbol, ok := b.Canonical(native)
		if !ok {
			return
		}
		var trade tradeData
		if err := json.Unmarshal(msg.Data, &trade); err != nil {
			b.ParseFailure()
			return
		}
		a.update(b, symbol, func(q *quoteState) { q.last = trade.Price })
	case "data":
		native := strings.TrimPrefix(msg.Channel, "order_book_")
		symbol, ok := b.Canonical(native)
		if !ok {
			return
		}
		var book bookData
		if err := json.Unmarshal(msg.Data, &book); err != nil ||
			len(book.Bids) == 0 || len(book.Asks) == 0 ||
			len(book.Bids[0]) == 0 || len(book.Asks[0]) == 0 {
			b.ParseFailure()
			return
		}
		bid, okB := shared.ParseF(book.Bids[0][0])
		ask, okA := shared.ParseF(book.Asks[0][0])
		if !okB || !okA {
			b.ParseFailure()
			return
		}
		a.update(b, symbol, func(q *quoteState) {
			q.bid = bid
			q.ask = ask
			if q.last == 0 {
				q.last = schema.Midpoint(bid, ask)
			}
		})
	}
}

func (a *Adapter) update(b *shared.WSAdapter, symbol string, apply func(*quoteState)) {
	a.mu.Lock()
	q, ok := a.quotes[symbol]
	if !ok {
		q = &quoteState{}
		a.quotes[symbol] = q
	}
	apply(q)
	snapshot := *q
	a.mu.Unlock()
	if snapshot.last <= 0 || snapshot.bid <= 0 || snapshot.ask <= 0 {
		return
	}
	b.EmitTicker(schema.Ticker{
		Provider:  "bitstamp",
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Last:      snapshot.last,
		Bid:       snapshot.bid,
		Ask:       snapshot.ask,
		Volume24h: 0,
	})
}

type restTicker struct {
	Last   string `json:"last"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Volume string `json:"volume"`
	TS     string `json:"timestamp"`
}

// FetchTickers pulls the v2 ticker endpoint per mapping.
func (a *Adapter) FetchTickers(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		var rt restTicker
		url := fmt.Sprintf("%s/api/v2/ticker/%s/", a.restURL, m.ProviderSymbol)
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
		ts := time.Now().UTC()
		if sec, ok := shared.ParseF(rt.TS); ok {
			ts = time.Unix(int64(sec), 0).UTC()
		}
		out = append(out, schema.Ticker{
			Provider:  "bitstamp",
			Symbol:    m.Symbol,
			Timestamp: ts,
			Last:      last,
			Bid:       bid,
			Ask:       ask,
			Volume24h: volume,
		})
	}
	return out, nil
}

type ohlcResponse struct {
	Data struct {
		OHLC []struct {
			Timestamp string `json:"timestamp"`
			Open      string `json:"open"`
			High      string `json:"high"`
			Low       string `json:"low"`
			Close     string `json:"close"`
			Volume    string `json:"volume"`
		} `json:"ohlc"`
	} `json:"data"`
}

// FetchCandles pulls the OHLC endpoint for one mapping.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	step, ok := steps[timeframe]
	if !ok {
		return nil, errs.New("bitstamp", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	if limit <= 0 {
		limit = 100
	}
	var resp ohlcResponse
	url := fmt.Sprintf("%s/api/v2/ohlc/%s/?step=%d&limit=%d", a.restURL, mapping.ProviderSymbol, step, limit)
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.Candle, 0, len(resp.Data.OHLC))
	for _, row := range resp.Data.OHLC {
		ts, okT := shared.ParseF(row.Timestamp)
		open, okO := shared.ParseF(row.Open)
		high, okH := shared.ParseF(row.High)
		low, okL := shared.ParseF(row.Low)
		closePx, okC := shared.ParseF(row.Close)
		volume, _ := shared.ParseF(row.Volume)
		if !okT || !okO || !okH || !okL || !okC {
			continue
		}
		openTime := time.Unix(int64(ts), 0).UTC()
		out = append(out, schema.Candle{
			Provider:  "bitstamp",
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
