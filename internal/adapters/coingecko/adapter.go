// Package coingecko implements a polling-only provider adapter over the
// CoinGecko simple-price API. CoinGecko is an aggregator: it publishes a
// reference price with no order book, so bid and ask are set to the last
// price and the feed serves as a sanity anchor rather than a tradable venue.
package coingecko

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/adapters/shared"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

const defaultREST = "https://api.coingecko.com"

// coinIDs maps base assets to CoinGecko coin identifiers.
var coinIDs = map[string]string{
	"BTC":  "bitcoin",
	"ETH":  "ethereum",
	"BNB":  "binancecoin",
	"SOL":  "solana",
	"XRP":  "ripple",
	"ADA":  "cardano",
	"DOGE": "dogecoin",
	"DOT":  "polkadot",
	"LTC":  "litecoin",
	"AVAX": "avalanche-2",
	"LINK": "chainlink",
	"TRX":  "tron",
}

// Adapter polls the simple-price endpoint at the configured interval.
type Adapter struct {
	*shared.Poller
	rest    *shared.RESTClient
	restURL string
}

// New builds the CoinGecko adapter from provider settings.
func New(cfg config.ProviderSettings) *Adapter {
	restURL := cfg.RESTURL
	if restURL == "" {
		restURL = defaultREST
	}
	a := &Adapter{
		Poller:  nil,
		rest:    shared.NewRESTClient("coingecko", 0.5, 1),
		restURL: strings.TrimRight(restURL, "/"),
	}
	a.Poller = shared.NewPoller("coingecko", cfg.PollInterval, a.fetch)
	return a
}

type pricePoint struct {
	USD    float64 `json:"usd"`
	Volume float64 `json:"usd_24h_vol"`
	TS     int64   `json:"last_updated_at"`
}

func (a *Adapter) fetch(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	byID := make(map[string]schema.InstrumentMapping, len(mappings))
	ids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		base, quote, err := symbols.Split(m.Symbol)
		if err != nil || !usdQuote(quote) {
			continue
		}
		id, ok := coinIDs[base]
		if !ok {
			continue
		}
		byID[id] = m
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var resp map[string]pricePoint
	url := fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd&include_24hr_vol=true&include_last_updated_at=true",
		a.restURL, strings.Join(ids, ","))
	if err := a.rest.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	out := make([]schema.Ticker, 0, len(resp))
	for id, point := range resp {
		m, ok := byID[id]
		if !ok || point.USD <= 0 {
			continue
		}
		ts := time.Now().UTC()
		if point.TS > 0 {
			ts = time.Unix(point.TS, 0).UTC()
		}
		out = append(out, schema.Ticker{
			Provider:  "coingecko",
			Symbol:    m.Symbol,
			Timestamp: ts,
			Last:      point.USD,
			Bid:       point.USD,
			Ask:       point.USD,
			Volume24h: point.Volume,
		})
	}
	return out, nil
}

func usdQuote(quote string) bool {
	switch quote {
	case "USD", "USDT", "USDC":
		return true
	default:
		return false
	}
}

// ohlcDays maps timeframes onto the supported days windows; CoinGecko picks
// the candle width from the window.
var ohlcDays = map[schema.Timeframe]int{
	schema.Timeframe1h: 1,
	schema.Timeframe4h: 30,
	schema.Timeframe1d: 90,
}

// FetchCandles pulls the coin OHLC endpoint. Rows are
// [ms, open, high, low, close]; volume is not published.
func (a *Adapter) FetchCandles(ctx context.Context, mapping schema.InstrumentMapping, timeframe schema.Timeframe, limit int) ([]schema.Candle, error) {
	days, ok := ohlcDays[timeframe]
	if !ok {
		return nil, errs.New("coingecko", errs.CodeInvalid,
			errs.WithMessage("unsupported timeframe"),
			errs.WithField("timeframe", string(timeframe)))
	}
	base, _, err := symbols.Split(mapping.Symbol)
	if err != nil {
		return nil, err
	}
	id, found := coinIDs[base]
	if !found {
		return nil, errs.New("coingecko", errs.CodeNotFound,
			errs.WithMessage("no coin id for asset"),
			errs.WithField("asset", base))
	}
	if limit <= 0 {
		limit = 100
	}
	var rows [][]float64
	url := fmt.Sprintf("%s/api/v3/coins/%s/ohlc?vs_currency=usd&days=%d", a.restURL, id, days)
	if err := a.rest.GetJSON(ctx, url, &rows); err != nil {
		return nil, err
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]schema.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		openTime := time.UnixMilli(int64(row[0])).UTC()
		out = append(out, schema.Candle{
			Provider:  "coingecko",
			Symbol:    mapping.Symbol,
			Timeframe: timeframe,
			OpenTime:  openTime,
			Open:      row[1],
			High:      row[2],
			Low:       row[3],
			Close:     row[4],
			Volume:    0,
			IsFinal:   openTime.Add(timeframe.Duration()).Before(time.Now()),
		})
	}
	return out, nil
}
