// Package exchangerate implements a polling-only provider adapter over the
// open exchange-rate API for fiat pairs (EURUSD, GBPUSD and the like). Rates
// are mid-market with no spread, so bid and ask equal the last price.
package exchangerate

import (
	"context"
	"strings"
	"time"

	"github.com/csisgpt/arbwatch/config"
	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/adapters/shared"
	"github.com/csisgpt/arbwatch/internal/schema"
	"github.com/csisgpt/arbwatch/internal/symbols"
)

const defaultREST = "https://open.er-api.com"

// Adapter polls the latest-rates endpoint for the USD base table and derives
// each subscribed fiat pair from it.
type Adapter struct {
	*shared.Poller
	rest    *shared.RESTClient
	restURL string
}

// New builds the exchange-rate adapter from provider settings.
func New(cfg config.ProviderSettings) *Adapter {
	restURL := cfg.RESTURL
	if restURL == "" {
		restURL = defaultREST
	}
	a := &Adapter{
		Poller:  nil,
		rest:    shared.NewRESTClient("exchangerate", 0.2, 1),
		restURL: strings.TrimRight(restURL, "/"),
	}
	a.Poller = shared.NewPoller("exchangerate", cfg.PollInterval, a.fetch)
	return a
}

type ratesResponse struct {
	Result string             `json:"result"`
	TS     int64              `json:"time_last_update_unix"`
	Rates  map[string]float64 `json:"rates"`
}

func (a *Adapter) fetch(ctx context.Context, mappings []schema.InstrumentMapping) ([]schema.Ticker, error) {
	var resp ratesResponse
	if err := a.rest.GetJSON(ctx, a.restURL+"/v6/latest/USD", &resp); err != nil {
		return nil, err
	}
	if resp.Result != "success" {
		return nil, errs.New("exchangerate", errs.CodeUnavailable,
			errs.WithMessage("rates request rejected"))
	}
	ts := time.Now().UTC()
	if resp.TS > 0 {
		ts = time.Unix(resp.TS, 0).UTC()
	}
	out := make([]schema.Ticker, 0, len(mappings))
	for _, m := range mappings {
		base, quote, err := symbols.Split(m.Symbol)
		if err != nil {
			continue
		}
		price, ok := crossRate(resp.Rates, base, quote)
		if !ok {
			continue
		}
		out = append(out, schema.Ticker{
			Provider:  "exchangerate",
			Symbol:    m.Symbol,
			Timestamp: ts,
			Last:      price,
			Bid:       price,
			Ask:       price,
			Volume24h: 0,
		})
	}
	return out, nil
}

// crossRate prices one unit of base in quote from the USD rate table.
func crossRate(rates map[string]float64, base, quote string) (float64, bool) {
	baseRate, okB := usdRate(rates, base)
	quoteRate, okQ := usdRate(rates, quote)
	if !okB || !okQ || baseRate <= 0 || quoteRate <= 0 {
		return 0, false
	}
	return quoteRate / baseRate, true
}

func usdRate(rates map[string]float64, currency string) (float64, bool) {
	if currency == "USD" {
		return 1, true
	}
	rate, ok := rates[currency]
	return rate, ok
}

// FetchCandles is unsupported; the rate API publishes spot values only.
func (a *Adapter) FetchCandles(context.Context, schema.InstrumentMapping, schema.Timeframe, int) ([]schema.Candle, error) {
	return nil, nil
}
