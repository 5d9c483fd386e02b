// Package symbols maps canonical instrument symbols to and from each
// provider's native dialect. All functions are pure; the dialect table is the
// single place provider naming conventions live.
package symbols

import (
	"strings"

	"github.com/csisgpt/arbwatch/errs"
	"github.com/csisgpt/arbwatch/internal/schema"
)

// knownQuotes lists recognised quote assets, longest first so that
// e.g. BTCUSDT splits as BTC/USDT rather than BTCU/SDT.
var knownQuotes = []string{
	"FDUSD", "USDT", "USDC", "TUSD", "BUSD", "DAI",
	"USD", "EUR", "GBP", "JPY", "TRY", "BRL",
	"BTC", "ETH", "BNB",
}

// Split separates a canonical symbol into base and quote using the known
// quote-asset suffix list.
func Split(symbol string) (base, quote string, err error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "", "", errs.New("", errs.CodeInvalid, errs.WithMessage("empty symbol"))
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return symbol[:len(symbol)-len(q)], q, nil
		}
	}
	return "", "", errs.New("", errs.CodeInvalid,
		errs.WithMessage("unrecognized quote asset"),
		errs.WithField("symbol", symbol))
}

// Canonical joins base and quote into the canonical concatenated form.
func Canonical(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + strings.ToUpper(strings.TrimSpace(quote))
}

// letterCase controls how a dialect renders symbol text.
type letterCase int

const (
	caseUpper letterCase = iota
	caseLower
)

// Dialect describes one provider's symbol convention.
type Dialect struct {
	Separator    string
	Case         letterCase
	Prefix       string
	BaseAliases  map[string]string
	QuoteAliases map[string]string
}

var dialects = map[string]Dialect{
	"binance":   {Separator: "", Case: caseUpper},
	"bybit":     {Separator: "", Case: caseUpper},
	"mexc":      {Separator: "", Case: caseUpper},
	"bitget":    {Separator: "", Case: caseUpper},
	"okx":       {Separator: "-", Case: caseUpper},
	"kucoin":    {Separator: "-", Case: caseUpper},
	"coinbase":  {Separator: "-", Case: caseUpper},
	"gateio":    {Separator: "_", Case: caseUpper},
	"cryptocom": {Separator: "_", Case: caseUpper},
	"htx":       {Separator: "", Case: caseLower},
	"bitstamp":  {Separator: "", Case: caseLower},
	"kraken": {
		Separator:   "/",
		Case:        caseUpper,
		BaseAliases: map[string]string{"BTC": "XBT", "DOGE": "XDG"},
	},
	"bitfinex": {
		Separator:    "",
		Case:         caseUpper,
		Prefix:       "t",
		QuoteAliases: map[string]string{"USDT": "UST", "USDC": "UDC"},
	},
	"coingecko":    {Separator: "", Case: caseUpper},
	"exchangerate": {Separator: "", Case: caseUpper},
}

// Known reports whether a dialect exists for the provider.
func Known(provider string) bool {
	_, ok := dialects[provider]
	return ok
}

// ToProvider converts a canonical symbol into the provider's native form.
func ToProvider(provider, canonical string) (string, error) {
	dialect, ok := dialects[provider]
	if !ok {
		return "", errs.New(provider, errs.CodeInvalid, errs.WithMessage("unknown provider dialect"))
	}
	base, quote, err := Split(canonical)
	if err != nil {
		return "", err
	}
	if alias, ok := dialect.BaseAliases[base]; ok {
		base = alias
	}
	if alias, ok := dialect.QuoteAliases[quote]; ok {
		quote = alias
	}
	native := dialect.Prefix + base + dialect.Separator + quote
	if dialect.Case == caseLower {
		// Prefixes keep their case; none of the lowercase dialects use one.
		native = strings.ToLower(native)
	}
	return native, nil
}

// FromProvider converts a provider-native symbol back to canonical form.
func FromProvider(provider, native string) (string, error) {
	dialect, ok := dialects[provider]
	if !ok {
		return "", errs.New(provider, errs.CodeInvalid, errs.WithMessage("unknown provider dialect"))
	}
	symbol := strings.TrimSpace(native)
	if dialect.Prefix != "" {
		symbol = strings.TrimPrefix(symbol, dialect.Prefix)
	}
	symbol = strings.ToUpper(symbol)

	var base, quote string
	if dialect.Separator != "" {
		parts := strings.SplitN(symbol, dialect.Separator, 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return "", errs.New(provider, errs.CodeParse,
				errs.WithMessage("cannot split provider symbol"),
				errs.WithField("symbol", native))
		}
		base, quote = parts[0], parts[1]
	} else {
		var err error
		base, quote, err = splitAliased(symbol, dialect)
		if err != nil {
			return "", errs.New(provider, errs.CodeParse,
				errs.WithMessage("cannot split provider symbol"),
				errs.WithField("symbol", native))
		}
	}

	for canonicalAsset, alias := range dialect.BaseAliases {
		if base == alias {
			base = canonicalAsset
			break
		}
	}
	for canonicalAsset, alias := range dialect.QuoteAliases {
		if quote == alias {
			quote = canonicalAsset
			break
		}
	}
	return Canonical(base, quote), nil
}

// splitAliased splits a concatenated provider symbol, trying the dialect's
// aliased quote spellings before the canonical quote list.
func splitAliased(symbol string, dialect Dialect) (string, string, error) {
	for canonicalAsset, alias := range dialect.QuoteAliases {
		if strings.HasSuffix(symbol, alias) && len(symbol) > len(alias) {
			return symbol[:len(symbol)-len(alias)], canonicalAsset, nil
		}
	}
	return Split(symbol)
}

// Mappings derives the provider subscription list for the given instruments.
// Unmappable instruments are skipped, never fatal for the batch; the caller
// logs the count.
func Mappings(provider string, instruments []schema.Instrument) (mapped []schema.InstrumentMapping, skipped []string) {
	mapped = make([]schema.InstrumentMapping, 0, len(instruments))
	for _, inst := range instruments {
		if !inst.Active {
			continue
		}
		native, err := ToProvider(provider, inst.Symbol)
		if err != nil {
			skipped = append(skipped, inst.Symbol)
			continue
		}
		mapped = append(mapped, schema.InstrumentMapping{
			Provider:       provider,
			Symbol:         inst.Symbol,
			ProviderSymbol: native,
			ProviderID:     "",
			MarketType:     schema.MarketTypeSpot,
			Active:         true,
		})
	}
	return mapped, skipped
}
