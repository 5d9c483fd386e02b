package schema

import (
	"strings"

	"github.com/csisgpt/arbwatch/errs"
)

// AssetClass groups instruments by market structure.
type AssetClass string

const (
	// AssetClassCrypto marks crypto spot instruments.
	AssetClassCrypto AssetClass = "crypto"
	// AssetClassFiat marks fiat-quoted foreign-exchange instruments.
	AssetClassFiat AssetClass = "fiat"
)

// MarketType identifies the provider-side market an instrument trades on.
type MarketType string

const (
	// MarketTypeSpot represents spot markets.
	MarketTypeSpot MarketType = "spot"
	// MarketTypePerp represents perpetual swap markets.
	MarketTypePerp MarketType = "perp"
)

// Instrument is one entry of the active monitoring universe, keyed by the
// canonical symbol (base and quote concatenated, e.g. BTCUSDT).
type Instrument struct {
	Symbol     string     `json:"symbol"`
	AssetClass AssetClass `json:"asset_class"`
	Base       string     `json:"base"`
	Quote      string     `json:"quote"`
	Active     bool       `json:"active"`
}

// Validate checks the canonical symbol invariants.
func (i Instrument) Validate() error {
	symbol := strings.TrimSpace(i.Symbol)
	if symbol == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("instrument symbol required"))
	}
	if strings.ToUpper(symbol) != symbol {
		return errs.New("", errs.CodeInvalid,
			errs.WithMessage("canonical symbol must be uppercase"),
			errs.WithField("symbol", symbol))
	}
	if i.Base == "" || i.Quote == "" {
		return errs.New("", errs.CodeInvalid,
			errs.WithMessage("instrument requires base and quote"),
			errs.WithField("symbol", symbol))
	}
	if i.Base+i.Quote != symbol {
		return errs.New("", errs.CodeInvalid,
			errs.WithMessage("canonical symbol must equal base+quote"),
			errs.WithField("symbol", symbol))
	}
	return nil
}

// InstrumentMapping binds one canonical instrument to a provider's native
// representation. Derived deterministically; regenerated when the active
// symbol set changes.
type InstrumentMapping struct {
	Provider       string     `json:"provider"`
	Symbol         string     `json:"symbol"`
	ProviderSymbol string     `json:"provider_symbol"`
	ProviderID     string     `json:"provider_id,omitempty"`
	MarketType     MarketType `json:"market_type"`
	Active         bool       `json:"active"`
}
