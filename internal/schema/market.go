// Package schema defines the canonical market-data and notification types
// shared by adapters, detectors, and the notification pipeline.
package schema

import (
	"math"
	"strings"
	"time"

	"github.com/csisgpt/arbwatch/errs"
)

// Timeframe identifies a canonical candle interval.
type Timeframe string

const (
	// Timeframe1m is the one-minute interval.
	Timeframe1m Timeframe = "1m"
	// Timeframe5m is the five-minute interval.
	Timeframe5m Timeframe = "5m"
	// Timeframe15m is the fifteen-minute interval.
	Timeframe15m Timeframe = "15m"
	// Timeframe1h is the one-hour interval.
	Timeframe1h Timeframe = "1h"
	// Timeframe4h is the four-hour interval.
	Timeframe4h Timeframe = "4h"
	// Timeframe1d is the one-day interval.
	Timeframe1d Timeframe = "1d"
)

// Valid reports whether the timeframe is recognised.
func (tf Timeframe) Valid() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d:
		return true
	default:
		return false
	}
}

// Duration returns the wall-clock span of one candle at this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Ticker is the canonical last/bid/ask observation for one instrument on one provider.
type Ticker struct {
	Provider  string    `json:"provider"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Last      float64   `json:"last"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Volume24h float64   `json:"volume_24h,omitempty"`
}

// Validate rejects tickers whose required prices are non-finite or non-positive.
// bid <= last <= ask is deliberately not enforced; live feeds violate it transiently.
func (t Ticker) Validate() error {
	if strings.TrimSpace(t.Provider) == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("ticker provider required"))
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return errs.New(t.Provider, errs.CodeInvalid, errs.WithMessage("ticker symbol required"))
	}
	for _, v := range []float64{t.Last, t.Bid, t.Ask} {
		if !finitePositive(v) {
			return errs.New(t.Provider, errs.CodeDataQuality,
				errs.WithMessage("ticker price must be finite and positive"),
				errs.WithField("symbol", t.Symbol))
		}
	}
	return nil
}

// Candle is one canonical OHLCV bar for an instrument on a provider.
type Candle struct {
	Provider  string    `json:"provider"`
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	IsFinal   bool      `json:"is_final"`
}

// Validate rejects candles with non-finite or non-positive prices.
func (c Candle) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return errs.New("", errs.CodeInvalid, errs.WithMessage("candle provider required"))
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return errs.New(c.Provider, errs.CodeInvalid, errs.WithMessage("candle symbol required"))
	}
	if !c.Timeframe.Valid() {
		return errs.New(c.Provider, errs.CodeInvalid,
			errs.WithMessage("unknown candle timeframe"),
			errs.WithField("timeframe", string(c.Timeframe)))
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if !finitePositive(v) {
			return errs.New(c.Provider, errs.CodeDataQuality,
				errs.WithMessage("candle price must be finite and positive"),
				errs.WithField("symbol", c.Symbol))
		}
	}
	if math.IsNaN(c.Volume) || math.IsInf(c.Volume, 0) || c.Volume < 0 {
		return errs.New(c.Provider, errs.CodeDataQuality,
			errs.WithMessage("candle volume must be finite and non-negative"),
			errs.WithField("symbol", c.Symbol))
	}
	return nil
}

// Midpoint synthesizes a last price from best bid/ask for providers that
// publish quotes without a last-trade price.
func Midpoint(bid, ask float64) float64 {
	return (bid + ask) / 2
}

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
