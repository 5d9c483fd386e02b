package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// numericText renders a price for a NUMERIC column without binary float
// artifacts.
func numericText(value float64) string {
	return decimal.NewFromFloat(value).String()
}

// floatFromText parses a NUMERIC column selected as text.
func floatFromText(value string) (float64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("parse numeric %q: %w", value, err)
	}
	return d.InexactFloat64(), nil
}
