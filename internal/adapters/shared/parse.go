package shared

import "strconv"

// F64 coerces a decoded JSON value to float64. Providers are inconsistent
// about quoting numbers, sometimes within one payload.
func F64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseF parses a decimal string, reporting failure instead of an error.
func ParseF(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
