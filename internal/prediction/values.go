package prediction

import (
	"encoding/json"
	"strconv"
)

// String returns a prediction field as a string. Numbers are formatted
// without a fractional part when they are integral.
func (p Prediction) String(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// Float returns a numeric prediction field.
func (p Prediction) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns a boolean prediction field. Numbers are true when non-zero.
func (p Prediction) Bool(key string) (bool, bool) {
	switch v := p[key].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	default:
		f, ok := p.Float(key)
		return f != 0, ok
	}
}
