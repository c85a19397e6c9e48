package payload

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

var numericPattern = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?\s*$`)

// Number reports v as a float64 when it is a number or a numeric string.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		if !numericPattern.MatchString(n) {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Stringify renders a scalar as text: true is "1", false and nil are "",
// integral numbers have no fraction. ok is false for lists and maps.
func Stringify(v any) (s string, ok bool) {
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case bool:
		if t {
			return "1", true
		}
		return "", true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	}
	if f, isNum := Number(v); isNum {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

var (
	trueTokens  = map[string]bool{"1": true, "true": true, "on": true, "yes": true}
	falseTokens = map[string]bool{"0": true, "false": true, "off": true, "no": true}
)

// CastForType coerces a raw value toward a parameter's declared type.
// Values that cannot be coerced pass through unchanged so that validation
// reports the mismatch. nil always passes through.
func CastForType(t device.DataType, v any) any {
	if v == nil {
		return nil
	}

	switch t {
	case device.TypeInteger:
		if f, ok := Number(v); ok && !math.IsInf(f, 0) {
			return int64(f)
		}
	case device.TypeDecimal:
		if f, ok := Number(v); ok {
			return f
		}
	case device.TypeBoolean:
		return castBoolean(v)
	case device.TypeJSON:
		switch raw := v.(type) {
		case map[string]any, []any:
			return raw
		case string:
			var decoded any
			if err := json.Unmarshal([]byte(raw), &decoded); err != nil || decoded == nil {
				return raw
			}
			return decoded
		}
	case device.TypeString:
		if s, ok := Stringify(v); ok {
			return s
		}
	}
	return v
}

func castBoolean(v any) any {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if trueTokens[t] {
			return true
		}
		if falseTokens[t] {
			return false
		}
		return t
	}
	if f, ok := Number(v); ok {
		switch f {
		case 1:
			return true
		case 0:
			return false
		}
	}
	return v
}
