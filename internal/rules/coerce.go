package rules

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numericPattern accepts decimal and exponent forms with optional sign,
// surrounded by optional whitespace. Hex, "inf" and "nan" are not numeric.
var numericPattern = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?\s*$`)

// asNumber reports v as a float64 when v is a Go or JSON number.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// numericString parses s when it is a numeric string.
func numericString(s string) (float64, bool) {
	if !numericPattern.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

// isNumeric reports whether v is a number or a numeric string.
func isNumeric(v any) (float64, bool) {
	if n, ok := asNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		return numericString(s)
	}
	return 0, false
}

// toNumber coerces an evaluated argument for arithmetic: numbers pass
// through, booleans are 1/0, nil and non-numeric strings are 0. A
// one-element list or single-key object recurses into its only value;
// other lists and objects are 0.
func toNumber(v any) float64 {
	if n, ok := asNumber(v); ok {
		return n
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1
		}
		return 0
	case string:
		if n, ok := numericString(t); ok {
			return n
		}
		return 0
	case []any:
		if len(t) == 1 {
			return toNumber(t[0])
		}
	case map[string]any:
		if len(t) == 1 {
			for _, inner := range t {
				return toNumber(inner)
			}
		}
	}
	return 0
}

// toInteger truncates a number or numeric string.
func toInteger(v any) (int, bool) {
	n, ok := isNumeric(v)
	if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return int(n), true
}

// Truthy reports whether v counts as true in a condition.
// false, nil, 0, "" and empty lists or maps are false. The string "0" is true.
func Truthy(v any) bool {
	if n, ok := asNumber(v); ok {
		return n != 0
	}
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// castBool converts v to a boolean the way loose equality does. Unlike
// Truthy, the string "0" is false here.
func castBool(v any) bool {
	if s, ok := v.(string); ok {
		return s != "" && s != "0"
	}
	return Truthy(v)
}

// stringify renders scalars for lexical comparison: true is "1", false and
// nil are "", numbers use their shortest form. Lists and maps are "".
func stringify(v any) string {
	if n, ok := asNumber(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
	}
	return ""
}

// looseEqual implements == :
//   - nil against a string compares with ""; against anything else, both
//     sides are cast to bool
//   - a bool on either side casts both sides to bool
//   - two numbers, or a number and a numeric string, compare numerically
//   - two numeric strings compare numerically; other strings compare exactly
//   - a number against a non-numeric string compares the number's string form
//   - lists and maps compare element-wise with loose equality
func looseEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		other := a
		if other == nil {
			other = b
		}
		if s, ok := other.(string); ok {
			return s == ""
		}
		return !castBool(other)
	}

	_, aBool := a.(bool)
	_, bBool := b.(bool)
	if aBool || bBool {
		return castBool(a) == castBool(b)
	}

	an, aNum := asNumber(a)
	bn, bNum := asNumber(b)
	as, aStr := a.(string)
	bs, bStr := b.(string)

	switch {
	case aNum && bNum:
		return an == bn
	case aNum && bStr:
		if n, ok := numericString(bs); ok {
			return an == n
		}
		return stringify(an) == bs
	case aStr && bNum:
		if n, ok := numericString(as); ok {
			return n == bn
		}
		return as == stringify(bn)
	case aStr && bStr:
		if x, ok := numericString(as); ok {
			if y, ok := numericString(bs); ok {
				return x == y
			}
		}
		return as == bs
	}

	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !looseEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, exists := y[k]
			if !exists || !looseEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// strictEqual implements === : both sides must have the same kind and value.
// All numeric Go types are one kind, since decoded JSON carries only float64.
func strictEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}

	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !strictEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, exists := y[k]
			if !exists || !strictEqual(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// compareValues orders a and b numerically when both are numeric, otherwise
// by their string forms.
func compareValues(a, b any) int {
	if x, ok := isNumeric(a); ok {
		if y, ok := isNumeric(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}
