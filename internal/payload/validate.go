package payload

import (
	"math"
	"regexp"
	"sync"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// Validation error codes returned per parameter key.
const (
	CodeRequired = "required"
	CodeType     = "invalid_type"
	CodeMin      = "below_minimum"
	CodeMax      = "above_maximum"
	CodeEnum     = "not_allowed"
	CodePattern  = "pattern_mismatch"
)

var patternCache sync.Map // string -> *regexp.Regexp

func compiled(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil //nolint:forcetypeassert // cache holds only *regexp.Regexp
	}
	re, err := regexp.Compile(device.NormalizePattern(pattern))
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}

// ValidateValue checks an already-cast value against a parameter's type
// and rules. It returns an error code, or "" when the value is valid.
// A nil value is valid unless the parameter is required.
func ValidateValue(p *device.Parameter, v any) string {
	if v == nil {
		if p.Rules.Required {
			return CodeRequired
		}
		return ""
	}

	if !matchesType(p.Type, v) {
		return CodeType
	}

	r := p.Rules
	if r.Min != nil || r.Max != nil {
		if n, ok := Number(v); ok && !isString(v) {
			if r.Min != nil && n < *r.Min {
				return CodeMin
			}
			if r.Max != nil && n > *r.Max {
				return CodeMax
			}
		}
	}

	if len(r.Enum) > 0 && !inEnum(r.Enum, v) {
		return CodeEnum
	}

	if r.Regex != "" {
		s, ok := v.(string)
		if !ok {
			return CodePattern
		}
		re, err := compiled(r.Regex)
		if err != nil || !re.MatchString(s) {
			return CodePattern
		}
	}
	return ""
}

func isString(v any) bool {
	_, ok := v.(string)
	return ok
}

func matchesType(t device.DataType, v any) bool {
	switch t {
	case device.TypeInteger:
		switch n := v.(type) {
		case int, int32, int64, uint, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n)
		}
		return false
	case device.TypeDecimal:
		_, ok := Number(v)
		return ok && !isString(v)
	case device.TypeBoolean:
		_, ok := v.(bool)
		return ok
	case device.TypeString:
		return isString(v)
	case device.TypeJSON:
		switch v.(type) {
		case map[string]any, []any:
			return true
		}
		return false
	}
	return true
}

// inEnum compares by text form so 1, 1.0 and "1" all match an enum entry of 1.
func inEnum(enum []any, v any) bool {
	want, ok := Stringify(v)
	if !ok {
		return false
	}
	for _, candidate := range enum {
		if s, ok := Stringify(candidate); ok && s == want {
			return true
		}
	}
	return false
}
