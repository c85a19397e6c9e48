package rules

import (
	"encoding/json"
	"fmt"
	"math"
)

// operator applies one operator to its raw, unevaluated arguments.
type operator func(args, data any) any

// operators is the dispatch table. It is filled in init because the
// operator functions recurse through Evaluate.
var operators map[string]operator

func init() {
	operators = map[string]operator{
		"var":          opVar,
		"+":            numeric(sum),
		"-":            numeric(subtract),
		"*":            numeric(multiply),
		"/":            numeric(divide),
		"min":          numeric(minimum),
		"max":          numeric(maximum),
		"==":           comparison(looseEqual),
		"!=":           comparison(func(a, b any) bool { return !looseEqual(a, b) }),
		"===":          comparison(strictEqual),
		"!==":          comparison(func(a, b any) bool { return !strictEqual(a, b) }),
		">":            comparison(func(a, b any) bool { return compareValues(a, b) > 0 }),
		">=":           comparison(func(a, b any) bool { return compareValues(a, b) >= 0 }),
		"<":            comparison(func(a, b any) bool { return compareValues(a, b) < 0 }),
		"<=":           comparison(func(a, b any) bool { return compareValues(a, b) <= 0 }),
		"!":            opNot,
		"!!":           opTruthy,
		"and":          opAnd,
		"or":           opOr,
		"if":           opIf,
		"missing":      opMissing,
		"missing_some": opMissingSome,
	}
}

// Evaluate applies expr to data.
//
// A single-key map is an operator application; other maps and scalars are
// returned unchanged. Lists are evaluated element by element. An unknown
// operator returns its arguments unevaluated.
func Evaluate(expr, data any) any {
	switch e := expr.(type) {
	case []any:
		out := make([]any, len(e))
		for i, item := range e {
			out[i] = Evaluate(item, data)
		}
		return out
	case map[string]any:
		if len(e) != 1 {
			return e
		}
		for name, args := range e {
			op, ok := operators[name]
			if !ok {
				return args
			}
			return op(args, data)
		}
	}
	return expr
}

// Matches evaluates expr and reports whether the result is truthy.
// A nil expression always matches.
func Matches(expr, data any) bool {
	if expr == nil {
		return true
	}
	return Truthy(Evaluate(expr, data))
}

// Parse decodes a JSON expression.
func Parse(raw []byte) (any, error) {
	var expr any
	if err := json.Unmarshal(raw, &expr); err != nil {
		return nil, fmt.Errorf("rules: parsing expression: %w", err)
	}
	return expr, nil
}

// items returns args as an argument list, wrapping a lone value.
func items(args any) []any {
	switch v := args.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{args}
	}
}

func opVar(args, data any) any {
	var path, fallback any
	if list, ok := args.([]any); ok {
		if len(list) > 0 {
			path = list[0]
		}
		if len(list) > 1 {
			fallback = list[1]
		}
	} else {
		path = args
	}

	p, ok := path.(string)
	if !ok {
		return fallback
	}
	if p == "" {
		return data
	}
	value, found := lookup(data, p)
	if !found {
		return fallback
	}
	return value
}

func numeric(fn func([]float64) any) operator {
	return func(args, data any) any {
		list := items(args)
		numbers := make([]float64, len(list))
		for i, item := range list {
			numbers[i] = toNumber(Evaluate(item, data))
		}
		return fn(numbers)
	}
}

func sum(numbers []float64) any {
	total := 0.0
	for _, n := range numbers {
		total += n
	}
	return total
}

func subtract(numbers []float64) any {
	switch len(numbers) {
	case 0:
		return 0.0
	case 1:
		return -numbers[0]
	}
	result := numbers[0]
	for _, n := range numbers[1:] {
		result -= n
	}
	return result
}

func multiply(numbers []float64) any {
	if len(numbers) == 0 {
		return 0.0
	}
	result := 1.0
	for _, n := range numbers {
		result *= n
	}
	return result
}

func divide(numbers []float64) any {
	if len(numbers) == 0 {
		return 0.0
	}
	result := numbers[0]
	for _, n := range numbers[1:] {
		if n == 0 {
			return nil
		}
		result /= n
	}
	return result
}

func minimum(numbers []float64) any {
	if len(numbers) == 0 {
		return nil
	}
	result := numbers[0]
	for _, n := range numbers[1:] {
		result = math.Min(result, n)
	}
	return result
}

func maximum(numbers []float64) any {
	if len(numbers) == 0 {
		return nil
	}
	result := numbers[0]
	for _, n := range numbers[1:] {
		result = math.Max(result, n)
	}
	return result
}

// comparison chains a binary relation over adjacent argument pairs.
func comparison(rel func(a, b any) bool) operator {
	return func(args, data any) any {
		list := items(args)
		if len(list) < 2 {
			return false
		}
		values := make([]any, len(list))
		for i, item := range list {
			values[i] = Evaluate(item, data)
		}
		for i := 0; i < len(values)-1; i++ {
			if !rel(values[i], values[i+1]) {
				return false
			}
		}
		return true
	}
}

func first(args, data any) any {
	list := items(args)
	if len(list) == 0 {
		return Evaluate(nil, data)
	}
	return Evaluate(list[0], data)
}

func opNot(args, data any) any {
	return !Truthy(first(args, data))
}

func opTruthy(args, data any) any {
	return Truthy(first(args, data))
}

func opAnd(args, data any) any {
	var last any
	for _, item := range items(args) {
		last = Evaluate(item, data)
		if !Truthy(last) {
			return last
		}
	}
	return last
}

func opOr(args, data any) any {
	var last any
	for _, item := range items(args) {
		last = Evaluate(item, data)
		if Truthy(last) {
			return last
		}
	}
	return last
}

func opIf(args, data any) any {
	list := items(args)
	n := len(list)
	for i := 0; i+1 < n; i += 2 {
		if Truthy(Evaluate(list[i], data)) {
			return Evaluate(list[i+1], data)
		}
	}
	if n%2 == 1 {
		return Evaluate(list[n-1], data)
	}
	return nil
}

func opMissing(args, data any) any {
	return missingPaths(normalizePaths(args), data)
}

func opMissingSome(args, data any) any {
	list, ok := args.([]any)
	if !ok {
		return []any{}
	}

	var required int
	if len(list) > 0 {
		required, _ = toInteger(list[0])
	}
	required = max(required, 0)

	var rawPaths any
	if len(list) > 1 {
		rawPaths = list[1]
	}
	paths := normalizePaths(rawPaths)
	if len(paths) == 0 {
		return []any{}
	}

	missing := missingPaths(paths, data)
	if len(paths)-len(missing) >= required {
		return []any{}
	}
	return missing
}

func missingPaths(paths []string, data any) []any {
	out := []any{}
	for _, p := range paths {
		if _, found := lookup(data, p); !found {
			out = append(out, p)
		}
	}
	return out
}
