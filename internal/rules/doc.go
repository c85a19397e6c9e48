// Package rules evaluates JSON-Logic style expressions used by automation
// conditions.
//
// An expression is plain decoded JSON: a literal, a list, or a single-key
// map naming an operator. Evaluate is total: malformed input yields a value,
// never an error or a panic.
//
//	expr := map[string]any{">": []any{map[string]any{"var": "trigger.value"}, 100}}
//	if rules.Matches(expr, data) {
//	    // fire
//	}
//
// Numbers produced by arithmetic are always float64. Loose equality and
// ordering follow the coercions in coerce.go.
package rules
