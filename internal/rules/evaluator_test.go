package rules

import (
	"reflect"
	"testing"
)

// mustJSON decodes a JSON document for use as an expression or data.
func mustJSON(t *testing.T, raw string) any {
	t.Helper()
	v, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse(%s) error = %v", raw, err)
	}
	return v
}

type evalCase struct {
	name string
	expr string
	data string
	want any
}

func runEvalCases(t *testing.T, tests []evalCase) {
	t.Helper()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := any(map[string]any{})
			if tt.data != "" {
				data = mustJSON(t, tt.data)
			}
			got := Evaluate(mustJSON(t, tt.expr), data)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Evaluate(%s) = %#v, want %#v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluate_Literals(t *testing.T) {
	runEvalCases(t, []evalCase{
		{name: "number", expr: `42`, want: float64(42)},
		{name: "string", expr: `"on"`, want: "on"},
		{name: "null", expr: `null`, want: nil},
		{name: "list evaluated element-wise", expr: `[1, {"var": "a"}, "x"]`, data: `{"a": 7}`, want: []any{float64(1), float64(7), "x"}},
		{name: "multi-key map returned as-is", expr: `{"a": 1, "b": 2}`, want: map[string]any{"a": float64(1), "b": float64(2)}},
		{name: "empty map returned as-is", expr: `{}`, want: map[string]any{}},
		{name: "unknown operator returns raw args", expr: `{"frobnicate": [{"var": "a"}, 2]}`, data: `{"a": 1}`, want: []any{map[string]any{"var": "a"}, float64(2)}},
	})
}

func TestEvaluate_Var(t *testing.T) {
	data := `{"trigger": {"value": 42, "empty": null}, "list": [10, {"k": "v"}], "payload": {"0": "zero"}}`
	runEvalCases(t, []evalCase{
		{name: "dotted path", expr: `{"var": "trigger.value"}`, data: data, want: float64(42)},
		{name: "list form", expr: `{"var": ["trigger.value"]}`, data: data, want: float64(42)},
		{name: "missing with default", expr: `{"var": ["trigger.nope", "dflt"]}`, data: data, want: "dflt"},
		{name: "missing without default", expr: `{"var": "trigger.nope"}`, data: data, want: nil},
		{name: "present null ignores default", expr: `{"var": ["trigger.empty", "dflt"]}`, data: data, want: nil},
		{name: "digit segment indexes list", expr: `{"var": "list.1.k"}`, data: data, want: "v"},
		{name: "digit key on map", expr: `{"var": "payload.0"}`, data: data, want: "zero"},
		{name: "index out of range", expr: `{"var": ["list.5", -1]}`, data: data, want: float64(-1)},
		{name: "non-string path returns default", expr: `{"var": [3, "d"]}`, data: data, want: "d"},
		{name: "traverse through scalar", expr: `{"var": "trigger.value.deeper"}`, data: data, want: nil},
	})

	t.Run("empty path returns data", func(t *testing.T) {
		data := map[string]any{"a": 1.0}
		got := Evaluate(map[string]any{"var": ""}, data)
		if !reflect.DeepEqual(got, data) {
			t.Errorf("Evaluate(var \"\") = %#v, want data", got)
		}
		if got := Evaluate(map[string]any{"var": ""}, nil); got != nil {
			t.Errorf("Evaluate(var \"\", nil) = %#v, want nil", got)
		}
	})
}

func TestEvaluate_Arithmetic(t *testing.T) {
	runEvalCases(t, []evalCase{
		{name: "sum", expr: `{"+": [1, 2, 3.5]}`, want: 6.5},
		{name: "sum empty", expr: `{"+": []}`, want: 0.0},
		{name: "sum coerces", expr: `{"+": ["4", true, null, "abc", [2], [1, 2]]}`, want: 7.0},
		{name: "sum trims numeric strings", expr: `{"+": [" 1.5 ", "2e1"]}`, want: 21.5},
		{name: "sum single value", expr: `{"+": "5"}`, want: 5.0},
		{name: "sum single-key object", expr: `{"+": [{"var": "m"}, 1]}`, data: `{"m": {"a": "5"}}`, want: 6.0},
		{name: "sum multi-key object", expr: `{"+": [{"var": "m"}, 1]}`, data: `{"m": {"a": 5, "b": 6}}`, want: 1.0},
		{name: "negate", expr: `{"-": [4]}`, want: -4.0},
		{name: "subtract chain", expr: `{"-": [10, 3, 2]}`, want: 5.0},
		{name: "subtract empty", expr: `{"-": []}`, want: 0.0},
		{name: "multiply", expr: `{"*": [2, 3, 4]}`, want: 24.0},
		{name: "multiply empty", expr: `{"*": []}`, want: 0.0},
		{name: "divide", expr: `{"/": [20, 2, 5]}`, want: 2.0},
		{name: "divide by zero", expr: `{"/": [1, 0]}`, want: nil},
		{name: "divide by zero later", expr: `{"/": [8, 2, "0"]}`, want: nil},
		{name: "divide empty", expr: `{"/": []}`, want: 0.0},
		{name: "zero dividend", expr: `{"/": [0, 5]}`, want: 0.0},
		{name: "min", expr: `{"min": [3, -1, 2]}`, want: -1.0},
		{name: "max", expr: `{"max": [3, -1, "9"]}`, want: 9.0},
		{name: "min empty", expr: `{"min": []}`, want: nil},
		{name: "max empty", expr: `{"max": []}`, want: nil},
		{name: "nested vars", expr: `{"*": [{"var": "a"}, {"+": [{"var": "b"}, 1]}]}`, data: `{"a": 3, "b": 4}`, want: 15.0},
	})
}

func TestEvaluate_Comparison(t *testing.T) {
	runEvalCases(t, []evalCase{
		{name: "strict equal same number", expr: `{"===": [{"var": "trigger.value"}, 42]}`, data: `{"trigger": {"value": 42}}`, want: true},
		{name: "strict equal string vs number", expr: `{"===": [{"var": "trigger.value"}, 42]}`, data: `{"trigger": {"value": "42"}}`, want: false},
		{name: "strict not equal string vs number", expr: `{"!==": [{"var": "trigger.value"}, 42]}`, data: `{"trigger": {"value": "42"}}`, want: true},
		{name: "loose equal numeric string", expr: `{"==": ["42", 42]}`, want: true},
		{name: "loose equal numeric strings", expr: `{"==": ["1e1", "10"]}`, want: true},
		{name: "loose equal non numeric string", expr: `{"==": ["abc", 0]}`, want: false},
		{name: "loose equal null and empty string", expr: `{"==": [null, ""]}`, want: true},
		{name: "loose equal null and zero", expr: `{"==": [null, 0]}`, want: true},
		{name: "loose equal bool and string", expr: `{"==": [true, "yes"]}`, want: true},
		{name: "loose equal false and string zero", expr: `{"==": [false, "0"]}`, want: true},
		{name: "loose not equal", expr: `{"!=": [1, 2]}`, want: true},
		{name: "loose equal lists", expr: `{"==": [[1, "2"], ["1", 2]]}`, want: true},
		{name: "fewer than two args", expr: `{"==": [1]}`, want: false},
		{name: "scalar args", expr: `{">": 5}`, want: false},
		{name: "greater chain true", expr: `{">": [3, 2, 1]}`, want: true},
		{name: "greater chain false", expr: `{">": [3, 1, 2]}`, want: false},
		{name: "greater or equal", expr: `{">=": [2, 2, 1]}`, want: true},
		{name: "less numeric strings", expr: `{"<": ["9", "10"]}`, want: true},
		{name: "less lexical", expr: `{"<": ["apple", "banana"]}`, want: true},
		{name: "less lexical mixed", expr: `{"<": ["10", "9a"]}`, want: true},
		{name: "less or equal", expr: `{"<=": [1, 1, 2]}`, want: true},
		{name: "null orders as empty", expr: `{"<": [null, "a"]}`, want: true},
	})
}

func TestEvaluate_Logical(t *testing.T) {
	runEvalCases(t, []evalCase{
		{name: "double negation of string zero", expr: `{"!!": [{"var": "trigger.value"}]}`, data: `{"trigger": {"value": "0"}}`, want: true},
		{name: "double negation of empty string", expr: `{"!!": [{"var": "trigger.value"}]}`, data: `{"trigger": {"value": ""}}`, want: false},
		{name: "double negation of empty list", expr: `{"!!": [{"var": "query.value"}]}`, data: `{"query": {"value": []}}`, want: false},
		{name: "not zero", expr: `{"!": [0]}`, want: true},
		{name: "not scalar arg", expr: `{"!": true}`, want: false},
		{name: "not empty args", expr: `{"!": []}`, want: true},
		{name: "and returns first falsy", expr: `{"and": [1, 0, 2]}`, want: 0.0},
		{name: "and returns last", expr: `{"and": [1, "x", 2]}`, want: 2.0},
		{name: "and empty", expr: `{"and": []}`, want: nil},
		{name: "or returns first truthy", expr: `{"or": [0, "", "hit", 5]}`, want: "hit"},
		{name: "or returns last", expr: `{"or": [0, ""]}`, want: ""},
		{name: "and short-circuits", expr: `{"and": [false, {"/": [1, 0]}]}`, want: false},
	})
}

func TestEvaluate_If(t *testing.T) {
	runEvalCases(t, []evalCase{
		{name: "first branch", expr: `{"if": [true, "a", "b"]}`, want: "a"},
		{name: "else branch", expr: `{"if": [false, "a", "b"]}`, want: "b"},
		{name: "second condition", expr: `{"if": [false, "a", 1, "b", "c"]}`, want: "b"},
		{name: "even no match", expr: `{"if": [false, "a", 0, "b"]}`, want: nil},
		{name: "single element is else", expr: `{"if": ["only"]}`, want: "only"},
		{name: "empty", expr: `{"if": []}`, want: nil},
	})

	expr := `{"if": [
		{"and": [
			{">": [{"var": "trigger.value"}, 100]},
			{"or": [
				{"===": [{"var": "payload.mode"}, "auto"]},
				{"!!": [{"var": "query.value"}]}
			]}
		]},
		"pass",
		"fail"
	]}`
	runEvalCases(t, []evalCase{
		{name: "nested fail", expr: expr, data: `{"trigger": {"value": 120}, "payload": {"mode": "manual"}, "query": {"value": 0}}`, want: "fail"},
		{name: "nested pass", expr: expr, data: `{"trigger": {"value": 120}, "payload": {"mode": "manual"}, "query": {"value": 1}}`, want: "pass"},
		{name: "nested pass auto", expr: expr, data: `{"trigger": {"value": 101}, "payload": {"mode": "auto"}}`, want: "pass"},
	})
}

func TestEvaluate_Missing(t *testing.T) {
	data := `{"trigger": {"value": 10}, "payload": {"device_id": 55}}`
	runEvalCases(t, []evalCase{
		{name: "missing list", expr: `{"missing": ["trigger.value", "query.value", "payload.device_id"]}`, data: data, want: []any{"query.value"}},
		{name: "missing single path", expr: `{"missing": "query.value"}`, data: data, want: []any{"query.value"}},
		{name: "missing none", expr: `{"missing": ["trigger.value"]}`, data: data, want: []any{}},
		{name: "missing dedups and trims", expr: `{"missing": ["a", " a ", "b", "", 5, "a"]}`, data: data, want: []any{"a", "b"}},
		{name: "missing_some enough", expr: `{"missing_some": [2, ["trigger.value", "query.value", "payload.device_id"]]}`, data: `{"trigger": {"value": 10}, "query": {"value": 20}}`, want: []any{}},
		{name: "missing_some not enough", expr: `{"missing_some": [2, ["trigger.value", "query.value", "payload.device_id"]]}`, data: `{"trigger": {"value": 10}}`, want: []any{"query.value", "payload.device_id"}},
		{name: "missing_some string minimum", expr: `{"missing_some": ["1", ["x", "trigger.value"]]}`, data: data, want: []any{}},
		{name: "missing_some negative minimum", expr: `{"missing_some": [-3, ["x"]]}`, data: data, want: []any{}},
		{name: "missing_some no paths", expr: `{"missing_some": [1, []]}`, data: data, want: []any{}},
		{name: "missing_some scalar args", expr: `{"missing_some": 1}`, data: data, want: []any{}},
		{name: "missing_some duplicates count once", expr: `{"missing_some": [2, ["trigger.value", "trigger.value", "x"]]}`, data: data, want: []any{"x"}},
	})
}

func TestMatches(t *testing.T) {
	data := map[string]any{"trigger": map[string]any{"value": 42.0}}
	if !Matches(nil, data) {
		t.Error("Matches(nil) = false, want true")
	}
	if !Matches(map[string]any{">": []any{map[string]any{"var": "trigger.value"}, 40}}, data) {
		t.Error("Matches(> 40) = false, want true")
	}
	if Matches(map[string]any{"<": []any{map[string]any{"var": "trigger.value"}, 40}}, data) {
		t.Error("Matches(< 40) = true, want false")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	expr := mustJSON(t, `{"if": [{">": [{"+": [{"var": "a"}, 1]}, 2]}, {"missing": ["b", "c"]}, "none"]}`)
	data := mustJSON(t, `{"a": 5, "c": 1}`)

	first := Evaluate(expr, data)
	for i := 0; i < 10; i++ {
		if got := Evaluate(expr, data); !reflect.DeepEqual(got, first) {
			t.Fatalf("Evaluate() run %d = %#v, want %#v", i, got, first)
		}
	}
	if !reflect.DeepEqual(first, []any{"b"}) {
		t.Errorf("Evaluate() = %#v, want [b]", first)
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{false, false},
		{true, true},
		{0, false},
		{0.0, false},
		{-1, true},
		{"", false},
		{"0", true},
		{"false", true},
		{[]any{}, false},
		{[]any{0}, true},
		{map[string]any{}, false},
		{map[string]any{"a": 1}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte(`{"var": `)); err == nil {
		t.Error("Parse() error = nil, want error")
	}
}
