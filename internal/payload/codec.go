package payload

import (
	"sort"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// activeParameters returns the active parameters ordered by sequence.
func activeParameters(params []device.Parameter) []*device.Parameter {
	out := make([]*device.Parameter, 0, len(params))
	for i := range params {
		if params[i].Active {
			out = append(out, &params[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// ResolveFromControls builds a command payload from control values.
//
// Each active parameter takes its control value when the key is present
// (even if nil), otherwise its default. The value is cast and validated;
// invalid values are reported in errs and left out of the payload.
func ResolveFromControls(params []device.Parameter, controls map[string]any) (payload map[string]any, errs map[string]string) {
	payload = make(map[string]any)
	errs = make(map[string]string)

	for _, p := range activeParameters(params) {
		raw, ok := controls[p.Key]
		if !ok {
			raw = p.Default
		}

		value := CastForType(p.Type, raw)
		if code := ValidateValue(p, value); code != "" {
			errs[p.Key] = code
			continue
		}
		payload = Place(payload, p.Path(), value)
	}
	return payload, errs
}

// ValidatePayload checks an existing payload against the active parameters
// without modifying it.
func ValidatePayload(params []device.Parameter, payload map[string]any) map[string]string {
	errs := make(map[string]string)
	for _, p := range activeParameters(params) {
		value := CastForType(p.Type, Extract(payload, p.Path()))
		if code := ValidateValue(p, value); code != "" {
			errs[p.Key] = code
		}
	}
	return errs
}
