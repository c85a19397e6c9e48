// Package payload converts between typed topic parameters and JSON payloads.
//
// ResolveFromControls turns operator control values into a command payload,
// ValidatePayload checks a payload received or composed elsewhere. Both
// walk active parameters in sequence order and key errors by parameter key.
package payload
