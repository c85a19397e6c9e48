package automation

import "errors"

// Domain errors for the automation package.
//
//	if errors.Is(err, automation.ErrRuleNotFound) {
//	    // handle not found case
//	}
var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule: not found")

	// ErrRuleExists is returned when a rule ID or slug is already taken.
	ErrRuleExists = errors.New("rule: already exists")

	// ErrRuleDisabled is returned when running a disabled rule.
	ErrRuleDisabled = errors.New("rule: disabled")

	// ErrInvalidRule is returned when rule validation fails.
	ErrInvalidRule = errors.New("rule: invalid")

	// ErrInvalidTrigger is returned when a trigger names no device.
	ErrInvalidTrigger = errors.New("rule: invalid trigger")

	// ErrInvalidAction is returned when a rule action is invalid.
	ErrInvalidAction = errors.New("rule: invalid action")

	// ErrInvalidName is returned when a rule name is empty or too long.
	ErrInvalidName = errors.New("rule: invalid name")

	// ErrInvalidSlug is returned when a slug format is invalid.
	ErrInvalidSlug = errors.New("rule: invalid slug")

	// ErrNoActions is returned when a rule has no actions defined.
	ErrNoActions = errors.New("rule: no actions")

	// ErrExecutionNotFound is returned when an execution ID does not exist.
	ErrExecutionNotFound = errors.New("rule: execution not found")

	// ErrDispatchUnavailable is returned when the engine has no dispatcher.
	ErrDispatchUnavailable = errors.New("rule: dispatch unavailable")
)
