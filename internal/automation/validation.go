package automation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength     = 100
	maxSlugLength     = 50
	maxActions        = 50
	maxControlKeys    = 20
	maxDelayMS        = 300000 // 5 minutes
	maxCooldown       = 86400  // 1 day
	maxDescriptionLen = 500
	slugPattern       = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
)

var slugRegex = regexp.MustCompile(slugPattern)

// ValidateRule performs comprehensive validation on a rule.
// Returns an error describing the first validation failure found.
func ValidateRule(r *Rule) error {
	if r == nil {
		return ErrInvalidRule
	}
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if r.Slug != "" {
		if err := ValidateSlug(r.Slug); err != nil {
			return err
		}
	}
	if r.Description != nil && len(*r.Description) > maxDescriptionLen {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidRule, maxDescriptionLen)
	}
	if r.CooldownSeconds < 0 || r.CooldownSeconds > maxCooldown {
		return fmt.Errorf("%w: cooldown_seconds must be 0-%d", ErrInvalidRule, maxCooldown)
	}
	if err := ValidateTrigger(r.Trigger); err != nil {
		return err
	}
	if r.Condition != nil {
		if _, err := json.Marshal(r.Condition); err != nil {
			return fmt.Errorf("%w: condition is not JSON: %v", ErrInvalidRule, err)
		}
	}

	if len(r.Actions) == 0 {
		return ErrNoActions
	}
	if len(r.Actions) > maxActions {
		return fmt.Errorf("%w: exceeds maximum of %d actions", ErrInvalidAction, maxActions)
	}
	for i, action := range r.Actions {
		if err := ValidateAction(action); err != nil {
			return fmt.Errorf("action[%d]: %w", i, err)
		}
	}
	return nil
}

// ValidateName checks if a rule name is valid.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateSlug checks if a slug format is valid.
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("%w: slug cannot be empty", ErrInvalidSlug)
	}
	if len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug exceeds %d characters", ErrInvalidSlug, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: must be lowercase alphanumeric with hyphens", ErrInvalidSlug)
	}
	return nil
}

// ValidateTrigger checks that a trigger names a device.
func ValidateTrigger(t Trigger) error {
	if t.DeviceUUID == "" {
		return fmt.Errorf("%w: device_uuid is required", ErrInvalidTrigger)
	}
	if _, err := uuid.Parse(t.DeviceUUID); err != nil {
		return fmt.Errorf("%w: device_uuid %q: %v", ErrInvalidTrigger, t.DeviceUUID, err)
	}
	return nil
}

// ValidateAction checks if a rule action is valid. Control values are
// checked against the topic's parameters when the action runs.
func ValidateAction(action Action) error {
	if action.DeviceUUID == "" {
		return fmt.Errorf("%w: device_uuid is required", ErrInvalidAction)
	}
	if action.TopicKey == "" {
		return fmt.Errorf("%w: topic_key is required", ErrInvalidAction)
	}
	if action.DelayMS < 0 || action.DelayMS > maxDelayMS {
		return fmt.Errorf("%w: delay_ms must be 0-%d", ErrInvalidAction, maxDelayMS)
	}
	if len(action.Controls) > maxControlKeys {
		return fmt.Errorf("%w: controls exceeds %d keys", ErrInvalidAction, maxControlKeys)
	}
	return nil
}

// GenerateSlug creates a URL-safe slug from a name.
// It lowercases, replaces spaces/underscores with hyphens, removes
// non-alphanumeric characters, and trims to maxSlugLength.
func GenerateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.NewReplacer(" ", "-", "_", "-").Replace(slug)

	var result strings.Builder
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			result.WriteRune(r)
		}
	}
	slug = result.String()

	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-")

	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "-")
	}
	return slug
}

// GenerateID creates a new UUID for a rule or execution.
func GenerateID() string {
	return uuid.NewString()
}
