package device

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength   = 100
	maxSuffixLength = 200
	keyPattern      = `^[a-z0-9]+(?:[_-][a-z0-9]+)*$`
)

var keyRegex = regexp.MustCompile(keyPattern)

var (
	validPurposes  map[Purpose]struct{}
	validDataTypes = map[DataType]struct{}{
		TypeInteger: {}, TypeDecimal: {}, TypeBoolean: {}, TypeString: {}, TypeJSON: {},
	}
)

func init() {
	validPurposes = make(map[Purpose]struct{}, len(ValidPurposes))
	for _, p := range ValidPurposes {
		validPurposes[p] = struct{}{}
	}
}

// ValidateDevice checks a device before it is stored, assigning a uuid
// when none is set.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: nil device", ErrInvalidDevice)
	}
	name := strings.TrimSpace(d.Name)
	if name == "" || len(name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDevice, maxNameLength)
	}
	if d.UUID == "" {
		d.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(d.UUID); err != nil {
		return fmt.Errorf("%w: uuid %q: %v", ErrInvalidDevice, d.UUID, err)
	}
	if strings.ContainsAny(d.ExternalID, "/.#+* ") {
		return fmt.Errorf("%w: external_id %q contains subject separators or wildcards", ErrInvalidDevice, d.ExternalID)
	}
	return nil
}

// ValidateTopic checks a topic definition and its parameters.
func ValidateTopic(t *Topic) error {
	if t == nil {
		return fmt.Errorf("%w: nil topic", ErrInvalidTopic)
	}
	if !keyRegex.MatchString(t.Key) {
		return fmt.Errorf("%w: key %q must match %s", ErrInvalidTopic, t.Key, keyPattern)
	}
	suffix := strings.Trim(t.Suffix, "/")
	if suffix == "" || len(suffix) > maxSuffixLength {
		return fmt.Errorf("%w: suffix must be 1-%d characters", ErrInvalidTopic, maxSuffixLength)
	}
	if strings.ContainsAny(suffix, "#+*") {
		return fmt.Errorf("%w: suffix %q contains wildcards", ErrInvalidTopic, t.Suffix)
	}
	if t.Direction != DirectionPublish && t.Direction != DirectionSubscribe {
		return fmt.Errorf("%w: direction %q", ErrInvalidTopic, t.Direction)
	}
	if t.Purpose != "" {
		if _, ok := validPurposes[t.Purpose]; !ok {
			return fmt.Errorf("%w: purpose %q", ErrInvalidTopic, t.Purpose)
		}
	}
	if t.QoS < 0 || t.QoS > 2 {
		return fmt.Errorf("%w: qos %d", ErrInvalidTopic, t.QoS)
	}

	seen := make(map[string]bool, len(t.Parameters))
	for i := range t.Parameters {
		p := &t.Parameters[i]
		if err := ValidateParameter(p); err != nil {
			return err
		}
		if seen[p.Key] {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidParameter, p.Key)
		}
		seen[p.Key] = true
	}
	return nil
}

// ValidateParameter checks a single parameter definition.
func ValidateParameter(p *Parameter) error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("%w: empty key", ErrInvalidParameter)
	}
	if _, ok := validDataTypes[p.Type]; !ok {
		return fmt.Errorf("%w: %s has unknown type %q", ErrInvalidParameter, p.Key, p.Type)
	}
	if p.Rules.Regex != "" {
		if _, err := compileRulePattern(p.Rules.Regex); err != nil {
			return fmt.Errorf("%w: %s regex: %v", ErrInvalidParameter, p.Key, err)
		}
	}
	if p.Rules.Min != nil && p.Rules.Max != nil && *p.Rules.Min > *p.Rules.Max {
		return fmt.Errorf("%w: %s min exceeds max", ErrInvalidParameter, p.Key)
	}
	return nil
}

// compileRulePattern accepts both bare patterns and /delimited/flags form.
func compileRulePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(NormalizePattern(pattern))
}

// NormalizePattern strips /.../ delimiters from a pattern and maps the
// trailing "i" flag to Go's (?i) prefix.
func NormalizePattern(pattern string) string {
	if len(pattern) < 2 || pattern[0] != '/' {
		return pattern
	}
	end := strings.LastIndex(pattern, "/")
	if end <= 0 {
		return pattern
	}
	body, flags := pattern[1:end], pattern[end+1:]
	if strings.Contains(flags, "i") {
		body = "(?i)" + body
	}
	return body
}

// ValidateLink checks that a link goes from a command topic to a publish topic.
func ValidateLink(l Link, from, to *Topic) error {
	if l.Type != LinkStateFeedback && l.Type != LinkAckFeedback {
		return fmt.Errorf("%w: type %q", ErrInvalidLink, l.Type)
	}
	if from.ResolvedPurpose() != PurposeCommand {
		return fmt.Errorf("%w: source topic %q is not a command topic", ErrInvalidLink, from.Key)
	}
	if !to.IsPublish() {
		return fmt.Errorf("%w: target topic %q is not published by the device", ErrInvalidLink, to.Key)
	}
	if from.SchemaVersionID != to.SchemaVersionID {
		return fmt.Errorf("%w: topics belong to different schema versions", ErrInvalidLink)
	}
	return nil
}
