package device

import "strings"

// DefaultBaseTopic is used when neither the device type nor the
// configuration provides a subject prefix.
const DefaultBaseTopic = "device"

// Subject builds the broker subject for a device topic:
// base/identifier/suffix, using '/' separators.
//
// The base is the device's own BaseTopic when set, otherwise fallbackBase,
// otherwise DefaultBaseTopic.
func Subject(fallbackBase string, d *Device, t *Topic) string {
	base := d.BaseTopic
	if base == "" {
		base = fallbackBase
	}
	if base == "" {
		base = DefaultBaseTopic
	}
	return strings.Trim(base, "/") + "/" + d.Identifier() + "/" + strings.Trim(t.Suffix, "/")
}

// ToNATSSubject converts a '/'-separated subject to NATS '.' notation.
func ToNATSSubject(subject string) string {
	return strings.ReplaceAll(subject, "/", ".")
}

// FromNATSSubject converts a NATS subject back to '/' notation.
func FromNATSSubject(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}
