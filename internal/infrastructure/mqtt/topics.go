package mqtt

import "strings"

// StatusTopic carries the retained online/offline status of this service.
const StatusTopic = "graylogic-iot/status"

// DeviceFilter returns the subscription filter covering every device
// subject under base: base/+/#.
func DeviceFilter(base string) string {
	base = strings.Trim(base, "/")
	if base == "" {
		return "#"
	}
	return base + "/+/#"
}

// HasWildcard reports whether topic contains an MQTT wildcard. Wildcards
// are valid in subscription filters but never in published topics.
func HasWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}
