package nats

import (
	"strings"

	"github.com/nerrad567/gray-logic-iot/internal/device"
)

// Filter converts an MQTT style subscription filter to NATS notation.
//
//	"#"          -> ">"
//	"device/+/#" -> "device.*.>"
func Filter(mqttFilter string) string {
	levels := strings.Split(strings.Trim(mqttFilter, "/"), "/")
	for i, level := range levels {
		switch level {
		case "+":
			levels[i] = "*"
		case "#":
			levels[i] = ">"
		}
	}
	return strings.Join(levels, ".")
}

// Subject converts a '/'-separated device subject for publishing.
func Subject(subject string) string {
	return device.ToNATSSubject(strings.Trim(subject, "/"))
}

// hasWildcard reports whether a NATS subject contains a wildcard token.
func hasWildcard(subject string) bool {
	for _, token := range strings.Split(subject, ".") {
		if token == "*" || token == ">" {
			return true
		}
	}
	return false
}
