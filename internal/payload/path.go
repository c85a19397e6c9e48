package payload

import "strings"

// Place sets value at a dotted path inside payload, creating intermediate
// objects and replacing non-object intermediates.
func Place(payload map[string]any, path string, value any) map[string]any {
	if payload == nil {
		payload = make(map[string]any)
	}
	segments := strings.Split(path, ".")
	node := payload
	for _, segment := range segments[:len(segments)-1] {
		next, ok := node[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			node[segment] = next
		}
		node = next
	}
	node[segments[len(segments)-1]] = value
	return payload
}

// Extract reads the value at a dotted path, returning nil when absent.
func Extract(payload map[string]any, path string) any {
	var current any = payload
	for _, segment := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[segment]
		if !ok {
			return nil
		}
	}
	return current
}
