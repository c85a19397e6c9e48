package rules

import (
	"slices"
	"strconv"
	"strings"
)

// lookup walks a dotted path through maps and lists. An all-digit segment
// also indexes lists. A key holding nil counts as found.
func lookup(data any, path string) (any, bool) {
	current := data
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			if !allDigits(segment) {
				return nil, false
			}
			idx, err := strconv.Atoi(segment)
			if err != nil || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// normalizePaths accepts a path or a list of paths and returns the trimmed,
// non-empty string entries in order without duplicates.
func normalizePaths(v any) []string {
	var candidates []any
	switch t := v.(type) {
	case string:
		candidates = []any{t}
	case []any:
		candidates = t
	case []string:
		candidates = items(t)
	}

	paths := make([]string, 0, len(candidates))
	for _, c := range candidates {
		s, ok := c.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(paths, s) {
			continue
		}
		paths = append(paths, s)
	}
	return paths
}
