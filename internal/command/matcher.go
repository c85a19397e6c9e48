package command

import (
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/payload"
)

const (
	// candidateWindow bounds how old a command may be for heuristic matching.
	candidateWindow = 10 * time.Minute

	// candidateLimit caps how many recent commands are scored.
	candidateLimit = 25
)

// correlationID extracts _meta.command_id from a payload. Non-string or
// blank values yield "".
func correlationID(p map[string]any) string {
	meta, ok := p[MetaKey].(map[string]any)
	if !ok {
		return ""
	}
	id, ok := meta[MetaCommandIDKey].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(id)
}

// withMeta returns a copy of p with the correlation id under _meta.
// Existing _meta fields are kept.
func withMeta(p map[string]any, id string) map[string]any {
	out := make(map[string]any, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	meta := make(map[string]any)
	if existing, ok := p[MetaKey].(map[string]any); ok {
		for k, v := range existing {
			meta[k] = v
		}
	}
	meta[MetaCommandIDKey] = id
	out[MetaKey] = meta
	return out
}

// flatten maps every scalar leaf of p to its dotted path and text form,
// skipping the top-level _meta object. Lists index by position.
func flatten(p map[string]any) map[string]string {
	out := make(map[string]string)
	for k, v := range p {
		if k == MetaKey {
			continue
		}
		flattenInto(out, k, v)
	}
	return out
}

func flattenInto(out map[string]string, prefix string, v any) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenInto(out, prefix+"."+k, child)
		}
	case []any:
		for i, child := range t {
			flattenInto(out, prefix+"."+strconv.Itoa(i), child)
		}
	default:
		if s, ok := payload.Stringify(v); ok {
			out[prefix] = s
		}
	}
}

// overlap counts the paths whose values are equal in both maps.
func overlap(a, b map[string]string) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for k, v := range a {
		if w, ok := b[k]; ok && w == v {
			n++
		}
	}
	return n
}

// bestCandidate picks the command whose payload shares the most values with
// inbound. candidates must be newest first; ties keep the newer command and
// a zero best score falls back to the newest.
func bestCandidate(candidates []Command, inbound map[string]any) *Command {
	if len(candidates) == 0 {
		return nil
	}

	target := flatten(inbound)
	best, bestScore := -1, -1
	for i := range candidates {
		score := overlap(flatten(candidates[i].Payload), target)
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	if bestScore <= 0 {
		return &candidates[0]
	}
	return &candidates[best]
}
