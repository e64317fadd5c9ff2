// Package strings holds small helpers for list-valued settings.
package strings

import "strings"

// DedupeAndTrim trims every value and drops blanks and repeats, keeping the
// first occurrence order. Comma-separated env lists pass through it.
func DedupeAndTrim(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
