// Package strings parses the comma-separated lists used in configuration.
package strings

import "strings"

// SplitList splits a comma-separated value, trimming each item and dropping
// empties and repeats. First occurrence order is kept.
//
//	SplitList(" a, b,,a ") // []string{"a", "b"}
func SplitList(v string) []string {
	return splitList(v, func(s string) string { return s })
}

// SplitListLower is SplitList with items lowercased before comparison, for
// case-insensitive names such as metadata keys.
func SplitListLower(v string) []string {
	return splitList(v, strings.ToLower)
}

func splitList(v string, norm func(string) string) []string {
	var out []string
	seen := make(map[string]struct{})
	for item := range strings.SplitSeq(v, ",") {
		item = norm(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
