// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// SplitList splits a comma separated value (as found in environment
// variables), trims each element and drops empties and duplicates.
// Order is preserved.
//
// Example:
//
//	SplitList(" 1, 2,1,, 3 ")
//	// Returns: []string{"1", "2", "3"}
func SplitList(value string) []string {
	return DedupeAndTrim(strings.Split(value, ","))
}

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
