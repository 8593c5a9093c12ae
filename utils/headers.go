// utils/headers.go
package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	nonWordRegex    = regexp.MustCompile(`[^\p{L}\p{N}_\s\p{Z}]`)
	whitespaceRegex = regexp.MustCompile(`[\s\p{Z}]+`)
	underscoreRegex = regexp.MustCompile(`_+`)
)

// NormalizeHeader converts a free-form CSV header ("Reg ID / ENR") to a
// lowercase underscore column name ("reg_id_enr"). Accented letters are kept.
// Normalizing an already normalized header returns it unchanged.
func NormalizeHeader(header string) string {
	name := nonWordRegex.ReplaceAllString(header, "_")
	name = whitespaceRegex.ReplaceAllString(name, "_")
	name = strings.ToLower(name)
	name = underscoreRegex.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

// NormalizeHeaders normalizes a whole header row so it can be used as a list of
// SQL columns: empty names become column_N and repeated names get a numeric
// suffix (name, name_2, name_3).
func NormalizeHeaders(headers []string) []string {
	out := make([]string, len(headers))
	seen := make(map[string]bool, len(headers))
	for i, h := range headers {
		name := NormalizeHeader(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		candidate := name
		for n := 2; seen[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		seen[candidate] = true
		out[i] = candidate
	}
	return out
}
