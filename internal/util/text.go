package util

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// BioTags splits a bio on whitespace into lowercase tags, dropping
// single-character tokens and duplicates. Order follows first appearance.
func BioTags(bio string) []string {
	parts := strings.Fields(strings.ToLower(bio))
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if utf8.RuneCountInString(p) <= 1 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// BioHash is the content hash stored next to a bio for change detection.
func BioHash(bio string) string {
	return strconv.FormatUint(xxhash.Sum64String(bio), 16)
}
