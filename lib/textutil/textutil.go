package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)
var unsafeFilenameRegex = regexp.MustCompile(`[<>:"/\\|?*]`)
var underscoreRunRegex = regexp.MustCompile(`_+`)

// CollapseWhitespace squeezes runs of whitespace into single spaces
// and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(s, " "))
}

// SanitizeFilename replaces characters that are unsafe in filenames
// with underscores, collapses whitespace and underscore runs, and
// bounds the length. May return "" for degenerate input, callers are
// expected to substitute their own fallback name.
func SanitizeFilename(name string) string {
	name = unsafeFilenameRegex.ReplaceAllString(name, "_")
	name = CollapseWhitespace(name)
	name = underscoreRunRegex.ReplaceAllString(name, "_")
	runes := []rune(name)
	if len(runes) > 100 {
		name = string(runes[:100])
	}
	return name
}

// MatchHost reports whether host equals or is a subdomain of any
// entry in blocked.
func MatchHost(host string, blocked []string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return false
	}
	for _, b := range blocked {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}
