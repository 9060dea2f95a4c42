// Package rewrite makes relative src/href links in fetched HTML absolute so
// the page still resolves its assets when rendered away from its origin.
//
// The rewrite is regex driven and best effort. It does not parse HTML and
// tolerates any malformed markup.
package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// attrPattern matches a src or href attribute preceded by whitespace, with a
// double- or single-quoted value. Groups: 1 prefix up to the opening quote's
// left side, 2 double-quoted value, 3 single-quoted value.
var attrPattern = regexp.MustCompile(`(?i)(\s(?:src|href)\s*=\s*)(?:"([^"]*)"|'([^']*)')`)

// keptPrefixes are values left untouched.
var keptPrefixes = []string{"http://", "https://", "data:", "javascript:"}

// Links rewrites every relative src/href value in html to its absolute form
// resolved against base. Values that are already absolute, data: or
// javascript: URIs, or that fail to parse are left as they are.
func Links(html string, base *url.URL) string {
	if base == nil || html == "" {
		return html
	}
	return attrPattern.ReplaceAllStringFunc(html, func(match string) string {
		m := attrPattern.FindStringSubmatch(match)
		if m == nil {
			return match
		}
		prefix, value, quote := m[1], m[2], `"`
		if strings.HasPrefix(match[len(prefix):], "'") {
			value, quote = m[3], "'"
		}

		abs, ok := Resolve(base, value)
		if !ok {
			return match
		}
		return prefix + quote + abs + quote
	})
}

// Resolve returns value resolved against base, and false when value should be
// kept verbatim.
func Resolve(base *url.URL, value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	lower := strings.ToLower(trimmed)
	for _, p := range keptPrefixes {
		if strings.HasPrefix(lower, p) {
			return "", false
		}
	}
	ref, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref).String()
	if abs == value {
		return "", false
	}
	return abs, true
}
