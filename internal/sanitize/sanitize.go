// Package sanitize neutralizes markup in untrusted text and applies the
// banned-word filter to outgoing chat payloads.
package sanitize

import (
	"regexp"
	"strings"
)

// Mask replaces each censored word regardless of its length.
const Mask = "****"

// escaper rewrites every markup-significant rune in a single pass, so an
// already produced entity is never re-escaped within one call.
var escaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// Escape makes text safe to embed as literal markup text. Calling it on
// already escaped text double-encodes the ampersands, so it must run
// exactly once per untrusted input.
func Escape(text string) string {
	return escaper.Replace(text)
}

// Censor replaces whole-word, case-insensitive occurrences of each banned
// word with Mask. Substrings inside larger words are left alone. The
// second result reports whether anything was replaced.
func Censor(text string, bannedWords []string) (string, bool) {
	if len(bannedWords) == 0 {
		return text, false
	}
	out := text
	for _, w := range bannedWords {
		if w == "" {
			continue
		}
		re, err := wordPattern(w)
		if err != nil {
			continue
		}
		out = re.ReplaceAllLiteralString(out, Mask)
	}
	return out, out != text
}

func wordPattern(word string) (*regexp.Regexp, error) {
	return regexp.Compile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
}
