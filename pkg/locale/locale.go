// Package locale maps free text to a locale tag using ordered lexical
// heuristics. Detection is pure and stateless.
package locale

import (
	"regexp"
	"strings"
)

// Tag is a locale tag such as "en" or "fr".
type Tag = string

// Default is the locale returned when no pattern matches.
const Default Tag = "en"

// wordSet builds a case-insensitive pattern matching any of words as a whole
// word. Boundaries are explicit non-letter runs since \b only understands
// ASCII word characters and would miss words such as "für" or "à".
func wordSet(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(words, "|") + `)(?:[^\p{L}]|$)`)
}

type pattern struct {
	tag Tag
	re  *regexp.Regexp
}

// Checked in order; first match wins.
var patterns = []pattern{
	{"en", wordSet("the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by")},
	{"es", wordSet("el", "la", "y", "o", "pero", "en", "a", "para", "de", "con", "por")},
	{"fr", wordSet("le", "la", "et", "ou", "mais", "dans", "à", "pour", "de", "avec", "par")},
	{"de", wordSet("der", "die", "das", "und", "oder", "aber", "in", "an", "zu", "für", "von", "mit")},
	{"zh", regexp.MustCompile(`[\x{4e00}-\x{9fff}]`)},
}

// Detect returns the first locale whose pattern matches text, or Default.
func Detect(text string) Tag {
	if strings.TrimSpace(text) == "" {
		return Default
	}
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.tag
		}
	}
	return Default
}

// Resolve returns hint when it names a supported locale, otherwise Detect(text).
func Resolve(hint, text string) Tag {
	if t := Normalize(hint); t != "" {
		return t
	}
	return Detect(text)
}

// Normalize lowercases a tag and strips a region suffix ("fr-CA" -> "fr").
// Unsupported tags yield "".
func Normalize(tag string) Tag {
	t := strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(t, "-_"); i > 0 {
		t = t[:i]
	}
	if IsSupported(t) {
		return t
	}
	return ""
}

// Supported returns the detectable locales in priority order.
func Supported() []Tag {
	out := make([]Tag, len(patterns))
	for i, p := range patterns {
		out[i] = p.tag
	}
	return out
}

// IsSupported reports whether tag is one of Supported().
func IsSupported(tag string) bool {
	for _, p := range patterns {
		if p.tag == tag {
			return true
		}
	}
	return false
}
