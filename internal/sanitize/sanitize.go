// Package sanitize cleans user supplied run labels before they are stored
// in the results database and echoed back in terminal reports.
package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxKeyLength is the maximum allowed length for a label key.
const MaxKeyLength = 40

// MaxValueLength is the maximum allowed length for a label value.
const MaxValueLength = 200

var (
	// reRepeatedSeparators matches runs of 2 or more key separators.
	reRepeatedSeparators = regexp.MustCompile(`([-_.])[-_.]+`)

	// reWhitespace matches any run of whitespace.
	reWhitespace = regexp.MustCompile(`\s+`)
)

// LabelKey keeps only [a-zA-Z0-9-_.], lowercases the result, collapses
// repeated separators and truncates to MaxKeyLength.
func LabelKey(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := reRepeatedSeparators.ReplaceAllString(b.String(), "$1")
	s = strings.Trim(s, "-_.")
	if len(s) > MaxKeyLength {
		s = s[:MaxKeyLength]
	}
	return s
}

// LabelValue strips control characters (including ANSI escapes), folds
// whitespace runs to one space and truncates to MaxValueLength.
func LabelValue(input string) string {
	s := stripControlChars(input)
	s = reWhitespace.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if len(s) > MaxValueLength {
		s = strings.ToValidUTF8(s[:MaxValueLength], "")
	}
	return s
}

// Labels sanitizes every key and value. Keys that sanitize to the empty
// string, or that collide with another key after sanitizing, are errors.
func Labels(labels map[string]string) (map[string]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		key := LabelKey(k)
		if key == "" {
			return nil, fmt.Errorf("invalid label key %q", k)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("label key %q is given more than once", key)
		}
		out[key] = LabelValue(v)
	}
	return out, nil
}

// stripControlChars removes ASCII control characters (0x00-0x1F, 0x7F).
// Whitespace controls become spaces so words stay separated.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteRune(' ')
		case r < 0x20 || r == 0x7f:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
