package extractor

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// firstMatch tries patterns in order and returns the submatches of the first hit.
func firstMatch(patterns []*regexp.Regexp, text string) []string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m
		}
	}
	return nil
}

// firstString returns the trimmed first capture group of the first matching pattern.
func firstString(patterns []*regexp.Regexp, text string) string {
	m := firstMatch(patterns, text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// numericValue turns a number capture and an optional unit capture into a raw
// field value: a float64 when no unit was seen, "<number> <unit>" otherwise.
func numericValue(num, unit string) (any, bool) {
	v, err := ParseNumber(num)
	if err != nil {
		return nil, false
	}
	if unit = strings.TrimSpace(unit); unit == "" {
		return v, true
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + unit, true
}

// ParseNumber reads a number that may use either separator. A comma followed
// by exactly three digits groups thousands; any other comma is the decimal point.
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] != ',':
			b.WriteByte(s[i])
		case digitRun(s[i+1:]) != 3:
			b.WriteByte('.')
		}
	}
	return strconv.ParseFloat(b.String(), 64)
}

func digitRun(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// firstTitleLine returns the first non-empty line short enough to be a title.
func firstTitleLine(text string, maxRunes int, skip func(string) bool) string {
	for _, ln := range nonEmptyLines(text) {
		if utf8.RuneCountInString(ln) > maxRunes {
			continue
		}
		if skip != nil && skip(ln) {
			continue
		}
		return ln
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
