package domain

import (
	"regexp"
	"strings"
)

var (
	lowerUpper = regexp.MustCompile(`([a-z])([A-Z])`)
	lowerDigit = regexp.MustCompile(`([a-z])([0-9])`)
	digitLower = regexp.MustCompile(`([0-9])([a-z])`)
	nonWord    = regexp.MustCompile(`[^a-zA-Z0-9_]+`)
)

// Snake normalizes tracker vocabulary ("In Progress", "Won't Fix") into the
// snake_case form used for status, type and resolution columns.
func Snake(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	s = lowerUpper.ReplaceAllString(s, "${1}_${2}")
	s = lowerDigit.ReplaceAllString(s, "${1}_${2}")
	s = digitLower.ReplaceAllString(s, "${1}_${2}")
	s = nonWord.ReplaceAllString(s, "_")
	return strings.ToLower(s)
}

// CleanTitle collapses runs of whitespace and trims the result; summaries
// arrive with stray newlines and tabs from the tracker UI.
func CleanTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
