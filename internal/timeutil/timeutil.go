// Package timeutil renders and parses the compact human duration syntax
// ("2w 3d", "1mo") used in metric rows and range configuration.
package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Calendar-flavored units: a month is 30 days, a year is 12 such months.
const (
	Second = 1
	Minute = 60 * Second
	Hour   = 60 * Minute
	Day    = 24 * Hour
	Week   = 7 * Day
	Month  = 30 * Day
	Year   = 12 * Month
)

var units = []struct {
	name string
	secs int64
}{
	{"y", Year},
	{"mo", Month},
	{"w", Week},
	{"d", Day},
	{"h", Hour},
	{"m", Minute},
	{"s", Second},
}

// ToHuman renders a duration as its two most significant units, e.g.
// 93784s -> "1d 2h". Zero renders as "0s", negative values keep a leading minus.
func ToHuman(d time.Duration) string {
	return ToHumanN(d, 2)
}

// ToHumanN is ToHuman with an explicit verbosity (number of units kept).
func ToHumanN(d time.Duration, verbosity int) string {
	secs := int64(d / time.Second)
	neg := secs < 0
	if neg {
		secs = -secs
	}
	parts := make([]string, 0, verbosity)
	for _, u := range units {
		if len(parts) == verbosity {
			break
		}
		if v := secs / u.secs; v > 0 {
			parts = append(parts, fmt.Sprintf("%d%s", v, u.name))
			secs -= v * u.secs
		}
	}
	if len(parts) == 0 {
		return "0s"
	}
	out := strings.Join(parts, " ")
	if neg {
		return "-" + out
	}
	return out
}

var (
	humanRe = regexp.MustCompile(`^(?:\s*\d+\s*(?:mo|[ywdhms]))+\s*$`)
	tokenRe = regexp.MustCompile(`(\d+)\s*(mo|[ywdhms])`)
)

// FromHuman parses the syntax produced by ToHuman back into a duration.
// Tokens may repeat and appear in any order; "1w 2d" and "2d1w" are equal.
func FromHuman(s string) (time.Duration, error) {
	if !humanRe.MatchString(s) {
		return 0, fmt.Errorf("timeutil: cannot parse duration %q", s)
	}
	var total int64
	for _, m := range tokenRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("timeutil: cannot parse duration %q: %w", s, err)
		}
		for _, u := range units {
			if u.name == m[2] {
				total += n * u.secs
				break
			}
		}
	}
	return time.Duration(total) * time.Second, nil
}
