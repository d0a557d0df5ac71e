// Package timeparsing turns the loose time expressions accepted at the
// query surface (query_as_of, snapshot retention overrides, --since
// flags) into concrete time.Time values. Three layers are tried in
// order: a compact "+1d"-style duration grammar, natural-language
// phrases, and finally strict date/RFC3339 parsing.
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var compactDurationRE = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// IsCompactDuration reports whether input matches the compact duration
// grammar (e.g. "+6h", "-1d", "3m") without actually parsing it.
func IsCompactDuration(input string) bool {
	return compactDurationRE.MatchString(input)
}

// ParseCompactDuration parses a compact relative duration expression
// and applies it to now. Supported units: h (hour), d (day), w (week),
// m (month), y (year). A missing sign is treated as positive.
func ParseCompactDuration(input string, now time.Time) (time.Time, error) {
	m := compactDurationRE.FindStringSubmatch(input)
	if m == nil {
		return time.Time{}, fmt.Errorf("timeparsing: %q is not a compact duration", input)
	}

	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("timeparsing: %q: %w", input, err)
	}
	if m[1] == "-" {
		amount = -amount
	}

	switch m[3] {
	case "h":
		return now.Add(time.Duration(amount) * time.Hour), nil
	case "d":
		return now.AddDate(0, 0, amount), nil
	case "w":
		return now.AddDate(0, 0, amount*7), nil
	case "m":
		return now.AddDate(0, amount, 0), nil
	case "y":
		return now.AddDate(amount, 0, 0), nil
	default:
		return time.Time{}, fmt.Errorf("timeparsing: %q: unknown unit %q", input, m[3])
	}
}
