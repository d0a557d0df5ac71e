package timeparsing

import (
	"fmt"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var nlpParser = newNLPParser()

func newNLPParser() *when.Parser {
	w := when.New(nil)
	w.Add(common.All...)
	w.Add(en.All...)
	return w
}

// ParseNaturalLanguage resolves phrases like "tomorrow", "next monday",
// or "in 3 days" relative to now.
func ParseNaturalLanguage(input string, now time.Time) (time.Time, error) {
	if input == "" {
		return time.Time{}, fmt.Errorf("timeparsing: empty natural language expression")
	}
	res, err := nlpParser.Parse(input, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeparsing: parse %q: %w", input, err)
	}
	if res == nil {
		return time.Time{}, fmt.Errorf("timeparsing: %q did not match any natural language pattern", input)
	}
	return res.Time, nil
}

// ParseRelativeTime resolves input against four layers in order,
// returning the first that matches: a compact duration, a natural
// language phrase, a date-only string (2006-01-02, midnight), or an
// RFC3339 timestamp.
func ParseRelativeTime(input string, now time.Time) (time.Time, error) {
	if IsCompactDuration(input) {
		return ParseCompactDuration(input, now)
	}

	if t, err := ParseNaturalLanguage(input, now); err == nil {
		return t, nil
	}

	if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
		return t, nil
	}

	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("timeparsing: %q does not match any supported time expression", input)
}
