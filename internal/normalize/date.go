package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// DateLayout is the canonical calendar date form.
const DateLayout = "2006-01-02"

var (
	ordinalSuffix = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)
	weekdayPrefix = regexp.MustCompile(`(?i)^(mon|tue|wed|thu|fri|sat|sun)[a-z]*\.?,?\s+`)
	dayRange      = regexp.MustCompile(`\b(\d{1,2})\s*[-–]\s*\d{1,2}\b`)
	monthName     = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\b`)
	isoDate       = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// ParseDate reads a date from the formats calendar pages use ("2027-04-19", "April 19th, 2027",
// "19-20 Apr 2027", RFC 3339 timestamps). A range resolves to its first day. Values without a
// zone are read in loc.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s := display(raw)
	if s == "" {
		return time.Time{}, ErrMissingDate
	}
	if t, err := dateparse.ParseIn(s, loc); err == nil {
		return t, nil
	}
	if isoDate.MatchString(s) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	s = weekdayPrefix.ReplaceAllString(s, "")
	s = ordinalSuffix.ReplaceAllString(s, "$1")
	if monthName.MatchString(s) {
		s = dayRange.ReplaceAllString(s, "$1")
	}
	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return t, nil
}

// CanonicalDate formats the calendar day of raw in its own zone, or loc when it carries none.
func CanonicalDate(raw string, loc *time.Location) (string, error) {
	t, err := ParseDate(raw, loc)
	if err != nil {
		return "", err
	}
	return t.Format(DateLayout), nil
}

// CanonicalTimestamp formats raw as an RFC 3339 instant in UTC.
func CanonicalTimestamp(raw string, loc *time.Location) (string, error) {
	t, err := ParseDate(raw, loc)
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}

// DaysApart returns the absolute number of calendar days between two canonical dates.
func DaysApart(a, b string) (int, error) {
	ta, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, a)
	}
	tb, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDate, b)
	}
	d := int(ta.Sub(tb).Hours() / 24)
	if d < 0 {
		d = -d
	}
	return d, nil
}

// ShiftDate moves a canonical date by days.
func ShiftDate(date string, days int) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return t.AddDate(0, 0, days).Format(DateLayout), nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
