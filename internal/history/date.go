// Copyright 2025 Joseph Cumines
//
// Date resolution for rendered chat timestamps

package history

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDateFormat is returned when a target date is not a valid "YY/M/D" string.
var ErrInvalidDateFormat = errors.New("invalid date format")

var (
	// absoluteDatePattern matches the "YY/M/D" prefix WeChat renders for older messages,
	// e.g. "25/3/22 14:05".
	absoluteDatePattern = regexp.MustCompile(`^(\d{2})/(\d{1,2})/(\d{1,2})`)

	// targetDatePattern is the full-string form accepted from callers.
	targetDatePattern = regexp.MustCompile(`^(\d{2})/(\d{1,2})/(\d{1,2})$`)

	// timeOfDayPattern matches a bare time, which WeChat uses for today's messages.
	timeOfDayPattern = regexp.MustCompile(`^\d{1,2}:\d{2}$`)
)

// yesterdayMarker is rendered in place of a date for yesterday's messages.
const yesterdayMarker = "昨天"

// weekdayNames maps rendered weekday labels to a Monday-based index.
// "星期天" is the colloquial form of "星期日".
var weekdayNames = []struct {
	label string
	index int
}{
	{"星期一", 0},
	{"星期二", 1},
	{"星期三", 2},
	{"星期四", 3},
	{"星期五", 4},
	{"星期六", 5},
	{"星期日", 6},
	{"星期天", 6},
}

// Date is a calendar date without a time or location component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// NewDate returns the date for the given components, reporting false if they
// do not form a real calendar date (e.g. month 13 or February 30).
func NewDate(year int, month time.Month, day int) (Date, bool) {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	d := DateOf(t)
	if d.Year != year || d.Month != month || d.Day != day {
		return Date{}, false
	}
	return d, true
}

// Time returns midnight of d in loc.
func (d Date) Time(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time(time.UTC).AddDate(0, 0, n))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

// String formats d as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseTargetDate parses a caller supplied "YY/M/D" date such as "25/3/22".
// The two digit year is taken to be in the 2000s.
func ParseTargetDate(text string) (Date, error) {
	m := targetDatePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Date{}, fmt.Errorf("%w: %q (expected YY/M/D, e.g. 25/3/22)", ErrInvalidDateFormat, text)
	}
	d, ok := dateFromMatch(m)
	if !ok {
		return Date{}, fmt.Errorf("%w: %q is not a calendar date", ErrInvalidDateFormat, text)
	}
	return d, nil
}

// ResolveTimestamp converts the timestamp text WeChat renders next to a message
// into a calendar date, relative to today. It reports false when the text
// matches none of the known forms; that is not an error.
func ResolveTimestamp(text string, today Date) (Date, bool) {
	text = strings.TrimSpace(text)

	if m := absoluteDatePattern.FindStringSubmatch(text); m != nil {
		return dateFromMatch(m)
	}

	if strings.Contains(text, yesterdayMarker) {
		return today.AddDays(-1), true
	}

	for _, w := range weekdayNames {
		if strings.Contains(text, w.label) {
			current := (int(today.Weekday()) + 6) % 7
			diff := w.index - current
			if diff > 0 {
				diff -= 7
			}
			return today.AddDays(diff), true
		}
	}

	if timeOfDayPattern.MatchString(text) {
		return today, true
	}

	return Date{}, false
}

func dateFromMatch(m []string) (Date, bool) {
	yy, err1 := strconv.Atoi(m[1])
	month, err2 := strconv.Atoi(m[2])
	day, err3 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return Date{}, false
	}
	return NewDate(2000+yy, time.Month(month), day)
}
