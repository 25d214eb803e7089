package domain

import (
	"fmt"
	"time"
)

// DateLayout is the calendar-day format used at every boundary.
const DateLayout = "2006-01-02"

// DateOf drops the time of day, keeping the calendar day t falls on in its
// own location, and returns it as midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses YYYY-MM-DD as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

func FormatDate(t time.Time) string { return t.Format(DateLayout) }

// Nights counts the nights in [from, to). Both are normalized first.
func Nights(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}

// StayRange validates a stay and returns its normalized bounds and nights.
func StayRange(from, to time.Time) (time.Time, time.Time, int, error) {
	from, to = DateOf(from), DateOf(to)
	if !to.After(from) {
		return time.Time{}, time.Time{}, 0, ErrInvalidRange
	}
	return from, to, Nights(from, to), nil
}
