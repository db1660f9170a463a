package timeutil

import "time"

// DateLayout is the calendar-date form used on the wire and by operators
const DateLayout = time.DateOnly

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight UTC
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

// FormatDate renders the UTC calendar date of t
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// StartOfDay returns the start of the day (midnight) in UTC
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
