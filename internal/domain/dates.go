package domain

import "time"

// DateLayout is the canonical calendar-date format for storage and keys.
const DateLayout = "2006-01-02"

// TimeLayout is the canonical timestamp format: ISO-8601 UTC with a fixed
// three-digit fraction. Fixed width means stored strings compare in time
// order, which the cache expiry queries rely on.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders an instant as canonical UTC text.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses canonical UTC text, tolerating plain RFC3339 written by
// older rows.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, NewValidationError("timestamp", "must be ISO-8601 UTC")
	}
	return t.UTC(), nil
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, NewValidationError("date", "must be YYYY-MM-DD")
	}
	return t, nil
}

// FormatDate renders a time as a YYYY-MM-DD calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
