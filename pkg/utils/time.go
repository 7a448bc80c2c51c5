package utils

import "time"

// Now returns the current time in UTC.
func Now() time.Time {
	return time.Now().UTC()
}

// FormatISO8601 formats t in UTC with second precision.
func FormatISO8601(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
