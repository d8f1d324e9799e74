// Package cli holds small terminal helpers for the operator CLI.
package cli

import (
	"fmt"
	"time"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatAge renders a Unix timestamp as an age relative to now, e.g.
// "2026-05-01T10:00:00Z (1:05 ago)". Zero renders as "never". Ages of a
// day or more are shown in days.
func FormatAge(unix int64, now time.Time) string {
	if unix == 0 {
		return "never"
	}
	t := time.Unix(unix, 0).UTC()
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	if age >= 24*time.Hour {
		return fmt.Sprintf("%s (%dd ago)", t.Format(time.RFC3339), int(age.Hours()/24))
	}
	return fmt.Sprintf("%s (%s ago)", t.Format(time.RFC3339), FormatDurationShort(age))
}
