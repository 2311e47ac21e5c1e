// Package timefmt holds the timestamp layouts shared by storage and rendering.
package timefmt

import (
	"fmt"
	"time"
)

// Stored is the layout used for event timestamps in the database and in
// freshness leaves. Always UTC, seconds precision.
const Stored = "2006-01-02 15:04:05"

// Display is the layout used for user-facing timestamps.
const Display = "02.01.2006 15:04:05 UTC"

// Format renders t in the stored layout.
func Format(t time.Time) string {
	return t.UTC().Format(Stored)
}

// Parse reads a stored-layout timestamp as UTC.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Stored, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatDisplay renders t in the user-facing layout.
func FormatDisplay(t time.Time) string {
	return t.UTC().Format(Display)
}

// ParseDisplay reads a display-layout timestamp as UTC.
func ParseDisplay(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Display, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing display timestamp %q: %w", s, err)
	}
	return t, nil
}

// FormatLocal renders t in the given zone with a numeric UTC offset suffix,
// e.g. "14.11.2023 23:13:20 UTC+1" or "UTC+5:30".
func FormatLocal(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	_, offset := local.Zone()

	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hours := offset / 3600
	minutes := (offset % 3600) / 60

	suffix := fmt.Sprintf("UTC%s%d", sign, hours)
	if minutes != 0 {
		suffix = fmt.Sprintf("UTC%s%d:%02d", sign, hours, minutes)
	}
	return local.Format("02.01.2006 15:04:05") + " " + suffix
}
