package store

import (
	"fmt"
	"time"
)

// TimeLayout is the fixed-width layout used for created_at. Every stored
// value is UTC with microsecond precision, so string comparison orders rows
// chronologically. created_at is part of the primary key: two rows of one
// conversation saved within the same microsecond share a key and the later
// save replaces the earlier one.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// NormalizeTime truncates t to the stored precision, in UTC. Save* apply it
// to the entity so the caller holds exactly what a later Find returns.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// ParseTime parses a value written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("store: parse created_at %q: %w", s, err)
	}
	return t.UTC(), nil
}
