package archive

import (
	"fmt"
	"time"
)

const timestampLayout = "20060102150405"

// ParseTimestamp parses a capture timestamp of 1 to 14 digits
// (YYYYMMDDhhmmss, truncated anywhere). Missing digits are filled
// from 00000101000000, so "2022" is 2022-01-01T00:00:00Z.
func ParseTimestamp(ts string) (time.Time, error) {
	if len(ts) == 0 || len(ts) > len(timestampLayout) {
		return time.Time{}, fmt.Errorf("invalid capture timestamp %q", ts)
	}
	for _, r := range ts {
		if r < '0' || r > '9' {
			return time.Time{}, fmt.Errorf("invalid capture timestamp %q", ts)
		}
	}
	full := ts + "00000101000000"[len(ts):]
	t, err := time.Parse(timestampLayout, full)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid capture timestamp %q: %w", ts, err)
	}
	return t, nil
}

// FormatTimestamp renders a time as a 14 digit capture timestamp.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
