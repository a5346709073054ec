package models

import (
	"strings"
	"time"
)

// timestampLayouts are the accepted input forms, tried in order. Layouts
// without an offset are interpreted directly in IST; layouts carrying one
// are converted into IST and the offset discarded.
var timestampLayouts = []string{
	TimestampLayout,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
}

// ParseTimestamp parses a datetime string into the shared IST convention.
// Offset-carrying inputs are converted to IST wall-clock time; naive inputs
// are assumed to already be IST. Returns the zero time and false when no
// layout matches.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, IST); err == nil {
			return t, true
		}
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(IST), true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t in the naive on-disk convention.
func FormatTimestamp(t time.Time) string {
	return t.In(IST).Format(TimestampLayout)
}
