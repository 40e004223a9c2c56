package calsync

import (
	"fmt"
	"strings"
	"time"
)

// the portal prefixes activity date labels with a verb; the remainder
// is the date text proper.
var datePrefixes = []string{"Opens:", "Opened:", "Closes:", "Due:"}

// StripDatePrefix discards the first whitespace-delimited token when
// the label starts with a known verb prefix, otherwise the label
// passes through unchanged.
func StripDatePrefix(label string) string {
	for _, prefix := range datePrefixes {
		if !strings.HasPrefix(label, prefix) {
			continue
		}
		fields := strings.SplitN(label, " ", 2)
		if len(fields) < 2 {
			return ""
		}
		return fields[1]
	}
	return label
}

var dateLayouts = []string{
	"Monday, 2 January 2006, 3:04 PM",
	"2 January 2006, 3:04 PM",
	"2 Jan 2006, 3:04 PM",
	"2 January 2006 15:04",
	"2 Jan 2006 15:04",
}

// ParseInstant parses the portal's locale-ambiguous date text as a
// wall-clock time in the given zone. Unparseable text is an explicit
// error, never a zero instant.
func ParseInstant(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, text, loc)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date text '%s'", text)
}

// NormalizeEvent resolves the raw opens/closes labels into instants.
func NormalizeEvent(raw RawEvent, loc *time.Location) (NormalizedEvent, error) {
	opensAt, err := ParseInstant(StripDatePrefix(raw.OpenedText), loc)
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("opens: %w", err)
	}
	closesAt, err := ParseInstant(StripDatePrefix(raw.ClosesText), loc)
	if err != nil {
		return NormalizedEvent{}, fmt.Errorf("closes: %w", err)
	}
	return NormalizedEvent{
		RawEvent: raw,
		OpensAt:  opensAt,
		ClosesAt: closesAt,
	}, nil
}
