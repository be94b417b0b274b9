package entries

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimestamp indicates that a timestamp string is not a valid
// RFC 3339 instant with an explicit UTC offset.
var ErrInvalidTimestamp = errors.New("entries: invalid timestamp")

// NormalizeTimestamp converts an RFC 3339 timestamp in any UTC offset into
// the canonical pair stored by the mirror: a second-precision UTC string
// ("2025-01-01T12:00:00Z") and the matching epoch seconds. Fractional
// seconds are floored. Strings without an offset are rejected, never
// guessed at.
func NormalizeTimestamp(value string) (string, int64, error) {
	instant, err := ParseInstant(value)
	if err != nil {
		return "", 0, err
	}
	normalized := instant.UTC().Truncate(time.Second)
	return normalized.Format(time.RFC3339), normalized.Unix(), nil
}

// ParseInstant parses an RFC 3339 timestamp, requiring an explicit offset.
func ParseInstant(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
	}
	return parsed, nil
}

// FormatInstant renders an instant as the canonical second-precision UTC
// string used throughout the store.
func FormatInstant(instant time.Time) string {
	return instant.UTC().Truncate(time.Second).Format(time.RFC3339)
}
