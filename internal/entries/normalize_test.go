package entries

import (
	"errors"
	"testing"
)

func TestNormalizeTimestampCanonicalizesOffsets(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		wantISO   string
		wantEpoch int64
	}{
		{name: "utc offset", input: "2025-01-01T12:00:00+00:00", wantISO: "2025-01-01T12:00:00Z", wantEpoch: 1735732800},
		{name: "zulu suffix", input: "2025-01-01T12:00:00Z", wantISO: "2025-01-01T12:00:00Z", wantEpoch: 1735732800},
		{name: "eastern offset", input: "2025-01-01T07:00:00-05:00", wantISO: "2025-01-01T12:00:00Z", wantEpoch: 1735732800},
		{name: "tokyo offset", input: "2025-01-01T21:00:00+09:00", wantISO: "2025-01-01T12:00:00Z", wantEpoch: 1735732800},
		{name: "fractional seconds floored", input: "2025-01-01T12:00:00.932+00:00", wantISO: "2025-01-01T12:00:00Z", wantEpoch: 1735732800},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotISO, gotEpoch, err := NormalizeTimestamp(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotISO != tc.wantISO {
				t.Fatalf("expected %s, got %s", tc.wantISO, gotISO)
			}
			if gotEpoch != tc.wantEpoch {
				t.Fatalf("expected epoch %d, got %d", tc.wantEpoch, gotEpoch)
			}
		})
	}
}

func TestNormalizeTimestampRejectsNaiveAndMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{name: "missing offset", input: "2025-01-01T12:00:00"},
		{name: "date only", input: "2025-01-01"},
		{name: "empty", input: ""},
		{name: "garbage", input: "not-a-timestamp"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := NormalizeTimestamp(tc.input)
			if !errors.Is(err, ErrInvalidTimestamp) {
				t.Fatalf("expected invalid timestamp error, got %v", err)
			}
		})
	}
}

func TestParseInstantRequiresExplicitOffset(t *testing.T) {
	if _, err := ParseInstant("2025-06-01T08:30:00"); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected invalid timestamp error, got %v", err)
	}

	parsed, err := ParseInstant("2025-06-01T08:30:00-04:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := parsed.UTC().Format("2006-01-02T15:04:05Z07:00"); got != "2025-06-01T12:30:00Z" {
		t.Fatalf("unexpected instant %s", got)
	}
}

func TestFormatInstantSecondPrecisionUTC(t *testing.T) {
	instant, err := ParseInstant("2025-03-15T18:45:12.731+02:00")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := FormatInstant(instant); got != "2025-03-15T16:45:12Z" {
		t.Fatalf("unexpected formatted instant %s", got)
	}
}
