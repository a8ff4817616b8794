// Package isotime parses and formats the UTC ISO-8601 timestamps used in
// forcing sidecars and model parameters.
package isotime

import (
	"errors"
	"strings"
	"time"
)

const Format = "2006-01-02T15:04:05Z"

var ErrNotUTC = errors.New("time is not in UTC, the ISO format for a UTC time is YYYY-MM-DDTHH:MM:SSZ")

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
}

// Parse returns the instant for an ISO-8601 string carrying an explicit UTC zone.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if _, offset := t.Zone(); offset != 0 {
			return time.Time{}, ErrNotUTC
		}
		return t.UTC(), nil
	}
	return time.Time{}, ErrNotUTC
}

func String(t time.Time) string {
	return t.UTC().Format(Format)
}

// MustParse is for literals in tables and tests.
func MustParse(s string) time.Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}
