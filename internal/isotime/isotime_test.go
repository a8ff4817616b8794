package isotime

import (
	"errors"
	"testing"
	"time"
)

func TestParse_UTCForms(t *testing.T) {
	want := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []string{
		"2000-01-01T00:00:00Z",
		"2000-01-01T00:00:00+00:00",
		"2000-01-01T00:00Z",
		" 2000-01-01 00:00:00Z ",
	}
	for _, tc := range cases {
		got, err := Parse(tc)
		if err != nil {
			t.Fatalf("Parse(%q) err=%v", tc, err)
		}
		if !got.Equal(want) {
			t.Fatalf("Parse(%q)=%v, want %v", tc, got, want)
		}
	}
}

func TestParse_RejectsNonUTC(t *testing.T) {
	cases := []string{
		"2000-01-01T00:00:00+02:00",
		"2000-01-01T00:00:00",
		"2000-01-01",
		"yesterday",
	}
	for _, tc := range cases {
		if _, err := Parse(tc); !errors.Is(err, ErrNotUTC) {
			t.Fatalf("Parse(%q) err=%v, want ErrNotUTC", tc, err)
		}
	}
}

func TestString(t *testing.T) {
	in := time.Date(1990, 1, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	if got := String(in); got != "1990-01-01T11:30:00Z" {
		t.Fatalf("String()=%q, want 1990-01-01T11:30:00Z", got)
	}
}
