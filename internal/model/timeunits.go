package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

var unitDurations = map[string]time.Duration{
	"microseconds": time.Microsecond,
	"milliseconds": time.Millisecond,
	"seconds":      time.Second,
	"second":       time.Second,
	"secs":         time.Second,
	"sec":          time.Second,
	"s":            time.Second,
	"minutes":      time.Minute,
	"minute":       time.Minute,
	"mins":         time.Minute,
	"min":          time.Minute,
	"hours":        time.Hour,
	"hour":         time.Hour,
	"hrs":          time.Hour,
	"hr":           time.Hour,
	"h":            time.Hour,
	"days":         24 * time.Hour,
	"day":          24 * time.Hour,
	"d":            24 * time.Hour,
}

var referenceLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05 Z07:00",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// TimeFromUnits converts a model time value to UTC using CF style units
// such as "days since 1970-01-01 00:00:00".
func TimeFromUnits(value float64, units string) (time.Time, error) {
	unit, ref, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return time.Time{}, fmt.Errorf("time units %q are not of the form '<unit> since <date>'", units)
	}
	step, ok := unitDurations[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}
	origin, err := parseReference(strings.TrimSpace(ref))
	if err != nil {
		return time.Time{}, fmt.Errorf("time units %q: %w", units, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return time.Time{}, fmt.Errorf("time value %v is not finite", value)
	}
	whole, frac := math.Modf(value)
	offset := time.Duration(whole)*step + time.Duration(math.Round(frac*float64(step)))
	return origin.Add(offset).UTC(), nil
}

func parseReference(s string) (time.Time, error) {
	s = strings.TrimSuffix(s, " UTC")
	s = strings.TrimSuffix(s, " utc")
	for _, layout := range referenceLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse reference date %q", s)
}
