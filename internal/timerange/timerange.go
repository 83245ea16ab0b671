// Package timerange converts clinic time-of-day strings into minutes since
// midnight and does half-open interval arithmetic on them.
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay bounds every interval; an appointment may not spill into the next date.
const MinutesPerDay = 24 * 60

var (
	ErrInvalidTimeFormat = errors.New("invalid time format")
	ErrInvalidDuration   = errors.New("invalid duration")
)

// Interval is a half-open range [Start, End) in minutes since midnight.
type Interval struct {
	Start int
	End   int
}

// ToMinutes parses "HH:MM" (24h) or "H:MM AM|PM" (12h) into minutes since midnight.
func ToMinutes(timeOfDay string) (int, error) {
	s := strings.TrimSpace(timeOfDay)
	if s == "" {
		return 0, fmt.Errorf("%w: empty time", ErrInvalidTimeFormat)
	}

	clock, meridiem := s, ""
	if i := strings.LastIndexByte(s, ' '); i >= 0 {
		clock = strings.TrimSpace(s[:i])
		meridiem = strings.ToUpper(strings.TrimSpace(s[i+1:]))
		if meridiem != "AM" && meridiem != "PM" {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, timeOfDay)
		}
	}

	hourStr, minStr, ok := strings.Cut(clock, ":")
	if !ok || hourStr == "" || len(minStr) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, timeOfDay)
	}
	hour, err := parseDigits(hourStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, timeOfDay)
	}
	minute, err := parseDigits(minStr)
	if err != nil || minute > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, timeOfDay)
	}

	if meridiem == "" {
		if hour > 23 {
			return 0, fmt.Errorf("%w: hour out of range in %q", ErrInvalidTimeFormat, timeOfDay)
		}
		return hour*60 + minute, nil
	}

	if hour < 1 || hour > 12 {
		return 0, fmt.Errorf("%w: hour out of range in %q", ErrInvalidTimeFormat, timeOfDay)
	}
	// 12 AM is midnight, 12 PM is noon.
	hour %= 12
	if meridiem == "PM" {
		hour += 12
	}
	return hour*60 + minute, nil
}

// parseDigits accepts only ASCII digits, so "+9" or " 9" are rejected.
func parseDigits(s string) (int, error) {
	if len(s) > 2 {
		return 0, ErrInvalidTimeFormat
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, ErrInvalidTimeFormat
		}
	}
	return strconv.Atoi(s)
}

// NewInterval returns the occupied interval of an appointment starting at
// timeOfDay and lasting durationMinutes. The duration must lie in
// [1, MinutesPerDay].
func NewInterval(timeOfDay string, durationMinutes int) (Interval, error) {
	if durationMinutes <= 0 || durationMinutes > MinutesPerDay {
		return Interval{}, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, durationMinutes)
	}
	start, err := ToMinutes(timeOfDay)
	if err != nil {
		return Interval{}, err
	}
	return FromStart(start, durationMinutes), nil
}

func FromStart(start, durationMinutes int) Interval {
	return Interval{Start: start, End: start + durationMinutes}
}

// Overlaps reports whether two half-open intervals share at least one minute.
// Touching intervals ([10:00,10:30) and [10:30,11:00)) do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start < o.End && o.Start < i.End
}

func (i Interval) Duration() int {
	return i.End - i.Start
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return i.Start <= o.Start && o.End <= i.End
}

// FormatMinutes renders minutes since midnight as canonical 24h "HH:MM".
func FormatMinutes(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// Normalize parses a time-of-day in either accepted form and returns its
// canonical 24h representation.
func Normalize(timeOfDay string) (string, error) {
	m, err := ToMinutes(timeOfDay)
	if err != nil {
		return "", err
	}
	return FormatMinutes(m), nil
}

func (i Interval) String() string {
	return FormatMinutes(i.Start) + "-" + FormatMinutes(i.End)
}
