package schedule

import (
	"fmt"
	"time"

	"github.com/quenby/chime/errors"
)

// TimeOfDay is a wall-clock time within a day, second resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var t TimeOfDay
	switch len(s) {
	case 5:
		if _, err := fmt.Sscanf(s, "%d:%d", &t.Hour, &t.Minute); err != nil {
			return TimeOfDay{}, errors.Wrapf(err, "parse time of day %q", s)
		}
	case 8:
		if _, err := fmt.Sscanf(s, "%d:%d:%d", &t.Hour, &t.Minute, &t.Second); err != nil {
			return TimeOfDay{}, errors.Wrapf(err, "parse time of day %q", s)
		}
	default:
		return TimeOfDay{}, errors.Newf("time of day %q: want HH:MM or HH:MM:SS", s)
	}
	if !t.Valid() {
		return TimeOfDay{}, errors.Newf("time of day %q out of range", s)
	}
	return t, nil
}

// Valid reports whether the components are in range.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour < 24 &&
		t.Minute >= 0 && t.Minute < 60 &&
		t.Second >= 0 && t.Second < 60
}

// Seconds returns the offset from midnight in seconds.
func (t TimeOfDay) Seconds() int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// OnDate places the time of day on the calendar date of day, in day's
// location. Naive local arithmetic: no DST adjustment.
func (t TimeOfDay) OnDate(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, day.Location())
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
