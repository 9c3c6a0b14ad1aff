package schedule

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/quenby/chime/errors"
)

// Wire form. Every is a Go duration string ("90m", "1h30m"); weekdays are
// lowercase English names.
type scheduleJSON struct {
	Kind  Kind             `json:"kind"`
	Start *time.Time       `json:"start,omitempty"`
	End   *time.Time       `json:"end,omitempty"`
	Every string           `json:"every,omitempty"`
	Times []TimeOfDay      `json:"times,omitempty"`
	Items []weeklyItemJSON `json:"items,omitempty"`
}

type weeklyItemJSON struct {
	Day string    `json:"day"`
	At  TimeOfDay `json:"at"`
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses a case-insensitive English weekday name.
func ParseWeekday(s string) (time.Weekday, error) {
	if day, ok := weekdayNames[strings.ToLower(s)]; ok {
		return day, nil
	}
	return 0, errors.Newf("unknown weekday %q", s)
}

// MarshalJSON implements json.Marshaler.
func (s Schedule) MarshalJSON() ([]byte, error) {
	wire := scheduleJSON{
		Kind:  s.Kind,
		Start: s.Start,
		End:   s.End,
		Times: s.Times,
	}
	if s.Kind == KindInterval {
		wire.Every = s.Every.String()
	}
	for _, item := range s.Items {
		wire.Items = append(wire.Items, weeklyItemJSON{
			Day: strings.ToLower(item.Day.String()),
			At:  item.At,
		})
	}
	return json.Marshal(wire)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Schedule) UnmarshalJSON(b []byte) error {
	var wire scheduleJSON
	if err := json.Unmarshal(b, &wire); err != nil {
		return errors.Wrap(err, "decode schedule")
	}
	out := Schedule{
		Kind:  wire.Kind,
		Start: wire.Start,
		End:   wire.End,
		Times: wire.Times,
	}
	if wire.Every != "" {
		every, err := time.ParseDuration(wire.Every)
		if err != nil {
			return errors.Wrapf(err, "schedule period %q", wire.Every)
		}
		out.Every = every
	}
	for _, item := range wire.Items {
		day, err := ParseWeekday(item.Day)
		if err != nil {
			return err
		}
		out.Items = append(out.Items, WeeklyItem{Day: day, At: item.At})
	}
	*s = out
	return nil
}
