// Package schedule computes when a recurring job should next run.
//
// NextRun is pure: given a schedule and the current instant it returns the
// next occurrence, or Never when the schedule cannot produce one. All
// calendar arithmetic is naive local time in the location of the input
// instant; DST transitions are not compensated for.
package schedule

import (
	"sort"
	"time"

	"github.com/quenby/chime/errors"
)

// Kind discriminates the schedule variants.
type Kind string

const (
	// KindInterval fires every fixed duration, optionally anchored at Start.
	KindInterval Kind = "interval"
	// KindDaily fires at fixed times of day, every day.
	KindDaily Kind = "daily"
	// KindWeekly fires at fixed (weekday, time-of-day) pairs.
	KindWeekly Kind = "weekly"
)

// Never is the sentinel instant meaning "no next occurrence": the maximum
// instant the schedule model represents, so it sorts after every real
// occurrence. Schedules that are malformed, exhausted, or past their End
// return it from NextRun. Callers compare with IsNever rather than against
// time.Time zero values.
var Never = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// IsNever reports whether t is the Never sentinel.
func IsNever(t time.Time) bool {
	return t.Equal(Never)
}

// WeeklyItem is one (weekday, time-of-day) slot of a weekly schedule.
type WeeklyItem struct {
	Day time.Weekday
	At  TimeOfDay
}

// Schedule describes when a job recurs. Exactly the fields for its Kind are
// meaningful: Every for interval, Times for daily, Items for weekly.
// Start and End bound the active window for every kind; either may be nil.
type Schedule struct {
	Kind  Kind
	Start *time.Time
	End   *time.Time

	Every time.Duration
	Times []TimeOfDay
	Items []WeeklyItem
}

// NextRun returns the first occurrence strictly after current, except for an
// interval schedule whose Start lies in the future, which returns Start
// itself. A schedule that cannot produce an occurrence returns Never.
func (s *Schedule) NextRun(current time.Time) time.Time {
	if s == nil {
		return Never
	}
	switch s.Kind {
	case KindInterval:
		return s.nextInterval(current)
	case KindDaily:
		return s.nextDaily(current)
	case KindWeekly:
		return s.nextWeekly(current)
	default:
		return Never
	}
}

func (s *Schedule) nextInterval(current time.Time) time.Time {
	if s.Every <= 0 {
		return Never
	}
	if s.ended(current) {
		return Never
	}
	if s.Start != nil {
		if current.Before(*s.Start) {
			return s.clampEnd(*s.Start)
		}
		elapsed := current.Sub(*s.Start)
		periods := elapsed/s.Every + 1
		return s.clampEnd(s.Start.Add(periods * s.Every))
	}
	return s.clampEnd(current.Add(s.Every))
}

func (s *Schedule) nextDaily(current time.Time) time.Time {
	if len(s.Times) == 0 {
		return Never
	}
	if s.ended(current) {
		return Never
	}

	times := make([]TimeOfDay, len(s.Times))
	copy(times, s.Times)
	sort.Slice(times, func(i, j int) bool { return times[i].Seconds() < times[j].Seconds() })

	if s.Start != nil && current.Before(*s.Start) {
		// First occurrence on or after Start: the earliest slot on Start's
		// date, rolling to the next date when that slot precedes Start.
		first := times[0].OnDate(*s.Start)
		if first.Before(*s.Start) {
			first = times[0].OnDate(s.Start.AddDate(0, 0, 1))
		}
		return s.clampEnd(first)
	}

	for _, tod := range times {
		cand := tod.OnDate(current)
		if cand.After(current) {
			return s.clampEnd(cand)
		}
	}
	// All of today's slots have passed; earliest slot tomorrow.
	return s.clampEnd(times[0].OnDate(current.AddDate(0, 0, 1)))
}

func (s *Schedule) nextWeekly(current time.Time) time.Time {
	if len(s.Items) == 0 {
		return Never
	}
	if s.ended(current) {
		return Never
	}

	base := current
	// With a future Start the first occurrence may fall exactly on Start.
	startBounded := s.Start != nil && current.Before(*s.Start)
	if startBounded {
		base = *s.Start
	}

	best := Never
	for _, item := range s.Items {
		days := (int(item.Day) - int(base.Weekday()) + 7) % 7
		cand := item.At.OnDate(base.AddDate(0, 0, days))
		if days == 0 {
			rolled := !cand.After(base)
			if startBounded {
				rolled = cand.Before(base)
			}
			if rolled {
				cand = cand.AddDate(0, 0, 7)
			}
		}
		if cand.Before(best) {
			best = cand
		}
	}
	return s.clampEnd(best)
}

// ended reports whether current has reached or passed End.
func (s *Schedule) ended(current time.Time) bool {
	return s.End != nil && !current.Before(*s.End)
}

// clampEnd turns candidates past End into Never.
func (s *Schedule) clampEnd(t time.Time) time.Time {
	if s.End != nil && t.After(*s.End) {
		return Never
	}
	return t
}

// Validate checks that the schedule is well formed for its kind. NextRun
// tolerates malformed schedules (returning Never); Validate exists so the
// API and CLI can reject them with a useful message instead.
func (s *Schedule) Validate() error {
	if s == nil {
		return errors.NewInvalidRequestError("schedule is required")
	}
	switch s.Kind {
	case KindInterval:
		if s.Every <= 0 {
			return errors.NewInvalidRequestError("interval schedule requires a positive period, got %s", s.Every)
		}
	case KindDaily:
		if len(s.Times) == 0 {
			return errors.NewInvalidRequestError("daily schedule requires at least one time of day")
		}
		for _, tod := range s.Times {
			if !tod.Valid() {
				return errors.NewInvalidRequestError("daily schedule time %s out of range", tod)
			}
		}
	case KindWeekly:
		if len(s.Items) == 0 {
			return errors.NewInvalidRequestError("weekly schedule requires at least one day/time slot")
		}
		for _, item := range s.Items {
			if item.Day < time.Sunday || item.Day > time.Saturday {
				return errors.NewInvalidRequestError("weekly schedule day %d out of range", item.Day)
			}
			if !item.At.Valid() {
				return errors.NewInvalidRequestError("weekly schedule time %s out of range", item.At)
			}
		}
	default:
		return errors.NewInvalidRequestError("unknown schedule kind %q", s.Kind)
	}
	if s.Start != nil && s.End != nil && s.End.Before(*s.Start) {
		return errors.NewInvalidRequestError("schedule end %s precedes start %s", s.End, s.Start)
	}
	return nil
}
