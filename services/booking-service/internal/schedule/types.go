// Package schedule resolves the effective working window of an organization or
// employee for one weekday from its weekly schedule or legacy business hours.
package schedule

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
)

// DefaultStepMinutes is the slot granularity when no level configures one.
const DefaultStepMinutes = 30

// BreakPeriod is a pause inside a working day. A nil Weekday applies to every
// day covered by the schedule that owns it.
type BreakPeriod struct {
	Start   clock.Time    `json:"start"`
	End     clock.Time    `json:"end"`
	Weekday *time.Weekday `json:"weekday,omitempty"`
}

func (b BreakPeriod) AppliesTo(wd time.Weekday) bool {
	return b.Weekday == nil || *b.Weekday == wd
}

// DaySchedule is one weekday of a WeeklySchedule. Start and End are only
// meaningful when Open is set.
type DaySchedule struct {
	Weekday time.Weekday  `json:"weekday"`
	Open    bool          `json:"is_open"`
	Start   clock.Time    `json:"start"`
	End     clock.Time    `json:"end"`
	Breaks  []BreakPeriod `json:"breaks,omitempty"`
}

// UnmarshalJSON accepts employee-style "is_available" as an alias of "is_open".
func (d *DaySchedule) UnmarshalJSON(b []byte) error {
	type plain DaySchedule
	var raw struct {
		plain
		Available *bool `json:"is_available"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*d = DaySchedule(raw.plain)
	if raw.Available != nil {
		d.Open = d.Open || *raw.Available
	}
	return nil
}

// WeeklySchedule lists per-weekday hours. It only applies when Enabled.
type WeeklySchedule struct {
	Enabled     bool          `json:"enabled"`
	StepMinutes int           `json:"step_minutes,omitempty"`
	Days        []DaySchedule `json:"days"`
}

func (w *WeeklySchedule) day(wd time.Weekday) (DaySchedule, bool) {
	for _, d := range w.Days {
		if d.Weekday == wd {
			return d, true
		}
	}
	return DaySchedule{}, false
}

// LegacyHours is the single-range configuration used before weekly schedules.
// A zero End means the range is not set.
type LegacyHours struct {
	Start        clock.Time     `json:"start"`
	End          clock.Time     `json:"end"`
	BusinessDays []time.Weekday `json:"business_days"`
	Breaks       []BreakPeriod  `json:"breaks,omitempty"`
}

func (l *LegacyHours) hasRange() bool {
	return l != nil && l.End > 0
}

func (l *LegacyHours) isBusinessDay(wd time.Weekday) bool {
	for _, d := range l.BusinessDays {
		if d == wd {
			return true
		}
	}
	return false
}

// Source is everything an aggregate stores about its hours.
type Source struct {
	Weekly *WeeklySchedule `json:"weekly_schedule,omitempty"`
	Legacy *LegacyHours    `json:"business_hours,omitempty"`
}

func (s Source) weeklyEnabled() bool {
	return s.Weekly != nil && s.Weekly.Enabled
}

// Effective is the resolved schedule of one entity on one weekday. Breaks are
// already filtered to that weekday and sorted by start.
type Effective struct {
	Open   bool
	Start  clock.Time
	End    clock.Time
	Breaks []BreakPeriod
}

// Closed is the zero Effective.
var Closed = Effective{}

// Contains reports whether [start,end) is inside the open window and clear of every break.
func (e Effective) Contains(start, end clock.Time) bool {
	if !e.Open || !clock.Contains(e.Start, e.End, start, end) {
		return false
	}
	for _, b := range e.Breaks {
		if clock.Overlaps(start, end, b.Start, b.End) {
			return false
		}
	}
	return true
}

func filterBreaks(in []BreakPeriod, wd time.Weekday) []BreakPeriod {
	out := make([]BreakPeriod, 0, len(in))
	for _, b := range in {
		if b.AppliesTo(wd) {
			out = append(out, b)
		}
	}
	SortBreaks(out)
	return out
}

// SortBreaks orders breaks by start then end, in place.
func SortBreaks(b []BreakPeriod) {
	sort.SliceStable(b, func(i, j int) bool {
		if b[i].Start != b[j].Start {
			return b[i].Start < b[j].Start
		}
		return b[i].End < b[j].End
	})
}
