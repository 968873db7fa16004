package schedule

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSchedule is matched by every *ConfigError.
var ErrInvalidSchedule = errors.New("invalid schedule")

// ConfigError points at the offending field of a malformed schedule.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidSchedule, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidSchedule }

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate rejects schedules the resolver cannot interpret. It never repairs input.
func (s Source) Validate() error {
	if s.weeklyEnabled() {
		if err := s.Weekly.validate(); err != nil {
			return err
		}
	}
	if s.Legacy != nil {
		if err := s.Legacy.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (w *WeeklySchedule) validate() error {
	if w.StepMinutes < 0 {
		return invalid("weekly_schedule.step_minutes", "must not be negative")
	}
	seen := map[time.Weekday]bool{}
	for i, d := range w.Days {
		field := fmt.Sprintf("weekly_schedule.days[%d]", i)
		if !validWeekday(d.Weekday) {
			return invalid(field+".weekday", "out of range: %d", d.Weekday)
		}
		if seen[d.Weekday] {
			return invalid(field+".weekday", "duplicate %s", d.Weekday)
		}
		seen[d.Weekday] = true
		if !d.Open {
			continue
		}
		if !d.Start.Valid() || !d.End.Valid() || d.Start >= d.End {
			return invalid(field, "start %s must be before end %s", d.Start, d.End)
		}
		if err := validateBreaks(field+".breaks", d.Breaks); err != nil {
			return err
		}
	}
	return nil
}

func (l *LegacyHours) validate() error {
	for i, d := range l.BusinessDays {
		if !validWeekday(d) {
			return invalid(fmt.Sprintf("business_hours.business_days[%d]", i), "out of range: %d", d)
		}
	}
	if l.hasRange() && (!l.Start.Valid() || !l.End.Valid() || l.Start >= l.End) {
		return invalid("business_hours", "start %s must be before end %s", l.Start, l.End)
	}
	return validateBreaks("business_hours.breaks", l.Breaks)
}

func validateBreaks(field string, breaks []BreakPeriod) error {
	for i, b := range breaks {
		f := fmt.Sprintf("%s[%d]", field, i)
		if !b.Start.Valid() || !b.End.Valid() || b.Start >= b.End {
			return invalid(f, "start %s must be before end %s", b.Start, b.End)
		}
		if b.Weekday != nil && !validWeekday(*b.Weekday) {
			return invalid(f+".weekday", "out of range: %d", *b.Weekday)
		}
	}
	return nil
}

func validWeekday(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday
}
