// Package recurrence expands weekly recurrence patterns into concrete
// occurrences, classifies each one, and creates appointment series.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/teambition/rrule-go"
)

const (
	EndByDate  = "date"
	EndByCount = "count"

	MaxIntervalWeeks = 52
	MaxCount         = 100
	// maxWeekSteps bounds how many week steps an expansion may walk.
	maxWeekSteps = 500
)

// ErrInvalidPattern wraps every Pattern.Validate failure.
var ErrInvalidPattern = errors.New("invalid recurrence pattern")

// Pattern is a weekly recurrence ending by date or by count.
type Pattern struct {
	IntervalWeeks int            `json:"interval_weeks"`
	Weekdays      []time.Weekday `json:"weekdays"`
	EndType       string         `json:"end_type"`
	// EndDate is the last civil date, "2006-01-02". Any time part is ignored.
	EndDate string `json:"end_date,omitempty"`
	Count   int    `json:"count,omitempty"`
}

func (p Pattern) Validate() error {
	if p.IntervalWeeks < 1 || p.IntervalWeeks > MaxIntervalWeeks {
		return fmt.Errorf("%w: interval_weeks must be within 1..%d, got %d", ErrInvalidPattern, MaxIntervalWeeks, p.IntervalWeeks)
	}
	if len(p.Weekdays) == 0 {
		return fmt.Errorf("%w: weekdays must not be empty", ErrInvalidPattern)
	}
	for _, wd := range p.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return fmt.Errorf("%w: weekday out of range: %d", ErrInvalidPattern, wd)
		}
	}
	switch p.EndType {
	case EndByCount:
		if p.Count < 1 || p.Count > MaxCount {
			return fmt.Errorf("%w: count must be within 1..%d, got %d", ErrInvalidPattern, MaxCount, p.Count)
		}
	case EndByDate:
		if _, err := p.endDay(time.UTC); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: end_type must be %q or %q, got %q", ErrInvalidPattern, EndByDate, EndByCount, p.EndType)
	}
	return nil
}

func (p Pattern) endDay(loc *time.Location) (time.Time, error) {
	raw := strings.TrimSpace(p.EndDate)
	if len(raw) > len("2006-01-02") {
		raw = raw[:len("2006-01-02")]
	}
	day, err := clock.ParseDate(raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: end_date: %v", ErrInvalidPattern, err)
	}
	return day, nil
}

type Occurrence struct {
	Start   time.Time    `json:"start"`
	Weekday time.Weekday `json:"weekday"`
}

var rruleDays = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// Expand lists the occurrences of p from baseStart on, in order. Weeks start on
// Sunday and the first week is the one containing baseStart; every occurrence
// keeps baseStart's wall-clock time in loc. Date-bounded patterns include the
// whole of EndDate in loc.
func Expand(baseStart time.Time, p Pattern, loc *time.Location) ([]Occurrence, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	base := baseStart.In(loc).Truncate(time.Second)

	byDay := make([]rrule.Weekday, 0, len(p.Weekdays))
	for _, wd := range p.Weekdays {
		byDay = append(byDay, rruleDays[wd])
	}
	opts := rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   base,
		Interval:  p.IntervalWeeks,
		Wkst:      rrule.SU,
		Byweekday: byDay,
	}
	if p.EndType == EndByCount {
		opts.Count = p.Count
	} else {
		endDay, err := p.endDay(loc)
		if err != nil {
			return nil, err
		}
		_, next := clock.DayBounds(endDay, loc)
		opts.Until = next.Add(-time.Second)
	}

	rule, err := rrule.NewRRule(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	horizon := base.AddDate(0, 0, 7*p.IntervalWeeks*maxWeekSteps)
	dates := rule.Between(base, horizon, true)

	out := make([]Occurrence, 0, len(dates))
	for _, d := range dates {
		d = d.In(loc)
		out = append(out, Occurrence{Start: d, Weekday: d.Weekday()})
	}
	return out, nil
}
