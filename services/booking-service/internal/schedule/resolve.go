package schedule

import (
	"time"
)

// Resolve returns the effective schedule of src on wd. The first matching
// source wins: an enabled weekly schedule entry for wd (open or closed), then
// legacy hours when wd is a business day, then closed.
func Resolve(src Source, wd time.Weekday) (Effective, error) {
	eff, _, err := resolve(src, wd)
	return eff, err
}

// ResolveEmployee is Resolve for an employee. useOrg is true when the employee
// has nothing of its own for wd and the organization schedule is authoritative.
// Legacy hours without a range count as nothing; legacy hours with a range on
// a non-business day keep the employee closed.
func ResolveEmployee(src Source, wd time.Weekday) (eff Effective, useOrg bool, err error) {
	eff, matched, err := resolve(src, wd)
	if err != nil {
		return Closed, false, err
	}
	if !matched && !src.Legacy.hasRange() {
		return Closed, true, nil
	}
	return eff, false, nil
}

func resolve(src Source, wd time.Weekday) (Effective, bool, error) {
	if err := src.Validate(); err != nil {
		return Closed, false, err
	}

	if src.weeklyEnabled() {
		if d, ok := src.Weekly.day(wd); ok {
			if !d.Open {
				return Closed, true, nil
			}
			return Effective{
				Open:   true,
				Start:  d.Start,
				End:    d.End,
				Breaks: filterBreaks(d.Breaks, wd),
			}, true, nil
		}
	}

	if l := src.Legacy; l.hasRange() && l.isBusinessDay(wd) {
		return Effective{
			Open:   true,
			Start:  l.Start,
			End:    l.End,
			Breaks: filterBreaks(l.Breaks, wd),
		}, true, nil
	}
	return Closed, false, nil
}

// Intersect narrows org to the part emp also works and unions both break lists.
// An empty intersection is closed.
func Intersect(org, emp Effective) Effective {
	if !org.Open || !emp.Open {
		return Closed
	}
	start, end := max(org.Start, emp.Start), min(org.End, emp.End)
	if start >= end {
		return Closed
	}
	breaks := make([]BreakPeriod, 0, len(org.Breaks)+len(emp.Breaks))
	breaks = append(breaks, org.Breaks...)
	breaks = append(breaks, emp.Breaks...)
	SortBreaks(breaks)
	return Effective{Open: true, Start: start, End: end, Breaks: breaks}
}

// ForEmployee composes the organization and employee schedules for wd.
func ForEmployee(org, emp Source, wd time.Weekday) (Effective, error) {
	o, err := Resolve(org, wd)
	if err != nil {
		return Closed, err
	}
	if !o.Open {
		return Closed, nil
	}
	e, useOrg, err := ResolveEmployee(emp, wd)
	if err != nil {
		return Closed, err
	}
	if useOrg {
		return o, nil
	}
	return Intersect(o, e), nil
}

// StepMinutes returns the first positive step among the enabled weekly
// schedules of sources, then fallback, then DefaultStepMinutes.
func StepMinutes(fallback int, sources ...Source) int {
	for _, s := range sources {
		if s.weeklyEnabled() && s.Weekly.StepMinutes > 0 {
			return s.Weekly.StepMinutes
		}
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultStepMinutes
}
