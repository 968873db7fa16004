// Package blocks chains several services back to back within one day and
// returns every start time at which the whole chain can be booked.
package blocks

import (
	"errors"
	"fmt"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/assignment"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

// ErrInvalidRequest marks a Request that Find cannot answer.
var ErrInvalidRequest = errors.New("invalid block request")

type ServiceRequest struct {
	ServiceID       string `json:"service_id"`
	DurationMinutes int    `json:"duration_minutes"`
	// PinnedEmployeeID fixes the employee for this step. Empty means auto-assign.
	PinnedEmployeeID string `json:"employee_id,omitempty"`
	MaxConcurrent    int    `json:"max_concurrent,omitempty"`
}

type Interval struct {
	ServiceID  string    `json:"service_id"`
	EmployeeID string    `json:"employee_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
}

type Block struct {
	Start     time.Time  `json:"start"`
	End       time.Time  `json:"end"`
	Intervals []Interval `json:"intervals"`
}

type Request struct {
	Date     string
	Org      model.Organization
	Services []ServiceRequest
	// Candidates are the organization's employees. Pinned ids are looked up
	// here and auto-assigned steps choose among the eligible ones.
	Candidates   []model.Employee
	Appointments []model.Appointment
}

type Finder struct {
	Defaults availability.Defaults
	Strategy assignment.Strategy
	Now      func() time.Time
}

func NewFinder(d availability.Defaults) *Finder {
	return &Finder{Defaults: d, Strategy: assignment.LeastLoaded{}, Now: time.Now}
}

// step is one service of the chain with its candidate employees resolved.
type step struct {
	req      ServiceRequest
	pinned   *model.Employee
	window   schedule.Effective
	eligible []model.Employee
}

func (f *Finder) Find(req Request) ([]Block, error) {
	if len(req.Services) == 0 {
		return nil, fmt.Errorf("%w: no services", ErrInvalidRequest)
	}
	loc := f.Defaults.Location(req.Org.Timezone)
	day, err := clock.ParseDate(req.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	wd := day.Weekday()

	window, err := schedule.Resolve(req.Org.Schedule, wd)
	if err != nil {
		return nil, err
	}
	steps := make([]step, 0, len(req.Services))
	total := 0
	// A pinned employee who is inactive or not eligible empties the result.
	unbookable := false
	for i, s := range req.Services {
		if s.DurationMinutes <= 0 {
			return nil, fmt.Errorf("%w: services[%d]: duration must be positive", ErrInvalidRequest, i)
		}
		if s.MaxConcurrent < 0 {
			return nil, fmt.Errorf("%w: services[%d]: max concurrent must be at least 1", ErrInvalidRequest, i)
		}
		total += s.DurationMinutes

		st := step{req: s}
		svc, ok := req.Org.Service(s.ServiceID)
		if !ok {
			svc = model.Service{ID: s.ServiceID}
		}
		if s.PinnedEmployeeID == "" {
			st.eligible = model.EligibleFor(svc, req.Candidates)
			steps = append(steps, st)
			continue
		}

		emp, ok := model.FindEmployee(req.Candidates, s.PinnedEmployeeID)
		if !ok {
			return nil, fmt.Errorf("%w: services[%d]: unknown employee %q", ErrInvalidRequest, i, s.PinnedEmployeeID)
		}
		if !emp.CanPerform(svc) {
			unbookable = true
		}
		st.pinned = &emp
		if st.window, err = schedule.ForEmployee(req.Org.Schedule, emp.Schedule, wd); err != nil {
			return nil, err
		}
		own, useOrg, err := schedule.ResolveEmployee(emp.Schedule, wd)
		if err != nil {
			return nil, err
		}
		if !useOrg {
			window = schedule.Intersect(window, own)
		}
		steps = append(steps, st)
	}
	if unbookable || !window.Open {
		return []Block{}, nil
	}

	strategy := f.Strategy
	if strategy == nil {
		strategy = assignment.LeastLoaded{}
	}
	stepMinutes := schedule.StepMinutes(f.Defaults.StepMinutes, req.Org.Schedule)
	now := f.now()

	out := []Block{}
	for _, seg := range availability.Segments(window.Start, window.End, window.Breaks) {
		for t := seg.Start; t.Add(total) <= seg.End; t = t.Add(stepMinutes) {
			start := clock.At(day, t, loc)
			if availability.Passed(start, now, loc) {
				continue
			}
			if b, ok := f.chain(steps, t, day, loc, req, strategy); ok {
				out = append(out, b)
			}
		}
	}
	return out, nil
}

// chain walks the steps from t. Any failing step rejects the whole block.
func (f *Finder) chain(steps []step, t clock.Time, day time.Time, loc *time.Location, req Request, strategy assignment.Strategy) (Block, bool) {
	intervals := make([]Interval, 0, len(steps))
	cursor := t
	for _, st := range steps {
		end := cursor.Add(st.req.DurationMinutes)
		startAt, endAt := clock.At(day, cursor, loc), clock.At(day, end, loc)

		var employeeID string
		if st.pinned != nil {
			if !st.window.Contains(cursor, end) {
				return Block{}, false
			}
			if availability.CountOverlapping(req.Appointments, st.pinned.ID, startAt, endAt) >= max(st.req.MaxConcurrent, 1) {
				return Block{}, false
			}
			employeeID = st.pinned.ID
		} else {
			emp, ok := strategy.PickBest(st.eligible, assignment.Context{
				Org:          req.Org,
				Day:          day,
				Location:     loc,
				Start:        cursor,
				End:          end,
				Appointments: req.Appointments,
			})
			if !ok {
				return Block{}, false
			}
			employeeID = emp.ID
		}

		intervals = append(intervals, Interval{
			ServiceID:  st.req.ServiceID,
			EmployeeID: employeeID,
			Start:      startAt,
			End:        endAt,
		})
		cursor = end
	}
	return Block{
		Start:     intervals[0].Start,
		End:       intervals[len(intervals)-1].End,
		Intervals: intervals,
	}, true
}

func (f *Finder) now() time.Time {
	if f.Now == nil {
		return time.Now()
	}
	return f.Now()
}
