// Package availability produces bookable start times for one day, one service
// duration and optionally one employee.
package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

// ErrInvalidRequest marks a Request that Generate cannot answer.
var ErrInvalidRequest = errors.New("invalid availability request")

// Defaults are used when neither the employee nor the organization configures a value.
type Defaults struct {
	StepMinutes int
	Timezone    string
}

func (d Defaults) Location(name string) *time.Location {
	return clock.LoadLocation(name, d.Timezone)
}

type Slot struct {
	Time      clock.Time `json:"time"`
	Start     time.Time  `json:"datetime"`
	Available bool       `json:"available"`
}

type Request struct {
	Date            string
	Org             model.Organization
	Employee        *model.Employee
	DurationMinutes int
	// MaxConcurrent is the number of overlapping bookings a slot tolerates. Zero means one.
	MaxConcurrent int
	// Appointments are the day's existing bookings. When Employee is set only
	// that employee's are counted.
	Appointments []model.Appointment
}

type Generator struct {
	Defaults Defaults
	Now      func() time.Time
}

func NewGenerator(d Defaults) *Generator {
	return &Generator{Defaults: d, Now: time.Now}
}

func (g *Generator) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Generate returns the candidate slots of req.Date in order. A closed day or a
// duration that fits no segment yields an empty list, not an error.
func (g *Generator) Generate(req Request) ([]Slot, error) {
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidRequest, req.DurationMinutes)
	}
	if req.MaxConcurrent < 0 {
		return nil, fmt.Errorf("%w: max concurrent must be at least 1, got %d", ErrInvalidRequest, req.MaxConcurrent)
	}
	maxConcurrent := max(req.MaxConcurrent, 1)

	loc := g.Defaults.Location(req.Org.Timezone)
	day, err := clock.ParseDate(req.Date, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	eff, err := Window(req.Org, req.Employee, day.Weekday())
	if err != nil {
		return nil, err
	}
	if !eff.Open {
		return []Slot{}, nil
	}

	step := g.step(req.Org, req.Employee)
	employeeID := ""
	if req.Employee != nil {
		employeeID = req.Employee.ID
	}
	now := g.now()

	slots := []Slot{}
	for _, seg := range Segments(eff.Start, eff.End, eff.Breaks) {
		for t := seg.Start; t.Add(req.DurationMinutes) <= seg.End; t = t.Add(step) {
			start := clock.At(day, t, loc)
			end := clock.At(day, t.Add(req.DurationMinutes), loc)
			available := CountOverlapping(req.Appointments, employeeID, start, end) < maxConcurrent
			if available && Passed(start, now, loc) {
				continue
			}
			slots = append(slots, Slot{Time: t, Start: start, Available: available})
		}
	}
	return slots, nil
}

func (g *Generator) step(org model.Organization, emp *model.Employee) int {
	if emp != nil {
		return schedule.StepMinutes(g.Defaults.StepMinutes, emp.Schedule, org.Schedule)
	}
	return schedule.StepMinutes(g.Defaults.StepMinutes, org.Schedule)
}

// Window resolves the effective schedule of org, narrowed to emp when given.
func Window(org model.Organization, emp *model.Employee, wd time.Weekday) (schedule.Effective, error) {
	if emp == nil {
		return schedule.Resolve(org.Schedule, wd)
	}
	return schedule.ForEmployee(org.Schedule, emp.Schedule, wd)
}

// CountOverlapping counts blocking appointments overlapping [start,end).
// An empty employeeID counts every employee's.
func CountOverlapping(appts []model.Appointment, employeeID string, start, end time.Time) int {
	n := 0
	for _, a := range appts {
		if !a.Blocking() {
			continue
		}
		if employeeID != "" && a.EmployeeID != employeeID {
			continue
		}
		if clock.OverlapsInstants(start, end, a.StartTime, a.EndTime) {
			n++
		}
	}
	return n
}

// Passed reports whether start is earlier today than now, in loc. Starts on
// other days are never considered passed.
func Passed(start, now time.Time, loc *time.Location) bool {
	return clock.SameDay(start, now, loc) && start.Before(now)
}
