// Package assignment picks which employee performs an auto-assigned service step.
package assignment

import (
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

// Context is the interval being filled and everything a strategy may consult.
type Context struct {
	Org      model.Organization
	Day      time.Time
	Location *time.Location
	Start    clock.Time
	End      clock.Time
	// Appointments are the day's existing bookings across all employees.
	Appointments []model.Appointment
}

func (c Context) instants() (time.Time, time.Time) {
	return clock.At(c.Day, c.Start, c.Location), clock.At(c.Day, c.End, c.Location)
}

type Strategy interface {
	PickBest(candidates []model.Employee, c Context) (model.Employee, bool)
}

// Free reports whether e works all of [c.Start,c.End) clear of breaks and has
// no blocking appointment overlapping it. A misconfigured employee schedule
// makes the employee unavailable.
func Free(e model.Employee, c Context) bool {
	eff, err := schedule.ForEmployee(c.Org.Schedule, e.Schedule, c.Day.Weekday())
	if err != nil || !eff.Contains(c.Start, c.End) {
		return false
	}
	start, end := c.instants()
	return availability.CountOverlapping(c.Appointments, e.ID, start, end) == 0
}

// LeastLoaded picks the free candidate with the fewest appointments already
// booked that day. Ties go to the earlier candidate. The choice is greedy per
// step; a chain of steps is not optimized as a whole.
type LeastLoaded struct{}

func (LeastLoaded) PickBest(candidates []model.Employee, c Context) (model.Employee, bool) {
	var (
		best     model.Employee
		bestLoad = -1
	)
	for _, e := range candidates {
		if !Free(e, c) {
			continue
		}
		load := DayLoad(c.Appointments, e.ID, c.Day, c.Location)
		if bestLoad < 0 || load < bestLoad {
			best, bestLoad = e, load
		}
	}
	return best, bestLoad >= 0
}

// DayLoad counts employeeID's blocking appointments starting on day in loc.
func DayLoad(appts []model.Appointment, employeeID string, day time.Time, loc *time.Location) int {
	n := 0
	for _, a := range appts {
		if a.EmployeeID == employeeID && a.Blocking() && clock.SameDay(a.StartTime, day, loc) {
			n++
		}
	}
	return n
}
