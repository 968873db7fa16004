// Package model holds the read models the engine works over: organizations,
// their services and employees, and appointments.
package model

import "github.com/slotwise/slotwise/services/booking-service/internal/schedule"

type Organization struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Timezone string          `json:"timezone"`
	Schedule schedule.Source `json:"schedule"`
	Services []Service       `json:"services"`
}

// Service returns the service with id, if the organization offers it.
func (o Organization) Service(id string) (Service, bool) {
	for _, s := range o.Services {
		if s.ID == id {
			return s, true
		}
	}
	return Service{}, false
}

type Service struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
	// MaxConcurrent is how many bookings may share one slot; zero means one.
	MaxConcurrent int      `json:"max_concurrent,omitempty"`
	EmployeeIDs   []string `json:"employee_ids,omitempty"`
}

func (s Service) Concurrency() int {
	if s.MaxConcurrent <= 0 {
		return 1
	}
	return s.MaxConcurrent
}

type Employee struct {
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	Name           string          `json:"name"`
	Active         bool            `json:"active"`
	Schedule       schedule.Source `json:"schedule"`
	ServiceIDs     []string        `json:"service_ids,omitempty"`
}

// CanPerform reports whether e may be booked for s. Membership may be recorded
// on either side.
func (e Employee) CanPerform(s Service) bool {
	if !e.Active {
		return false
	}
	for _, id := range s.EmployeeIDs {
		if id == e.ID {
			return true
		}
	}
	for _, id := range e.ServiceIDs {
		if id == s.ID {
			return true
		}
	}
	return false
}

// FindEmployee returns the employee with id from list.
func FindEmployee(list []Employee, id string) (Employee, bool) {
	for _, e := range list {
		if e.ID == id {
			return e, true
		}
	}
	return Employee{}, false
}

// EligibleFor filters employees to the active ones that can perform s,
// preserving input order.
func EligibleFor(s Service, employees []Employee) []Employee {
	var out []Employee
	for _, e := range employees {
		if e.CanPerform(s) {
			out = append(out, e)
		}
	}
	return out
}
