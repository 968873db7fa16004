package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

const (
	StatusAvailable = "available"
	StatusNoWork    = "no_work"
	StatusConflict  = "conflict"
	StatusError     = "error"
)

// ErrInvalidRequest marks a malformed series request.
var ErrInvalidRequest = errors.New("invalid series request")

// OccurrenceValidation is the verdict on one occurrence.
type OccurrenceValidation struct {
	Date   time.Time `json:"date"`
	Status string    `json:"status"`
	Reason string    `json:"reason,omitempty"`
}

// Store is the read side the validator needs.
type Store interface {
	GetOrganization(ctx context.Context, orgID string) (model.Organization, error)
	GetEmployee(ctx context.Context, orgID, employeeID string) (model.Employee, error)
	ListEmployeeAppointments(ctx context.Context, orgID, employeeID string, from, to time.Time) ([]model.Appointment, error)
}

type SeriesService struct {
	ServiceID       string `json:"service_id"`
	DurationMinutes int    `json:"duration_minutes"`
}

type Client struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type SeriesRequest struct {
	OrganizationID string
	EmployeeID     string
	// Services are booked back to back inside every occurrence.
	Services []SeriesService
	Start    time.Time
	Pattern  Pattern
	Client   Client
	// SkipConflicts and SkipNoWork drop those occurrences instead of
	// rejecting the whole series.
	SkipConflicts bool
	SkipNoWork    bool
}

// DurationMinutes is the length of one occurrence with every service chained.
func (r SeriesRequest) DurationMinutes() int {
	total := 0
	for _, s := range r.Services {
		total += s.DurationMinutes
	}
	return total
}

func (r SeriesRequest) validate() error {
	switch {
	case r.OrganizationID == "":
		return fmt.Errorf("%w: organization is required", ErrInvalidRequest)
	case r.EmployeeID == "":
		return fmt.Errorf("%w: employee is required", ErrInvalidRequest)
	case len(r.Services) == 0:
		return fmt.Errorf("%w: at least one service is required", ErrInvalidRequest)
	case r.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalidRequest)
	}
	for i, s := range r.Services {
		if s.ServiceID == "" || s.DurationMinutes <= 0 {
			return fmt.Errorf("%w: services[%d] needs an id and a positive duration", ErrInvalidRequest, i)
		}
	}
	return r.Pattern.Validate()
}

type Validator struct {
	Store    Store
	Defaults availability.Defaults
}

// Validate classifies one occurrence. Load failures are reported as StatusError
// in the result rather than returned.
func (v *Validator) Validate(ctx context.Context, start time.Time, durationMinutes int, employeeID, orgID string) OccurrenceValidation {
	if durationMinutes <= 0 {
		return OccurrenceValidation{Date: start, Status: StatusError, Reason: "duration must be positive"}
	}
	org, err := v.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return OccurrenceValidation{Date: start, Status: StatusError, Reason: "load organization: " + err.Error()}
	}
	emp, err := v.Store.GetEmployee(ctx, orgID, employeeID)
	if err != nil {
		return OccurrenceValidation{Date: start, Status: StatusError, Reason: "load employee: " + err.Error()}
	}
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	appts, err := v.Store.ListEmployeeAppointments(ctx, orgID, employeeID, start, end)
	if err != nil {
		return OccurrenceValidation{Date: start, Status: StatusError, Reason: "load appointments: " + err.Error()}
	}
	return classify(org, emp, nil, v.Defaults.Location(org.Timezone), start, durationMinutes, appts)
}

// Preview expands req and classifies every occurrence against a single
// prefetch of the data it needs. Nothing is written.
func (v *Validator) Preview(ctx context.Context, req SeriesRequest) ([]OccurrenceValidation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	org, err := v.Store.GetOrganization(ctx, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	emp, err := v.Store.GetEmployee(ctx, req.OrganizationID, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	loc := v.Defaults.Location(org.Timezone)
	occs, err := Expand(req.Start, req.Pattern, loc)
	if err != nil {
		return nil, err
	}
	if len(occs) == 0 {
		return []OccurrenceValidation{}, nil
	}

	duration := req.DurationMinutes()
	last := occs[len(occs)-1].Start.Add(time.Duration(duration) * time.Minute)
	appts, err := v.Store.ListEmployeeAppointments(ctx, req.OrganizationID, req.EmployeeID, occs[0].Start, last)
	if err != nil {
		return nil, err
	}

	out := make([]OccurrenceValidation, 0, len(occs))
	for _, o := range occs {
		out = append(out, classify(org, emp, req.Services, loc, o.Start, duration, appts))
	}
	return out, nil
}

// classify checks one occurrence. services, when given, must all be
// performable by emp.
func classify(org model.Organization, emp model.Employee, services []SeriesService, loc *time.Location, start time.Time, durationMinutes int, appts []model.Appointment) OccurrenceValidation {
	res := OccurrenceValidation{Date: start}
	local := start.In(loc)

	if !emp.Active {
		res.Status, res.Reason = StatusNoWork, "employee is inactive"
		return res
	}
	for _, s := range services {
		if svc, _ := org.Service(s.ServiceID); !emp.CanPerform(svc) {
			res.Status, res.Reason = StatusNoWork, fmt.Sprintf("employee does not perform %q", s.ServiceID)
			return res
		}
	}
	eff, err := schedule.ForEmployee(org.Schedule, emp.Schedule, local.Weekday())
	if err != nil {
		res.Status, res.Reason = StatusError, err.Error()
		return res
	}
	if !eff.Open {
		res.Status, res.Reason = StatusNoWork, "not working on "+local.Weekday().String()
		return res
	}

	from := clock.Of(local, loc)
	to := from.Add(durationMinutes)
	if !clock.Contains(eff.Start, eff.End, from, to) {
		res.Status = StatusNoWork
		res.Reason = fmt.Sprintf("%s-%s is outside working hours %s-%s", from, to, eff.Start, eff.End)
		return res
	}
	for _, b := range eff.Breaks {
		if clock.Overlaps(from, to, b.Start, b.End) {
			res.Status = StatusNoWork
			res.Reason = fmt.Sprintf("overlaps break %s-%s", b.Start, b.End)
			return res
		}
	}

	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	if n := availability.CountOverlapping(appts, emp.ID, start, end); n > 0 {
		res.Status = StatusConflict
		res.Reason = fmt.Sprintf("overlaps %d existing appointment(s)", n)
		return res
	}
	res.Status = StatusAvailable
	return res
}
