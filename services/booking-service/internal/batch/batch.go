// Package batch answers availability for many dates at once from a single
// prefetch of the organization, its employees and the appointments in range.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/blocks"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxDays = 60
	DefaultWorkers = 8
)

var (
	// ErrRangeTooLarge means the queried dates span more than MaxDays.
	ErrRangeTooLarge = errors.New("date range too large")
	// ErrInvalidQuery marks an unknown service or employee or a bad date.
	ErrInvalidQuery = errors.New("invalid availability query")
)

type Store interface {
	GetOrganization(ctx context.Context, orgID string) (model.Organization, error)
	ListEmployees(ctx context.Context, orgID string) ([]model.Employee, error)
	ListAppointments(ctx context.Context, orgID string, from, to time.Time) ([]model.Appointment, error)
}

// ServiceRef names a catalog service and optionally the employee to perform it.
type ServiceRef struct {
	ServiceID  string `json:"service_id" validate:"required"`
	EmployeeID string `json:"employee_id,omitempty"`
}

type Query struct {
	Date     string       `json:"date"`
	Services []ServiceRef `json:"services"`
	// Blocks answers with blocks even for a single service.
	Blocks bool `json:"blocks,omitempty"`
}

type Result struct {
	Date   string              `json:"date"`
	Slots  []availability.Slot `json:"slots,omitempty"`
	Blocks []blocks.Block      `json:"blocks,omitempty"`
}

// Available reports whether the result has anything bookable.
func (r Result) Available() bool {
	for _, s := range r.Slots {
		if s.Available {
			return true
		}
	}
	return len(r.Blocks) > 0
}

type Checker struct {
	Store   Store
	Slots   *availability.Generator
	Blocks  *blocks.Finder
	Logger  *slog.Logger
	MaxDays int
	Workers int
}

func NewChecker(store Store, defaults availability.Defaults, logger *slog.Logger) *Checker {
	return &Checker{
		Store:   store,
		Slots:   availability.NewGenerator(defaults),
		Blocks:  blocks.NewFinder(defaults),
		Logger:  logger,
		MaxDays: DefaultMaxDays,
		Workers: DefaultWorkers,
	}
}

// Run answers every query. A single service is answered with slots unless
// Blocks is set, a chain of services with blocks. Results keep query order.
func (c *Checker) Run(ctx context.Context, orgID string, queries []Query) ([]Result, error) {
	ctx, span := otel.Tracer("booking-service/batch").Start(ctx, "batch.run")
	defer span.End()
	span.SetAttributes(attribute.String("organization.id", orgID), attribute.Int("batch.queries", len(queries)))

	if len(queries) == 0 {
		return []Result{}, nil
	}
	org, err := c.Store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	loc := c.Slots.Defaults.Location(org.Timezone)

	days := make([]time.Time, len(queries))
	for i, q := range queries {
		if len(q.Services) == 0 {
			return nil, fmt.Errorf("%w: queries[%d]: no services", ErrInvalidQuery, i)
		}
		if days[i], err = clock.ParseDate(q.Date, loc); err != nil {
			return nil, fmt.Errorf("%w: queries[%d]: %v", ErrInvalidQuery, i, err)
		}
	}
	first, last := days[0], days[0]
	for _, d := range days[1:] {
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	if n := daysBetween(first, last) + 1; n > c.maxDays() {
		return nil, fmt.Errorf("%w: %d days, at most %d", ErrRangeTooLarge, n, c.maxDays())
	}

	from, _ := clock.DayBounds(first, loc)
	_, to := clock.DayBounds(last, loc)
	employees, err := c.Store.ListEmployees(ctx, orgID)
	if err != nil {
		return nil, err
	}
	appts, err := c.Store.ListAppointments(ctx, orgID, from, to)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers())
	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start, end := clock.DayBounds(days[i], loc)
			res, err := c.answer(q, org, employees, onDay(appts, start, end))
			if err != nil {
				return fmt.Errorf("%s: %w", q.Date, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.logger().Debug("batch availability computed",
		"organization_id", orgID,
		"queries", len(queries),
		"appointments", len(appts),
		"employees", len(employees),
	)
	return results, nil
}

// Calendar reports, for each date in [from,to], whether services can be booked
// that day.
func (c *Checker) Calendar(ctx context.Context, orgID, from, to string, services []ServiceRef) (map[string]bool, error) {
	start, err := clock.ParseDate(from, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidQuery, err)
	}
	end, err := clock.ParseDate(to, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidQuery, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: to is before from", ErrInvalidQuery)
	}
	if n := daysBetween(start, end) + 1; n > c.maxDays() {
		return nil, fmt.Errorf("%w: %d days, at most %d", ErrRangeTooLarge, n, c.maxDays())
	}

	var queries []Query
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		queries = append(queries, Query{Date: clock.FormatDate(d), Services: services})
	}
	results, err := c.Run(ctx, orgID, queries)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(results))
	for _, r := range results {
		out[r.Date] = r.Available()
	}
	return out, nil
}

func (c *Checker) answer(q Query, org model.Organization, employees []model.Employee, appts []model.Appointment) (Result, error) {
	res := Result{Date: q.Date}
	steps := make([]blocks.ServiceRequest, 0, len(q.Services))
	for _, ref := range q.Services {
		svc, ok := org.Service(ref.ServiceID)
		if !ok {
			return Result{}, fmt.Errorf("%w: unknown service %q", ErrInvalidQuery, ref.ServiceID)
		}
		steps = append(steps, blocks.ServiceRequest{
			ServiceID:        svc.ID,
			DurationMinutes:  svc.DurationMinutes,
			PinnedEmployeeID: ref.EmployeeID,
			MaxConcurrent:    svc.Concurrency(),
		})
	}

	if len(steps) > 1 || q.Blocks {
		found, err := c.Blocks.Find(blocks.Request{
			Date:         q.Date,
			Org:          org,
			Services:     steps,
			Candidates:   employees,
			Appointments: appts,
		})
		res.Blocks = found
		return res, err
	}

	step := steps[0]
	req := availability.Request{
		Date:            q.Date,
		Org:             org,
		DurationMinutes: step.DurationMinutes,
		MaxConcurrent:   step.MaxConcurrent,
		Appointments:    forService(appts, step.ServiceID),
	}
	if step.PinnedEmployeeID != "" {
		emp, ok := model.FindEmployee(employees, step.PinnedEmployeeID)
		if !ok {
			return Result{}, fmt.Errorf("%w: unknown employee %q", ErrInvalidQuery, step.PinnedEmployeeID)
		}
		if svc, _ := org.Service(step.ServiceID); !emp.CanPerform(svc) {
			res.Slots = []availability.Slot{}
			return res, nil
		}
		req.Employee = &emp
		req.Appointments = appts
	}
	slots, err := c.Slots.Generate(req)
	res.Slots = slots
	return res, err
}

// onDay returns the appointments overlapping [start,end).
func onDay(appts []model.Appointment, start, end time.Time) []model.Appointment {
	var out []model.Appointment
	for _, a := range appts {
		if clock.OverlapsInstants(start, end, a.StartTime, a.EndTime) {
			out = append(out, a)
		}
	}
	return out
}

// forService keeps the bookings of serviceID. Without a pinned employee a
// service's capacity is shared by its own bookings only.
func forService(appts []model.Appointment, serviceID string) []model.Appointment {
	var out []model.Appointment
	for _, a := range appts {
		if a.ServiceID == serviceID {
			out = append(out, a)
		}
	}
	return out
}

func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func (c *Checker) maxDays() int {
	if c.MaxDays <= 0 {
		return DefaultMaxDays
	}
	return c.MaxDays
}

func (c *Checker) workers() int {
	if c.Workers <= 0 {
		return DefaultWorkers
	}
	return c.Workers
}

func (c *Checker) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
