package recurrence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/outbox"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SeriesCreatedEvent is the outbox event type written with every new series.
const SeriesCreatedEvent = outbox.TopicSeriesCreated

// ErrSeriesRejected means an occurrence blocked the series and nothing was written.
var ErrSeriesRejected = errors.New("series rejected")

// TxRunner runs fn in one transaction: every write through tx commits or none does.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error
}

// SeriesResult reports what Create booked and what it skipped.
type SeriesResult struct {
	SeriesID string                 `json:"series_id,omitempty"`
	Created  []model.Appointment    `json:"created,omitempty"`
	Skipped  []OccurrenceValidation `json:"skipped,omitempty"`
	// Attempted is every classified occurrence. It is only set when nothing
	// was created.
	Attempted []OccurrenceValidation `json:"attempted,omitempty"`
}

// Creator books whole series atomically.
type Creator struct {
	Validator *Validator
	Tx        TxRunner
	Logger    *slog.Logger
	// MaxTries bounds attempts of the write transaction. Zero means three.
	MaxTries uint
	// BackOff builds the retry schedule for one Create call. Nil means exponential.
	BackOff func() backoff.BackOff
	// Transient decides which write errors are retried. Nil means storage.IsTransient.
	Transient func(error) bool
}

// Create classifies every occurrence of req and books the bookable ones in a
// single transaction. A conflict or no-work occurrence rejects the series
// unless its skip flag is set; an error occurrence always does. On failure
// nothing is written and the result carries every attempted occurrence.
func (c *Creator) Create(ctx context.Context, req SeriesRequest) (SeriesResult, error) {
	ctx, span := otel.Tracer("booking-service/recurrence").Start(ctx, "recurrence.create_series")
	defer span.End()
	span.SetAttributes(
		attribute.String("organization.id", req.OrganizationID),
		attribute.String("employee.id", req.EmployeeID),
	)

	validations, err := c.Validator.Preview(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "preview failed")
		return SeriesResult{}, err
	}

	var bookable, skipped, blocking []OccurrenceValidation
	for _, v := range validations {
		switch {
		case v.Status == StatusAvailable:
			bookable = append(bookable, v)
		case v.Status == StatusConflict && req.SkipConflicts, v.Status == StatusNoWork && req.SkipNoWork:
			skipped = append(skipped, v)
		default:
			blocking = append(blocking, v)
		}
	}
	span.SetAttributes(
		attribute.Int("series.occurrences", len(validations)),
		attribute.Int("series.bookable", len(bookable)),
	)
	if len(blocking) > 0 {
		first := blocking[0]
		err := fmt.Errorf("%w: %d occurrence(s) cannot be booked, first %s on %s: %s",
			ErrSeriesRejected, len(blocking), first.Status, first.Date.Format(time.RFC3339), first.Reason)
		span.SetStatus(codes.Error, "rejected")
		return SeriesResult{Skipped: skipped, Attempted: validations}, err
	}
	if len(bookable) == 0 {
		span.SetStatus(codes.Error, "rejected")
		return SeriesResult{Skipped: skipped, Attempted: validations}, fmt.Errorf("%w: no bookable occurrences", ErrSeriesRejected)
	}

	seriesID := uuid.NewString()
	appts := buildAppointments(req, seriesID, uuid.NewString(), bookable)
	evt, err := seriesEvent(req, seriesID, appts, len(bookable), len(skipped))
	if err != nil {
		return SeriesResult{}, err
	}

	if err := c.write(ctx, appts, evt); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		c.logger().Error("series creation failed",
			"err", err,
			"organization_id", req.OrganizationID,
			"employee_id", req.EmployeeID,
			"occurrences", len(bookable),
		)
		return SeriesResult{Skipped: skipped, Attempted: validations}, err
	}

	span.SetAttributes(attribute.String("series.id", seriesID))
	c.logger().Info("series created",
		"series_id", seriesID,
		"organization_id", req.OrganizationID,
		"appointments", len(appts),
		"skipped", len(skipped),
	)
	return SeriesResult{SeriesID: seriesID, Created: appts, Skipped: skipped}, nil
}

func (c *Creator) write(ctx context.Context, appts []model.Appointment, evt outbox.Event) error {
	transient := c.Transient
	if transient == nil {
		transient = storage.IsTransient
	}
	maxTries := c.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}
	var b backoff.BackOff = backoff.NewExponentialBackOff()
	if c.BackOff != nil {
		b = c.BackOff()
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := c.Tx.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			for i, a := range appts {
				if err := tx.InsertAppointment(ctx, a); err != nil {
					return fmt.Errorf("insert appointment %d of %d: %w", i+1, len(appts), err)
				}
			}
			return tx.InsertEvent(ctx, evt)
		})
		if err == nil {
			return struct{}{}, nil
		}
		if !transient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		c.logger().Warn("series write failed, retrying", "err", err, "attempt", attempt)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(maxTries))
	return err
}

// buildAppointments numbers occurrences 1..N in order and chains the services
// of each occurrence back to back.
func buildAppointments(req SeriesRequest, seriesID, token string, occs []OccurrenceValidation) []model.Appointment {
	appts := make([]model.Appointment, 0, len(occs)*len(req.Services))
	for i, occ := range occs {
		cursor := occ.Date
		for _, svc := range req.Services {
			end := cursor.Add(time.Duration(svc.DurationMinutes) * time.Minute)
			appts = append(appts, model.Appointment{
				ID:                uuid.NewString(),
				OrganizationID:    req.OrganizationID,
				ServiceID:         svc.ServiceID,
				EmployeeID:        req.EmployeeID,
				ClientName:        req.Client.Name,
				ClientEmail:       req.Client.Email,
				ClientPhone:       req.Client.Phone,
				StartTime:         cursor,
				EndTime:           end,
				Status:            model.StatusBooked,
				SeriesID:          seriesID,
				OccurrenceNumber:  i + 1,
				CancellationToken: token,
			})
			cursor = end
		}
	}
	return appts
}

func seriesEvent(req SeriesRequest, seriesID string, appts []model.Appointment, occurrences, skipped int) (outbox.Event, error) {
	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	return outbox.NewSeriesCreated(outbox.SeriesCreated{
		SeriesID:       seriesID,
		OrganizationID: req.OrganizationID,
		EmployeeID:     req.EmployeeID,
		ClientName:     req.Client.Name,
		ClientEmail:    req.Client.Email,
		ClientPhone:    req.Client.Phone,
		Occurrences:    occurrences,
		Skipped:        skipped,
		AppointmentIDs: ids,
		FirstStart:     appts[0].StartTime,
		LastEnd:        appts[len(appts)-1].EndTime,
	})
}

func (c *Creator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
