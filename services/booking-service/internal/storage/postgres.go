package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/outbox"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

//go:embed schema.sql
var schemaSQL string

// cancelledStatuses is the SQL list of statuses that never block a slot.
const cancelledStatuses = `('` + model.StatusCancelled + `', '` + model.StatusCancelledByClient + `')`

const appointmentColumns = `
	id::text, organization_id, service_id, employee_id, client_name, client_email, client_phone,
	start_time, end_time, status, COALESCE(series_id::text, ''), COALESCE(occurrence_number, 0),
	COALESCE(cancellation_token, ''), cancelled_at, COALESCE(cancellation_reason, ''), created_at`

// Store is the Postgres implementation of the engine's reads and series writes.
type Store struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool, outbox: outbox.NewRepository()}
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (model.Organization, error) {
	var (
		org model.Organization
		raw []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, timezone, schedule
		FROM organizations
		WHERE id = $1
	`, orgID).Scan(&org.ID, &org.Name, &org.Timezone, &raw)
	if err != nil {
		return model.Organization{}, wrapNotFound(err, "organization", orgID)
	}
	if err := decodeSchedule(raw, &org.Schedule); err != nil {
		return model.Organization{}, fmt.Errorf("organization %s: %w", orgID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name, s.duration_minutes, s.max_concurrent,
			COALESCE(array_agg(se.employee_id ORDER BY se.employee_id) FILTER (WHERE se.employee_id IS NOT NULL), '{}')
		FROM services s
		LEFT JOIN service_employees se ON se.service_id = s.id
		WHERE s.organization_id = $1
		GROUP BY s.id
		ORDER BY s.name, s.id
	`, orgID)
	if err != nil {
		return model.Organization{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.MaxConcurrent, &svc.EmployeeIDs); err != nil {
			return model.Organization{}, err
		}
		org.Services = append(org.Services, svc)
	}
	if rows.Err() != nil {
		return model.Organization{}, rows.Err()
	}
	return org, nil
}

const employeeQuery = `
	SELECT e.id, e.organization_id, e.name, e.active, e.schedule,
		COALESCE(array_agg(se.service_id ORDER BY se.service_id) FILTER (WHERE se.service_id IS NOT NULL), '{}')
	FROM employees e
	LEFT JOIN service_employees se ON se.employee_id = e.id
	WHERE e.organization_id = $1`

func (s *Store) GetEmployee(ctx context.Context, orgID, employeeID string) (model.Employee, error) {
	emps, err := s.queryEmployees(ctx, employeeQuery+` AND e.id = $2 GROUP BY e.id`, orgID, employeeID)
	if err != nil {
		return model.Employee{}, err
	}
	if len(emps) == 0 {
		return model.Employee{}, fmt.Errorf("employee %s: %w", employeeID, ErrNotFound)
	}
	return emps[0], nil
}

// ListEmployees returns every employee of the organization in display order,
// which is also the tie-break order of automatic assignment.
func (s *Store) ListEmployees(ctx context.Context, orgID string) ([]model.Employee, error) {
	return s.queryEmployees(ctx, employeeQuery+` GROUP BY e.id ORDER BY e.position, e.id`, orgID)
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]model.Employee, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emps []model.Employee
	for rows.Next() {
		var (
			emp model.Employee
			raw []byte
		)
		if err := rows.Scan(&emp.ID, &emp.OrganizationID, &emp.Name, &emp.Active, &raw, &emp.ServiceIDs); err != nil {
			return nil, err
		}
		if err := decodeSchedule(raw, &emp.Schedule); err != nil {
			return nil, fmt.Errorf("employee %s: %w", emp.ID, err)
		}
		emps = append(emps, emp)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return emps, nil
}

// ListAppointments returns the organization's blocking appointments overlapping [from,to).
func (s *Store) ListAppointments(ctx context.Context, orgID string, from, to time.Time) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND status NOT IN `+cancelledStatuses+`
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, orgID, from, to)
}

func (s *Store) ListEmployeeAppointments(ctx context.Context, orgID, employeeID string, from, to time.Time) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND employee_id = $2
			AND status NOT IN `+cancelledStatuses+`
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, orgID, employeeID, from, to)
}

// CountSeries returns how many appointments carry seriesID.
func (s *Store) CountSeries(ctx context.Context, seriesID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM appointments WHERE series_id = $1`, seriesID).Scan(&n)
	return n, err
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var appt model.Appointment
		if err := rows.Scan(
			&appt.ID,
			&appt.OrganizationID,
			&appt.ServiceID,
			&appt.EmployeeID,
			&appt.ClientName,
			&appt.ClientEmail,
			&appt.ClientPhone,
			&appt.StartTime,
			&appt.EndTime,
			&appt.Status,
			&appt.SeriesID,
			&appt.OccurrenceNumber,
			&appt.CancellationToken,
			&appt.CancelledAt,
			&appt.CancelReason,
			&appt.CreatedAt,
		); err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

// WithinTx runs fn in one Postgres transaction. Any error rolls back every
// appointment and event written through the Tx.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.pool.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, outbox: s.outbox})
	})
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, organization_id, service_id, employee_id, client_name, client_email, client_phone,
			 start_time, end_time, status, series_id, occurrence_number, cancellation_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, '')::uuid, NULLIF($12, 0), NULLIF($13, ''))
	`, appt.ID, appt.OrganizationID, appt.ServiceID, appt.EmployeeID, appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.StartTime, appt.EndTime, appt.Status, appt.SeriesID, appt.OccurrenceNumber, appt.CancellationToken)
	return err
}

func (t *pgTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func decodeSchedule(raw []byte, dst *schedule.Source) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode schedule: %w", err)
	}
	return nil
}

func wrapNotFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return err
}
