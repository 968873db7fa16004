// Package sqlitestore is the storage surface on an embedded SQLite database,
// for local scenario runs and tests.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	otelx "github.com/slotwise/slotwise/libs/otel"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/outbox"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// PutOrganization upserts org with its services and their employee links.
func (s *Store) PutOrganization(ctx context.Context, org model.Organization) error {
	raw, err := json.Marshal(org.Schedule)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO organizations (id, name, timezone, schedule) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, timezone = excluded.timezone, schedule = excluded.schedule
		`, org.ID, org.Name, org.Timezone, string(raw)); err != nil {
			return err
		}
		for _, svc := range org.Services {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO services (id, organization_id, name, duration_minutes, max_concurrent) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET name = excluded.name, duration_minutes = excluded.duration_minutes,
					max_concurrent = excluded.max_concurrent
			`, svc.ID, org.ID, svc.Name, svc.DurationMinutes, svc.Concurrency()); err != nil {
				return err
			}
			for _, empID := range svc.EmployeeIDs {
				if err := linkService(ctx, tx, svc.ID, empID); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// PutEmployee upserts emp. position fixes its place in ListEmployees.
func (s *Store) PutEmployee(ctx context.Context, emp model.Employee, position int) error {
	raw, err := json.Marshal(emp.Schedule)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, organization_id, name, active, schedule, position) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, active = excluded.active,
				schedule = excluded.schedule, position = excluded.position
		`, emp.ID, emp.OrganizationID, emp.Name, emp.Active, string(raw), position); err != nil {
			return err
		}
		for _, svcID := range emp.ServiceIDs {
			if err := linkService(ctx, tx, svcID, emp.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutAppointment stores a single appointment outside any series.
func (s *Store) PutAppointment(ctx context.Context, appt model.Appointment) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAppointment(ctx, tx, appt)
	})
}

func linkService(ctx context.Context, tx *sql.Tx, serviceID, employeeID string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO service_employees (service_id, employee_id) VALUES (?, ?)`, serviceID, employeeID)
	return err
}

func (s *Store) GetOrganization(ctx context.Context, orgID string) (model.Organization, error) {
	var (
		org model.Organization
		raw string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, name, timezone, schedule FROM organizations WHERE id = ?`, orgID).
		Scan(&org.ID, &org.Name, &org.Timezone, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Organization{}, fmt.Errorf("organization %s: %w", orgID, storage.ErrNotFound)
	}
	if err != nil {
		return model.Organization{}, classify(err)
	}
	if err := decodeSchedule(raw, &org.Schedule); err != nil {
		return model.Organization{}, fmt.Errorf("organization %s: %w", orgID, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, duration_minutes, max_concurrent FROM services
		WHERE organization_id = ? ORDER BY name, id
	`, orgID)
	if err != nil {
		return model.Organization{}, classify(err)
	}
	defer rows.Close()
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.DurationMinutes, &svc.MaxConcurrent); err != nil {
			return model.Organization{}, err
		}
		org.Services = append(org.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return model.Organization{}, err
	}
	for i := range org.Services {
		ids, err := s.links(ctx, `SELECT employee_id FROM service_employees WHERE service_id = ? ORDER BY employee_id`, org.Services[i].ID)
		if err != nil {
			return model.Organization{}, err
		}
		org.Services[i].EmployeeIDs = ids
	}
	return org, nil
}

func (s *Store) GetEmployee(ctx context.Context, orgID, employeeID string) (model.Employee, error) {
	emps, err := s.queryEmployees(ctx, `
		SELECT id, organization_id, name, active, schedule FROM employees
		WHERE organization_id = ? AND id = ?
	`, orgID, employeeID)
	if err != nil {
		return model.Employee{}, err
	}
	if len(emps) == 0 {
		return model.Employee{}, fmt.Errorf("employee %s: %w", employeeID, storage.ErrNotFound)
	}
	return emps[0], nil
}

func (s *Store) ListEmployees(ctx context.Context, orgID string) ([]model.Employee, error) {
	return s.queryEmployees(ctx, `
		SELECT id, organization_id, name, active, schedule FROM employees
		WHERE organization_id = ? ORDER BY position, id
	`, orgID)
}

func (s *Store) queryEmployees(ctx context.Context, query string, args ...any) ([]model.Employee, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	var emps []model.Employee
	for rows.Next() {
		var (
			emp model.Employee
			raw string
		)
		if err := rows.Scan(&emp.ID, &emp.OrganizationID, &emp.Name, &emp.Active, &raw); err != nil {
			rows.Close()
			return nil, err
		}
		if err := decodeSchedule(raw, &emp.Schedule); err != nil {
			rows.Close()
			return nil, fmt.Errorf("employee %s: %w", emp.ID, err)
		}
		emps = append(emps, emp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Links are read after the cursor is closed; the pool holds a single connection.
	for i := range emps {
		ids, err := s.links(ctx, `SELECT service_id FROM service_employees WHERE employee_id = ? ORDER BY service_id`, emps[i].ID)
		if err != nil {
			return nil, err
		}
		emps[i].ServiceIDs = ids
	}
	return emps, nil
}

func (s *Store) links(ctx context.Context, query, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

const appointmentColumns = `id, organization_id, service_id, employee_id, client_name, client_email, client_phone,
	start_unix, end_unix, status, series_id, occurrence_number, cancellation_token, created_unix`

func (s *Store) ListAppointments(ctx context.Context, orgID string, from, to time.Time) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE organization_id = ? AND status NOT IN (?, ?) AND start_unix < ? AND end_unix > ?
		ORDER BY start_unix
	`, orgID, model.StatusCancelled, model.StatusCancelledByClient, to.Unix(), from.Unix())
}

func (s *Store) ListEmployeeAppointments(ctx context.Context, orgID, employeeID string, from, to time.Time) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE organization_id = ? AND employee_id = ? AND status NOT IN (?, ?) AND start_unix < ? AND end_unix > ?
		ORDER BY start_unix
	`, orgID, employeeID, model.StatusCancelled, model.StatusCancelledByClient, to.Unix(), from.Unix())
}

// ListSeries returns every appointment of seriesID ordered by occurrence.
func (s *Store) ListSeries(ctx context.Context, seriesID string) ([]model.Appointment, error) {
	return s.queryAppointments(ctx, `
		SELECT `+appointmentColumns+` FROM appointments
		WHERE series_id = ? ORDER BY occurrence_number, start_unix
	`, seriesID)
}

func (s *Store) CountAppointments(ctx context.Context, orgID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM appointments WHERE organization_id = ?`, orgID).Scan(&n)
	return n, classify(err)
}

func (s *Store) CountEvents(ctx context.Context, eventType string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM outbox_events WHERE event_type = ?`, eventType).Scan(&n)
	return n, classify(err)
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]model.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var (
			appt                   model.Appointment
			start, end, createdUTC int64
		)
		if err := rows.Scan(
			&appt.ID,
			&appt.OrganizationID,
			&appt.ServiceID,
			&appt.EmployeeID,
			&appt.ClientName,
			&appt.ClientEmail,
			&appt.ClientPhone,
			&start,
			&end,
			&appt.Status,
			&appt.SeriesID,
			&appt.OccurrenceNumber,
			&appt.CancellationToken,
			&createdUTC,
		); err != nil {
			return nil, err
		}
		appt.StartTime = time.Unix(start, 0).UTC()
		appt.EndTime = time.Unix(end, 0).UTC()
		appt.CreatedAt = time.Unix(createdUTC, 0).UTC()
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// WithinTx runs fn in one SQLite transaction; any error rolls every write back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &sqliteTx{tx: tx})
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return classify(err)
	}
	return classify(tx.Commit())
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	return insertAppointment(ctx, t.tx, appt)
}

func (t *sqliteTx) InsertEvent(ctx context.Context, evt outbox.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_unix)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, string(evt.Payload), traceparent, tracestate, time.Now().Unix())
	return err
}

func insertAppointment(ctx context.Context, tx *sql.Tx, appt model.Appointment) error {
	created := appt.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, appt.ID, appt.OrganizationID, appt.ServiceID, appt.EmployeeID, appt.ClientName, appt.ClientEmail, appt.ClientPhone,
		appt.StartTime.Unix(), appt.EndTime.Unix(), appt.Status, appt.SeriesID, appt.OccurrenceNumber, appt.CancellationToken,
		created.Unix())
	return err
}

func decodeSchedule(raw string, dst *schedule.Source) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode schedule: %w", err)
	}
	return nil
}

// classify marks lock contention as storage.ErrTransient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %w", storage.ErrTransient, err)
		}
	}
	return err
}
