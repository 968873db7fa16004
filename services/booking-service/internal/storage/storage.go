// Package storage persists organizations, employees and appointments, and
// runs the series write path inside one transaction.
package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/outbox"
)

var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks failures a retry may get past (lock contention,
	// serialization failures, dropped connections).
	ErrTransient = errors.New("transient storage failure")
)

// Tx is the write side of one transaction. Nothing written through it is
// visible to other readers until the surrounding WithinTx returns nil.
type Tx interface {
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	InsertEvent(ctx context.Context, evt outbox.Event) error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || db.IsTransient(err)
}

// IsConflict reports a unique or exclusion constraint violation.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}
