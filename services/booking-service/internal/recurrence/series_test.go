package recurrence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage"
	"github.com/slotwise/slotwise/services/booking-service/internal/storage/sqlitestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-03-02 is a Monday.
var firstMonday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func openDB(t *testing.T) *sqlitestore.Store {
	t.Helper()
	ctx := context.Background()
	s, err := sqlitestore.Open(ctx, filepath.Join(t.TempDir(), "series.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	day := func(wd time.Weekday, open bool) schedule.DaySchedule {
		return schedule.DaySchedule{Weekday: wd, Open: open, Start: clock.MustParse("09:00"), End: clock.MustParse("17:00"),
			Breaks: []schedule.BreakPeriod{{Start: clock.MustParse("12:00"), End: clock.MustParse("13:00")}}}
	}
	require.NoError(t, s.PutOrganization(ctx, model.Organization{
		ID: "org", Name: "Clinic", Timezone: "UTC",
		Schedule: schedule.Source{Weekly: &schedule.WeeklySchedule{Enabled: true, Days: []schedule.DaySchedule{
			day(time.Monday, true), day(time.Tuesday, false), day(time.Wednesday, true),
		}}},
		Services: []model.Service{{ID: "consult", Name: "Consult", DurationMinutes: 30}, {ID: "notes", Name: "Notes", DurationMinutes: 15}},
	}))
	require.NoError(t, s.PutEmployee(ctx, model.Employee{ID: "doc", OrganizationID: "org", Name: "Doc", Active: true, ServiceIDs: []string{"consult", "notes"}}, 0))
	return s
}

func request(p Pattern) SeriesRequest {
	return SeriesRequest{
		OrganizationID: "org",
		EmployeeID:     "doc",
		Services:       []SeriesService{{ServiceID: "consult", DurationMinutes: 30}, {ServiceID: "notes", DurationMinutes: 15}},
		Start:          firstMonday,
		Pattern:        p,
		Client:         Client{Name: "Pat", Email: "pat@example.com"},
	}
}

func weekly(count int, days ...time.Weekday) Pattern {
	return Pattern{IntervalWeeks: 1, Weekdays: days, EndType: EndByCount, Count: count}
}

func creator(s *sqlitestore.Store, tx TxRunner) *Creator {
	if tx == nil {
		tx = s
	}
	return &Creator{
		Validator: &Validator{Store: s, Defaults: availability.Defaults{Timezone: "UTC"}},
		Tx:        tx,
		BackOff:   func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) },
	}
}

func TestCreate_BooksEveryOccurrenceAndService(t *testing.T) {
	s := openDB(t)
	ctx := context.Background()

	res, err := creator(s, nil).Create(ctx, request(weekly(4, time.Monday, time.Wednesday)))
	require.NoError(t, err)
	require.NotEmpty(t, res.SeriesID)
	require.Len(t, res.Created, 8)
	assert.Empty(t, res.Skipped)

	stored, err := s.ListSeries(ctx, res.SeriesID)
	require.NoError(t, err)
	require.Len(t, stored, 8)
	token := stored[0].CancellationToken
	require.NotEmpty(t, token)
	for i := 0; i < len(stored); i += 2 {
		consult, notes := stored[i], stored[i+1]
		assert.Equal(t, i/2+1, consult.OccurrenceNumber)
		assert.Equal(t, consult.OccurrenceNumber, notes.OccurrenceNumber)
		assert.Equal(t, "consult", consult.ServiceID)
		assert.Equal(t, "notes", notes.ServiceID)
		assert.True(t, consult.EndTime.Equal(notes.StartTime), "services are chained")
		assert.Equal(t, 15*time.Minute, notes.EndTime.Sub(notes.StartTime))
		assert.Equal(t, token, consult.CancellationToken)
		assert.Equal(t, token, notes.CancellationToken)
		assert.Equal(t, res.SeriesID, consult.SeriesID)
	}
	assert.True(t, stored[2].StartTime.Equal(firstMonday.AddDate(0, 0, 2)), "second occurrence is Wednesday")

	events, err := s.CountEvents(ctx, SeriesCreatedEvent)
	require.NoError(t, err)
	assert.Equal(t, 1, events)
}

func TestCreate_ConflictsRejectOrSkip(t *testing.T) {
	s := openDB(t)
	ctx := context.Background()
	clash := firstMonday.AddDate(0, 0, 7).Add(30 * time.Minute)
	require.NoError(t, s.PutAppointment(ctx, model.Appointment{
		ID: "existing", OrganizationID: "org", ServiceID: "consult", EmployeeID: "doc",
		StartTime: clash, EndTime: clash.Add(30 * time.Minute), Status: model.StatusBooked,
	}))

	req := request(weekly(3, time.Monday))
	res, err := creator(s, nil).Create(ctx, req)
	require.ErrorIs(t, err, ErrSeriesRejected)
	assert.Empty(t, res.Created)
	require.Len(t, res.Attempted, 3)
	assert.Equal(t, StatusConflict, res.Attempted[1].Status)
	n, err := s.CountAppointments(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	req.SkipConflicts = true
	res, err = creator(s, nil).Create(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Skipped, 1)
	assert.True(t, res.Skipped[0].Date.Equal(firstMonday.AddDate(0, 0, 7)))
	require.Len(t, res.Created, 4)
	assert.Equal(t, 2, res.Created[3].OccurrenceNumber, "numbering counts created occurrences only")
	assert.True(t, res.Created[2].StartTime.Equal(firstMonday.AddDate(0, 0, 14)))
}

func TestCreate_NoWorkRejectOrSkip(t *testing.T) {
	s := openDB(t)
	ctx := context.Background()
	req := request(weekly(4, time.Monday, time.Tuesday))

	_, err := creator(s, nil).Create(ctx, req)
	require.ErrorIs(t, err, ErrSeriesRejected)

	req.SkipNoWork = true
	res, err := creator(s, nil).Create(ctx, req)
	require.NoError(t, err)
	assert.Len(t, res.Created, 4)
	require.Len(t, res.Skipped, 2)
	for _, sk := range res.Skipped {
		assert.Equal(t, StatusNoWork, sk.Status)
		assert.Equal(t, time.Tuesday, sk.Date.Weekday())
	}
}

func TestCreate_AllSkippedIsRejected(t *testing.T) {
	s := openDB(t)
	req := request(weekly(2, time.Tuesday))
	req.SkipNoWork = true
	res, err := creator(s, nil).Create(context.Background(), req)
	require.ErrorIs(t, err, ErrSeriesRejected)
	assert.Len(t, res.Skipped, 2)
}

// failingRunner wraps a real store and fails the failAt-th appointment insert
// of the first failAttempts transactions.
type failingRunner struct {
	inner        TxRunner
	failAt       int
	failAttempts int
	err          error
	attempts     int
}

func (f *failingRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	f.attempts++
	return f.inner.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if f.attempts > f.failAttempts {
			return fn(ctx, tx)
		}
		return fn(ctx, &failingTx{Tx: tx, failAt: f.failAt, err: f.err})
	})
}

type failingTx struct {
	storage.Tx
	n      int
	failAt int
	err    error
}

func (t *failingTx) InsertAppointment(ctx context.Context, appt model.Appointment) error {
	t.n++
	if t.n == t.failAt {
		return t.err
	}
	return t.Tx.InsertAppointment(ctx, appt)
}

func TestCreate_FailureOnLastInsertLeavesNothing(t *testing.T) {
	s := openDB(t)
	ctx := context.Background()
	before, err := s.CountAppointments(ctx, "org")
	require.NoError(t, err)

	disk := errors.New("disk full")
	runner := &failingRunner{inner: s, failAt: 6, failAttempts: 100, err: disk}
	res, err := creator(s, runner).Create(ctx, request(weekly(3, time.Monday)))
	require.ErrorIs(t, err, disk)
	assert.Equal(t, 1, runner.attempts, "deterministic failures are not retried")
	assert.Empty(t, res.SeriesID)
	assert.Empty(t, res.Created)
	assert.Len(t, res.Attempted, 3)

	after, err := s.CountAppointments(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	events, err := s.CountEvents(ctx, SeriesCreatedEvent)
	require.NoError(t, err)
	assert.Zero(t, events)
}

func TestCreate_RetriesTransientFailures(t *testing.T) {
	s := openDB(t)
	ctx := context.Background()
	busy := fmt.Errorf("%w: database is locked", storage.ErrTransient)

	runner := &failingRunner{inner: s, failAt: 1, failAttempts: 1, err: busy}
	res, err := creator(s, runner).Create(ctx, request(weekly(2, time.Monday)))
	require.NoError(t, err)
	assert.Equal(t, 2, runner.attempts)
	n, err := s.CountAppointments(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, len(res.Created), n)

	runner = &failingRunner{inner: s, failAt: 1, failAttempts: 100, err: busy}
	c := creator(s, runner)
	c.MaxTries = 2
	_, err = c.Create(ctx, request(weekly(1, time.Wednesday)))
	require.ErrorIs(t, err, storage.ErrTransient)
	assert.Equal(t, 2, runner.attempts)
}

func TestCreate_InvalidRequest(t *testing.T) {
	s := openDB(t)
	req := request(weekly(2, time.Monday))
	req.Services = nil
	_, err := creator(s, nil).Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = request(Pattern{IntervalWeeks: 1, EndType: EndByCount, Count: 2})
	_, err = creator(s, nil).Create(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidPattern)

	req = request(weekly(2, time.Monday))
	req.EmployeeID = "ghost"
	_, err = creator(s, nil).Create(context.Background(), req)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
