package availability

import (
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2026-01-26 is a Monday.
const monday = "2026-01-26"

func mondayOrg(step int, breaks ...schedule.BreakPeriod) model.Organization {
	return model.Organization{
		ID:       "org-1",
		Timezone: "UTC",
		Schedule: schedule.Source{Weekly: &schedule.WeeklySchedule{
			Enabled:     true,
			StepMinutes: step,
			Days: []schedule.DaySchedule{{
				Weekday: time.Monday,
				Open:    true,
				Start:   clock.MustParse("09:00"),
				End:     clock.MustParse("17:00"),
				Breaks:  breaks,
			}},
		}},
	}
}

func lunch() schedule.BreakPeriod {
	return schedule.BreakPeriod{Start: clock.MustParse("12:00"), End: clock.MustParse("13:00")}
}

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

func longAgo() func() time.Time {
	return fixedNow(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
}

func at(hhmm string) time.Time {
	return clock.At(time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC), clock.MustParse(hhmm), time.UTC)
}

func times(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Time.String())
	}
	return out
}

func TestGenerate_SegmentsAroundBreak(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}

	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(30, lunch()), DurationMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"09:00", "09:30", "10:00", "10:30", "11:00",
		"13:00", "13:30", "14:00", "14:30", "15:00", "15:30", "16:00",
	}, times(slots))
	for _, s := range slots {
		assert.True(t, s.Available)
		assert.True(t, s.Start.Equal(at(s.Time.String())))
	}
}

func TestGenerate_StepRestartsAtSegmentStart(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	odd := schedule.BreakPeriod{Start: clock.MustParse("10:10"), End: clock.MustParse("10:25")}

	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(30, odd), DurationMinutes: 30})
	require.NoError(t, err)
	got := times(slots)
	assert.Equal(t, []string{"09:00", "09:30", "10:25", "10:55"}, got[:4])
}

func TestGenerate_MaxConcurrent(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	booked := []model.Appointment{
		{EmployeeID: "e1", StartTime: at("10:00"), EndTime: at("10:30"), Status: model.StatusBooked},
		{EmployeeID: "e2", StartTime: at("10:00"), EndTime: at("10:30"), Status: model.StatusConfirmed},
		{EmployeeID: "e3", StartTime: at("10:00"), EndTime: at("10:30"), Status: model.StatusCancelled},
	}

	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(30), DurationMinutes: 30, MaxConcurrent: 2, Appointments: booked})
	require.NoError(t, err)
	byTime := map[string]Slot{}
	for _, s := range slots {
		byTime[s.Time.String()] = s
	}
	assert.False(t, byTime["10:00"].Available, "two live bookings fill a slot that tolerates two")
	assert.True(t, byTime["10:30"].Available)
	assert.True(t, byTime["09:30"].Available)

	slots, err = g.Generate(Request{Date: monday, Org: mondayOrg(30), DurationMinutes: 30, MaxConcurrent: 3, Appointments: booked})
	require.NoError(t, err)
	for _, s := range slots {
		assert.True(t, s.Available, s.Time.String())
	}
}

func TestGenerate_EmployeeFilterAndIntersection(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	emp := &model.Employee{ID: "e1", Active: true, Schedule: schedule.Source{Weekly: &schedule.WeeklySchedule{
		Enabled: true,
		Days: []schedule.DaySchedule{{
			Weekday: time.Monday, Open: true,
			Start: clock.MustParse("14:00"), End: clock.MustParse("20:00"),
		}},
	}}}
	booked := []model.Appointment{
		{EmployeeID: "e1", StartTime: at("15:00"), EndTime: at("16:00"), Status: model.StatusBooked},
		{EmployeeID: "other", StartTime: at("14:00"), EndTime: at("15:00"), Status: model.StatusBooked},
	}

	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(60), Employee: emp, DurationMinutes: 60, Appointments: booked})
	require.NoError(t, err)
	require.Equal(t, []string{"14:00", "15:00", "16:00"}, times(slots))
	assert.True(t, slots[0].Available, "other employees' bookings do not count")
	assert.False(t, slots[1].Available)
	assert.True(t, slots[2].Available)
}

func TestGenerate_ClosedDay(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	slots, err := g.Generate(Request{Date: "2026-01-27", Org: mondayOrg(30), DurationMinutes: 30})
	require.NoError(t, err)
	assert.Empty(t, slots)

	// Organization open, employee closed.
	emp := &model.Employee{ID: "e1", Active: true, Schedule: schedule.Source{Weekly: &schedule.WeeklySchedule{
		Enabled: true, Days: []schedule.DaySchedule{{Weekday: time.Monday}},
	}}}
	slots, err = g.Generate(Request{Date: monday, Org: mondayOrg(30), Employee: emp, DurationMinutes: 30})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestGenerate_DurationLongerThanAnySegment(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(30, lunch()), DurationMinutes: 5 * 60})
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestGenerate_TodayDropsPassedAvailableOnly(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: fixedNow(at("10:10"))}
	booked := []model.Appointment{
		{EmployeeID: "e1", StartTime: at("09:30"), EndTime: at("10:00"), Status: model.StatusBooked},
	}

	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(30), DurationMinutes: 30, Appointments: booked})
	require.NoError(t, err)
	got := times(slots)
	assert.Equal(t, []string{"09:30", "10:30", "11:00"}, got[:3])
	assert.False(t, slots[0].Available, "a passed but booked slot stays visible as unavailable")
}

func TestGenerate_Deterministic(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	req := Request{Date: monday, Org: mondayOrg(15, lunch()), DurationMinutes: 45}
	a, err := g.Generate(req)
	require.NoError(t, err)
	b, err := g.Generate(req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_LongerDurationNeverAddsSlots(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	org := mondayOrg(15, lunch(), schedule.BreakPeriod{Start: clock.MustParse("15:10"), End: clock.MustParse("15:20")})
	prev := map[string]bool{}
	for i, d := range []int{15, 30, 45, 60, 90, 120, 180} {
		slots, err := g.Generate(Request{Date: monday, Org: org, DurationMinutes: d})
		require.NoError(t, err)
		cur := map[string]bool{}
		for _, s := range slots {
			cur[s.Time.String()] = true
			if i > 0 {
				assert.True(t, prev[s.Time.String()], "duration %d added %s", d, s.Time)
			}
		}
		prev = cur
	}
}

func TestGenerate_NoSlotOverlapsBreak(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	breaks := []schedule.BreakPeriod{
		lunch(),
		{Start: clock.MustParse("10:05"), End: clock.MustParse("10:20")},
		{Start: clock.MustParse("16:45"), End: clock.MustParse("18:00")},
	}
	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(20, breaks...), DurationMinutes: 25})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	for _, s := range slots {
		end := s.Time.Add(25)
		for _, b := range breaks {
			assert.False(t, clock.Overlaps(s.Time, end, b.Start, b.End), "%s overlaps break %s", s.Time, b.Start)
		}
		assert.LessOrEqual(t, end, clock.MustParse("17:00"))
	}
}

func TestGenerate_DefaultStep(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	slots, err := g.Generate(Request{Date: monday, Org: mondayOrg(0), DurationMinutes: 60})
	require.NoError(t, err)
	assert.Equal(t, "09:30", slots[1].Time.String())
}

func TestGenerate_OrganizationTimezone(t *testing.T) {
	g := &Generator{Defaults: Defaults{Timezone: "UTC"}, Now: longAgo()}
	org := mondayOrg(60)
	org.Timezone = "America/New_York"
	slots, err := g.Generate(Request{Date: monday, Org: org, DurationMinutes: 60})
	require.NoError(t, err)
	require.NotEmpty(t, slots)
	assert.Equal(t, time.Date(2026, 1, 26, 14, 0, 0, 0, time.UTC), slots[0].Start.UTC())
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	g := NewGenerator(Defaults{Timezone: "UTC"})
	cases := map[string]Request{
		"zero duration":  {Date: monday, Org: mondayOrg(30)},
		"negative max":   {Date: monday, Org: mondayOrg(30), DurationMinutes: 30, MaxConcurrent: -1},
		"malformed date": {Date: "26/01/2026", Org: mondayOrg(30), DurationMinutes: 30},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := g.Generate(req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}

	bad := mondayOrg(30)
	bad.Schedule.Weekly.Days[0].End = clock.MustParse("08:00")
	_, err := g.Generate(Request{Date: monday, Org: bad, DurationMinutes: 30})
	assert.ErrorIs(t, err, schedule.ErrInvalidSchedule)
}
