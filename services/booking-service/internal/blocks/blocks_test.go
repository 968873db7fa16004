package blocks

import (
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/booking-service/internal/assignment"
	"github.com/slotwise/slotwise/services/booking-service/internal/availability"
	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/model"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const monday = "2026-01-26"

var day = time.Date(2026, 1, 26, 0, 0, 0, 0, time.UTC)

func at(hhmm string) time.Time { return clock.At(day, clock.MustParse(hhmm), time.UTC) }

func salon() model.Organization {
	return model.Organization{
		ID:       "salon",
		Timezone: "UTC",
		Schedule: schedule.Source{Weekly: &schedule.WeeklySchedule{
			Enabled:     true,
			StepMinutes: 30,
			Days: []schedule.DaySchedule{{
				Weekday: time.Monday, Open: true,
				Start:  clock.MustParse("09:00"),
				End:    clock.MustParse("13:00"),
				Breaks: []schedule.BreakPeriod{{Start: clock.MustParse("11:00"), End: clock.MustParse("11:30")}},
			}},
		}},
		Services: []model.Service{
			{ID: "cut", DurationMinutes: 30, EmployeeIDs: []string{"ana", "bo"}},
			{ID: "color", DurationMinutes: 60, EmployeeIDs: []string{"bo"}},
		},
	}
}

func staff() []model.Employee {
	return []model.Employee{
		{ID: "ana", Active: true, ServiceIDs: []string{"class"}},
		{ID: "bo", Active: true},
		{ID: "cy", Active: true, ServiceIDs: []string{"color"}, Schedule: schedule.Source{Weekly: &schedule.WeeklySchedule{
			Enabled: true,
			Days: []schedule.DaySchedule{{
				Weekday: time.Monday, Open: true,
				Start: clock.MustParse("10:00"), End: clock.MustParse("13:00"),
			}},
		}}},
	}
}

func finder() *Finder {
	f := NewFinder(availability.Defaults{Timezone: "UTC"})
	f.Now = func() time.Time { return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func starts(blocks []Block) []string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, b.Start.Format("15:04"))
	}
	return out
}

func TestFind_ChainsContiguousIntervals(t *testing.T) {
	blocks, err := finder().Find(Request{
		Date: monday, Org: salon(), Candidates: staff(),
		Services: []ServiceRequest{
			{ServiceID: "cut", DurationMinutes: 30},
			{ServiceID: "color", DurationMinutes: 60},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00", "09:30", "11:30"}, starts(blocks))

	for _, b := range blocks {
		require.Len(t, b.Intervals, 2)
		assert.True(t, b.Intervals[0].End.Equal(b.Intervals[1].Start), "no gap between steps")
		assert.True(t, b.Start.Equal(b.Intervals[0].Start))
		assert.True(t, b.End.Equal(b.Intervals[1].End))
		assert.Equal(t, 90*time.Minute, b.End.Sub(b.Start))
	}
	first := blocks[0]
	assert.Equal(t, "ana", first.Intervals[0].EmployeeID)
	assert.Equal(t, "bo", first.Intervals[1].EmployeeID, "only bo and cy do color, cy starts at 10:00")
	assert.Equal(t, "bo", blocks[1].Intervals[1].EmployeeID, "bo and cy tie on load; bo comes first")
}

func TestFind_BalancesLoad(t *testing.T) {
	appts := []model.Appointment{
		{EmployeeID: "bo", StartTime: at("12:00"), EndTime: at("12:30"), Status: model.StatusBooked},
	}
	blocks, err := finder().Find(Request{
		Date: monday, Org: salon(), Candidates: staff(), Appointments: appts,
		Services: []ServiceRequest{
			{ServiceID: "cut", DurationMinutes: 30},
			{ServiceID: "color", DurationMinutes: 60},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"09:00", "09:30", "11:30"}, starts(blocks))
	assert.Equal(t, "bo", blocks[0].Intervals[1].EmployeeID, "cy is not working at 09:30")
	assert.Equal(t, "cy", blocks[1].Intervals[1].EmployeeID, "bo already has a booking today")
	assert.Equal(t, "cy", blocks[2].Intervals[1].EmployeeID, "bo is busy at 12:00")
}

func TestFind_PinnedEmployeeNarrowsWindow(t *testing.T) {
	blocks, err := finder().Find(Request{
		Date: monday, Org: salon(), Candidates: staff(),
		Services: []ServiceRequest{{ServiceID: "color", DurationMinutes: 60, PinnedEmployeeID: "cy"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"10:00", "11:30", "12:00"}, starts(blocks))
	for _, b := range blocks {
		assert.Equal(t, "cy", b.Intervals[0].EmployeeID)
	}
}

func TestFind_PinnedConcurrency(t *testing.T) {
	req := Request{
		Date: monday, Org: salon(), Candidates: staff(),
		Services: []ServiceRequest{{ServiceID: "class", DurationMinutes: 60, PinnedEmployeeID: "ana", MaxConcurrent: 2}},
		Appointments: []model.Appointment{
			{EmployeeID: "ana", StartTime: at("09:00"), EndTime: at("10:00"), Status: model.StatusBooked},
		},
	}
	blocks, err := finder().Find(req)
	require.NoError(t, err)
	assert.Contains(t, starts(blocks), "09:00", "one booking leaves room in a class of two")

	req.Appointments = append(req.Appointments, model.Appointment{EmployeeID: "ana", StartTime: at("09:00"), EndTime: at("10:00"), Status: model.StatusBooked})
	blocks, err = finder().Find(req)
	require.NoError(t, err)
	assert.NotContains(t, starts(blocks), "09:00")
	assert.NotContains(t, starts(blocks), "09:30")
	assert.Contains(t, starts(blocks), "10:00")
}

func TestFind_AutoAssignRequiresNoOverlap(t *testing.T) {
	appts := []model.Appointment{
		{EmployeeID: "ana", StartTime: at("09:00"), EndTime: at("11:00"), Status: model.StatusBooked},
		{EmployeeID: "bo", StartTime: at("09:00"), EndTime: at("09:30"), Status: model.StatusBooked},
	}
	blocks, err := finder().Find(Request{
		Date: monday, Org: salon(), Candidates: staff(), Appointments: appts,
		Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30, MaxConcurrent: 5}},
	})
	require.NoError(t, err)
	got := starts(blocks)
	assert.NotContains(t, got, "09:00")
	assert.Equal(t, "09:30", got[0])
	assert.Equal(t, "bo", blocks[0].Intervals[0].EmployeeID)
}

func TestFind_EmptyResults(t *testing.T) {
	tests := map[string]Request{
		"closed day": {Date: "2026-01-27", Org: salon(), Candidates: staff(),
			Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30}}},
		"chain longer than any segment": {Date: monday, Org: salon(), Candidates: staff(),
			Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 60}, {ServiceID: "color", DurationMinutes: 90}}},
		"nobody eligible": {Date: monday, Org: salon(), Candidates: staff(),
			Services: []ServiceRequest{{ServiceID: "massage", DurationMinutes: 30}}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			blocks, err := finder().Find(req)
			require.NoError(t, err)
			assert.Empty(t, blocks)
		})
	}
}

func TestFind_PinnedEmployeeMustPerformService(t *testing.T) {
	inactive := staff()
	inactive[2].Active = false
	tests := map[string]Request{
		"not eligible": {Date: monday, Org: salon(), Candidates: staff(),
			Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30, PinnedEmployeeID: "cy"}}},
		"inactive": {Date: monday, Org: salon(), Candidates: inactive,
			Services: []ServiceRequest{{ServiceID: "color", DurationMinutes: 60, PinnedEmployeeID: "cy"}}},
		"second step not eligible": {Date: monday, Org: salon(), Candidates: staff(),
			Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30}, {ServiceID: "color", DurationMinutes: 60, PinnedEmployeeID: "ana"}}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			blocks, err := finder().Find(req)
			require.NoError(t, err)
			assert.NotNil(t, blocks)
			assert.Empty(t, blocks)
		})
	}
}

func TestFind_DropsPassedBlocksToday(t *testing.T) {
	f := finder()
	f.Now = func() time.Time { return at("09:45") }
	blocks, err := f.Find(Request{
		Date: monday, Org: salon(), Candidates: staff(),
		Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30}},
	})
	require.NoError(t, err)
	assert.Equal(t, "10:00", starts(blocks)[0])
}

func TestFind_RejectsBadInput(t *testing.T) {
	tests := map[string]Request{
		"no services":     {Date: monday, Org: salon()},
		"zero duration":   {Date: monday, Org: salon(), Services: []ServiceRequest{{ServiceID: "cut"}}},
		"unknown pinned":  {Date: monday, Org: salon(), Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30, PinnedEmployeeID: "zed"}}},
		"bad date":        {Date: "monday", Org: salon(), Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30}}},
		"negative concur": {Date: monday, Org: salon(), Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30, MaxConcurrent: -2}}},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := finder().Find(req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

// lastFree picks the last free candidate.
type lastFree struct{ calls int }

func (s *lastFree) PickBest(candidates []model.Employee, c assignment.Context) (model.Employee, bool) {
	s.calls++
	for i := len(candidates) - 1; i >= 0; i-- {
		if assignment.Free(candidates[i], c) {
			return candidates[i], true
		}
	}
	return model.Employee{}, false
}

func TestFind_CustomStrategy(t *testing.T) {
	strategy := &lastFree{}
	f := finder()
	f.Strategy = strategy
	blocks, err := f.Find(Request{
		Date: monday, Org: salon(), Candidates: staff(),
		Services: []ServiceRequest{{ServiceID: "cut", DurationMinutes: 30}},
	})
	require.NoError(t, err)
	require.NotEmpty(t, blocks)
	assert.Equal(t, "bo", blocks[0].Intervals[0].EmployeeID)
	assert.Equal(t, len(blocks), strategy.calls)
}
