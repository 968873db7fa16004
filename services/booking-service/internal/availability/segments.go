package availability

import (
	"sort"

	"github.com/slotwise/slotwise/services/booking-service/internal/clock"
	"github.com/slotwise/slotwise/services/booking-service/internal/schedule"
)

// Segment is a break-free stretch of an open window.
type Segment struct {
	Start clock.Time
	End   clock.Time
}

func (s Segment) Minutes() int { return int(s.End - s.Start) }

// Segments partitions [start,end) into the disjoint stretches left over once
// breaks are removed. Breaks may overlap each other or stick out of the window.
func Segments(start, end clock.Time, breaks []schedule.BreakPeriod) []Segment {
	if start >= end {
		return nil
	}
	sorted := make([]schedule.BreakPeriod, len(breaks))
	copy(sorted, breaks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var out []Segment
	cursor := start
	for _, b := range sorted {
		if b.End <= cursor || b.Start >= end {
			continue
		}
		if b.Start > cursor {
			out = append(out, Segment{Start: cursor, End: b.Start})
		}
		cursor = max(cursor, b.End)
		if cursor >= end {
			return out
		}
	}
	return append(out, Segment{Start: cursor, End: end})
}
