// Package clock converts between "HH:mm" strings, minute-of-day values and
// concrete instants in an organization's timezone.
package clock

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EndOfDay is the exclusive upper bound of a day, formatted as "24:00".
const EndOfDay Time = 24 * 60

const dateLayout = "2006-01-02"

// ErrInvalidClock is returned for text that is not a valid HH:mm.
var ErrInvalidClock = errors.New("clock: invalid time of day")

// Time is a minute of the day in [0, 1440].
type Time int

// Parse accepts "H:mm" or "HH:mm"; "24:00" is accepted as the end of the day.
func Parse(s string) (Time, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return Time(h*60 + m), nil
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(s string) Time {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// FromMinutes converts minutes since midnight. It does not validate m.
func FromMinutes(m int) Time { return Time(m) }

// Minutes returns t as minutes since midnight.
func (t Time) Minutes() int { return int(t) }

func (t Time) Add(minutes int) Time { return t + Time(minutes) }

func (t Time) Valid() bool { return t >= 0 && t <= EndOfDay }

func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t Time) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidClock, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Time) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Overlaps reports whether [aStart,aEnd) and [bStart,bEnd) share any minute.
func Overlaps(aStart, aEnd, bStart, bEnd Time) bool {
	return aStart < bEnd && bStart < aEnd
}

// Contains reports whether [start,end) lies fully inside [outerStart,outerEnd).
func Contains(outerStart, outerEnd, start, end Time) bool {
	return start >= outerStart && end <= outerEnd
}

// OverlapsInstants is Overlaps for instants.
func OverlapsInstants(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// ParseDate returns local midnight of a "2006-01-02" date in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return day, nil
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// At builds the instant for t on day's civil date in loc. Civil fields are used
// instead of adding a duration so DST transitions keep wall-clock times.
func At(day time.Time, t Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, int(t)/60, int(t)%60, 0, 0, loc)
}

// Of returns the minute of day of instant in loc.
func Of(instant time.Time, loc *time.Location) Time {
	local := instant.In(loc)
	return Time(local.Hour()*60 + local.Minute())
}

func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns [midnight, next midnight) for day's civil date in loc.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := day.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// LoadLocation resolves name, falling back to fallback and then UTC.
func LoadLocation(name, fallback string) *time.Location {
	for _, candidate := range []string{name, fallback} {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		if loc, err := time.LoadLocation(candidate); err == nil {
			return loc
		}
	}
	return time.UTC
}
