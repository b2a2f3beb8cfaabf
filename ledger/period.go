package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The billing period
// =============================================================================

// Month is a calendar month. Accruals are posted per month and payment
// slices are tagged with the month they settle, so Month is the key every
// obligation is grouped by.
//
// The zero Month means "no month" (e.g. a credit-balance slice has no
// MonthSettled).
type Month struct {
	Year  int
	Month time.Month
}

const monthLayout = "2006-01"

// NewMonth returns the month for year/month.
func NewMonth(year int, month time.Month) Month {
	return MonthOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// MonthOf returns the month containing t.
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return MonthOf(t), nil
}

// MustParseMonth is ParseMonth for literals in tests and fixtures.
func MustParseMonth(s string) Month {
	m, err := ParseMonth(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

func (m Month) String() string {
	if m.IsZero() {
		return ""
	}
	return m.Start().Format(monthLayout)
}

// Start is the first day of the month at 00:00 UTC.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the last day of the month at 00:00 UTC.
func (m Month) End() time.Time {
	return m.Start().AddDate(0, 1, -1)
}

// Days is the number of days in the month.
func (m Month) Days() int {
	return m.End().Day()
}

func (m Month) Next() Month { return MonthOf(m.Start().AddDate(0, 1, 0)) }
func (m Month) Prev() Month { return MonthOf(m.Start().AddDate(0, -1, 0)) }

// Compare returns -1, 0 or +1.
func (m Month) Compare(o Month) int {
	switch {
	case m.Year < o.Year || (m.Year == o.Year && m.Month < o.Month):
		return -1
	case m == o:
		return 0
	default:
		return 1
	}
}

func (m Month) Before(o Month) bool { return m.Compare(o) < 0 }
func (m Month) After(o Month) bool  { return m.Compare(o) > 0 }

// Contains reports whether t falls in the month.
func (m Month) Contains(t time.Time) bool {
	return MonthOf(t) == m
}

// Period returns the month as a closed day range.
func (m Month) Period() Period {
	return Period{Start: m.Start(), End: m.End()}
}

func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Month) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*m = Month{}
		return nil
	}
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MonthsBetween returns every month from first to last inclusive.
func MonthsBetween(first, last Month) []Month {
	var months []Month
	for m := first; !m.After(last); m = m.Next() {
		months = append(months, m)
	}
	return months
}

// =============================================================================
// PERIOD - Closed day range
// =============================================================================

// Period is a closed range of days [Start, End]. Times are truncated to the
// day in UTC.
type Period struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if the day of t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(p.Start)) && !d.After(Day(p.End))
}

// Days returns the number of days in the period, 0 if End is before Start.
func (p Period) Days() int {
	if Day(p.End).Before(Day(p.Start)) {
		return 0
	}
	return int(Day(p.End).Sub(Day(p.Start)).Hours()/24) + 1
}

// Overlap returns the intersection of two periods and whether it is non-empty.
func (p Period) Overlap(o Period) (Period, bool) {
	start := Day(p.Start)
	if s := Day(o.Start); s.After(start) {
		start = s
	}
	end := Day(p.End)
	if e := Day(o.End); e.Before(end) {
		end = e
	}
	if end.Before(start) {
		return Period{}, false
	}
	return Period{Start: start, End: end}, true
}

func (p Period) String() string {
	return "[" + p.Start.Format(time.DateOnly) + ", " + p.End.Format(time.DateOnly) + "]"
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole days from a to b (negative if b is before a).
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}
