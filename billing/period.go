package billing

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One billing cycle, identified by its first-of-month date
// =============================================================================

// Period is a calendar month. It is comparable and usable as a map key.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod accepts "2006-01-02" (day must be 01) or "2006-01".
func ParsePeriod(s string) (Period, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if t.Day() != 1 {
			return Period{}, fmt.Errorf("period %q is not a first-of-month date", s)
		}
		return PeriodOf(t), nil
	}
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	return PeriodOf(t), nil
}

// Start returns the first-of-month date in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths moves n calendar months; the first-of-month anchor makes
// time.AddDate safe from day overflow.
func (p Period) AddMonths(n int) Period { return PeriodOf(p.Start().AddDate(0, n, 0)) }
func (p Period) Next() Period           { return p.AddMonths(1) }

func (p Period) Before(o Period) bool { return p.Start().Before(o.Start()) }
func (p Period) After(o Period) bool  { return p.Start().After(o.Start()) }
func (p Period) IsZero() bool         { return p.Year == 0 && p.Month == 0 }

// DueDate returns the anniversary due date of this period for a contract whose
// due day is day. Days past the end of the month clamp to its last day.
func (p Period) DueDate(day int) time.Time {
	last := p.Next().Start().AddDate(0, 0, -1).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(p.Year, p.Month, day, 0, 0, 0, 0, time.UTC)
}

// String is the ISO first-of-month date, the storage key format.
func (p Period) String() string { return p.Start().Format("2006-01-02") }

// Label is the human display form, e.g. "March 2024".
func (p Period) Label() string { return p.Start().Format("January 2006") }

func (p Period) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PeriodSet is the set of periods settled by a Paid record.
type PeriodSet map[Period]bool

func NewPeriodSet(periods ...Period) PeriodSet {
	s := make(PeriodSet, len(periods))
	for _, p := range periods {
		s[p] = true
	}
	return s
}

func (s PeriodSet) Has(p Period) bool { return s[p] }

// =============================================================================
// DATE UTILITIES
// =============================================================================

// DateOf truncates t to its calendar date in UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween counts whole days from one date to another.
func DaysBetween(from, to time.Time) int {
	return int(DateOf(to).Sub(DateOf(from)).Hours() / 24)
}
