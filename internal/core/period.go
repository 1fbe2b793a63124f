package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	periodLayout = "2006-01"
	dateLayout   = "2006-01-02"
)

type (
	// Period is a calendar month, always held as its first day at 00:00 UTC.
	Period struct {
		time.Time
	}

	// DateRange is a half-open [Start, End) interval of UTC dates.
	DateRange struct {
		Start time.Time
		End   time.Time
	}
)

// ParsePeriod normalizes "YYYY-MM", "YYYY-MM-DD" or an RFC3339 timestamp to
// the first day of its month. The calendar date is taken as written; any
// offset in a timestamp is not applied.
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Period{}, fmt.Errorf("%w: empty period", ErrInvalidPeriod)
	}
	for _, layout := range []string{periodLayout, dateLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewPeriod(t.Year(), t.Month()), nil
		}
	}
	return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
}

// NewPeriod builds the canonical period for year and month. Out-of-range
// months are normalized the way time.Date does it.
func NewPeriod(year int, month time.Month) Period {
	return Period{Time: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
}

// PeriodOf returns the period containing t's calendar date.
func PeriodOf(t time.Time) Period {
	return NewPeriod(t.Year(), t.Month())
}

// PreviousPeriod parses s and returns the month before it. ok is false only
// when s cannot be parsed.
func PreviousPeriod(s string) (Period, bool) {
	p, err := ParsePeriod(s)
	if err != nil {
		return Period{}, false
	}
	return p.Previous(), true
}

// Previous returns the preceding month; January rolls back to December.
func (p Period) Previous() Period {
	return NewPeriod(p.Year(), p.Month()-1)
}

// Next returns the following month.
func (p Period) Next() Period {
	return NewPeriod(p.Year(), p.Month()+1)
}

// Range returns the month as [first day, first day of next month).
func (p Period) Range() DateRange {
	return DateRange{Start: p.Time, End: p.Next().Time}
}

// LastDay returns the final calendar day of the month.
func (p Period) LastDay() time.Time {
	return p.Next().AddDate(0, 0, -1)
}

// Days returns the number of days in the month.
func (p Period) Days() int {
	return p.LastDay().Day()
}

// String formats the period as "YYYY-MM".
func (p Period) String() string {
	return p.Format(periodLayout)
}

// Equal reports whether both periods denote the same month.
func (p Period) Equal(o Period) bool {
	return p.Time.Equal(o.Time)
}

// Contains reports whether t's calendar date falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOnly(t)
	return !d.Before(r.Start) && d.Before(r.End)
}

// Days returns the length of the range in days.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours() / 24)
}

// DateOnly strips the clock from t, keeping its calendar date, in UTC.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a "YYYY-MM-DD" (or RFC3339) value into a UTC date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOnly(t), nil
}

// FormatDate renders a date as "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// WeekStart returns the Monday of t's ISO week.
func WeekStart(t time.Time) time.Time {
	d := DateOnly(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}

// WeekRange returns the seven-day span [start, start+7).
func WeekRange(start time.Time) DateRange {
	s := DateOnly(start)
	return DateRange{Start: s, End: s.AddDate(0, 0, 7)}
}

// WeekEndClipped returns the Sunday ending the week that starts at start,
// clipped to the last day of p when the week runs past the month.
func WeekEndClipped(start time.Time, p Period) time.Time {
	end := DateOnly(start).AddDate(0, 0, 6)
	if last := p.LastDay(); end.After(last) {
		return last
	}
	return end
}
