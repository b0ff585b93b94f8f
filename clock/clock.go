// Package clock abstracts time and business-calendar queries so that
// due-date math, overdue checks, and settlement timestamps are
// deterministic under test.
package clock

import "time"

// HolidayFunc reports whether a date falls on a bank holiday. The date
// passed in is already truncated to midnight UTC.
type HolidayFunc func(date time.Time) bool

// Clock provides the current time and business-calendar queries.
type Clock interface {
	// Now returns the current instant in UTC.
	Now() time.Time

	// Today returns the current date truncated to midnight UTC.
	Today() time.Time

	// IsNonBusinessDay reports whether the date is a weekend or holiday.
	IsNonBusinessDay(date time.Time) bool

	// NextBusinessDay returns date itself when it is a business day,
	// otherwise the first business day after it.
	NextBusinessDay(date time.Time) time.Time
}

// System is a Clock backed by the wall clock and an optional holiday
// calendar. The zero value treats only weekends as non-business days.
type System struct {
	Holidays HolidayFunc
}

// NewSystem returns a System clock using the given holiday calendar.
// A nil holidays function means weekends only.
func NewSystem(holidays HolidayFunc) *System {
	return &System{Holidays: holidays}
}

func (s *System) Now() time.Time { return time.Now().UTC() }

func (s *System) Today() time.Time { return Truncate(time.Now().UTC()) }

func (s *System) IsNonBusinessDay(date time.Time) bool {
	return isNonBusinessDay(Truncate(date), s.Holidays)
}

func (s *System) NextBusinessDay(date time.Time) time.Time {
	return nextBusinessDay(Truncate(date), s.Holidays)
}

// Fixed is a Clock frozen at a single instant. Used in tests and in
// replayed settlement runs where the occurrence date must not drift.
type Fixed struct {
	Instant  time.Time
	Holidays HolidayFunc
}

// NewFixed returns a Clock frozen at the given instant.
func NewFixed(instant time.Time) *Fixed {
	return &Fixed{Instant: instant.UTC()}
}

// NewFixedWithHolidays returns a frozen Clock with a holiday calendar.
func NewFixedWithHolidays(instant time.Time, holidays HolidayFunc) *Fixed {
	return &Fixed{Instant: instant.UTC(), Holidays: holidays}
}

func (f *Fixed) Now() time.Time { return f.Instant }

func (f *Fixed) Today() time.Time { return Truncate(f.Instant) }

func (f *Fixed) IsNonBusinessDay(date time.Time) bool {
	return isNonBusinessDay(Truncate(date), f.Holidays)
}

func (f *Fixed) NextBusinessDay(date time.Time) time.Time {
	return nextBusinessDay(Truncate(date), f.Holidays)
}

// Advance moves the frozen instant forward by d.
func (f *Fixed) Advance(d time.Duration) { f.Instant = f.Instant.Add(d) }

// AdvanceDays moves the frozen instant forward by whole days.
func (f *Fixed) AdvanceDays(days int) { f.Instant = f.Instant.AddDate(0, 0, days) }

// Truncate drops the time-of-day component, returning midnight UTC of
// the same calendar date.
func Truncate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole calendar days from a to b.
// Negative when b precedes a.
func DaysBetween(a, b time.Time) int {
	return int(Truncate(b).Sub(Truncate(a)).Hours() / 24)
}

// SameDay reports whether two instants fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return Truncate(a).Equal(Truncate(b))
}

func isNonBusinessDay(date time.Time, holidays HolidayFunc) bool {
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	if holidays != nil && holidays(date) {
		return true
	}
	return false
}

func nextBusinessDay(date time.Time, holidays HolidayFunc) time.Time {
	for isNonBusinessDay(date, holidays) {
		date = date.AddDate(0, 0, 1)
	}
	return date
}
