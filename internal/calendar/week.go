// Package calendar implements ISO-8601 week arithmetic for rallybot's
// scheduling workflows.
//
// A Week is identified by (Number, Year) where Year is the ISO week-year.
// The ISO week-year diverges from the calendar year around New Year:
// 2024-12-30 belongs to 2025-W01 and 2021-01-03 belongs to 2020-W53.
package calendar

import (
	"fmt"
	"time"

	"github.com/jmhodges/clock"
)

type Week struct {
	Number int
	Year   int
}

// WeekNumber returns the ISO week number (1..53) of t in t's location.
func WeekNumber(t time.Time) int {
	_, w := t.ISOWeek()
	return w
}

// WeekYear returns the ISO week-year of t in t's location.
func WeekYear(t time.Time) int {
	y, _ := t.ISOWeek()
	return y
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) Week {
	y, w := t.ISOWeek()
	return Week{Number: w, Year: y}
}

// CurrentWeek wraps clk.Now() in loc through WeekOf.
func CurrentWeek(clk clock.Clock, loc *time.Location) Week {
	if loc == nil {
		loc = time.Local
	}
	return WeekOf(clk.Now().In(loc))
}

// WeeksInYear returns 52 or 53. December 28th always falls in the last ISO
// week of its year.
func WeeksInYear(year int) int {
	_, w := time.Date(year, time.December, 28, 0, 0, 0, 0, time.UTC).ISOWeek()
	return w
}

// WeekDateRange returns Monday 00:00 and Sunday 23:59:59 of the given ISO
// week in loc. The week number is not validated; out-of-range numbers
// are normalized by date arithmetic.
func WeekDateRange(year, week int, loc *time.Location) (start, end time.Time) {
	start = weekStart(year, week, loc)
	sun := start.AddDate(0, 0, 6)
	end = time.Date(sun.Year(), sun.Month(), sun.Day(), 23, 59, 59, 0, start.Location())
	return start, end
}

func weekStart(year, week int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	// January 4th is always in week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, loc)
	offset := (int(jan4.Weekday()) + 6) % 7 // days since Monday
	monday := jan4.AddDate(0, 0, -offset)
	return monday.AddDate(0, 0, (week-1)*7)
}

// Valid reports whether the week exists in its ISO week-year.
func (w Week) Valid() bool {
	return w.Number >= 1 && w.Number <= WeeksInYear(w.Year)
}

// Range is WeekDateRange for w.
func (w Week) Range(loc *time.Location) (start, end time.Time) {
	return WeekDateRange(w.Year, w.Number, loc)
}

// Contains reports whether t falls within w, computed in t's location.
func (w Week) Contains(t time.Time) bool {
	start := weekStart(w.Year, w.Number, t.Location())
	return !t.Before(start) && t.Before(start.AddDate(0, 0, 7))
}

// Compare orders weeks chronologically by (Year, Number).
func (w Week) Compare(o Week) int {
	switch {
	case w.Year < o.Year:
		return -1
	case w.Year > o.Year:
		return 1
	case w.Number < o.Number:
		return -1
	case w.Number > o.Number:
		return 1
	}
	return 0
}

func (w Week) Before(o Week) bool { return w.Compare(o) < 0 }

func (w Week) Next() Week {
	if w.Number >= WeeksInYear(w.Year) {
		return Week{Number: 1, Year: w.Year + 1}
	}
	return Week{Number: w.Number + 1, Year: w.Year}
}

func (w Week) Prev() Week {
	if w.Number <= 1 {
		return Week{Number: WeeksInYear(w.Year - 1), Year: w.Year - 1}
	}
	return Week{Number: w.Number - 1, Year: w.Year}
}

func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Number)
}
