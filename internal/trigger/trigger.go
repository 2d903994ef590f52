// Package trigger builds normalized weekly trigger points from the
// day / time / hour-offset values stored in a season's settings.
//
// Weekday indices follow cron: Sunday = 0 ... Saturday = 6.
package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidWeekday    = errors.New("invalid weekday")
	ErrInvalidTimeFormat = errors.New("invalid time format, expected HH:MM")
	ErrInvalidTimeRange  = errors.New("time out of range")
)

const (
	minutesPerDay  = 24 * 60
	minutesPerWeek = 7 * minutesPerDay
)

var weekdays = map[string]int{
	"sun": 0,
	"mon": 1,
	"tue": 2,
	"wed": 3,
	"thu": 4,
	"fri": 5,
	"sat": 6,
}

var dayNames = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

var reTimeOfDay = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

// Spec is one recurring weekly firing point. Values built by Build are
// always normalized; two Specs are equal iff their fields are equal.
type Spec struct {
	Weekday int
	Hour    int
	Minute  int
}

// WeekdayIndex maps a three-letter day token (case-insensitive) to 0..6.
func WeekdayIndex(day string) (int, error) {
	idx, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, day)
	}
	return idx, nil
}

// ParseTimeOfDay accepts H:MM or HH:MM.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	m := reTimeOfDay.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeRange, s)
	}
	return hour, minute, nil
}

// Build converts (day, time, offsetHours) into a normalized Spec.
//
// The offset is added to the time of day: Build("sun", "20:00", -2) fires on
// Sunday at 18:00 and Build("sat", "23:00", 2) on Sunday at 01:00. The shift
// is reduced modulo one week, so offsets beyond 24h move across several days.
func Build(day, timeOfDay string, offsetHours int) (Spec, error) {
	wd, err := WeekdayIndex(day)
	if err != nil {
		return Spec{}, err
	}
	h, m, err := ParseTimeOfDay(timeOfDay)
	if err != nil {
		return Spec{}, err
	}
	return Normalize(wd, h, m, offsetHours), nil
}

// Normalize applies offsetHours to a weekday/hour/minute triple and wraps
// the result into the week.
func Normalize(weekday, hour, minute, offsetHours int) Spec {
	total := weekday*minutesPerDay + hour*60 + minute + offsetHours*60
	total %= minutesPerWeek
	if total < 0 {
		total += minutesPerWeek
	}
	return Spec{
		Weekday: total / minutesPerDay,
		Hour:    (total % minutesPerDay) / 60,
		Minute:  total % 60,
	}
}

// Valid reports whether every field is in range.
func (s Spec) Valid() bool {
	return s.Weekday >= 0 && s.Weekday <= 6 &&
		s.Hour >= 0 && s.Hour <= 23 &&
		s.Minute >= 0 && s.Minute <= 59
}

// Day returns the three-letter weekday token.
func (s Spec) Day() string {
	if s.Weekday < 0 || s.Weekday > 6 {
		return "?"
	}
	return dayNames[s.Weekday]
}

// Cron renders the spec as a 5-field cron expression.
func (s Spec) Cron() string {
	return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, s.Weekday)
}

// Next returns the first occurrence strictly after t, in loc wall-clock time.
func (s Spec) Next(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	days := (s.Weekday - int(t.Weekday()) + 7) % 7
	cand := time.Date(t.Year(), t.Month(), t.Day()+days, s.Hour, s.Minute, 0, 0, loc)
	if !cand.After(t) {
		cand = time.Date(t.Year(), t.Month(), t.Day()+days+7, s.Hour, s.Minute, 0, 0, loc)
	}
	return cand
}

func (s Spec) String() string {
	return fmt.Sprintf("%s %02d:%02d", s.Day(), s.Hour, s.Minute)
}
