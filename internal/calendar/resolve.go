package calendar

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidWeekNumber = errors.New("invalid week number")
	ErrPastWeek          = errors.New("week has already passed")
)

// TargetQuery is the optional explicit input of a command that acts on a week.
//
// Date, when set, selects the ISO week containing it and takes precedence
// over Week/Year. Week 0 means "not given". Year 0 defaults to the calendar
// year of the reference time.
type TargetQuery struct {
	Date      time.Time
	Week      int
	Year      int
	AllowPast bool
}

// ResolveTargetWeek picks the week a command should act on.
//
// Without explicit input the scheduling week is returned unchanged. An
// explicit week must exist in its ISO year, and unless AllowPast is set it
// must not be chronologically before the scheduling week.
func ResolveTargetWeek(scheduling Week, q TargetQuery, now time.Time) (Week, error) {
	var target Week
	switch {
	case !q.Date.IsZero():
		target = WeekOf(q.Date)
	case q.Week != 0:
		year := q.Year
		if year == 0 {
			year = now.Year()
		}
		target = Week{Number: q.Week, Year: year}
		if !target.Valid() {
			return Week{}, fmt.Errorf("%w: %d (year %d has %d weeks)", ErrInvalidWeekNumber, q.Week, year, WeeksInYear(year))
		}
	default:
		return scheduling, nil
	}

	if !q.AllowPast && target.Before(scheduling) {
		return Week{}, fmt.Errorf("%w: %s is before %s", ErrPastWeek, target, scheduling)
	}
	return target, nil
}
