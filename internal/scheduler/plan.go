package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"rallybot/internal/storage"
	"rallybot/internal/trigger"
)

// Kind names what a trigger does when it fires.
type Kind string

const (
	KindPollOpen      Kind = "poll-open"
	KindPollReminder  Kind = "poll-reminder"
	KindMatchReminder Kind = "match-reminder"
)

// Desired is one trigger derived from season settings.
type Desired struct {
	Key      string
	Kind     Kind
	SeasonID int64
	Spec     trigger.Spec
}

// Key returns the stable registry key for a season trigger.
func Key(seasonID int64, kind Kind) string {
	return fmt.Sprintf("season:%d:%s", seasonID, kind)
}

// Plan derives the desired trigger set from seasons. Seasons whose settings
// fail to build are returned in invalid and contribute nothing to desired.
//
//   - poll-open fires at the poll day/time.
//   - poll-reminder fires at the poll day/time shifted by the reminder offset;
//     it is skipped when the offset is 0.
//   - match-reminder fires the configured number of hours before the match.
func Plan(seasons []storage.Season) (desired map[string]Desired, invalid map[int64]error) {
	desired = map[string]Desired{}
	invalid = map[int64]error{}

	for _, se := range seasons {
		var out []Desired
		var errs []error

		add := func(kind Kind, day, tod string, offset int) {
			spec, err := trigger.Build(day, tod, offset)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", kind, err))
				return
			}
			out = append(out, Desired{Key: Key(se.ID, kind), Kind: kind, SeasonID: se.ID, Spec: spec})
		}

		if set(se.PollDay) && set(se.PollTime) {
			add(KindPollOpen, se.PollDay, se.PollTime, 0)
			if se.PollReminderOffsetHours != 0 {
				add(KindPollReminder, se.PollDay, se.PollTime, se.PollReminderOffsetHours)
			}
		}
		if set(se.MatchDay) && set(se.MatchTime) {
			add(KindMatchReminder, se.MatchDay, se.MatchTime, -se.MatchDayReminderOffsetHours)
		}

		if len(errs) > 0 {
			invalid[se.ID] = fmt.Errorf("season %d: %w", se.ID, errors.Join(errs...))
			continue
		}
		for _, d := range out {
			desired[d.Key] = d
		}
	}
	return desired, invalid
}

func set(s string) bool { return strings.TrimSpace(s) != "" }
