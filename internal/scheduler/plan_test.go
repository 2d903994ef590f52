package scheduler

import (
	"errors"
	"testing"

	"rallybot/internal/storage"
	"rallybot/internal/trigger"
)

func TestPlan(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		season  storage.Season
		want    map[string]trigger.Spec
		invalid bool
	}{
		{
			name:   "poll only, no reminder offset",
			season: storage.Season{ID: 1, PollDay: "mon", PollTime: "09:00"},
			want:   map[string]trigger.Spec{"season:1:poll-open": {Weekday: 1, Hour: 9}},
		},
		{
			name:   "match reminder wraps to previous day",
			season: storage.Season{ID: 2, MatchDay: "mon", MatchTime: "01:00", MatchDayReminderOffsetHours: 2},
			want:   map[string]trigger.Spec{"season:2:match-reminder": {Weekday: 0, Hour: 23}},
		},
		{
			name:   "poll reminder across week end",
			season: storage.Season{ID: 3, PollDay: "sat", PollTime: "23:00", PollReminderOffsetHours: 2},
			want: map[string]trigger.Spec{
				"season:3:poll-open":     {Weekday: 6, Hour: 23},
				"season:3:poll-reminder": {Weekday: 0, Hour: 1},
			},
		},
		{
			name:   "nothing configured",
			season: storage.Season{ID: 4},
			want:   map[string]trigger.Spec{},
		},
		{
			name:    "bad weekday",
			season:  storage.Season{ID: 5, PollDay: "xyz", PollTime: "10:00"},
			invalid: true,
		},
		{
			name:    "bad match time",
			season:  storage.Season{ID: 6, PollDay: "sun", PollTime: "10:00", MatchDay: "wed", MatchTime: "2000"},
			invalid: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			desired, invalid := Plan([]storage.Season{tt.season})
			if tt.invalid {
				if invalid[tt.season.ID] == nil || len(desired) != 0 {
					t.Fatalf("want invalid season, got desired=%v invalid=%v", desired, invalid)
				}
				return
			}
			if len(invalid) != 0 {
				t.Fatalf("invalid = %v", invalid)
			}
			if len(desired) != len(tt.want) {
				t.Fatalf("desired = %v, want %v", desired, tt.want)
			}
			for k, spec := range tt.want {
				d, ok := desired[k]
				if !ok || d.Spec != spec || d.SeasonID != tt.season.ID || d.Key != k {
					t.Fatalf("%s = %+v, want %v", k, d, spec)
				}
			}
		})
	}
}

func TestPlanInvalidWrapsCause(t *testing.T) {
	t.Parallel()

	_, invalid := Plan([]storage.Season{{ID: 9, PollDay: "sun", PollTime: "24:00"}})
	if !errors.Is(invalid[9], trigger.ErrInvalidTimeRange) {
		t.Fatalf("err = %v, want ErrInvalidTimeRange", invalid[9])
	}
}
