package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file at Path
//   - "postgres": connection string in DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Season is one season's scheduling settings. Day fields hold three-letter
// tokens ("sun".."sat"), time fields hold "HH:MM". Empty day/time disables
// the corresponding trigger.
type Season struct {
	ID        int64
	ChatID    int64
	ThreadID  int
	Name      string
	GroupType string
	Active    bool

	PollDay                 string
	PollTime                string
	PollReminderOffsetHours int

	MatchDay                    string
	MatchTime                   string
	MatchDayReminderOffsetHours int

	// MenuTTLHours overrides the reaper default when > 0.
	MenuTTLHours int
}

// Menu is one outstanding interactive prompt.
type Menu struct {
	SeasonID   int64
	ChatID     int64
	UserID     int64
	MenuType   string
	MessageID  int
	WeekNumber int
	Year       int
	CreatedAt  time.Time
}

// Store is the persistence contract used by the scheduler, reaper and
// season callbacks.
type Store interface {
	ListActiveSeasons(ctx context.Context) ([]Season, error)
	GetSeason(ctx context.Context, id int64) (Season, error)
	// SaveSeason inserts when s.ID == 0 and updates otherwise. It returns the id.
	SaveSeason(ctx context.Context, s Season) (int64, error)

	// ListMenuSeasons returns every season, active or not, that still owns
	// at least one menu row.
	ListMenuSeasons(ctx context.Context) ([]Season, error)
	InsertMenu(ctx context.Context, m Menu) error
	// SelectExpiredMenus returns the season's menus created strictly before cutoff.
	SelectExpiredMenus(ctx context.Context, seasonID int64, cutoff time.Time) ([]Menu, error)
	DeleteMenu(ctx context.Context, seasonID int64, messageID int) error

	Close() error
}
