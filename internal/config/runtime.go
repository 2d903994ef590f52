package config

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

const (
	DefaultPollTimeout    = 10 * time.Second
	DefaultReaperInterval = time.Hour
	DefaultMenuTTL        = 24 * time.Hour
	DefaultBusyTimeout    = time.Second

	// Lower bounds for the reaper settings.
	MinReaperInterval = time.Minute
	MinMenuTTL        = time.Hour
)

// Location returns the scheduling zone. Empty means the process local zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return durationField("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout, 0)
}

func (c *Config) ReaperInterval() (time.Duration, error) {
	return durationField("reaper.interval", c.Reaper.Interval, DefaultReaperInterval, MinReaperInterval)
}

func (c *Config) MenuTTL() (time.Duration, error) {
	return durationField("reaper.menu_ttl", c.Reaper.MenuTTL, DefaultMenuTTL, MinMenuTTL)
}

func (c *Config) BusyTimeout() (time.Duration, error) {
	return durationField("storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout, 0)
}

// durationField parses a Go duration string at path. Blank or zero selects
// def. Negative values and values below floor are rejected.
func durationField(path, raw string, def, floor time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", path, s)
	case d == 0:
		return def, nil
	case d < floor:
		return 0, fmt.Errorf("%s: %s is below the minimum of %s", path, d, floor)
	}
	return d, nil
}

// Validate checks every field a hot reload could break. It does not open
// anything.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if _, err := c.PollTimeout(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.ReaperInterval(); err != nil {
		return err
	}
	if _, err := c.MenuTTL(); err != nil {
		return err
	}
	if _, err := c.BusyTimeout(); err != nil {
		return err
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		return fmt.Errorf("logging.telegram.rate_per_sec must be >= 0")
	}
	if c.Logging.Telegram.Enabled && c.Logging.Telegram.ChatID == 0 {
		return fmt.Errorf("logging.telegram.chat_id is required when logging.telegram.enabled")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required when storage.driver=postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", c.Storage.Driver)
	}
	return nil
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
