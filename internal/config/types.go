package config

// Config is the on-disk configuration. Fields mirror the JSON/YAML keys;
// durations are Go duration strings ("90s", "1h").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Reaper    ReaperConfig    `json:"reaper"`
	Storage   StorageConfig   `json:"storage"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	File     LogFileConfig     `json:"file"`
	Telegram LogTelegramConfig `json:"telegram"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LogTelegramConfig forwards log lines at or above MinLevel to a chat.
type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`
}

type ReaperConfig struct {
	Enabled  bool   `json:"enabled"`
	Interval string `json:"interval"`
	MenuTTL  string `json:"menu_ttl"`
}

// StorageConfig selects the season/menu store. Driver is "sqlite",
// "postgres" or "none".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
