package app

import (
	"strings"

	"rallybot/internal/config"
	"rallybot/internal/reaper"
	"rallybot/internal/storage"
	logx "rallybot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := cfg.BusyTimeout()
	if err != nil {
		return storage.Config{}, err
	}
	sc := cfg.Storage
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		DSN:         strings.TrimSpace(sc.DSN),
		BusyTimeout: busy,
	}, nil
}

func mapReaperConfig(cfg *config.Config) (reaper.Config, error) {
	interval, err := cfg.ReaperInterval()
	if err != nil {
		return reaper.Config{}, err
	}
	ttl, err := cfg.MenuTTL()
	if err != nil {
		return reaper.Config{}, err
	}
	return reaper.Config{Enabled: cfg.Reaper.Enabled, Interval: interval, MenuTTL: ttl}, nil
}
