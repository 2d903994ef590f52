package config

import (
	"strings"

	logx "rallybot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs
// together with log-safe attrs for the new values. Secrets (token, dsn)
// are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	o, n := oldCfg, newCfg
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 12)

	if trim(o.Telegram.PollTimeout) != trim(n.Telegram.PollTimeout) || o.Telegram.Token != n.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", trim(n.Telegram.PollTimeout)),
			logx.Bool("telegram.token_changed", o.Telegram.Token != n.Telegram.Token),
		)
	}

	if o.Logging != n.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", n.Logging.Level),
			logx.Bool("logging.console", n.Logging.Console),
			logx.Bool("logging.file_enabled", n.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", n.Logging.Telegram.Enabled),
		)
	}

	if o.Scheduler.Enabled != n.Scheduler.Enabled || trim(o.Scheduler.Timezone) != trim(n.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", n.Scheduler.Enabled),
			logx.String("scheduler.timezone", trim(n.Scheduler.Timezone)),
		)
	}

	if o.Reaper.Enabled != n.Reaper.Enabled ||
		trim(o.Reaper.Interval) != trim(n.Reaper.Interval) ||
		trim(o.Reaper.MenuTTL) != trim(n.Reaper.MenuTTL) {
		changed = append(changed, "reaper")
		attrs = append(attrs,
			logx.Bool("reaper.enabled", n.Reaper.Enabled),
			logx.String("reaper.interval", trim(n.Reaper.Interval)),
			logx.String("reaper.menu_ttl", trim(n.Reaper.MenuTTL)),
		)
	}

	if !strings.EqualFold(trim(o.Storage.Driver), trim(n.Storage.Driver)) ||
		trim(o.Storage.Path) != trim(n.Storage.Path) ||
		o.Storage.DSN != n.Storage.DSN ||
		trim(o.Storage.BusyTimeout) != trim(n.Storage.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", trim(n.Storage.Driver)),
			logx.Bool("storage.dsn_set", trim(n.Storage.DSN) != ""),
		)
	}
	return changed, attrs
}

func trim(s string) string { return strings.TrimSpace(s) }
