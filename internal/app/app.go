// Package app wires config, storage, the chat adapter, the trigger
// scheduler and the reaper into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"rallybot/internal/config"
	"rallybot/internal/eventbus"
	"rallybot/internal/invite"
	"rallybot/internal/reaper"
	"rallybot/internal/runtime/supervisor"
	"rallybot/internal/scheduler"
	"rallybot/internal/season"
	"rallybot/internal/storage"
	"rallybot/internal/transport/telegram"
	logx "rallybot/pkg/logx"
	"rallybot/pkg/systemd"
)

type App struct {
	base logx.Logger
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	clk  clock.Clock

	store   storage.Store
	adapter *telegram.Adapter
	invites *invite.Store
	seasons *season.Handler

	disp   *scheduler.CronDispatcher
	reg    *scheduler.Registry
	reaper *reaper.Reaper
	cmds   *commands

	sd systemd.Notifier

	mu         sync.Mutex
	reaperStop context.CancelFunc
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}

	logSvc, base := logx.NewService(mapLogConfig(cfg), logx.NewTelegramSink(ad))
	log := base.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(ctx, sc, base)
	if errors.Is(err, storage.ErrDisabled) {
		return nil, fmt.Errorf("storage.driver must be set: seasons are read from storage")
	}
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	loc, err := cfg.Location()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rcfg, err := mapReaperConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	clk := clock.New()
	bus := eventbus.New()
	disp := scheduler.NewCronDispatcher(loc, base)
	invites := invite.NewStore(clk)
	seasons := season.NewHandler(store, ad, clk, disp.Location, base)

	a := &App{
		base:    base,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		clk:     clk,
		store:   store,
		adapter: ad,
		invites: invites,
		seasons: seasons,
		disp:    disp,
		reaper:  reaper.New(rcfg, store, ad, invites, clk, base, bus),
	}
	a.cmds = &commands{
		store:   store,
		seasons: seasons,
		invites: invites,
		sender:  ad,
		clk:     clk,
		loc:     disp.Location,
		log:     base.With(logx.String("comp", "commands")),
	}
	a.cmds.register(ad)
	return a, nil
}

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// SaveSeason stores se and schedules a trigger refresh.
func (a *App) SaveSeason(ctx context.Context, se storage.Season) (int64, error) {
	return a.cmds.saveSeason(ctx, se)
}

// Triggers lists the armed triggers.
func (a *App) Triggers() []scheduler.Info {
	if a.reg == nil {
		return nil
	}
	return a.reg.Snapshot()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.base.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, next *config.Config) error {
		if _, err := mapReaperConfig(next); err != nil {
			return err
		}
		_, err := mapStorageConfig(next)
		return err
	})

	a.reg = scheduler.NewRegistry(a.store, a.disp, a.seasons, a.sup, scheduler.Options{
		Log:   a.base,
		Bus:   a.bus,
		Clock: a.clk,
	})
	a.cmds.reg = a.reg

	if err := a.adapter.Start(a.sup.Context()); err != nil {
		return err
	}

	if cfg.Scheduler.Enabled {
		a.disp.Start()
	} else {
		a.log.Info("scheduler disabled; triggers are registered but not dispatched")
	}
	a.sup.Go("scheduler.refresh", a.reg.Run)
	a.setReaperRunning(cfg.Reaper.Enabled)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	if _, err := a.sd.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started", logx.String("tz", a.disp.Location().String()))
	return nil
}

// applyConfig moves the running components to next. Storage and telegram
// changes need a restart.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	_, _ = a.sd.Reloading()
	defer func() { _, _ = a.sd.Ready() }()

	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogConfig(next))
		case "scheduler":
			loc, err := next.Location()
			if err != nil {
				a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
				continue
			}
			a.disp.SetLocation(loc)
			if next.Scheduler.Enabled {
				a.disp.Start()
			} else {
				stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				a.disp.Stop(stopCtx)
				cancel()
			}
			a.reg.RefreshAsync()
		case "reaper":
			rcfg, err := mapReaperConfig(next)
			if err != nil {
				a.log.Warn("invalid reaper config; keeping previous", logx.Err(err))
				continue
			}
			a.reaper.Apply(rcfg)
			a.setReaperRunning(rcfg.Enabled)
		case "storage", "telegram":
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) setReaperRunning(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case on && a.reaperStop == nil:
		ctx, cancel := context.WithCancel(a.sup.Context())
		a.reaperStop = cancel
		a.sup.Go("reaper", func(context.Context) error { return a.reaper.Run(ctx) })
		a.log.Info("reaper enabled")
	case !on && a.reaperStop != nil:
		a.reaperStop()
		a.reaperStop = nil
		a.log.Info("reaper disabled")
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	_, _ = a.sd.Stopping()
	a.log.Info("stopping")
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 3*time.Second, func(c context.Context) error { a.disp.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
