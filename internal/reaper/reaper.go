// Package reaper removes state that has outlived its TTL: interactive menus
// persisted in storage (retracting their chat messages) and pending
// invitations held in memory.
//
// Both sweeps are idempotent and safe to run concurrently with themselves.
package reaper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmhodges/clock"

	"rallybot/internal/eventbus"
	"rallybot/internal/invite"
	"rallybot/internal/storage"
	"rallybot/internal/transport"
	logx "rallybot/pkg/logx"
)

const (
	DefaultInterval = time.Hour
	DefaultMenuTTL  = 24 * time.Hour
)

type Config struct {
	Enabled  bool
	Interval time.Duration
	MenuTTL  time.Duration
}

// MenuStore is the storage surface the menu sweep needs.
type MenuStore interface {
	ListMenuSeasons(ctx context.Context) ([]storage.Season, error)
	SelectExpiredMenus(ctx context.Context, seasonID int64, cutoff time.Time) ([]storage.Menu, error)
	DeleteMenu(ctx context.Context, seasonID int64, messageID int) error
}

type MessageDeleter interface {
	DeleteMessage(ctx context.Context, ref transport.MessageRef) error
}

// Result summarizes one SweepAll pass.
type Result struct {
	Seasons     int
	Menus       int
	Invitations int
}

type Reaper struct {
	store   MenuStore
	msgs    MessageDeleter
	invites *invite.Store
	clk     clock.Clock
	log     logx.Logger
	bus     eventbus.Bus

	mu  sync.Mutex
	cfg Config
}

func New(cfg Config, store MenuStore, msgs MessageDeleter, invites *invite.Store, clk clock.Clock, log logx.Logger, bus eventbus.Bus) *Reaper {
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Reaper{
		store:   store,
		msgs:    msgs,
		invites: invites,
		clk:     clk,
		log:     log.With(logx.String("comp", "reaper")),
		bus:     bus,
		cfg:     normalize(cfg),
	}
}

func normalize(cfg Config) Config {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MenuTTL <= 0 {
		cfg.MenuTTL = DefaultMenuTTL
	}
	return cfg
}

// Apply swaps the config. Changes take effect on the next tick.
func (r *Reaper) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = normalize(cfg)
	r.mu.Unlock()
}

func (r *Reaper) config() Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}

// CleanupExpiredMenus removes the season's menus created more than ttl ago.
//
// For each expired row the chat message is deleted first; a failure there is
// logged and ignored. The row is deleted regardless. Row deletion errors do
// not stop the sweep and are returned joined. It returns the number of rows
// removed.
func (r *Reaper) CleanupExpiredMenus(ctx context.Context, seasonID int64, ttl time.Duration) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	if ttl <= 0 {
		ttl = r.config().MenuTTL
	}
	cutoff := r.clk.Now().Add(-ttl)
	menus, err := r.store.SelectExpiredMenus(ctx, seasonID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("select expired menus for season %d: %w", seasonID, err)
	}

	removed := 0
	var errs []error
	for _, m := range menus {
		if r.msgs != nil {
			ref := transport.MessageRef{ChatID: m.ChatID, MessageID: m.MessageID}
			if err := r.msgs.DeleteMessage(ctx, ref); err != nil {
				r.log.Warn("menu message delete failed",
					logx.Int64("season", seasonID),
					logx.Int64("chat", m.ChatID),
					logx.Int("message", m.MessageID),
					logx.Err(err))
			}
		}
		if err := r.store.DeleteMenu(ctx, seasonID, m.MessageID); err != nil {
			errs = append(errs, fmt.Errorf("delete menu %d/%d: %w", seasonID, m.MessageID, err))
			continue
		}
		removed++
	}
	if removed > 0 {
		r.log.Info("expired menus removed", logx.Int64("season", seasonID), logx.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}

// CleanupExpiredInvitations sweeps the invitation store and returns how many
// entries were removed.
func (r *Reaper) CleanupExpiredInvitations() int {
	if r.invites == nil {
		return 0
	}
	n := r.invites.Sweep()
	if n > 0 {
		r.log.Info("expired invitations removed", logx.Int("count", n))
	}
	return n
}

// SweepAll runs the menu sweep for every season that still owns menu rows,
// deactivated seasons included, using each season's MenuTTLHours when set.
// The invitation sweep follows. One season's failure does not stop the others.
func (r *Reaper) SweepAll(ctx context.Context) (Result, error) {
	var res Result
	var errs []error

	if r.store != nil {
		seasons, err := r.store.ListMenuSeasons(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("list seasons: %w", err))
		}
		def := r.config().MenuTTL
		for _, se := range seasons {
			ttl := def
			if se.MenuTTLHours > 0 {
				ttl = time.Duration(se.MenuTTLHours) * time.Hour
			}
			n, err := r.CleanupExpiredMenus(ctx, se.ID, ttl)
			res.Menus += n
			res.Seasons++
			if err != nil {
				errs = append(errs, err)
			}
		}
	}
	res.Invitations = r.CleanupExpiredInvitations()

	if res.Menus > 0 || res.Invitations > 0 {
		r.bus.Publish(eventbus.Event{Type: eventbus.MenusReaped, Time: r.clk.Now(), Data: res})
	}
	return res, errors.Join(errs...)
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) error {
	for {
		if _, err := r.SweepAll(ctx); err != nil {
			r.log.Warn("sweep finished with errors", logx.Err(err))
		}

		t := time.NewTimer(r.config().Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}
