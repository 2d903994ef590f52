// Package season holds the callbacks fired by season triggers.
//
// Each callback reloads the season so it acts on current settings, not the
// ones captured at registration time.
package season

import (
	"context"
	"fmt"
	"time"

	"github.com/jmhodges/clock"

	"rallybot/internal/calendar"
	"rallybot/internal/scheduler"
	"rallybot/internal/storage"
	"rallybot/internal/transport"
	"rallybot/internal/trigger"
	logx "rallybot/pkg/logx"
)

const MenuTypePoll = "poll"

// Store is the storage surface the callbacks need.
type Store interface {
	GetSeason(ctx context.Context, id int64) (storage.Season, error)
	InsertMenu(ctx context.Context, m storage.Menu) error
}

type Handler struct {
	store  Store
	sender transport.Sender
	clk    clock.Clock
	loc    func() *time.Location
	log    logx.Logger
}

// NewHandler builds the trigger handler. loc reports the scheduling zone and
// may change between calls.
func NewHandler(store Store, sender transport.Sender, clk clock.Clock, loc func() *time.Location, log logx.Logger) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	if loc == nil {
		loc = func() *time.Location { return time.Local }
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{store: store, sender: sender, clk: clk, loc: loc, log: log.With(logx.String("comp", "season"))}
}

// HandleTrigger implements scheduler.Handler.
func (h *Handler) HandleTrigger(ctx context.Context, f scheduler.Firing) error {
	se, err := h.store.GetSeason(ctx, f.SeasonID)
	if err != nil {
		return fmt.Errorf("load season %d: %w", f.SeasonID, err)
	}
	if !se.Active {
		h.log.Debug("season inactive; skipping", logx.Int64("season", se.ID), logx.String("key", f.Key))
		return nil
	}

	switch f.Kind {
	case scheduler.KindPollOpen:
		return h.pollOpen(ctx, se)
	case scheduler.KindPollReminder:
		return h.pollReminder(ctx, se)
	case scheduler.KindMatchReminder:
		return h.matchReminder(ctx, se)
	default:
		return fmt.Errorf("unknown trigger kind %q", f.Kind)
	}
}

// TargetWeek is the week a poll sent now organizes: the week of the next
// match, or the current week when no match is configured.
func (h *Handler) TargetWeek(se storage.Season) calendar.Week {
	loc := h.loc()
	now := h.clk.Now().In(loc)
	if spec, err := trigger.Build(se.MatchDay, se.MatchTime, 0); err == nil {
		return calendar.WeekOf(spec.Next(now, loc))
	}
	return calendar.WeekOf(now)
}

func (h *Handler) pollOpen(ctx context.Context, se storage.Season) error {
	week := h.TargetWeek(se)
	start, end := week.Range(h.loc())
	text := fmt.Sprintf("%s: availability poll for week %d (%s to %s) is open. Reply in this chat to say whether you can play.",
		label(se), week.Number, start.Format("Mon 2 Jan"), end.Format("Mon 2 Jan"))

	ref, err := h.sender.SendText(ctx, target(se), text, nil)
	if err != nil {
		return fmt.Errorf("send poll: %w", err)
	}
	m := storage.Menu{
		SeasonID:   se.ID,
		ChatID:     ref.ChatID,
		MenuType:   MenuTypePoll,
		MessageID:  ref.MessageID,
		WeekNumber: week.Number,
		Year:       week.Year,
		CreatedAt:  h.clk.Now(),
	}
	if err := h.store.InsertMenu(ctx, m); err != nil {
		return fmt.Errorf("record poll menu: %w", err)
	}
	h.log.Info("poll opened", logx.Int64("season", se.ID), logx.String("week", week.String()), logx.Int("message", ref.MessageID))
	return nil
}

func (h *Handler) pollReminder(ctx context.Context, se storage.Season) error {
	week := h.TargetWeek(se)
	text := fmt.Sprintf("%s: reminder, the poll for week %d is still open.", label(se), week.Number)
	if _, err := h.sender.SendText(ctx, target(se), text, nil); err != nil {
		return fmt.Errorf("send poll reminder: %w", err)
	}
	return nil
}

func (h *Handler) matchReminder(ctx context.Context, se storage.Season) error {
	spec, err := trigger.Build(se.MatchDay, se.MatchTime, 0)
	if err != nil {
		return fmt.Errorf("match settings: %w", err)
	}
	loc := h.loc()
	at := spec.Next(h.clk.Now().In(loc), loc)
	text := fmt.Sprintf("%s: match day! Kick-off %s.", label(se), at.Format("Mon 15:04"))
	if _, err := h.sender.SendText(ctx, target(se), text, nil); err != nil {
		return fmt.Errorf("send match reminder: %w", err)
	}
	return nil
}

func target(se storage.Season) transport.ChatTarget {
	return transport.ChatTarget{ChatID: se.ChatID, ThreadID: se.ThreadID}
}

func label(se storage.Season) string {
	if se.Name != "" {
		return se.Name
	}
	return fmt.Sprintf("Season %d", se.ID)
}
