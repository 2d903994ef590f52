package season

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"rallybot/internal/calendar"
	"rallybot/internal/scheduler"
	"rallybot/internal/storage"
	"rallybot/internal/transport"
	logx "rallybot/pkg/logx"
)

type fakeStore struct {
	mu      sync.Mutex
	seasons map[int64]storage.Season
	menus   []storage.Menu
}

func (s *fakeStore) GetSeason(ctx context.Context, id int64) (storage.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	se, ok := s.seasons[id]
	if !ok {
		return storage.Season{}, storage.ErrNotFound
	}
	return se, nil
}

func (s *fakeStore) InsertMenu(ctx context.Context, m storage.Menu) error {
	s.mu.Lock()
	s.menus = append(s.menus, m)
	s.mu.Unlock()
	return nil
}

type sent struct {
	to   transport.ChatTarget
	text string
}

type fakeSender struct {
	mu   sync.Mutex
	next int
	fail bool
	out  []sent
}

func (s *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return transport.MessageRef{}, errors.New("chat not found")
	}
	s.next++
	s.out = append(s.out, sent{to: to, text: text})
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: 500 + s.next}, nil
}

func setup() (*fakeStore, *fakeSender, *Handler) {
	clk := clock.NewFake()
	// Wednesday.
	clk.Set(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC))
	st := &fakeStore{seasons: map[int64]storage.Season{
		1: {ID: 1, ChatID: -100, ThreadID: 4, Name: "Tuesday league", Active: true,
			PollDay: "mon", PollTime: "09:00", MatchDay: "sat", MatchTime: "18:00", MatchDayReminderOffsetHours: 3},
		2: {ID: 2, ChatID: -200, Active: false},
	}}
	snd := &fakeSender{}
	h := NewHandler(st, snd, clk, func() *time.Location { return time.UTC }, logx.Nop())
	return st, snd, h
}

func TestPollOpenRecordsMenu(t *testing.T) {
	t.Parallel()

	st, snd, h := setup()
	if err := h.HandleTrigger(context.Background(), scheduler.Firing{Kind: scheduler.KindPollOpen, SeasonID: 1}); err != nil {
		t.Fatalf("HandleTrigger: %v", err)
	}
	if len(snd.out) != 1 || snd.out[0].to != (transport.ChatTarget{ChatID: -100, ThreadID: 4}) {
		t.Fatalf("sent = %+v", snd.out)
	}
	// The prompt is plain text, so it must not point at inline buttons.
	if text := snd.out[0].text; !strings.Contains(text, "week 1 (Mon 30 Dec to Sun 5 Jan)") ||
		!strings.HasSuffix(text, "Reply in this chat to say whether you can play.") || strings.Contains(text, "button") {
		t.Fatalf("text = %q", snd.out[0].text)
	}
	if len(st.menus) != 1 {
		t.Fatalf("menus = %+v", st.menus)
	}
	m := st.menus[0]
	if m.SeasonID != 1 || m.MessageID != 501 || m.WeekNumber != 1 || m.Year != 2025 || m.MenuType != MenuTypePoll || m.CreatedAt.IsZero() {
		t.Fatalf("menu = %+v", m)
	}
}

func TestTargetWeekFollowsNextMatch(t *testing.T) {
	t.Parallel()

	_, _, h := setup()
	se := storage.Season{MatchDay: "tue", MatchTime: "19:00"}
	// Next Tuesday after Wed 2025-01-01 is 2025-01-07, in W02.
	if got := h.TargetWeek(se); got != (calendar.Week{Number: 2, Year: 2025}) {
		t.Fatalf("TargetWeek = %v", got)
	}
	if got := h.TargetWeek(storage.Season{}); got != (calendar.Week{Number: 1, Year: 2025}) {
		t.Fatalf("TargetWeek without match = %v", got)
	}
}

func TestRemindersAndSkips(t *testing.T) {
	t.Parallel()

	st, snd, h := setup()
	ctx := context.Background()

	if err := h.HandleTrigger(ctx, scheduler.Firing{Kind: scheduler.KindMatchReminder, SeasonID: 1}); err != nil {
		t.Fatalf("match reminder: %v", err)
	}
	if err := h.HandleTrigger(ctx, scheduler.Firing{Kind: scheduler.KindPollReminder, SeasonID: 1}); err != nil {
		t.Fatalf("poll reminder: %v", err)
	}
	if len(snd.out) != 2 || !strings.Contains(snd.out[0].text, "Kick-off Sat 18:00") {
		t.Fatalf("sent = %+v", snd.out)
	}
	if len(st.menus) != 0 {
		t.Fatalf("reminders recorded menus: %+v", st.menus)
	}

	// Inactive season is a no-op.
	if err := h.HandleTrigger(ctx, scheduler.Firing{Kind: scheduler.KindPollOpen, SeasonID: 2}); err != nil {
		t.Fatalf("inactive: %v", err)
	}
	if err := h.HandleTrigger(ctx, scheduler.Firing{Kind: scheduler.KindPollOpen, SeasonID: 3}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing season err = %v", err)
	}
	if err := h.HandleTrigger(ctx, scheduler.Firing{Kind: "bogus", SeasonID: 1}); err == nil {
		t.Fatalf("want error for unknown kind")
	}
}

func TestPollOpenSendFailure(t *testing.T) {
	t.Parallel()

	st, snd, h := setup()
	snd.fail = true
	if err := h.HandleTrigger(context.Background(), scheduler.Firing{Kind: scheduler.KindPollOpen, SeasonID: 1}); err == nil {
		t.Fatalf("want send error")
	}
	if len(st.menus) != 0 {
		t.Fatalf("menu recorded despite send failure")
	}
}
