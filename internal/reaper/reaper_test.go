package reaper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"rallybot/internal/invite"
	"rallybot/internal/storage"
	"rallybot/internal/transport"
	logx "rallybot/pkg/logx"
)

type memStore struct {
	mu        sync.Mutex
	seasons   []storage.Season
	menus     map[int64][]storage.Menu
	deleteErr map[int]error
	deletes   int
}

func newMemStore(seasons ...storage.Season) *memStore {
	return &memStore{seasons: seasons, menus: map[int64][]storage.Menu{}, deleteErr: map[int]error{}}
}

func (s *memStore) add(m storage.Menu) {
	s.mu.Lock()
	s.menus[m.SeasonID] = append(s.menus[m.SeasonID], m)
	s.mu.Unlock()
}

func (s *memStore) ListMenuSeasons(ctx context.Context) ([]storage.Season, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Season
	for _, se := range s.seasons {
		if len(s.menus[se.ID]) > 0 {
			out = append(out, se)
		}
	}
	return out, nil
}

func (s *memStore) SelectExpiredMenus(ctx context.Context, seasonID int64, cutoff time.Time) ([]storage.Menu, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.Menu
	for _, m := range s.menus[seasonID] {
		if m.CreatedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) DeleteMenu(ctx context.Context, seasonID int64, messageID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.deleteErr[messageID]; err != nil {
		return err
	}
	kept := s.menus[seasonID][:0]
	for _, m := range s.menus[seasonID] {
		if m.MessageID != messageID {
			kept = append(kept, m)
		}
	}
	s.menus[seasonID] = kept
	s.deletes++
	return nil
}

func (s *memStore) count(seasonID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.menus[seasonID])
}

type fakeDeleter struct {
	mu   sync.Mutex
	fail bool
	refs []transport.MessageRef
}

func (d *fakeDeleter) DeleteMessage(ctx context.Context, ref transport.MessageRef) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refs = append(d.refs, ref)
	if d.fail {
		return errors.New("message to delete not found")
	}
	return nil
}

func setup(t *testing.T) (clock.FakeClock, *memStore, *fakeDeleter, *Reaper) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	st := newMemStore(storage.Season{ID: 1, Active: true}, storage.Season{ID: 2, Active: true, MenuTTLHours: 2})
	del := &fakeDeleter{}
	r := New(Config{}, st, del, invite.NewStore(clk), clk, logx.Nop(), nil)
	return clk, st, del, r
}

func TestCleanupExpiredMenus(t *testing.T) {
	t.Parallel()

	clk, st, del, r := setup(t)
	now := clk.Now()
	st.add(storage.Menu{SeasonID: 1, ChatID: -100, MessageID: 1, CreatedAt: now.Add(-25 * time.Hour)})
	st.add(storage.Menu{SeasonID: 1, ChatID: -100, MessageID: 2, CreatedAt: now.Add(-24 * time.Hour)})
	st.add(storage.Menu{SeasonID: 1, ChatID: -100, MessageID: 3, CreatedAt: now.Add(-time.Hour)})

	n, err := r.CleanupExpiredMenus(context.Background(), 1, 24*time.Hour)
	if err != nil {
		t.Fatalf("CleanupExpiredMenus: %v", err)
	}
	if n != 1 {
		t.Fatalf("removed = %d, want 1", n)
	}
	if st.count(1) != 2 {
		t.Fatalf("remaining = %d, want 2", st.count(1))
	}
	if len(del.refs) != 1 || del.refs[0] != (transport.MessageRef{ChatID: -100, MessageID: 1}) {
		t.Fatalf("deleted refs = %+v", del.refs)
	}
}

func TestCleanupExpiredMenusIdempotent(t *testing.T) {
	t.Parallel()

	clk, st, _, r := setup(t)
	st.add(storage.Menu{SeasonID: 1, MessageID: 1, CreatedAt: clk.Now().Add(-48 * time.Hour)})

	ctx := context.Background()
	if n, err := r.CleanupExpiredMenus(ctx, 1, 24*time.Hour); err != nil || n != 1 {
		t.Fatalf("first run = %d, %v", n, err)
	}
	before := st.deletes
	if n, err := r.CleanupExpiredMenus(ctx, 1, 24*time.Hour); err != nil || n != 0 {
		t.Fatalf("second run = %d, %v", n, err)
	}
	if st.deletes != before {
		t.Fatalf("second run performed %d deletions", st.deletes-before)
	}
}

func TestCleanupExpiredMenusMessageDeleteFails(t *testing.T) {
	t.Parallel()

	clk, st, del, r := setup(t)
	del.fail = true
	for i := 1; i <= 3; i++ {
		st.add(storage.Menu{SeasonID: 1, MessageID: i, CreatedAt: clk.Now().Add(-30 * time.Hour)})
	}

	n, err := r.CleanupExpiredMenus(context.Background(), 1, 24*time.Hour)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if n != 3 || st.count(1) != 0 {
		t.Fatalf("removed = %d remaining = %d", n, st.count(1))
	}
	if len(del.refs) != 3 {
		t.Fatalf("delete attempts = %d, want 3", len(del.refs))
	}
}

func TestCleanupExpiredMenusRowErrorsJoined(t *testing.T) {
	t.Parallel()

	clk, st, _, r := setup(t)
	rowErr := errors.New("database is locked")
	st.deleteErr[2] = rowErr
	for i := 1; i <= 3; i++ {
		st.add(storage.Menu{SeasonID: 1, MessageID: i, CreatedAt: clk.Now().Add(-30 * time.Hour)})
	}

	n, err := r.CleanupExpiredMenus(context.Background(), 1, 24*time.Hour)
	if !errors.Is(err, rowErr) {
		t.Fatalf("err = %v, want %v", err, rowErr)
	}
	if n != 2 || st.count(1) != 1 {
		t.Fatalf("removed = %d remaining = %d", n, st.count(1))
	}
}

func TestSweepAllUsesSeasonTTL(t *testing.T) {
	t.Parallel()

	clk, st, _, r := setup(t)
	now := clk.Now()
	st.add(storage.Menu{SeasonID: 1, MessageID: 10, CreatedAt: now.Add(-3 * time.Hour)})
	st.add(storage.Menu{SeasonID: 2, MessageID: 20, CreatedAt: now.Add(-3 * time.Hour)})

	r.invites.Add("a", invite.Invitation{})
	clk.Add(invite.DefaultTTL)
	r.invites.Add("b", invite.Invitation{})

	res, err := r.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	// Season 1 uses the 24h default, season 2 its own 2h.
	if res.Seasons != 2 || res.Menus != 2 || res.Invitations != 1 {
		t.Fatalf("result = %+v", res)
	}
	if st.count(1) != 0 || st.count(2) != 0 {
		t.Fatalf("remaining = %d/%d", st.count(1), st.count(2))
	}
	if _, ok := r.invites.Get("b"); !ok {
		t.Fatalf("fresh invitation was swept")
	}
}

func TestSweepAllSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "rally.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	id, err := db.SaveSeason(ctx, storage.Season{ChatID: -100, Name: "spring", Active: true})
	if err != nil {
		t.Fatalf("SaveSeason: %v", err)
	}

	clk := clock.NewFake()
	clk.Set(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	for i, age := range []time.Duration{30 * time.Hour, 25 * time.Hour, 2 * time.Hour} {
		m := storage.Menu{SeasonID: id, ChatID: -100, MessageID: 100 + i, MenuType: "poll", CreatedAt: clk.Now().Add(-age)}
		if err := db.InsertMenu(ctx, m); err != nil {
			t.Fatalf("InsertMenu: %v", err)
		}
	}

	del := &fakeDeleter{fail: true}
	r := New(Config{}, db, del, nil, clk, logx.Nop(), nil)
	res, err := r.SweepAll(ctx)
	if err != nil || res.Menus != 2 {
		t.Fatalf("SweepAll = %+v, %v", res, err)
	}
	res, err = r.SweepAll(ctx)
	if err != nil || res.Menus != 0 {
		t.Fatalf("second SweepAll = %+v, %v", res, err)
	}
	left, err := db.SelectExpiredMenus(ctx, id, clk.Now().Add(time.Hour))
	if err != nil || len(left) != 1 || left[0].MessageID != 102 {
		t.Fatalf("left = %+v, %v", left, err)
	}
}

func TestSweepAllReapsDeactivatedSeason(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "rally.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	clk := clock.NewFake()
	clk.Set(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	se := storage.Season{ChatID: -100, Name: "spring", Active: true}
	id, err := db.SaveSeason(ctx, se)
	if err != nil {
		t.Fatalf("SaveSeason: %v", err)
	}
	if err := db.InsertMenu(ctx, storage.Menu{SeasonID: id, ChatID: -100, MessageID: 7, MenuType: "poll", CreatedAt: clk.Now()}); err != nil {
		t.Fatalf("InsertMenu: %v", err)
	}

	// A new season in the chat retires the old one.
	se.ID = id
	se.Active = false
	if _, err := db.SaveSeason(ctx, se); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	clk.Add(72 * time.Hour)

	del := &fakeDeleter{}
	r := New(Config{}, db, del, nil, clk, logx.Nop(), nil)
	res, err := r.SweepAll(ctx)
	if err != nil || res.Seasons != 1 || res.Menus != 1 {
		t.Fatalf("SweepAll = %+v, %v", res, err)
	}
	if len(del.refs) != 1 || del.refs[0] != (transport.MessageRef{ChatID: -100, MessageID: 7}) {
		t.Fatalf("deleted refs = %+v", del.refs)
	}
	left, err := db.SelectExpiredMenus(ctx, id, clk.Now())
	if err != nil || len(left) != 0 {
		t.Fatalf("left = %+v, %v", left, err)
	}
	if seasons, _ := db.ListMenuSeasons(ctx); len(seasons) != 0 {
		t.Fatalf("menu seasons after sweep = %+v", seasons)
	}
}
