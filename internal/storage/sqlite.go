package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "rallybot/pkg/logx"
)

//go:embed migrations.sql
var sqliteMigrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

const seasonColumns = `id, chat_id, thread_id, name, group_type, active,
	poll_day, poll_time, poll_reminder_offset_hours,
	match_day, match_time, match_day_reminder_offset_hours, menu_ttl_hours`

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (*sqliteStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite is a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) ListActiveSeasons(ctx context.Context) ([]Season, error) {
	return s.querySeasons(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE active = 1 ORDER BY id`)
}

func (s *sqliteStore) ListMenuSeasons(ctx context.Context) ([]Season, error) {
	return s.querySeasons(ctx, `SELECT `+seasonColumns+` FROM seasons
		WHERE id IN (SELECT DISTINCT season_id FROM active_menus) ORDER BY id`)
}

func (s *sqliteStore) querySeasons(ctx context.Context, query string) ([]Season, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Season
	for rows.Next() {
		se, err := scanSeason(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, se)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetSeason(ctx context.Context, id int64) (Season, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE id = ?`, id)
	se, err := scanSeason(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Season{}, fmt.Errorf("season %d: %w", id, ErrNotFound)
	}
	return se, err
}

func (s *sqliteStore) SaveSeason(ctx context.Context, se Season) (int64, error) {
	if se.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO seasons(chat_id, thread_id, name, group_type, active,
				poll_day, poll_time, poll_reminder_offset_hours,
				match_day, match_time, match_day_reminder_offset_hours, menu_ttl_hours)
			 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			se.ChatID, se.ThreadID, se.Name, se.GroupType, se.Active,
			se.PollDay, se.PollTime, se.PollReminderOffsetHours,
			se.MatchDay, se.MatchTime, se.MatchDayReminderOffsetHours, se.MenuTTLHours,
		)
		if err != nil {
			return 0, err
		}
		return res.LastInsertId()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE seasons SET chat_id=?, thread_id=?, name=?, group_type=?, active=?,
			poll_day=?, poll_time=?, poll_reminder_offset_hours=?,
			match_day=?, match_time=?, match_day_reminder_offset_hours=?, menu_ttl_hours=?
		 WHERE id=?`,
		se.ChatID, se.ThreadID, se.Name, se.GroupType, se.Active,
		se.PollDay, se.PollTime, se.PollReminderOffsetHours,
		se.MatchDay, se.MatchTime, se.MatchDayReminderOffsetHours, se.MenuTTLHours,
		se.ID,
	)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("season %d: %w", se.ID, ErrNotFound)
	}
	return se.ID, nil
}

func (s *sqliteStore) InsertMenu(ctx context.Context, m Menu) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO active_menus(season_id, chat_id, user_id, menu_type, message_id, week_number, year, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(season_id, message_id) DO UPDATE SET
			menu_type=excluded.menu_type, week_number=excluded.week_number,
			year=excluded.year, created_at=excluded.created_at`,
		m.SeasonID, m.ChatID, m.UserID, m.MenuType, m.MessageID, m.WeekNumber, m.Year, m.CreatedAt.Unix(),
	)
	return err
}

func (s *sqliteStore) SelectExpiredMenus(ctx context.Context, seasonID int64, cutoff time.Time) ([]Menu, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT season_id, chat_id, user_id, menu_type, message_id, week_number, year, created_at
		 FROM active_menus WHERE season_id = ? AND created_at < ? ORDER BY created_at`,
		seasonID, cutoff.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Menu
	for rows.Next() {
		var m Menu
		var created int64
		if err := rows.Scan(&m.SeasonID, &m.ChatID, &m.UserID, &m.MenuType, &m.MessageID, &m.WeekNumber, &m.Year, &created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.Unix(created, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteMenu(ctx context.Context, seasonID int64, messageID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM active_menus WHERE season_id = ? AND message_id = ?`, seasonID, messageID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeason(r rowScanner) (Season, error) {
	var se Season
	err := r.Scan(&se.ID, &se.ChatID, &se.ThreadID, &se.Name, &se.GroupType, &se.Active,
		&se.PollDay, &se.PollTime, &se.PollReminderOffsetHours,
		&se.MatchDay, &se.MatchTime, &se.MatchDayReminderOffsetHours, &se.MenuTTLHours)
	return se, err
}
