package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	logx "rallybot/pkg/logx"
)

//go:embed migrations_pg.sql
var postgresMigrations string

// pgxConn is the subset of *pgxpool.Pool the store uses. Tests substitute pgxmock.
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type postgresStore struct {
	db  pgxConn
	log logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (*postgresStore, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresMigrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Debug("postgres store opened")
	return &postgresStore{db: pool, log: log}, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	s.db.Close()
	return nil
}

func (s *postgresStore) ListActiveSeasons(ctx context.Context) ([]Season, error) {
	return s.querySeasons(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE active ORDER BY id`)
}

func (s *postgresStore) ListMenuSeasons(ctx context.Context) ([]Season, error) {
	return s.querySeasons(ctx, `SELECT `+seasonColumns+` FROM seasons
		WHERE id IN (SELECT DISTINCT season_id FROM active_menus) ORDER BY id`)
}

func (s *postgresStore) querySeasons(ctx context.Context, query string) ([]Season, error) {
	rows, err := s.db.Query(ctx, query)
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

func (s *postgresStore) GetSeason(ctx context.Context, id int64) (Season, error) {
	se, err := scanSeason(s.db.QueryRow(ctx, `SELECT `+seasonColumns+` FROM seasons WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Season{}, fmt.Errorf("season %d: %w", id, ErrNotFound)
	}
	return se, err
}

func (s *postgresStore) SaveSeason(ctx context.Context, se Season) (int64, error) {
	if se.ID == 0 {
		var id int64
		err := s.db.QueryRow(ctx,
			`INSERT INTO seasons(chat_id, thread_id, name, group_type, active,
				poll_day, poll_time, poll_reminder_offset_hours,
				match_day, match_time, match_day_reminder_offset_hours, menu_ttl_hours)
			 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
			se.ChatID, se.ThreadID, se.Name, se.GroupType, se.Active,
			se.PollDay, se.PollTime, se.PollReminderOffsetHours,
			se.MatchDay, se.MatchTime, se.MatchDayReminderOffsetHours, se.MenuTTLHours,
		).Scan(&id)
		return id, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE seasons SET chat_id=$1, thread_id=$2, name=$3, group_type=$4, active=$5,
			poll_day=$6, poll_time=$7, poll_reminder_offset_hours=$8,
			match_day=$9, match_time=$10, match_day_reminder_offset_hours=$11, menu_ttl_hours=$12
		 WHERE id=$13`,
		se.ChatID, se.ThreadID, se.Name, se.GroupType, se.Active,
		se.PollDay, se.PollTime, se.PollReminderOffsetHours,
		se.MatchDay, se.MatchTime, se.MatchDayReminderOffsetHours, se.MenuTTLHours,
		se.ID,
	)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("season %d: %w", se.ID, ErrNotFound)
	}
	return se.ID, nil
}

func (s *postgresStore) InsertMenu(ctx context.Context, m Menu) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO active_menus(season_id, chat_id, user_id, menu_type, message_id, week_number, year, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT(season_id, message_id) DO UPDATE SET
			menu_type=excluded.menu_type, week_number=excluded.week_number,
			year=excluded.year, created_at=excluded.created_at`,
		m.SeasonID, m.ChatID, m.UserID, m.MenuType, m.MessageID, m.WeekNumber, m.Year, m.CreatedAt,
	)
	return err
}

func (s *postgresStore) SelectExpiredMenus(ctx context.Context, seasonID int64, cutoff time.Time) ([]Menu, error) {
	rows, err := s.db.Query(ctx,
		`SELECT season_id, chat_id, user_id, menu_type, message_id, week_number, year, created_at
		 FROM active_menus WHERE season_id = $1 AND created_at < $2 ORDER BY created_at`,
		seasonID, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Menu
	for rows.Next() {
		var m Menu
		if err := rows.Scan(&m.SeasonID, &m.ChatID, &m.UserID, &m.MenuType, &m.MessageID, &m.WeekNumber, &m.Year, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteMenu(ctx context.Context, seasonID int64, messageID int) error {
	_, err := s.db.Exec(ctx, `DELETE FROM active_menus WHERE season_id = $1 AND message_id = $2`, seasonID, messageID)
	return err
}
