package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Zeffuro/fakegaming-bot-sub003/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) HasNotification(ctx context.Context, provider, eventID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM notifications WHERE provider = ? AND event_id = ?`,
		provider, eventID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordNotification inserts the dedup row. A second insert for the same
// (provider, event_id) pair is not an error: it returns created=false, which
// is how concurrent pollers stay safe.
func (s *sqliteStore) RecordNotification(ctx context.Context, n Notification) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications(provider, event_id, guild_id, chat_id, message_id, created_at)
		 VALUES(?,?,?,?,?,?)`,
		n.Provider, n.EventID, nullStr(n.GuildID), n.ChatID, n.MessageID,
		n.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *sqliteStore) InsertSubscription(ctx context.Context, sub Subscription) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	var last any
	if !sub.LastNotifiedAt.IsZero() {
		last = sub.LastNotifiedAt.Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(provider, external_id, guild_id, chat_id, thread_id,
		        cooldown_minutes, quiet_hours_start, quiet_hours_end, last_notified_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		sub.Provider, sub.ExternalID, nullStr(sub.GuildID), sub.ChatID, sub.ThreadID,
		sub.CooldownMinutes, nullStr(sub.QuietHoursStart), nullStr(sub.QuietHoursEnd), last,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) ListSubscriptions(ctx context.Context, provider string) ([]Subscription, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, provider, external_id, COALESCE(guild_id, ''), chat_id, thread_id,
		        COALESCE(cooldown_minutes, 0), COALESCE(quiet_hours_start, ''),
		        COALESCE(quiet_hours_end, ''), COALESCE(last_notified_at, '')
		 FROM subscriptions WHERE provider = ? ORDER BY id`,
		provider,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		var sub Subscription
		var last string
		if err := rows.Scan(&sub.ID, &sub.Provider, &sub.ExternalID, &sub.GuildID,
			&sub.ChatID, &sub.ThreadID, &sub.CooldownMinutes,
			&sub.QuietHoursStart, &sub.QuietHoursEnd, &last); err != nil {
			return nil, err
		}
		if last != "" {
			if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
				sub.LastNotifiedAt = t
			}
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateLastNotified(ctx context.Context, subID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_notified_at = ? WHERE id = ?`,
		at.Format(time.RFC3339Nano), subID,
	)
	return err
}

func (s *sqliteStore) AppendJobRun(ctx context.Context, r JobRun) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	now := time.Now().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_runs(name, started_at, finished_at, ok, meta, error, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.Name, r.StartedAt.Format(time.RFC3339Nano), r.FinishedAt.Format(time.RFC3339Nano),
		boolInt(r.OK), nullStr(r.MetaJSON), nullStr(r.Error), now, now,
	)
	return err
}

func (s *sqliteStore) ListJobRuns(ctx context.Context, name string, limit int) ([]JobRun, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, name, started_at, finished_at, ok, COALESCE(meta, ''), COALESCE(error, '')
	          FROM job_runs`
	args := []any{}
	if strings.TrimSpace(name) != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobRun
	for rows.Next() {
		var r JobRun
		var started, finished string
		var ok int
		if err := rows.Scan(&r.ID, &r.Name, &started, &finished, &ok, &r.MetaJSON, &r.Error); err != nil {
			return nil, err
		}
		r.OK = ok != 0
		if t, err := time.Parse(time.RFC3339Nano, started); err == nil {
			r.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finished); err == nil {
			r.FinishedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteJobRunsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_runs WHERE started_at < ?`,
		cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
