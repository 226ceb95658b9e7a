package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"mastodon-follower-network/internal/domain"
)

// SQLite — встроенный аналог хранилища Postgres для запуска без сервера БД.
type SQLite struct {
	db *sql.DB
}

var _ domain.FollowerSink = (*SQLite)(nil)

// NewSQLite создаёт адаптер.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS mbfc_accounts (
	instance              TEXT    NOT NULL,
	home_acc_id           TEXT    NOT NULL,
	username              TEXT    NOT NULL DEFAULT '',
	acct                  TEXT    NOT NULL DEFAULT '',
	acc_url               TEXT    NOT NULL DEFAULT '',
	post_count            INTEGER NOT NULL DEFAULT 0,
	followers_count       INTEGER NOT NULL DEFAULT 0,
	account               TEXT    NOT NULL,
	total_followers_count INTEGER NOT NULL DEFAULT 0,
	followers_complete    INTEGER NOT NULL DEFAULT 0,
	collected_at          TEXT    NOT NULL,
	PRIMARY KEY (instance, home_acc_id)
);
CREATE TABLE IF NOT EXISTS mbfc_followers (
	instance    TEXT    NOT NULL,
	home_acc_id TEXT    NOT NULL,
	position    INTEGER NOT NULL,
	follower_id TEXT    NOT NULL,
	follower    TEXT    NOT NULL,
	PRIMARY KEY (instance, home_acc_id, position)
);`

// EnsureSchema создаёт таблицы, если их ещё нет.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// SaveFollowers реализует domain.FollowerSink.
func (s *SQLite) SaveFollowers(ctx context.Context, rec domain.AccountFollowers) error {
	account, err := json.Marshal(rec.Account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO mbfc_accounts (instance, home_acc_id, username, acct, acc_url, post_count, followers_count, account, total_followers_count, followers_complete, collected_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (instance, home_acc_id) DO UPDATE SET username = excluded.username, acct = excluded.acct, acc_url = excluded.acc_url, post_count = excluded.post_count, followers_count = excluded.followers_count, account = excluded.account, total_followers_count = excluded.total_followers_count, followers_complete = excluded.followers_complete, collected_at = excluded.collected_at
`, rec.Instance, string(rec.HomeAccountID), rec.Username, rec.Acct, rec.AccountURL, rec.PostCount, rec.Account.FollowersCount, string(account), rec.TotalFollowersCount, rec.Complete, rec.CollectedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mbfc_followers WHERE instance = ? AND home_acc_id = ?`, rec.Instance, string(rec.HomeAccountID)); err != nil {
		return fmt.Errorf("delete followers: %w", err)
	}
	if len(rec.Followers) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO mbfc_followers (instance, home_acc_id, position, follower_id, follower) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare followers: %w", err)
		}
		defer stmt.Close()
		for i, f := range rec.Followers {
			raw, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal follower: %w", err)
			}
			if _, err := stmt.ExecContext(ctx, rec.Instance, string(rec.HomeAccountID), i, string(f.ID), string(raw)); err != nil {
				return fmt.Errorf("insert follower: %w", err)
			}
		}
	}
	return tx.Commit()
}

// EachFollowers перечисляет сохранённые аккаунты с подписчиками в порядке ключа.
func (s *SQLite) EachFollowers(ctx context.Context, fn func(domain.AccountFollowers) error) error {
	rows, err := s.db.QueryContext(ctx, `
SELECT instance, home_acc_id, username, acct, acc_url, post_count, account, total_followers_count, followers_complete, collected_at
FROM mbfc_accounts ORDER BY instance, home_acc_id`)
	if err != nil {
		return err
	}
	var recs []domain.AccountFollowers
	for rows.Next() {
		var (
			rec       domain.AccountFollowers
			homeID    string
			account   string
			collected string
		)
		if err := rows.Scan(&rec.Instance, &homeID, &rec.Username, &rec.Acct, &rec.AccountURL, &rec.PostCount, &account, &rec.TotalFollowersCount, &rec.Complete, &collected); err != nil {
			_ = rows.Close()
			return err
		}
		rec.HomeAccountID = domain.ID(homeID)
		if err := json.Unmarshal([]byte(account), &rec.Account); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode account %s/%s: %w", rec.Instance, homeID, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, collected); err == nil {
			rec.CollectedAt = ts
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	// подписчики читаются после закрытия курсора: соединение у sqlite одно
	for i := range recs {
		list, err := s.followers(ctx, recs[i].Instance, recs[i].HomeAccountID)
		if err != nil {
			return err
		}
		recs[i].Followers = list
		if err := fn(recs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) followers(ctx context.Context, instance string, id domain.ID) ([]domain.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT follower FROM mbfc_followers WHERE instance = ? AND home_acc_id = ? ORDER BY position`, instance, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []domain.Account{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var acc domain.Account
		if err := json.Unmarshal([]byte(raw), &acc); err != nil {
			return nil, fmt.Errorf("decode follower: %w", err)
		}
		list = append(list, acc)
	}
	return list, rows.Err()
}
