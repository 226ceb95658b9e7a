package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

// Postgres хранит аккаунты и их подписчиков в Postgres. Запись идемпотентна по AuthorKey.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.FollowerSink = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 10*time.Second)
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS mbfc_accounts (
	instance              text        NOT NULL,
	home_acc_id           text        NOT NULL,
	username              text        NOT NULL DEFAULT '',
	acct                  text        NOT NULL DEFAULT '',
	acc_url               text        NOT NULL DEFAULT '',
	post_count            integer     NOT NULL DEFAULT 0,
	followers_count       bigint      NOT NULL DEFAULT 0,
	account               jsonb       NOT NULL,
	total_followers_count integer     NOT NULL DEFAULT 0,
	followers_complete    boolean     NOT NULL DEFAULT false,
	collected_at          timestamptz NOT NULL,
	PRIMARY KEY (instance, home_acc_id)
);
CREATE TABLE IF NOT EXISTS mbfc_followers (
	instance    text    NOT NULL,
	home_acc_id text    NOT NULL,
	position    integer NOT NULL,
	follower_id text    NOT NULL,
	follower    jsonb   NOT NULL,
	PRIMARY KEY (instance, home_acc_id, position),
	FOREIGN KEY (instance, home_acc_id) REFERENCES mbfc_accounts (instance, home_acc_id) ON DELETE CASCADE
);`

// EnsureSchema создаёт таблицы, если их ещё нет.
func (p *Postgres) EnsureSchema(ctx context.Context) (err error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()
	start := time.Now()
	_, err = p.pool.Exec(ctx, pgSchema)
	metrics.ObserveNetworkRequest("postgres", "ensure_schema", "mbfc_accounts", start, err)
	return err
}

// SaveFollowers реализует domain.FollowerSink: заменяет аккаунт и его подписчиков целиком.
func (p *Postgres) SaveFollowers(ctx context.Context, rec domain.AccountFollowers) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	account, err := json.Marshal(rec.Account)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "mbfc_accounts", start, err)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	_, err = tx.Exec(ctx, `
INSERT INTO mbfc_accounts (instance, home_acc_id, username, acct, acc_url, post_count, followers_count, account, total_followers_count, followers_complete, collected_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (instance, home_acc_id) DO UPDATE SET username = EXCLUDED.username, acct = EXCLUDED.acct, acc_url = EXCLUDED.acc_url, post_count = EXCLUDED.post_count, followers_count = EXCLUDED.followers_count, account = EXCLUDED.account, total_followers_count = EXCLUDED.total_followers_count, followers_complete = EXCLUDED.followers_complete, collected_at = EXCLUDED.collected_at
`, rec.Instance, string(rec.HomeAccountID), rec.Username, rec.Acct, rec.AccountURL, rec.PostCount, rec.Account.FollowersCount, account, rec.TotalFollowersCount, rec.Complete, rec.CollectedAt)
	metrics.ObserveNetworkRequest("postgres", "accounts_upsert", "mbfc_accounts", start, err)
	if err != nil {
		return err
	}

	start = time.Now()
	_, err = tx.Exec(ctx, `DELETE FROM mbfc_followers WHERE instance = $1 AND home_acc_id = $2`, rec.Instance, string(rec.HomeAccountID))
	metrics.ObserveNetworkRequest("postgres", "followers_delete", "mbfc_followers", start, err)
	if err != nil {
		return err
	}

	if len(rec.Followers) > 0 {
		rows := make([][]any, 0, len(rec.Followers))
		for i, f := range rec.Followers {
			raw, err := json.Marshal(f)
			if err != nil {
				return fmt.Errorf("marshal follower: %w", err)
			}
			rows = append(rows, []any{rec.Instance, string(rec.HomeAccountID), i, string(f.ID), raw})
		}
		start = time.Now()
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"mbfc_followers"},
			[]string{"instance", "home_acc_id", "position", "follower_id", "follower"},
			pgx.CopyFromRows(rows),
		)
		metrics.ObserveNetworkRequest("postgres", "followers_copy", "mbfc_followers", start, err)
		if err != nil {
			return err
		}
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit", "mbfc_accounts", start, err)
	return err
}
