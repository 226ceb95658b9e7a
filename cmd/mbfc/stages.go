package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"mastodon-follower-network/internal/adapters/archive"
	"mastodon-follower-network/internal/adapters/mbfc"
	"mastodon-follower-network/internal/adapters/ndjson"
	"mastodon-follower-network/internal/adapters/repo"
	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/config"
	"mastodon-follower-network/internal/infra/db"
	"mastodon-follower-network/internal/infra/queue"
	"mastodon-follower-network/internal/usecase/dedup"
	"mastodon-follower-network/internal/usecase/followers"
	"mastodon-follower-network/internal/usecase/match"
	"mastodon-follower-network/internal/usecase/report"
	"mastodon-follower-network/internal/usecase/resolve"
	"mastodon-follower-network/internal/usecase/scan"
)

func (a *app) onBadLine(err *ndjson.LineError) {
	a.log.Warn().Err(err.Err).Str("file", err.Path).Int("line", err.Line).Msg("app: пропускаем некорректную строку")
}

// runScan ищет в архивах посты со ссылками на домены списка MBFC.
// countOnly только считает ссылки и ничего не пишет.
func runScan(ctx context.Context, a *app, countOnly bool) (domain.ScanStats, error) {
	if err := a.cfg.Validate(); err != nil {
		return domain.ScanStats{}, err
	}
	cells, err := mbfc.Load(a.cfg.MBFC.File, a.cfg.MBFC.Column)
	if err != nil {
		return domain.ScanStats{}, err
	}
	m, err := match.New(match.NewDomainSet(cells))
	if err != nil {
		return domain.ScanStats{}, fmt.Errorf("%s: %w", a.cfg.MBFC.File, err)
	}
	a.log.Info().Int("domains", m.Set().Len()).Msg("scan: список доменов загружен")

	st := &scan.Stage{
		Scanner:     scan.NewScanner(m, a.cfg.Scan.Workers, a.log),
		Ext:         a.cfg.Scan.ArchiveExt,
		Checkpoints: a.points,
		Log:         a.log,
	}
	if !countOnly {
		out, err := ndjson.Create(a.path(config.MatchedPostsFile))
		if err != nil {
			return domain.ScanStats{}, err
		}
		a.onClose(out.Close)
		st.Out = out
		if a.cfg.Scan.PerAuthor {
			authors, err := archive.NewAuthorWriter(a.authorsDir())
			if err != nil {
				return domain.ScanStats{}, err
			}
			st.Authors = authors
		}
	}
	return st.Run(ctx, a.cfg.ScanRoots())
}

// runResolve сопоставляет посты с аккаунтами на их домашних инстансах.
func runResolve(ctx context.Context, a *app) (domain.ResolveStats, error) {
	in := a.path(config.MatchedPostsFile)
	out, err := ndjson.Rewrite(a.path(config.ResolvedPostsFile))
	if err != nil {
		return domain.ResolveStats{}, err
	}
	r := resolve.NewResolver(a.mastodon(), a.cache, a.cfg.LookupTTL, a.log)
	each := func(fn func(domain.MatchedPost) error) error {
		return ndjson.Each(in, fn, a.onBadLine)
	}
	stats, err := r.Run(ctx, each, out)
	if err != nil {
		_ = out.Close()
		return stats, err
	}
	return stats, out.Commit()
}

// runDedup сворачивает разрешённые посты в уникальные аккаунты.
func runDedup(ctx context.Context, a *app) (domain.DedupStats, error) {
	in := a.path(config.ResolvedPostsFile)
	out, err := ndjson.Rewrite(a.path(config.AccountsFile))
	if err != nil {
		return domain.DedupStats{}, err
	}
	src := func(fn func(domain.ResolvedPost) error) error {
		return ndjson.Each(in, fn, a.onBadLine)
	}
	policy := dedup.Policy{MinCaptures: a.cfg.Dedup.MinCaptures, MinPosts: a.cfg.Dedup.MinPosts}
	stats, err := dedup.Deduplicate(ctx, src, policy, func(acc domain.ResolvedAccount) error {
		return out.Write(acc)
	})
	if err != nil {
		_ = out.Close()
		return stats, err
	}
	a.log.Info().
		Int64("posts", stats.Posts).
		Int64("keys", stats.Keys).
		Int64("accounts", stats.Accounts).
		Int("min_captures", policy.MinCaptures).
		Int("min_posts", policy.MinPosts).
		Msg("dedup: готово")
	return stats, out.Commit()
}

// runFollowers выгружает подписчиков уникальных аккаунтов.
func runFollowers(ctx context.Context, a *app) (domain.FollowerStats, error) {
	var accounts []domain.ResolvedAccount
	err := ndjson.Each(a.path(config.AccountsFile), func(acc domain.ResolvedAccount) error {
		accounts = append(accounts, acc)
		return nil
	}, a.onBadLine)
	if err != nil {
		return domain.FollowerStats{}, err
	}

	sink, err := a.followerSinks(ctx)
	if err != nil {
		return domain.FollowerStats{}, err
	}
	client := a.mastodon()
	st := &followers.Stage{
		Collector:    followers.NewCollector(client, a.cfg.Followers.PageSize, a.log),
		Sink:         sink,
		Checkpoints:  a.points,
		Workers:      a.cfg.Followers.Workers,
		MinFollowers: a.cfg.Followers.MinFollowers,
		Log:          a.log,
	}

	if !a.cfg.Followers.UseQueue {
		return st.Run(ctx, followers.Feed(ctx, accounts))
	}
	q, err := a.accountQueue()
	if err != nil {
		return domain.FollowerStats{}, err
	}
	// несколько процессов могут читать одну очередь
	st.Claims = a.cache
	st.ClaimTTL = a.cfg.Followers.ClaimTTL
	for _, acc := range accounts {
		if err := q.Enqueue(ctx, acc); err != nil {
			return domain.FollowerStats{}, err
		}
	}
	a.log.Info().Int("accounts", len(accounts)).Str("key", a.cfg.Followers.QueueKey).Msg("followers: аккаунты поставлены в очередь")

	ch := make(chan domain.ResolvedAccount, a.cfg.Followers.Workers)
	drainCtx, stopDrain := context.WithCancel(ctx)
	defer stopDrain()
	drained := make(chan error, 1)
	onBad := func(err error) {
		a.log.Warn().Err(err).Str("key", a.cfg.Followers.QueueKey).Msg("followers: пропускаем некорректное сообщение очереди")
	}
	go func() { drained <- queue.Drain(drainCtx, q, ch, onBad) }()
	stats, err := st.Run(ctx, ch)
	stopDrain()
	if drainErr := <-drained; drainErr != nil && !errors.Is(drainErr, context.Canceled) {
		err = errors.Join(err, drainErr)
	}
	return stats, err
}

// accountQueue выбирает очередь аккаунтов: RabbitMQ, если задан RABBITMQ_URL, иначе Redis.
func (a *app) accountQueue() (domain.AccountQueue, error) {
	const idleFor = 5 * time.Second
	if a.cfg.RabbitURL != "" {
		q, err := queue.NewRabbitAccountQueue(a.cfg.RabbitURL, a.cfg.Followers.QueueKey, idleFor)
		if err != nil {
			return nil, err
		}
		a.onClose(q.Close)
		return q, nil
	}
	if a.redis == nil {
		return nil, errors.New("очередь аккаунтов требует RABBITMQ_URL или REDIS_ADDR")
	}
	return queue.NewRedisAccountQueue(a.redis, a.cfg.Followers.QueueKey, idleFor), nil
}

// followerSinks собирает приёмники результата: файл и, если заданы, SQLite и Postgres.
func (a *app) followerSinks(ctx context.Context) (domain.FollowerSink, error) {
	out, err := ndjson.Create(a.path(config.FollowersFile))
	if err != nil {
		return nil, err
	}
	a.onClose(out.Close)
	sinks := repo.MultiSink{repo.NewFileSink(out)}

	if a.cfg.SQLitePath != "" {
		sqlDB, err := db.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.onClose(sqlDB.Close)
		store := repo.NewSQLite(sqlDB)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
		sinks = append(sinks, store)
	}
	if a.cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, a.cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { pool.Close(); return nil })
		store := repo.NewPostgres(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		sinks = append(sinks, store)
	}
	return sinks, nil
}

// runReport строит сводку по аудитории из SQLite, если она задана, иначе из followers.ndjson.
func runReport(ctx context.Context, a *app, topN int) (report.Report, error) {
	var src report.Source
	if a.cfg.SQLitePath != "" {
		sqlDB, err := db.OpenSQLite(a.cfg.SQLitePath)
		if err != nil {
			return report.Report{}, err
		}
		a.onClose(sqlDB.Close)
		store := repo.NewSQLite(sqlDB)
		src = func(fn func(domain.AccountFollowers) error) error {
			return store.EachFollowers(ctx, fn)
		}
	} else {
		path := a.path(config.FollowersFile)
		src = func(fn func(domain.AccountFollowers) error) error {
			return ndjson.Each(path, fn, a.onBadLine)
		}
	}
	r, err := report.Build(src, topN)
	if err != nil {
		return r, err
	}
	r.Render(os.Stdout)
	return r, nil
}
