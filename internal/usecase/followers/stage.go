package followers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

// Stage — этап выгрузки подписчиков: пул воркеров и один писатель результатов.
type Stage struct {
	Collector    *Collector
	Sink         domain.FollowerSink
	Checkpoints  domain.Checkpoints
	Workers      int
	MinFollowers int64
	Log          zerolog.Logger
	// Claims, если задан, не даёт двум процессам с общей очередью выгружать один аккаунт.
	Claims   domain.Cache
	ClaimTTL time.Duration

	now func() time.Time
}

// errRetryLater снимает захват аккаунта, выгрузка которого прервалась временным сбоем.
var errRetryLater = errors.New("followers: retry later")

type outcome struct {
	rec      domain.AccountFollowers
	err      error
	terminal bool
}

// Run обрабатывает аккаунты из канала accounts, пока он не закроется или не отменится ctx.
// Начатые аккаунты дозагружаются и сохраняются и после отмены.
// После первой ошибки записи новые аккаунты не берутся.
func (s *Stage) Run(ctx context.Context, accounts <-chan domain.ResolvedAccount) (domain.FollowerStats, error) {
	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	now := s.now
	if now == nil {
		now = time.Now
	}
	var stats domain.FollowerStats
	var skipped atomic.Int64
	// начатая работа и запись не прерываются отменой ctx
	work := context.WithoutCancel(ctx)
	stop, halt := context.WithCancel(ctx)
	defer halt()

	results := make(chan outcome, workers)
	g := new(errgroup.Group)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				if stop.Err() != nil {
					return nil
				}
				var acc domain.ResolvedAccount
				var ok bool
				select {
				case <-stop.Done():
					return nil
				case acc, ok = <-accounts:
					if !ok {
						return nil
					}
				}
				if s.skip(work, acc) {
					skipped.Add(1)
					continue
				}
				if !s.claim(work, acc, func() outcome { return s.collect(work, acc, now) }, results) {
					skipped.Add(1)
				}
			}
		})
	}

	writeErr := make(chan error, 1)
	go func() {
		var firstErr error
		for res := range results {
			if firstErr != nil {
				continue
			}
			if err := s.persist(work, res, &stats); err != nil {
				firstErr = err
				halt()
				s.Log.Error().Err(err).Msg("followers: запись не удалась, новые аккаунты не берём")
			}
		}
		writeErr <- firstErr
	}()

	_ = g.Wait()
	close(results)
	err := <-writeErr
	stats.Skipped = skipped.Load()

	s.Log.Info().
		Int64("accounts", stats.Accounts).
		Int64("skipped", stats.Skipped).
		Int64("complete", stats.Complete).
		Int64("incomplete", stats.Incomplete).
		Int64("followers", stats.Followers).
		Msg("followers: итого")
	if err != nil {
		return stats, err
	}
	return stats, ctx.Err()
}

// claim выгружает аккаунт под захватом в Claims и отправляет результат в results.
// Возвращает false, если аккаунт уже взят другим воркером.
func (s *Stage) claim(ctx context.Context, acc domain.ResolvedAccount, collect func() outcome, results chan<- outcome) bool {
	if s.Claims == nil {
		results <- collect()
		return true
	}
	key := acc.AuthorKey.String()
	ttl := s.ClaimTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	ran := false
	err := s.Claims.Once(ctx, "claim:followers:"+key, ttl, func() error {
		ran = true
		res := collect()
		results <- res
		if res.rec.Complete || res.terminal {
			return nil
		}
		return errRetryLater
	})
	if ran {
		return true
	}
	if err != nil {
		s.Log.Warn().Err(err).Str("account", key).Msg("followers: захват недоступен, выгружаем без него")
		results <- collect()
		return true
	}
	s.Log.Debug().Str("account", key).Msg("followers: аккаунт уже взят другим воркером")
	metrics.FollowerAccounts.WithLabelValues("claimed").Inc()
	return false
}

func (s *Stage) skip(ctx context.Context, acc domain.ResolvedAccount) bool {
	if acc.Account.FollowersCount < s.MinFollowers {
		s.Log.Debug().Str("account", acc.AuthorKey.String()).Int64("followers_count", acc.Account.FollowersCount).Msg("followers: меньше порога, пропускаем")
		metrics.FollowerAccounts.WithLabelValues("below_threshold").Inc()
		return true
	}
	if s.Checkpoints == nil {
		return false
	}
	done, err := s.Checkpoints.Done(ctx, string(domain.StageFollowers), acc.AuthorKey.String())
	if err != nil {
		s.Log.Warn().Err(err).Str("account", acc.AuthorKey.String()).Msg("followers: чекпоинт недоступен")
		return false
	}
	if done {
		metrics.FollowerAccounts.WithLabelValues("checkpointed").Inc()
	}
	return done
}

func (s *Stage) collect(ctx context.Context, acc domain.ResolvedAccount, now func() time.Time) outcome {
	list, err := s.Collector.Collect(ctx, acc.Instance, acc.HomeAccountID)
	if list == nil {
		list = []domain.Account{}
	}
	res := outcome{
		rec: domain.AccountFollowers{
			ResolvedAccount:     acc,
			Followers:           list,
			TotalFollowersCount: len(list),
			Complete:            err == nil,
			CollectedAt:         now().UTC(),
		},
		err: err,
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && !apiErr.Retryable() {
		res.terminal = true
	}
	return res
}

func (s *Stage) persist(ctx context.Context, res outcome, stats *domain.FollowerStats) error {
	rec := res.rec
	key := rec.AuthorKey.String()
	stats.Accounts++
	stats.Followers += int64(rec.TotalFollowersCount)
	if rec.Complete {
		stats.Complete++
		metrics.FollowerAccounts.WithLabelValues("complete").Inc()
	} else {
		stats.Incomplete++
		metrics.FollowerAccounts.WithLabelValues("incomplete").Inc()
		s.Log.Warn().Err(res.err).
			Str("account", key).
			Str("acc_url", rec.AccountURL).
			Int("fetched", rec.TotalFollowersCount).
			Bool("terminal", res.terminal).
			Msg("followers: выгрузка не завершена")
	}

	if err := s.Sink.SaveFollowers(ctx, rec); err != nil {
		return err
	}
	// временные сбои не отмечаются, чтобы следующий запуск повторил аккаунт
	if s.Checkpoints != nil && (rec.Complete || res.terminal) {
		if err := s.Checkpoints.Mark(ctx, string(domain.StageFollowers), key); err != nil {
			s.Log.Error().Err(err).Str("account", key).Msg("followers: не удалось сохранить чекпоинт")
		}
	}
	s.Log.Info().Str("account", key).Int("followers", rec.TotalFollowersCount).Bool("complete", rec.Complete).Msg("followers: аккаунт сохранён")
	return nil
}

// Feed отправляет аккаунты в канал и закрывает его. Останавливается при отмене ctx.
func Feed(ctx context.Context, accounts []domain.ResolvedAccount) <-chan domain.ResolvedAccount {
	out := make(chan domain.ResolvedAccount)
	go func() {
		defer close(out)
		for _, acc := range accounts {
			select {
			case out <- acc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
