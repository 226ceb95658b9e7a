package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

// Способы определения домашнего id.
const (
	SourceLocal  = "local"
	SourceCache  = "cache"
	SourceLookup = "lookup"
)

// Resolver привязывает пост к аккаунту на домашнем инстансе автора.
type Resolver struct {
	lookup domain.AccountLookup
	cache  domain.Cache
	ttl    time.Duration
	log    zerolog.Logger
}

// NewResolver создаёт резолвер. cache может быть nil.
func NewResolver(lookup domain.AccountLookup, cache domain.Cache, ttl time.Duration, logger zerolog.Logger) *Resolver {
	return &Resolver{lookup: lookup, cache: cache, ttl: ttl, log: logger}
}

func lookupKey(instance, username string) string {
	return fmt.Sprintf("lookup:%s:%s", instance, username)
}

// ResolveMatch разрешает результат сканирования без промежуточной записи.
func (r *Resolver) ResolveMatch(ctx context.Context, m domain.MatchResult) (domain.ResolvedPost, string, error) {
	return r.Resolve(ctx, m.Record())
}

// Resolve определяет AuthorKey поста. Если пост снят с домашнего инстанса автора,
// id берётся из самого поста; иначе аккаунт ищется на его инстансе.
// Вторым значением возвращается способ определения: SourceLocal, SourceCache или SourceLookup.
func (r *Resolver) Resolve(ctx context.Context, rec domain.MatchedPost) (domain.ResolvedPost, string, error) {
	instance, username, err := domain.ParseAccountURL(rec.AccountURL)
	if err != nil {
		return domain.ResolvedPost{}, "", err
	}
	out := domain.ResolvedPost{
		AuthorKey:  domain.AuthorKey{Instance: instance},
		PostID:     rec.PostID,
		Username:   username,
		Acct:       username + "@" + instance,
		AccountURL: rec.AccountURL,
		Account:    rec.Account,
		SourceFile: rec.SourceFile,
	}

	if instance == rec.SourceInstance {
		if rec.Account.ID == "" {
			return domain.ResolvedPost{}, "", fmt.Errorf("%w: account without id", domain.ErrMissingContent)
		}
		out.HomeAccountID = rec.Account.ID
		return out, SourceLocal, nil
	}

	acc, source, err := r.home(ctx, instance, username)
	if err != nil {
		return domain.ResolvedPost{}, "", err
	}
	out.HomeAccountID = acc.ID
	out.Account = acc
	return out, source, nil
}

func (r *Resolver) home(ctx context.Context, instance, username string) (domain.Account, string, error) {
	key := lookupKey(instance, username)
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, key)
		switch {
		case err == nil:
			var acc domain.Account
			if jsonErr := json.Unmarshal(raw, &acc); jsonErr == nil && acc.ID != "" {
				return acc, SourceCache, nil
			}
		case !errors.Is(err, domain.ErrCacheMiss):
			r.log.Warn().Err(err).Str("key", key).Msg("resolve: кеш недоступен")
		}
	}

	acc, err := r.lookup.LookupAccount(ctx, instance, username)
	if err != nil {
		return domain.Account{}, "", fmt.Errorf("%w: %s@%s: %w", domain.ErrLookupFailed, username, instance, err)
	}
	if acc.ID == "" {
		return domain.Account{}, "", fmt.Errorf("%w: %s@%s: empty id", domain.ErrLookupFailed, username, instance)
	}
	if r.cache != nil {
		if raw, err := json.Marshal(acc); err == nil {
			if err := r.cache.Set(ctx, key, raw, r.ttl); err != nil {
				r.log.Warn().Err(err).Str("key", key).Msg("resolve: не удалось сохранить в кеш")
			}
		}
	}
	return acc, SourceLookup, nil
}

// RecordWriter сохраняет записи этапа.
type RecordWriter interface {
	Write(v any) error
}

// Run разрешает посты по одному, по порядку. Ошибки отдельных постов логируются и не прерывают этап.
func (r *Resolver) Run(ctx context.Context, each func(fn func(domain.MatchedPost) error) error, out RecordWriter) (domain.ResolveStats, error) {
	var stats domain.ResolveStats
	err := each(func(rec domain.MatchedPost) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Posts++
		res, source, err := r.Resolve(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.Failures++
			metrics.PostsResolved.WithLabelValues("failed").Inc()
			r.log.Warn().Err(err).
				Str("post_id", string(rec.PostID)).
				Str("acc_url", rec.AccountURL).
				Str("file", rec.SourceFile).
				Msg("resolve: пост пропущен")
			return nil
		}
		switch source {
		case SourceLocal:
			stats.Local++
		case SourceCache:
			stats.Cached++
		case SourceLookup:
			stats.Lookups++
		}
		metrics.PostsResolved.WithLabelValues(source).Inc()
		return out.Write(res)
	})
	r.log.Info().
		Int64("posts", stats.Posts).
		Int64("local", stats.Local).
		Int64("cached", stats.Cached).
		Int64("lookups", stats.Lookups).
		Int64("failures", stats.Failures).
		Msg("resolve: итого")
	return stats, err
}
