package dedup

import (
	"context"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

// Policy задаёт, какие аккаунты попадают в выборку.
type Policy struct {
	// MinCaptures — сколько раз пост должен встретиться в архивах, чтобы учитываться.
	// Значение 2 повторяет исходное правило «пост снят более одного раза».
	MinCaptures int
	// MinPosts — минимум учтённых различных постов у аккаунта.
	MinPosts int
}

// DefaultPolicy учитывает каждый пост и каждый аккаунт.
var DefaultPolicy = Policy{MinCaptures: 1, MinPosts: 1}

// Source перечисляет записи этапа разрешения. Вызывается дважды и должен
// каждый раз отдавать одну и ту же последовательность.
type Source func(fn func(domain.ResolvedPost) error) error

// FromSlice оборачивает срез в Source.
func FromSlice(records []domain.ResolvedPost) Source {
	return func(fn func(domain.ResolvedPost) error) error {
		for _, rec := range records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	}
}

type postKey struct {
	domain.AuthorKey
	PostID domain.ID
}

// Deduplicate считает посты по (instance, home_acc_id, post_id) первым проходом и
// вторым проходом отдаёт по одной записи на AuthorKey в порядке первого появления.
func Deduplicate(ctx context.Context, src Source, p Policy, emit func(domain.ResolvedAccount) error) (domain.DedupStats, error) {
	if p.MinCaptures < 1 {
		p.MinCaptures = 1
	}
	if p.MinPosts < 1 {
		p.MinPosts = 1
	}
	var stats domain.DedupStats

	captures := make(map[postKey]int)
	err := src(func(rec domain.ResolvedPost) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Instance == "" || rec.HomeAccountID == "" {
			return nil
		}
		stats.Posts++
		captures[postKey{AuthorKey: rec.AuthorKey, PostID: rec.PostID}]++
		return nil
	})
	if err != nil {
		return stats, err
	}
	stats.Keys = int64(len(captures))

	posts := make(map[domain.AuthorKey]int)
	for k, n := range captures {
		if n >= p.MinCaptures {
			posts[k.AuthorKey]++
		}
	}

	emitted := make(map[domain.AuthorKey]struct{})
	err = src(func(rec domain.ResolvedPost) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Instance == "" || rec.HomeAccountID == "" {
			return nil
		}
		if _, ok := emitted[rec.AuthorKey]; ok {
			return nil
		}
		if captures[postKey{AuthorKey: rec.AuthorKey, PostID: rec.PostID}] < p.MinCaptures {
			return nil
		}
		count := posts[rec.AuthorKey]
		if count < p.MinPosts {
			return nil
		}
		emitted[rec.AuthorKey] = struct{}{}
		stats.Accounts++
		metrics.AccountsEmitted.Inc()
		return emit(domain.ResolvedAccount{
			AuthorKey:  rec.AuthorKey,
			Username:   rec.Username,
			Acct:       rec.Acct,
			AccountURL: rec.AccountURL,
			Account:    rec.Account,
			PostCount:  count,
		})
	})
	return stats, err
}
