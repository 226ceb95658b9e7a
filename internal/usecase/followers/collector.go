package followers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

// Collector выгружает подписчиков аккаунта, проходя страницы по ссылке rel="next".
type Collector struct {
	pager    domain.FollowerPager
	pageSize int
	log      zerolog.Logger
}

// NewCollector создаёт сборщик с размером страницы pageSize.
func NewCollector(pager domain.FollowerPager, pageSize int, logger zerolog.Logger) *Collector {
	if pageSize < 1 {
		pageSize = 1
	}
	return &Collector{pager: pager, pageSize: pageSize, log: logger}
}

// Collect возвращает всех подписчиков аккаунта accountID на инстансе instance.
// Выгрузка заканчивается на пустой странице или когда нет ссылки на следующую.
// При ошибке возвращаются подписчики, загруженные до неё.
func (c *Collector) Collect(ctx context.Context, instance string, accountID domain.ID) ([]domain.Account, error) {
	params := url.Values{"limit": {strconv.Itoa(c.pageSize)}}
	var followers []domain.Account
	seen := make(map[string]struct{})
	for page := 1; ; page++ {
		res, err := c.pager.FollowersPage(ctx, instance, accountID, params)
		if err != nil {
			return followers, fmt.Errorf("page %d: %w", page, err)
		}
		metrics.FollowerPages.Inc()
		if len(res.Accounts) == 0 {
			return followers, nil
		}
		followers = append(followers, res.Accounts...)
		metrics.FollowersFetched.Add(float64(len(res.Accounts)))
		c.log.Debug().
			Str("instance", instance).
			Str("account_id", string(accountID)).
			Int("page", page).
			Int("fetched", len(followers)).
			Msg("followers: страница загружена")

		if res.Next == nil {
			return followers, nil
		}
		cursor := res.Next.Encode()
		if _, dup := seen[cursor]; dup {
			c.log.Warn().Str("instance", instance).Str("account_id", string(accountID)).Str("cursor", cursor).Msg("followers: курсор повторился, выгрузка остановлена")
			return followers, nil
		}
		seen[cursor] = struct{}{}
		params = res.Next
	}
}
