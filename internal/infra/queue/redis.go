package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mastodon-follower-network/internal/domain"
)

// RedisAccountQueue раздаёт аккаунты воркерам через Redis list.
// Позволяет запустить выгрузку подписчиков на нескольких машинах.
type RedisAccountQueue struct {
	client  *redis.Client
	key     string
	idleFor time.Duration
}

// NewRedisAccountQueue создаёт очередь по указанному ключу.
// Dequeue возвращает domain.ErrQueueEmpty, если новых аккаунтов нет дольше idleFor.
func NewRedisAccountQueue(client *redis.Client, key string, idleFor time.Duration) *RedisAccountQueue {
	if idleFor <= 0 {
		idleFor = 5 * time.Second
	}
	return &RedisAccountQueue{client: client, key: key, idleFor: idleFor}
}

// Enqueue публикует аккаунт в очередь.
func (q *RedisAccountQueue) Enqueue(ctx context.Context, acc domain.ResolvedAccount) error {
	payload, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push account: %w", err)
	}
	return nil
}

// Dequeue блокирующе читает аккаунт из очереди.
func (q *RedisAccountQueue) Dequeue(ctx context.Context) (domain.ResolvedAccount, error) {
	if err := ctx.Err(); err != nil {
		return domain.ResolvedAccount{}, err
	}
	res, err := q.client.BRPop(ctx, q.idleFor, q.key).Result()
	if err != nil {
		if ctx.Err() != nil {
			return domain.ResolvedAccount{}, ctx.Err()
		}
		if errors.Is(err, redis.Nil) {
			return domain.ResolvedAccount{}, domain.ErrQueueEmpty
		}
		return domain.ResolvedAccount{}, err
	}
	if len(res) != 2 {
		return domain.ResolvedAccount{}, errors.New("redis queue: unexpected response")
	}
	var acc domain.ResolvedAccount
	if err := json.Unmarshal([]byte(res[1]), &acc); err != nil {
		return domain.ResolvedAccount{}, fmt.Errorf("%w: decode account: %v", domain.ErrBadMessage, err)
	}
	return acc, nil
}

// Drain перекладывает аккаунты из очереди в канал, пока очередь не опустеет.
// Неразборчивые сообщения передаются в onBad и пропускаются.
func Drain(ctx context.Context, q domain.AccountQueue, out chan<- domain.ResolvedAccount, onBad func(error)) error {
	defer close(out)
	for {
		acc, err := q.Dequeue(ctx)
		if errors.Is(err, domain.ErrQueueEmpty) {
			return nil
		}
		if errors.Is(err, domain.ErrBadMessage) {
			if onBad != nil {
				onBad(err)
			}
			continue
		}
		if err != nil {
			return err
		}
		select {
		case out <- acc:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
