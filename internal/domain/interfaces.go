package domain

import (
	"context"
	"net/url"
	"time"
)

// Cache хранит результаты дорогих операций между запусками.
type Cache interface {
	// Get возвращает ErrCacheMiss, если ключа нет.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Once выполняет fn только если ключ ещё не выставлен.
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Checkpoints отмечает завершённые единицы работы этапа (файлы, аккаунты).
type Checkpoints interface {
	Done(ctx context.Context, stage, unit string) (bool, error)
	Mark(ctx context.Context, stage, unit string) error
}

// AccountLookup ищет аккаунт на его домашнем инстансе.
type AccountLookup interface {
	LookupAccount(ctx context.Context, instance, username string) (Account, error)
}

// FollowerPage — одна страница списка подписчиков.
// Next содержит параметры запроса следующей страницы либо nil.
type FollowerPage struct {
	Accounts []Account
	Next     url.Values
}

// FollowerPager загружает страницы подписчиков аккаунта.
type FollowerPager interface {
	FollowersPage(ctx context.Context, instance string, accountID ID, params url.Values) (FollowerPage, error)
}

// FollowerSink сохраняет результат выгрузки подписчиков.
type FollowerSink interface {
	SaveFollowers(ctx context.Context, rec AccountFollowers) error
}

// AccountQueue раздаёт аккаунты воркерам выгрузки подписчиков.
type AccountQueue interface {
	Enqueue(ctx context.Context, acc ResolvedAccount) error
	// Dequeue возвращает ErrQueueEmpty, если очередь пуста дольше таймаута.
	Dequeue(ctx context.Context) (ResolvedAccount, error)
}

// Notifier отправляет короткие служебные сообщения оператору.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
