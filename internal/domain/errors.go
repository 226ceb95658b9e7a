package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingContent — у поста нет текста или автора.
	ErrMissingContent = errors.New("post has no content")
	// ErrInvalidAccount — URL аккаунта нельзя разобрать.
	ErrInvalidAccount = errors.New("invalid account url")
	// ErrLookupFailed — аккаунт не удалось найти на домашнем инстансе.
	ErrLookupFailed = errors.New("account lookup failed")
	// ErrNotFound — объект не найден.
	ErrNotFound = errors.New("not found")
	// ErrCacheMiss — ключа нет в кеше.
	ErrCacheMiss = errors.New("cache miss")
	// ErrQueueEmpty — очередь пуста.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrBadMessage — сообщение очереди не удалось разобрать.
	ErrBadMessage = errors.New("bad queue message")
)

// APIError описывает неуспешный ответ HTTP API инстанса.
type APIError struct {
	Instance   string
	Endpoint   string
	StatusCode int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Instance, e.Endpoint, e.StatusCode)
}

// Retryable сообщает, имеет ли смысл повторить запрос.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
