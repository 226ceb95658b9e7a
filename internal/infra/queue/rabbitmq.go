package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"mastodon-follower-network/internal/domain"
	"mastodon-follower-network/internal/infra/metrics"
)

const defaultPollInterval = time.Second

// RabbitAccountQueue раздаёт аккаунты воркерам через очередь RabbitMQ.
type RabbitAccountQueue struct {
	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	queue        string
	idleFor      time.Duration
	pollInterval time.Duration
}

// NewRabbitAccountQueue подключается к брокеру и объявляет durable-очередь.
// Dequeue возвращает domain.ErrQueueEmpty, если новых аккаунтов нет дольше idleFor.
func NewRabbitAccountQueue(amqpURL, queue string, idleFor time.Duration) (*RabbitAccountQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	if idleFor <= 0 {
		idleFor = 5 * time.Second
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitAccountQueue{
		conn:         conn,
		ch:           ch,
		queue:        queue,
		idleFor:      idleFor,
		pollInterval: defaultPollInterval,
	}, nil
}

// Enqueue публикует аккаунт в очередь.
func (q *RabbitAccountQueue) Enqueue(ctx context.Context, acc domain.ResolvedAccount) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	}()
	payload, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("publish account: %w", err)
	}
	return nil
}

// Dequeue опрашивает очередь, пока не получит аккаунт или не истечёт idleFor.
// Сообщение подтверждается сразу: повторную обработку отсекают чекпоинты.
func (q *RabbitAccountQueue) Dequeue(ctx context.Context) (domain.ResolvedAccount, error) {
	deadline := time.Now().Add(q.idleFor)
	for {
		if err := ctx.Err(); err != nil {
			return domain.ResolvedAccount{}, err
		}
		acc, ok, err := q.get()
		if err != nil || ok {
			return acc, err
		}
		if time.Now().After(deadline) {
			return domain.ResolvedAccount{}, domain.ErrQueueEmpty
		}
		select {
		case <-ctx.Done():
			return domain.ResolvedAccount{}, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

func (q *RabbitAccountQueue) get() (domain.ResolvedAccount, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	start := time.Now()
	msg, ok, err := q.ch.Get(q.queue, false)
	metrics.ObserveNetworkRequest("rabbitmq", "get", q.queue, start, err)
	if err != nil {
		return domain.ResolvedAccount{}, false, fmt.Errorf("get message: %w", err)
	}
	if !ok {
		return domain.ResolvedAccount{}, false, nil
	}
	var acc domain.ResolvedAccount
	if err := json.Unmarshal(msg.Body, &acc); err != nil {
		_ = msg.Nack(false, false)
		return domain.ResolvedAccount{}, false, fmt.Errorf("%w: decode account: %v", domain.ErrBadMessage, err)
	}
	if err := msg.Ack(false); err != nil {
		return domain.ResolvedAccount{}, false, fmt.Errorf("ack message: %w", err)
	}
	return acc, true, nil
}

// Close закрывает канал и соединение.
func (q *RabbitAccountQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Join(q.ch.Close(), q.conn.Close())
}
