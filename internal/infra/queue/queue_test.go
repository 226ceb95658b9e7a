package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mastodon-follower-network/internal/domain"
)

type sliceQueue struct {
	items []domain.ResolvedAccount
	err   error
	// bad — позиции в items, на которых Dequeue отдаёт ErrBadMessage
	bad map[int]bool
	pos int
}

func (q *sliceQueue) Enqueue(_ context.Context, acc domain.ResolvedAccount) error {
	q.items = append(q.items, acc)
	return nil
}

func (q *sliceQueue) Dequeue(context.Context) (domain.ResolvedAccount, error) {
	if len(q.items) == 0 {
		if q.err != nil {
			return domain.ResolvedAccount{}, q.err
		}
		return domain.ResolvedAccount{}, domain.ErrQueueEmpty
	}
	acc := q.items[0]
	q.items = q.items[1:]
	q.pos++
	if q.bad[q.pos-1] {
		return domain.ResolvedAccount{}, fmt.Errorf("%w: decode account: unexpected EOF", domain.ErrBadMessage)
	}
	return acc, nil
}

func account(id string) domain.ResolvedAccount {
	return domain.ResolvedAccount{AuthorKey: domain.AuthorKey{Instance: "a.social", HomeAccountID: domain.ID(id)}}
}

func TestDrainStopsOnEmptyQueue(t *testing.T) {
	q := &sliceQueue{}
	for _, id := range []string{"1", "2", "3"} {
		_ = q.Enqueue(context.Background(), account(id))
	}
	out := make(chan domain.ResolvedAccount, 3)
	if err := Drain(context.Background(), q, out, nil); err != nil {
		t.Fatalf("drain: %v", err)
	}
	var got []domain.ID
	for acc := range out {
		got = append(got, acc.HomeAccountID)
	}
	if len(got) != 3 || got[0] != "1" || got[2] != "3" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestDrainReturnsQueueError(t *testing.T) {
	boom := errors.New("boom")
	out := make(chan domain.ResolvedAccount)
	if err := Drain(context.Background(), &sliceQueue{err: boom}, out, nil); !errors.Is(err, boom) {
		t.Fatalf("expected queue error, got %v", err)
	}
	if _, ok := <-out; ok {
		t.Fatal("channel must be closed")
	}
}

func TestDrainStopsOnCancel(t *testing.T) {
	q := &sliceQueue{items: []domain.ResolvedAccount{account("1")}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan domain.ResolvedAccount)
	if err := Drain(ctx, q, out, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancel, got %v", err)
	}
}

func TestDrainSkipsBadMessages(t *testing.T) {
	q := &sliceQueue{bad: map[int]bool{1: true}}
	for _, id := range []string{"1", "2", "3"} {
		_ = q.Enqueue(context.Background(), account(id))
	}
	out := make(chan domain.ResolvedAccount, 3)
	var bad []error
	if err := Drain(context.Background(), q, out, func(err error) { bad = append(bad, err) }); err != nil {
		t.Fatalf("drain: %v", err)
	}
	var got []domain.ID
	for acc := range out {
		got = append(got, acc.HomeAccountID)
	}
	if len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Fatalf("unexpected accounts %v", got)
	}
	if len(bad) != 1 || !errors.Is(bad[0], domain.ErrBadMessage) {
		t.Fatalf("bad message must be reported once, got %v", bad)
	}
}
