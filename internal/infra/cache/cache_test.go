package cache

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mastodon-follower-network/internal/domain"
)

func TestMemoryOnceRunsOnce(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	calls := 0
	for i := 0; i < 3; i++ {
		if err := c.Once(ctx, "k", time.Hour, func() error { calls++; return nil }); err != nil {
			t.Fatalf("once: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestMemoryOnceReleasesKeyOnError(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	boom := errors.New("boom")
	if err := c.Once(ctx, "k", time.Hour, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	called := false
	if err := c.Once(ctx, "k", time.Hour, func() error { called = true; return nil }); err != nil {
		t.Fatalf("once: %v", err)
	}
	if !called {
		t.Fatal("key must be released after failure")
	}
}

func TestMemoryExpiry(t *testing.T) {
	c := NewMemory()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("get: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, domain.ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestFileCacheSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.ndjson")
	ctx := context.Background()

	c, err := OpenFile(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := c.Set(ctx, "lookup:a.social:alice", []byte(`{"id":"1"}`), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	cp := NewCheckpoints(c)
	if err := cp.Mark(ctx, "scan", "a.social_1.gz"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c, err = OpenFile(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c.Close()
	got, err := c.Get(ctx, "lookup:a.social:alice")
	if err != nil || string(got) != `{"id":"1"}` {
		t.Fatalf("unexpected value %q, err %v", got, err)
	}
	cp = NewCheckpoints(c)
	done, err := cp.Done(ctx, "scan", "a.social_1.gz")
	if err != nil || !done {
		t.Fatalf("checkpoint lost: done=%v err=%v", done, err)
	}
	done, err = cp.Done(ctx, "scan", "b.social_1.gz")
	if err != nil || done {
		t.Fatalf("unexpected checkpoint: done=%v err=%v", done, err)
	}
}
