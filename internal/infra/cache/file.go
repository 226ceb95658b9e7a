package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type journalRecord struct {
	Key     string    `json:"k"`
	Value   []byte    `json:"v,omitempty"`
	Expires time.Time `json:"exp,omitempty"`
}

// FileCache — кэш в памяти с журналом на диске. Переживает перезапуск
// без Redis: при открытии журнал проигрывается целиком.
type FileCache struct {
	mem *MemoryCache

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// OpenFile открывает или создаёт журнал по пути path.
func OpenFile(path string) (*FileCache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open cache journal: %w", err)
	}
	c := &FileCache{mem: NewMemory(), f: f, w: bufio.NewWriter(f)}
	if err := c.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

func (c *FileCache) replay() error {
	if _, err := c.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek cache journal: %w", err)
	}
	r := bufio.NewReader(c.f)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			var rec journalRecord
			// недописанная последняя строка после аварийного завершения игнорируется
			if json.Unmarshal(line, &rec) == nil && rec.Key != "" {
				c.mem.items[rec.Key] = entry{value: rec.Value, expires: rec.Expires}
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read cache journal: %w", err)
		}
	}
}

func (c *FileCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.mem.Get(ctx, key)
}

func (c *FileCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.mem.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	c.mem.mu.Lock()
	e := c.mem.items[key]
	c.mem.mu.Unlock()
	return c.append(journalRecord{Key: key, Value: e.value, Expires: e.expires})
}

func (c *FileCache) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ran := false
	err := c.mem.Once(ctx, key, ttl, func() error {
		ran = true
		return fn()
	})
	if err != nil || !ran {
		return err
	}
	c.mem.mu.Lock()
	e := c.mem.items[key]
	c.mem.mu.Unlock()
	return c.append(journalRecord{Key: key, Value: e.value, Expires: e.expires})
}

func (c *FileCache) append(rec journalRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cache record: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write cache journal: %w", err)
	}
	return c.w.Flush()
}

// Close сбрасывает буфер и закрывает журнал.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Flush(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}
