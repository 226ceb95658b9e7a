package cache

import (
	"context"
	"errors"
	"fmt"

	"mastodon-follower-network/internal/domain"
)

// Checkpoints хранит отметки завершённых единиц работы поверх domain.Cache.
type Checkpoints struct {
	cache domain.Cache
}

// NewCheckpoints создаёт хранилище отметок.
func NewCheckpoints(c domain.Cache) *Checkpoints {
	return &Checkpoints{cache: c}
}

func checkpointKey(stage, unit string) string {
	return fmt.Sprintf("checkpoint:%s:%s", stage, unit)
}

// Done сообщает, завершена ли единица unit этапа stage.
func (c *Checkpoints) Done(ctx context.Context, stage, unit string) (bool, error) {
	_, err := c.cache.Get(ctx, checkpointKey(stage, unit))
	if errors.Is(err, domain.ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Mark отмечает единицу как завершённую. Отметки не истекают.
func (c *Checkpoints) Mark(ctx context.Context, stage, unit string) error {
	return c.cache.Set(ctx, checkpointKey(stage, unit), []byte("1"), 0)
}
