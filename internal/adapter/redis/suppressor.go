package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/pulsegram/pulsegram/internal/domain"
)

const suppressionWindow = 2 * time.Second

// Suppressor is the cross-instance duplicate-submission guard: the first
// submission of a key inside the window wins via SETNX, every identical
// one from another tab or instance is vetoed.
type Suppressor struct {
	rdb *goredis.Client
}

var _ domain.Suppressor = (*Suppressor)(nil)

func NewSuppressor(client *Client) *Suppressor {
	return &Suppressor{rdb: client.rdb}
}

func (s *Suppressor) Allow(ctx context.Context, key string) (bool, error) {
	set, err := s.rdb.SetNX(ctx, suppressKey(key), "1", suppressionWindow).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check suppression: %w", err)
	}
	return set, nil
}

func suppressKey(key string) string {
	return "suppress:" + key
}
