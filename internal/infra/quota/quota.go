// Package quota tracks per-user usage counters in Redis.
package quota

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

type Consumer struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Consumer {
	return &Consumer{rdb: rdb}
}

// Consume charges n units against the user's brand-ban quota counter.
func (c *Consumer) Consume(ctx context.Context, userID int64, n int) error {
	key := "quota:brandban:" + strconv.FormatInt(userID, 10)
	if err := c.rdb.IncrBy(ctx, key, int64(n)).Err(); err != nil {
		return fmt.Errorf("redis IncrBy %s: %w", key, err)
	}
	return nil
}
