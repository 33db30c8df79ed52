package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"prodenrich/internal/domain"

	"github.com/redis/go-redis/v9"
)

// Channel names. Workers consume task channels and report into the result
// and error channels of the same category.
func TaskChannel(cat domain.Category) string {
	return "queue:task:" + string(cat)
}

func ResultChannel(cat domain.Category) string {
	return "queue:result:" + string(cat)
}

func ErrorChannel(cat domain.Category) string {
	return "queue:error:" + string(cat)
}

// Command channels fed by upstream services.
const (
	RegisterChannel      = "queue:register"
	BrandDecisionChannel = "queue:branddecision"
	StatusChannel        = "queue:status"
	DiscardChannel       = "queue:discard"
)

// Channels is a set of named FIFO lists in Redis. LPUSH feeds the head,
// pops take the tail, so arrival order is preserved per producer.
type Channels struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Channels {
	return &Channels{rdb: rdb}
}

// Push appends the JSON encoding of v and returns the new channel length.
func (c *Channels) Push(ctx context.Context, name string, v any) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode payload for %s: %w", name, err)
	}

	n, err := c.rdb.LPush(ctx, name, data).Result()
	if err != nil {
		return 0, fmt.Errorf("push to %s: %w", name, err)
	}
	return n, nil
}

// PopOne blocks until one item is available or timeout elapses; timeout 0
// blocks indefinitely. Returns false without error on timeout.
func (c *Channels) PopOne(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error) {
	vals, err := c.rdb.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pop from %s: %w", name, err)
	}
	// BRPOP replies [key, value].
	if len(vals) != 2 {
		return nil, false, fmt.Errorf("pop from %s: unexpected reply of %d elements", name, len(vals))
	}
	return []byte(vals[1]), true, nil
}

// PopBatch removes and returns up to max currently-available items, oldest
// first, without blocking once the channel is empty.
func (c *Channels) PopBatch(ctx context.Context, name string, max int) ([][]byte, error) {
	if max <= 0 {
		return nil, nil
	}

	vals, err := c.rdb.RPopCount(ctx, name, max).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop batch from %s: %w", name, err)
	}

	out := make([][]byte, 0, len(vals))
	for _, v := range vals {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (c *Channels) Len(ctx context.Context, name string) (int64, error) {
	n, err := c.rdb.LLen(ctx, name).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s: %w", name, err)
	}
	return n, nil
}
