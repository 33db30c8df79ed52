// Package brandhold stages products awaiting an external brand-ban decision.
// Each hold is a Redis hash keyed (user, tag) with one field per product, plus
// a ZSET index by creation time so abandoned holds can be swept.
package brandhold

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

// Append stores payloads into the hold, creating it on first use. Decisions
// arrive incrementally while screening continues, so repeated appends to the
// same (user, tag) extend the pending set.
func (s *Store) Append(ctx context.Context, userID int64, tag string, items map[int64]json.RawMessage) error {
	if len(items) == 0 {
		return nil
	}

	hk := holdKey(userID, tag)
	fields := make(map[string]interface{}, len(items))
	for productID, payload := range items {
		fields[strconv.FormatInt(productID, 10)] = string(payload)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, fields)
	pipe.ZAddNX(ctx, holdsByCreatedKey(), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: hk,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline Append hold %s: %w", hk, err)
	}
	return nil
}

// Take removes the named products from the hold and returns the payloads that
// were actually present. Products decided twice, or never held, are simply
// absent from the result.
func (s *Store) Take(ctx context.Context, userID int64, tag string, productIDs []int64) (map[int64]json.RawMessage, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}

	hk := holdKey(userID, tag)
	fields := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		fields = append(fields, strconv.FormatInt(id, 10))
	}

	vals, err := s.rdb.HMGet(ctx, hk, fields...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HMGet hold %s: %w", hk, err)
	}

	out := make(map[int64]json.RawMessage, len(productIDs))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		out[productIDs[i]] = json.RawMessage(str)
	}
	if len(out) == 0 {
		return out, nil
	}

	if err := s.rdb.HDel(ctx, hk, fields...).Err(); err != nil {
		return nil, fmt.Errorf("redis HDel hold %s: %w", hk, err)
	}

	// Drop the index entry once the hold is fully drained.
	n, err := s.rdb.HLen(ctx, hk).Result()
	if err == nil && n == 0 {
		if err := s.rdb.ZRem(ctx, holdsByCreatedKey(), hk).Err(); err != nil {
			slog.Warn("redis ZRem drained hold", slog.String("error", err.Error()))
		}
	}

	return out, nil
}

// Size reports how many products are still parked in the hold.
func (s *Store) Size(ctx context.Context, userID int64, tag string) (int64, error) {
	n, err := s.rdb.HLen(ctx, holdKey(userID, tag)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis HLen hold: %w", err)
	}
	return n, nil
}

// DeleteOlderThan drops whole holds created before now-ttl. Holds never enter
// processing, so abandonment is resolved fail-closed: delete, not complete.
func (s *Store) DeleteOlderThan(ctx context.Context, now time.Time, ttl time.Duration) int {
	border := now.Add(-ttl).Unix()

	keys, err := s.rdb.ZRangeByScore(ctx, holdsByCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(border),
	}).Result()
	if err != nil {
		slog.Warn("redis ZRangeByScore holds", slog.String("error", err.Error()))
		return 0
	}

	deleted := 0
	for _, hk := range keys {
		pipe := s.rdb.TxPipeline()
		pipe.Del(ctx, hk)
		pipe.ZRem(ctx, holdsByCreatedKey(), hk)
		if _, err := pipe.Exec(ctx); err == nil {
			deleted++
		}
	}

	return deleted
}

func holdKey(userID int64, tag string) string {
	return "brandhold:" + strconv.FormatInt(userID, 10) + ":" + tag
}

func holdsByCreatedKey() string {
	return "brandholds:by_created"
}
