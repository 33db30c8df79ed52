// Package inputs reads the per-category source material staged by the
// upstream content service: one Redis list per (category, user, product),
// one JSON item per unit of work.
package inputs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"prodenrich/internal/domain"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb redis.Cmdable
}

func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

type stagedItem struct {
	SubKey  string          `json:"sub_key"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Store) FetchTaskInputs(ctx context.Context, category domain.Category, userID, productID int64) ([]domain.TaskInput, error) {
	key := inputsKey(category, userID, productID)

	vals, err := s.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis LRange %s: %w", key, err)
	}

	items := make([]domain.TaskInput, 0, len(vals))
	for i, v := range vals {
		var it stagedItem
		if err := json.Unmarshal([]byte(v), &it); err != nil {
			return nil, fmt.Errorf("decode staged input %s[%d]: %w", key, i, err)
		}
		items = append(items, domain.TaskInput{SubKey: it.SubKey, Payload: it.Payload})
	}
	return items, nil
}

func inputsKey(category domain.Category, userID, productID int64) string {
	return "inputs:" + string(category) + ":" +
		strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(productID, 10)
}
