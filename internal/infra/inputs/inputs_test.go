package inputs

import (
	"context"
	"testing"

	"prodenrich/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return New(rdb), rdb
}

func TestFetchTaskInputs(t *testing.T) {
	store, rdb := newTestStore(t)
	ctx := context.Background()

	key := inputsKey(domain.CategoryImage, 1, 100)
	err := rdb.RPush(ctx, key,
		`{"sub_key":"0","payload":{"url":"https://cdn.example/a.jpg"}}`,
		`{"sub_key":"1","payload":{"url":"https://cdn.example/b.jpg"}}`,
	).Err()
	if err != nil {
		t.Fatalf("seed inputs: %v", err)
	}

	items, err := store.FetchTaskInputs(ctx, domain.CategoryImage, 1, 100)
	if err != nil {
		t.Fatalf("FetchTaskInputs: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items got %d", len(items))
	}
	if items[0].SubKey != "0" || items[1].SubKey != "1" {
		t.Fatalf("unexpected sub-keys: %+v", items)
	}
	if string(items[0].Payload) != `{"url":"https://cdn.example/a.jpg"}` {
		t.Fatalf("unexpected payload: %s", items[0].Payload)
	}
}

func TestFetchTaskInputs_Empty(t *testing.T) {
	store, _ := newTestStore(t)

	items, err := store.FetchTaskInputs(context.Background(), domain.CategoryOption, 1, 100)
	if err != nil {
		t.Fatalf("FetchTaskInputs: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("want no items got %d", len(items))
	}
}

func TestFetchTaskInputs_Undecodable(t *testing.T) {
	store, rdb := newTestStore(t)

	if err := rdb.RPush(context.Background(), inputsKey(domain.CategoryImage, 1, 100), `not json`).Err(); err != nil {
		t.Fatalf("seed inputs: %v", err)
	}

	if _, err := store.FetchTaskInputs(context.Background(), domain.CategoryImage, 1, 100); err == nil {
		t.Fatalf("want error for undecodable input")
	}
}
