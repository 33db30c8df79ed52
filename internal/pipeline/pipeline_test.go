package pipeline

// Shared fakes and fixtures for the pipeline tests. The record store runs on
// an in-memory sqlite and the queues on miniredis, so the tests exercise the
// real SQL and Redis paths; only the external collaborators are faked.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"prodenrich/internal/domain"
	"prodenrich/internal/infra/queue"
	recordstore "prodenrich/internal/infra/store/record"
	"prodenrich/internal/libs/sqlbind"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

var testDBSeq int

func openTestRecords(t *testing.T) *recordstore.Store {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:pipeline_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := recordstore.New(db, sqlbind.DialectSQLite)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func newTestQueues(t *testing.T) *queue.Channels {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return queue.New(rdb)
}

func mustCreateRecord(t *testing.T, records RecordStore, userID, productID int64, stages domain.StageSet) {
	t.Helper()
	err := records.Create(context.Background(), domain.ProcessingRecord{
		UserID:    userID,
		ProductID: productID,
		Status:    domain.StatusPending,
		Requested: stages,
		GroupCode: "grp-test",
	})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
}

type fakeSink struct {
	mu      sync.Mutex
	entries map[domain.Category][]domain.ResultEntry
	err     error
}

func (f *fakeSink) PersistResults(_ context.Context, cat domain.Category, entries []domain.ResultEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.entries == nil {
		f.entries = make(map[domain.Category][]domain.ResultEntry)
	}
	f.entries[cat] = append(f.entries[cat], entries...)
	return nil
}

func (f *fakeSink) persisted(cat domain.Category) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[cat])
}

type fakeErrorLog struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeErrorLog) Append(_ context.Context, userID, productID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, fmt.Sprintf("%d:%d %s", userID, productID, message))
	return nil
}

func (f *fakeErrorLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeNotifier) PreprocessingComplete(_ context.Context, userID, productID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%d:%d", userID, productID))
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeInputs serves canned task inputs per category; a category absent from
// the map yields no work.
type fakeInputs struct {
	byCategory map[domain.Category][]domain.TaskInput
	err        error
}

func (f *fakeInputs) FetchTaskInputs(_ context.Context, cat domain.Category, _, _ int64) ([]domain.TaskInput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byCategory[cat], nil
}

type fakeQuota struct {
	mu       sync.Mutex
	consumed map[int64]int
}

func (f *fakeQuota) Consume(_ context.Context, userID int64, n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumed == nil {
		f.consumed = make(map[int64]int)
	}
	f.consumed[userID] += n
	return nil
}

type fakeDispatcher struct {
	mu         sync.Mutex
	dispatched []int64
	err        error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _, productID int64, _ domain.StageSet) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.dispatched = append(f.dispatched, productID)
	return false, nil
}

// fakeHolds is an in-memory HoldStore mirroring the Redis semantics: append
// extends, take removes only what was present.
type fakeHolds struct {
	mu    sync.Mutex
	items map[string]map[int64]json.RawMessage
}

func holdTag(userID int64, tag string) string {
	return fmt.Sprintf("%d:%s", userID, tag)
}

func (f *fakeHolds) Append(_ context.Context, userID int64, tag string, items map[int64]json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items == nil {
		f.items = make(map[string]map[int64]json.RawMessage)
	}
	k := holdTag(userID, tag)
	if f.items[k] == nil {
		f.items[k] = make(map[int64]json.RawMessage)
	}
	for id, payload := range items {
		f.items[k][id] = payload
	}
	return nil
}

func (f *fakeHolds) Take(_ context.Context, userID int64, tag string, productIDs []int64) (map[int64]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := holdTag(userID, tag)
	out := make(map[int64]json.RawMessage)
	for _, id := range productIDs {
		if payload, ok := f.items[k][id]; ok {
			out[id] = payload
			delete(f.items[k], id)
		}
	}
	return out, nil
}

func (f *fakeHolds) DeleteOlderThan(_ context.Context, _ time.Time, _ time.Duration) int {
	return 0
}

func (f *fakeHolds) size(userID int64, tag string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items[holdTag(userID, tag)])
}

func pushResult(t *testing.T, queues Queues, channel string, e domain.ResultEntry) {
	t.Helper()
	if _, err := queues.Push(context.Background(), channel, e); err != nil {
		t.Fatalf("push to %s: %v", channel, err)
	}
}

func resultKey(userID, productID int64, subKey string) string {
	return domain.CompositeKey{UserID: userID, ProductID: productID, SubKey: subKey}.String()
}
