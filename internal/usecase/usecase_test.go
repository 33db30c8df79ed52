package usecase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"prodenrich/internal/domain"
	"prodenrich/internal/infra/queue"
	recordstore "prodenrich/internal/infra/store/record"
	"prodenrich/internal/libs/sqlbind"
	"prodenrich/internal/pipeline"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"
)

var testDBSeq int

func openTestRecords(t *testing.T) *recordstore.Store {
	t.Helper()
	testDBSeq++
	dsn := fmt.Sprintf("file:usecase_test_%d?mode=memory&cache=shared", testDBSeq)
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

type fakeDispatcher struct {
	dispatched []int64
	completes  map[int64]bool
	failFor    map[int64]bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _, productID int64, _ domain.StageSet) (bool, error) {
	if f.failFor[productID] {
		return false, errors.New("dispatch failed")
	}
	f.dispatched = append(f.dispatched, productID)
	return f.completes[productID], nil
}

type fakeGate struct {
	held     []domain.HeldItem
	heldTag  string
	released int
	banned   int
}

func (f *fakeGate) Hold(_ context.Context, _ int64, tag string, items []domain.HeldItem) error {
	f.heldTag = tag
	f.held = append(f.held, items...)
	return nil
}

func (f *fakeGate) Resolve(_ context.Context, _ int64, _ string, decisions []domain.BrandDecision) (int, int, error) {
	for _, d := range decisions {
		if d.Banned {
			f.banned++
		} else {
			f.released++
		}
	}
	return f.released, f.banned, nil
}

// fakeIdentifier flags the products in the set and errors for those in broken.
type fakeIdentifier struct {
	flagged map[int64]bool
	broken  map[int64]bool
}

func (f *fakeIdentifier) IdentifyBrand(_ context.Context, _, productID int64) (bool, error) {
	if f.broken[productID] {
		return false, errors.New("classifier unavailable")
	}
	return f.flagged[productID], nil
}

func newTestEstimator(t *testing.T) (*pipeline.Estimator, *queue.Channels) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	queues := queue.New(rdb)
	channels := []string{queue.TaskChannel(domain.CategoryImage)}
	return pipeline.NewEstimator(queues, channels, 1.0, time.Second), queues
}

func TestRegisterProducts_PartitionsBatch(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	dispatcher := &fakeDispatcher{
		completes: map[int64]bool{102: true},
		failFor:   map[int64]bool{103: true},
	}
	gate := &fakeGate{}
	identifier := &fakeIdentifier{flagged: map[int64]bool{104: true}}
	estimator, _ := newTestEstimator(t)

	uc := New(records, dispatcher, gate, identifier, estimator)

	stages := domain.StageSet{Image: true, Text: true, BrandFilter: true}
	res, err := uc.RegisterProducts(ctx, 1, []int64{101, 102, 103, 104}, stages)
	if err != nil {
		t.Fatalf("RegisterProducts: %v", err)
	}

	if res.Queued != 1 {
		t.Fatalf("want 1 queued got %d", res.Queued)
	}
	if res.ImmediatelyCompleted != 1 {
		t.Fatalf("want 1 immediately completed got %d", res.ImmediatelyCompleted)
	}
	if res.Failed != 1 {
		t.Fatalf("want 1 failed got %d", res.Failed)
	}
	if res.HeldForBrandCheck != 1 {
		t.Fatalf("want 1 held got %d", res.HeldForBrandCheck)
	}
	if res.GroupCode == "" {
		t.Fatalf("missing group code")
	}
	if gate.heldTag != res.GroupCode {
		t.Fatalf("hold tag %q does not match group code %q", gate.heldTag, res.GroupCode)
	}
	if len(gate.held) != 1 || gate.held[0].ProductID != 104 {
		t.Fatalf("unexpected held items: %+v", gate.held)
	}

	// Every product got a record regardless of its outcome.
	for _, pid := range []int64{101, 102, 103, 104} {
		rec, err := records.Get(ctx, 1, pid)
		if err != nil {
			t.Fatalf("Get %d: %v", pid, err)
		}
		if rec.GroupCode != res.GroupCode {
			t.Fatalf("product %d: group code %q want %q", pid, rec.GroupCode, res.GroupCode)
		}
	}
}

func TestRegisterProducts_EmptyBatch(t *testing.T) {
	records := openTestRecords(t)
	estimator, _ := newTestEstimator(t)
	uc := New(records, &fakeDispatcher{}, &fakeGate{}, &fakeIdentifier{}, estimator)

	if _, err := uc.RegisterProducts(context.Background(), 1, nil, domain.StageSet{Image: true}); err == nil {
		t.Fatalf("want error for empty batch")
	}
}

func TestRegisterProducts_ScreeningFailureProceedsOpen(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	dispatcher := &fakeDispatcher{}
	gate := &fakeGate{}
	identifier := &fakeIdentifier{broken: map[int64]bool{201: true}}
	estimator, _ := newTestEstimator(t)

	uc := New(records, dispatcher, gate, identifier, estimator)

	res, err := uc.RegisterProducts(ctx, 2, []int64{201}, domain.StageSet{Image: true, BrandFilter: true})
	if err != nil {
		t.Fatalf("RegisterProducts: %v", err)
	}
	// An unavailable classifier must not park the product forever.
	if res.Queued != 1 || res.HeldForBrandCheck != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(dispatcher.dispatched) != 1 {
		t.Fatalf("product not dispatched: %v", dispatcher.dispatched)
	}
}

func TestRegisterProducts_NoScreeningWithoutBrandFilter(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	dispatcher := &fakeDispatcher{}
	gate := &fakeGate{}
	// Flagged, but the stage set does not request brand filtering.
	identifier := &fakeIdentifier{flagged: map[int64]bool{301: true}}
	estimator, _ := newTestEstimator(t)

	uc := New(records, dispatcher, gate, identifier, estimator)

	res, err := uc.RegisterProducts(ctx, 3, []int64{301}, domain.StageSet{Image: true})
	if err != nil {
		t.Fatalf("RegisterProducts: %v", err)
	}
	if res.HeldForBrandCheck != 0 || res.Queued != 1 {
		t.Fatalf("screening ran without brand filter stage: %+v", res)
	}
}

func TestDiscardRemovesRecord(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	estimator, _ := newTestEstimator(t)
	uc := New(records, &fakeDispatcher{}, &fakeGate{}, &fakeIdentifier{}, estimator)

	if _, err := uc.RegisterProducts(ctx, 4, []int64{401}, domain.StageSet{Image: true}); err != nil {
		t.Fatalf("RegisterProducts: %v", err)
	}
	if err := uc.Discard(ctx, 4, 401); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := records.Get(ctx, 4, 401); !errors.Is(err, domain.ErrRecordNotFound) {
		t.Fatalf("want ErrRecordNotFound got %v", err)
	}
}

func TestWaitEstimate(t *testing.T) {
	ctx := context.Background()
	records := openTestRecords(t)
	estimator, queues := newTestEstimator(t)
	uc := New(records, &fakeDispatcher{}, &fakeGate{}, &fakeIdentifier{}, estimator)

	for range 4 {
		if _, err := queues.Push(ctx, queue.TaskChannel(domain.CategoryImage), domain.Task{Category: domain.CategoryImage}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	est := uc.WaitEstimate(ctx)
	if est.Backlog != 4 || est.Wait != 4*time.Second {
		t.Fatalf("unexpected estimate: %+v", est)
	}
}
