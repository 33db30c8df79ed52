// Package pipeline drives a product through its enrichment stages: the
// producer fans tasks out to queue channels, external workers report into
// result channels, the batcher drains those and counts each product down, and
// the reclaimer resolves whatever never came back.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"prodenrich/internal/domain"
)

// RecordStore is the counter store; all counter mutation goes through
// DecrementAndComplete and InitCounters, never read-then-write.
type RecordStore interface {
	Create(ctx context.Context, rec domain.ProcessingRecord) error
	Get(ctx context.Context, userID, productID int64) (domain.ProcessingRecord, error)
	SetStatus(ctx context.Context, userID, productID int64, status domain.Status) error
	InitCounters(ctx context.Context, userID, productID int64, counts domain.Counts) (bool, error)
	DecrementAndComplete(ctx context.Context, userID, productID int64, counter domain.Counter, amount int) (bool, error)
	ForceComplete(ctx context.Context, userID, productID int64) (bool, error)
	StaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]domain.ProcessingRecord, error)
	StatusCounts(ctx context.Context, userID int64) (map[domain.Status]int, error)
	Delete(ctx context.Context, userID, productID int64) error
}

// Queues is the named-channel contract backed by Redis lists.
type Queues interface {
	Push(ctx context.Context, name string, v any) (int64, error)
	PopOne(ctx context.Context, name string, timeout time.Duration) ([]byte, bool, error)
	PopBatch(ctx context.Context, name string, max int) ([][]byte, error)
	Len(ctx context.Context, name string) (int64, error)
}

// TaskInputs is the external content collaborator telling the producer how
// many tasks one category needs for a product.
type TaskInputs interface {
	FetchTaskInputs(ctx context.Context, category domain.Category, userID, productID int64) ([]domain.TaskInput, error)
}

// ResultSink bulk-persists the enriched outputs of one group of results.
type ResultSink interface {
	PersistResults(ctx context.Context, category domain.Category, entries []domain.ResultEntry) error
}

// ErrorLog is the append-only diagnostic sink.
type ErrorLog interface {
	Append(ctx context.Context, userID, productID int64, message string) error
}

// CompletionNotifier fires the downstream "preprocessing completed" side
// effect. Callers invoke it at most once per record; implementations should
// still be idempotent as a second defense.
type CompletionNotifier interface {
	PreprocessingComplete(ctx context.Context, userID, productID int64) error
}

// QuotaConsumer charges brand-ban verdicts against the user's usage quota.
type QuotaConsumer interface {
	Consume(ctx context.Context, userID int64, n int) error
}

// BrandIdentifier is the external classifier screening a product for
// potential brand violations before the two-phase hold.
type BrandIdentifier interface {
	IdentifyBrand(ctx context.Context, userID, productID int64) (flagged bool, err error)
}

// HoldStore stages payloads for products awaiting a ban decision.
type HoldStore interface {
	Append(ctx context.Context, userID int64, tag string, items map[int64]json.RawMessage) error
	Take(ctx context.Context, userID int64, tag string, productIDs []int64) (map[int64]json.RawMessage, error)
	DeleteOlderThan(ctx context.Context, now time.Time, ttl time.Duration) int
}
