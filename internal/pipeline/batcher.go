package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"prodenrich/internal/domain"
	"prodenrich/internal/infra/queue"
)

// Batcher drains the result and error channels in bounded batches, groups
// entries by (user, product) and applies one bulk persist plus one counter
// decrement per group. Batching keeps contention on the counter row low when
// many workers finish at once.
type Batcher struct {
	queues   Queues
	sink     ResultSink
	errs     ErrorLog
	records  RecordStore
	notifier CompletionNotifier

	categories   []domain.Category
	batchSize    int
	pollInterval time.Duration
	size         int

	done chan struct{}
}

func NewBatcher(
	queues Queues,
	sink ResultSink,
	errs ErrorLog,
	records RecordStore,
	notifier CompletionNotifier,
	categories []domain.Category,
	batchSize int,
	pollInterval time.Duration,
	size int,
) *Batcher {
	return &Batcher{
		queues:       queues,
		sink:         sink,
		errs:         errs,
		records:      records,
		notifier:     notifier,
		categories:   categories,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		size:         size,
		done:         make(chan struct{}, size),
	}
}

func (b *Batcher) Run(ctx context.Context) {
	for range b.size {
		go func() {
			defer func() { b.done <- struct{}{} }()
			b.runWorker(ctx)
		}()
	}

	slog.Info("result batcher is running",
		slog.Int("workers", b.size),
		slog.Int("batch_size", b.batchSize),
	)
}

// Stop waits for every worker to finish its current batch, bounded by ctx.
func (b *Batcher) Stop(ctx context.Context) {
	for range b.size {
		select {
		case <-b.done:
		case <-ctx.Done():
			slog.Warn("result batcher stop timed out")
			return
		}
	}

	slog.Info("result batcher stopped")
}

func (b *Batcher) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("batcher worker stopping")
			return
		default:
		}

		drained := 0
		for _, cat := range b.categories {
			drained += b.drainCategory(ctx, cat)
		}

		if drained == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(b.pollInterval):
			}
		}
	}
}

// group collects one product's entries from a single category batch.
type group struct {
	userID    int64
	productID int64
	succeeded []domain.ResultEntry
	failed    []domain.ResultEntry
}

type groupKey struct {
	userID    int64
	productID int64
}

// drainCategory pops one bounded batch from the category's success and error
// channels and applies it. Returns the number of entries handled.
func (b *Batcher) drainCategory(ctx context.Context, cat domain.Category) int {
	counter, ok := cat.Counter()
	if !ok {
		return 0
	}

	succeeded := b.popEntries(ctx, queue.ResultChannel(cat))
	failed := b.popEntries(ctx, queue.ErrorChannel(cat))
	if len(succeeded) == 0 && len(failed) == 0 {
		return 0
	}

	groups := make(map[groupKey]*group)
	grab := func(k domain.CompositeKey) *group {
		gk := groupKey{userID: k.UserID, productID: k.ProductID}
		g, ok := groups[gk]
		if !ok {
			g = &group{userID: k.UserID, productID: k.ProductID}
			groups[gk] = g
		}
		return g
	}

	handled := 0
	for _, e := range succeeded {
		k, err := domain.ParseCompositeKey(e.Key)
		if err != nil {
			slog.Warn("drop unparsable result", slog.String("key", e.Key), slog.String("error", err.Error()))
			continue
		}
		g := grab(k)
		g.succeeded = append(g.succeeded, e)
		handled++
	}
	for _, e := range failed {
		k, err := domain.ParseCompositeKey(e.Key)
		if err != nil {
			slog.Warn("drop unparsable error result", slog.String("key", e.Key), slog.String("error", err.Error()))
			continue
		}
		g := grab(k)
		g.failed = append(g.failed, e)
		handled++
	}

	for _, g := range groups {
		b.applyGroup(ctx, cat, counter, g)
	}

	return handled
}

func (b *Batcher) popEntries(ctx context.Context, channel string) []domain.ResultEntry {
	raw, err := b.queues.PopBatch(ctx, channel, b.batchSize)
	if err != nil {
		slog.Warn("pop result batch", slog.String("channel", channel), slog.String("error", err.Error()))
		return nil
	}

	entries := make([]domain.ResultEntry, 0, len(raw))
	for _, data := range raw {
		e, err := domain.DecodeResult(data)
		if err != nil {
			slog.Warn("drop undecodable result", slog.String("channel", channel), slog.String("error", err.Error()))
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

// applyGroup persists the group's successes in one bulk write, logs every
// failure, then decrements the category counter once by the group size. A
// failed task still uses up its slot, so one bad image can never leave the
// product waiting forever.
func (b *Batcher) applyGroup(ctx context.Context, cat domain.Category, counter domain.Counter, g *group) {
	if len(g.succeeded) > 0 {
		if err := b.sink.PersistResults(ctx, cat, g.succeeded); err != nil {
			slog.Error("persist results",
				slog.Int64("user_id", g.userID),
				slog.Int64("product_id", g.productID),
				slog.String("category", string(cat)),
				slog.String("error", err.Error()),
			)
		}
	}

	for _, e := range g.failed {
		msg := e.Error
		if msg == "" {
			msg = "task failed"
		}
		if err := b.errs.Append(ctx, g.userID, g.productID, string(cat)+": "+msg); err != nil {
			slog.Warn("append error log",
				slog.Int64("user_id", g.userID),
				slog.Int64("product_id", g.productID),
				slog.String("error", err.Error()),
			)
		}
	}

	amount := len(g.succeeded) + len(g.failed)
	completed, err := b.records.DecrementAndComplete(ctx, g.userID, g.productID, counter, amount)
	if err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			// Duplicate or out-of-order result after a discard.
			slog.Warn("decrement for missing record",
				slog.Int64("user_id", g.userID),
				slog.Int64("product_id", g.productID),
				slog.String("category", string(cat)),
			)
			return
		}
		slog.Error("decrement",
			slog.Int64("user_id", g.userID),
			slog.Int64("product_id", g.productID),
			slog.String("category", string(cat)),
			slog.String("error", err.Error()),
		)
		return
	}

	if completed {
		slog.Info("preprocessing complete",
			slog.Int64("user_id", g.userID),
			slog.Int64("product_id", g.productID),
		)
		if err := b.notifier.PreprocessingComplete(ctx, g.userID, g.productID); err != nil {
			slog.Warn("notify preprocessing complete",
				slog.Int64("user_id", g.userID),
				slog.Int64("product_id", g.productID),
				slog.String("error", err.Error()),
			)
		}
	}
}
