package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"prodenrich/internal/domain"
	"prodenrich/internal/infra/queue"
)

// Producer turns one registered product into its per-category task fan-out
// and seeds the record's counters.
type Producer struct {
	inputs   TaskInputs
	records  RecordStore
	queues   Queues
	notifier CompletionNotifier
}

func NewProducer(inputs TaskInputs, records RecordStore, queues Queues, notifier CompletionNotifier) *Producer {
	return &Producer{
		inputs:   inputs,
		records:  records,
		queues:   queues,
		notifier: notifier,
	}
}

// Dispatch fetches the task inputs for every requested category, initializes
// the record's counters from the totals, then enqueues one task per item.
// Counters are populated before the first push so an early worker result can
// never race a not-yet-counting record. Any failure along the way marks the
// record fail directly, bypassing the counter machinery.
//
// Returns true when the record completed immediately because no category
// produced any work.
func (p *Producer) Dispatch(ctx context.Context, userID, productID int64, stages domain.StageSet) (bool, error) {
	cats := stages.Categories()

	byCategory := make(map[domain.Category][]domain.TaskInput, len(cats))
	var counts domain.Counts
	for _, cat := range cats {
		items, err := p.inputs.FetchTaskInputs(ctx, cat, userID, productID)
		if err != nil {
			p.fail(ctx, userID, productID, err)
			return false, fmt.Errorf("fetch %s inputs for %d:%d: %w", cat, userID, productID, err)
		}
		counter, ok := cat.Counter()
		if !ok {
			continue
		}
		byCategory[cat] = items
		counts.Add(counter, len(items))
	}

	completed, err := p.records.InitCounters(ctx, userID, productID, counts)
	if err != nil {
		p.fail(ctx, userID, productID, err)
		return false, fmt.Errorf("init counters for %d:%d: %w", userID, productID, err)
	}

	if completed {
		slog.Info("product completed immediately, no tasks needed",
			slog.Int64("user_id", userID),
			slog.Int64("product_id", productID),
		)
		p.notify(ctx, userID, productID)
		return true, nil
	}

	for _, cat := range cats {
		for i, item := range byCategory[cat] {
			subKey := item.SubKey
			if subKey == "" {
				subKey = strconv.Itoa(i)
			}
			task := domain.Task{
				Category:  cat,
				UserID:    userID,
				ProductID: productID,
				SubKey:    subKey,
				Payload:   item.Payload,
			}
			if _, err := p.queues.Push(ctx, queue.TaskChannel(cat), task); err != nil {
				p.fail(ctx, userID, productID, err)
				return false, fmt.Errorf("enqueue %s task for %d:%d: %w", cat, userID, productID, err)
			}
		}
	}

	slog.Debug("product dispatched",
		slog.Int64("user_id", userID),
		slog.Int64("product_id", productID),
		slog.Int("image_tasks", counts.Image),
		slog.Int("option_tasks", counts.Option),
		slog.Int("overall_tasks", counts.Overall),
	)

	return false, nil
}

func (p *Producer) fail(ctx context.Context, userID, productID int64, cause error) {
	if err := p.records.SetStatus(ctx, userID, productID, domain.StatusFail); err != nil {
		slog.Warn("mark record failed",
			slog.Int64("user_id", userID),
			slog.Int64("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
	slog.Error("dispatch failed",
		slog.Int64("user_id", userID),
		slog.Int64("product_id", productID),
		slog.String("error", cause.Error()),
	)
}

func (p *Producer) notify(ctx context.Context, userID, productID int64) {
	if err := p.notifier.PreprocessingComplete(ctx, userID, productID); err != nil {
		slog.Warn("notify preprocessing complete",
			slog.Int64("user_id", userID),
			slog.Int64("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}
