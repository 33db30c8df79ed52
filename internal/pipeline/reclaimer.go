package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// Reclaimer is the safety net for records whose results never arrive: a
// periodic sweep force-completes anything stuck in processing past the
// timeout (failure-open), and deletes abandoned brand-filter holds outright
// (fail-closed), so no product stays wedged forever.
type Reclaimer struct {
	records  RecordStore
	holds    HoldStore
	notifier CompletionNotifier

	interval  time.Duration
	timeout   time.Duration
	batchSize int
}

func NewReclaimer(
	records RecordStore,
	holds HoldStore,
	notifier CompletionNotifier,
	interval, timeout time.Duration,
	batchSize int,
) *Reclaimer {
	return &Reclaimer{
		records:   records,
		holds:     holds,
		notifier:  notifier,
		interval:  interval,
		timeout:   timeout,
		batchSize: batchSize,
	}
}

func (r *Reclaimer) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				r.sweep(ctx, now)
			}
		}
	}()

	slog.Info("reclaimer is running",
		slog.Duration("interval", r.interval),
		slog.Duration("timeout", r.timeout),
	)
}

func (r *Reclaimer) sweep(ctx context.Context, now time.Time) {
	stale, err := r.records.StaleProcessing(ctx, now.Add(-r.timeout), r.batchSize)
	if err != nil {
		slog.Error("reclaim: select stale records", slog.String("error", err.Error()))
	}

	reclaimed := 0
	for _, rec := range stale {
		fired, err := r.records.ForceComplete(ctx, rec.UserID, rec.ProductID)
		if err != nil {
			slog.Error("reclaim: force complete",
				slog.Int64("user_id", rec.UserID),
				slog.Int64("product_id", rec.ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !fired {
			// Lost the race to a result that arrived after selection.
			continue
		}
		reclaimed++

		// Diagnostic context for the audit trail: what was still open and
		// what had been requested when the record was abandoned.
		slog.Warn("reclaimed stuck record",
			slog.Int64("user_id", rec.UserID),
			slog.Int64("product_id", rec.ProductID),
			slog.Int("image_remaining", rec.ImageRemaining),
			slog.Int("option_remaining", rec.OptionRemaining),
			slog.Int("overall_remaining", rec.OverallRemaining),
			slog.Bool("image_requested", rec.Requested.Image),
			slog.Bool("nukki_requested", rec.Requested.Nukki),
			slog.Bool("option_requested", rec.Requested.Option),
			slog.Bool("text_requested", rec.Requested.Text),
			slog.String("group_code", rec.GroupCode),
			slog.Time("updated_at", rec.UpdatedAt),
		)

		if err := r.notifier.PreprocessingComplete(ctx, rec.UserID, rec.ProductID); err != nil {
			slog.Warn("reclaim: notify preprocessing complete",
				slog.Int64("user_id", rec.UserID),
				slog.Int64("product_id", rec.ProductID),
				slog.String("error", err.Error()),
			)
		}
	}

	if reclaimed > 0 {
		slog.Info("reclaim pass finished", slog.Int("reclaimed", reclaimed))
	}

	if n := r.holds.DeleteOlderThan(ctx, now, r.timeout); n > 0 {
		slog.Info("deleted abandoned brand holds", slog.Int("deleted", n))
	}
}
