package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"prodenrich/internal/domain"
)

// BrandGate is the two-phase hold in front of the main pipeline. Phase one
// parks flagged products with their full dispatch payloads while the external
// classifier works; phase two partitions the decision list into banned
// (terminal, quota-charged) and released (dispatched into the pipeline).
type BrandGate struct {
	holds      HoldStore
	records    RecordStore
	quota      QuotaConsumer
	dispatcher Dispatcher
}

// Dispatcher forwards a released product into the main task-dispatch path.
type Dispatcher interface {
	Dispatch(ctx context.Context, userID, productID int64, stages domain.StageSet) (bool, error)
}

func NewBrandGate(holds HoldStore, records RecordStore, quota QuotaConsumer, dispatcher Dispatcher) *BrandGate {
	return &BrandGate{
		holds:      holds,
		records:    records,
		quota:      quota,
		dispatcher: dispatcher,
	}
}

// Hold parks the given products pending a ban decision. Appends to an
// existing hold, since screening and deciding overlap in time.
func (g *BrandGate) Hold(ctx context.Context, userID int64, tag string, items []domain.HeldItem) error {
	payloads := make(map[int64]json.RawMessage, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("encode held item %d: %w", item.ProductID, err)
		}
		payloads[item.ProductID] = data
	}

	if err := g.holds.Append(ctx, userID, tag, payloads); err != nil {
		return err
	}

	for _, item := range items {
		if err := g.records.SetStatus(ctx, userID, item.ProductID, domain.StatusBrandbanCheck); err != nil {
			slog.Warn("mark brandban check",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", item.ProductID),
				slog.String("error", err.Error()),
			)
		}
	}

	return nil
}

// Resolve applies one decision list. Banned products become terminal
// brandbanned and are charged to the quota; the rest are marked notbanned and
// their held payloads flow into the producer. Decisions for products no
// longer held are skipped with a warning.
func (g *BrandGate) Resolve(ctx context.Context, userID int64, tag string, decisions []domain.BrandDecision) (released, banned int, err error) {
	ids := make([]int64, 0, len(decisions))
	for _, d := range decisions {
		ids = append(ids, d.ProductID)
	}

	held, err := g.holds.Take(ctx, userID, tag, ids)
	if err != nil {
		return 0, 0, fmt.Errorf("take held payloads: %w", err)
	}

	for _, d := range decisions {
		payload, ok := held[d.ProductID]
		if !ok {
			slog.Warn("decision for product not held",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", d.ProductID),
			)
			continue
		}

		if d.Banned {
			if err := g.records.SetStatus(ctx, userID, d.ProductID, domain.StatusBrandbanned); err != nil {
				slog.Warn("mark brandbanned",
					slog.Int64("user_id", userID),
					slog.Int64("product_id", d.ProductID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := g.quota.Consume(ctx, userID, 1); err != nil {
				slog.Warn("consume ban quota",
					slog.Int64("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
			banned++
			continue
		}

		var item domain.HeldItem
		if err := json.Unmarshal(payload, &item); err != nil {
			slog.Error("decode held item",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", d.ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := g.records.SetStatus(ctx, userID, d.ProductID, domain.StatusNotbanned); err != nil {
			slog.Warn("mark notbanned",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", d.ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := g.dispatcher.Dispatch(ctx, userID, d.ProductID, item.Stages); err != nil {
			// Dispatch already marked the record failed; keep resolving the
			// rest of the list.
			slog.Error("dispatch released product",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", d.ProductID),
				slog.String("error", err.Error()),
			)
			continue
		}
		released++
	}

	return released, banned, nil
}
