package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"prodenrich/internal/domain"
	"prodenrich/internal/pipeline"

	"github.com/google/uuid"
)

// Gate is the brand-filter hold consumed by registration.
type Gate interface {
	Hold(ctx context.Context, userID int64, tag string, items []domain.HeldItem) error
	Resolve(ctx context.Context, userID int64, tag string, decisions []domain.BrandDecision) (released, banned int, err error)
}

type usecase struct {
	records    pipeline.RecordStore
	dispatcher pipeline.Dispatcher
	gate       Gate
	identifier pipeline.BrandIdentifier
	estimator  *pipeline.Estimator
}

func New(
	records pipeline.RecordStore,
	dispatcher pipeline.Dispatcher,
	gate Gate,
	identifier pipeline.BrandIdentifier,
	estimator *pipeline.Estimator,
) *usecase {
	return &usecase{
		records:    records,
		dispatcher: dispatcher,
		gate:       gate,
		identifier: identifier,
		estimator:  estimator,
	}
}

// RegisterProducts enters a batch of products into the pipeline under one
// group code. Products whose brand screening flags a potential violation are
// parked in the gate; the rest dispatch straight away. One product's failure
// never aborts the rest of the batch.
func (uc *usecase) RegisterProducts(ctx context.Context, userID int64, productIDs []int64, stages domain.StageSet) (domain.RegisterResult, error) {
	if len(productIDs) == 0 {
		return domain.RegisterResult{}, errors.New("no products to register")
	}

	groupCode := uuid.NewString()
	res := domain.RegisterResult{GroupCode: groupCode}

	var flagged []domain.HeldItem

	for _, productID := range productIDs {
		rec := domain.ProcessingRecord{
			UserID:    userID,
			ProductID: productID,
			Status:    domain.StatusPending,
			Requested: stages,
			GroupCode: groupCode,
		}
		if err := uc.records.Create(ctx, rec); err != nil {
			slog.Error("create record",
				slog.Int64("user_id", userID),
				slog.Int64("product_id", productID),
				slog.String("error", err.Error()),
			)
			res.Failed++
			continue
		}

		if stages.BrandFilter {
			isFlagged, err := uc.identifier.IdentifyBrand(ctx, userID, productID)
			if err != nil {
				slog.Warn("brand screening failed, proceeding without hold",
					slog.Int64("user_id", userID),
					slog.Int64("product_id", productID),
					slog.String("error", err.Error()),
				)
			} else if isFlagged {
				flagged = append(flagged, domain.HeldItem{ProductID: productID, Stages: stages})
				continue
			}
		}

		completed, err := uc.dispatcher.Dispatch(ctx, userID, productID, stages)
		if err != nil {
			res.Failed++
			continue
		}
		if completed {
			res.ImmediatelyCompleted++
		} else {
			res.Queued++
		}
	}

	if len(flagged) > 0 {
		if err := uc.gate.Hold(ctx, userID, groupCode, flagged); err != nil {
			return res, fmt.Errorf("hold flagged products: %w", err)
		}
		res.HeldForBrandCheck = len(flagged)
	}

	return res, nil
}

// ResolveBrandDecisions feeds an external ban/no-ban decision list into the
// gate; released products continue into the pipeline.
func (uc *usecase) ResolveBrandDecisions(ctx context.Context, userID int64, groupCode string, decisions []domain.BrandDecision) (released, banned int, err error) {
	return uc.gate.Resolve(ctx, userID, groupCode, decisions)
}

// StatusCounts reports per-status record totals for the user's dashboard.
func (uc *usecase) StatusCounts(ctx context.Context, userID int64) (map[domain.Status]int, error) {
	return uc.records.StatusCounts(ctx, userID)
}

// Discard removes a product from active consideration. Results that arrive
// afterwards are logged and dropped by the batcher.
func (uc *usecase) Discard(ctx context.Context, userID, productID int64) error {
	if err := uc.records.Delete(ctx, userID, productID); err != nil {
		return err
	}
	slog.Info("record discarded",
		slog.Int64("user_id", userID),
		slog.Int64("product_id", productID),
	)
	return nil
}

// WaitEstimate is the human-facing backlog figure.
func (uc *usecase) WaitEstimate(ctx context.Context) domain.BacklogEstimate {
	return uc.estimator.Estimate(ctx)
}
