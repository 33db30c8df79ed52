package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"prodenrich/internal/domain"
	"prodenrich/internal/infra/queue"
)

// Registrar is the usecase surface the intake feeds.
type Registrar interface {
	RegisterProducts(ctx context.Context, userID int64, productIDs []int64, stages domain.StageSet) (domain.RegisterResult, error)
	ResolveBrandDecisions(ctx context.Context, userID int64, groupCode string, decisions []domain.BrandDecision) (released, banned int, err error)
	StatusCounts(ctx context.Context, userID int64) (map[domain.Status]int, error)
	Discard(ctx context.Context, userID, productID int64) error
	WaitEstimate(ctx context.Context) domain.BacklogEstimate
}

type registerRequest struct {
	UserID     int64           `json:"user_id"`
	ProductIDs []int64         `json:"product_ids"`
	Stages     domain.StageSet `json:"stages"`
}

type statusRequest struct {
	UserID       int64  `json:"user_id"`
	ReplyChannel string `json:"reply_channel"`
}

type statusReply struct {
	UserID  int64          `json:"user_id"`
	Counts  map[string]int `json:"counts"`
	Backlog int64          `json:"backlog"`
	WaitSec int64          `json:"wait_seconds"`
}

type discardRequest struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
}

type decisionRequest struct {
	UserID    int64  `json:"user_id"`
	GroupCode string `json:"group_code"`
	Decisions []struct {
		ProductID int64 `json:"product_id"`
		Banned    bool  `json:"banned"`
	} `json:"decisions"`
}

// Intake consumes pipeline commands from their channels: registration
// requests and brand-ban decision lists pushed by upstream services.
type Intake struct {
	queues    Queues
	registrar Registrar

	done chan struct{}
}

func NewIntake(queues Queues, registrar Registrar) *Intake {
	return &Intake{
		queues:    queues,
		registrar: registrar,
		done:      make(chan struct{}, 1),
	}
}

func (i *Intake) Run(ctx context.Context) {
	go func() {
		defer func() { i.done <- struct{}{} }()
		i.runLoop(ctx)
	}()

	slog.Info("intake is running")
}

func (i *Intake) Stop(ctx context.Context) {
	select {
	case <-i.done:
		slog.Info("intake stopped")
	case <-ctx.Done():
		slog.Warn("intake stop timed out")
	}
}

func (i *Intake) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("intake stopping")
			return
		default:
		}

		// The bounded blocking pops double as the idle wait.
		i.popRegister(ctx)
		i.popDecision(ctx)
		i.popStatus(ctx)
		i.popDiscard(ctx)
	}
}

func (i *Intake) popRegister(ctx context.Context) {
	data, ok, err := i.queues.PopOne(ctx, queue.RegisterChannel, time.Second)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("pop register request", slog.String("error", err.Error()))
		}
		return
	}
	if !ok {
		return
	}

	var req registerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("drop undecodable register request", slog.String("error", err.Error()))
		return
	}

	res, err := i.registrar.RegisterProducts(ctx, req.UserID, req.ProductIDs, req.Stages)
	if err != nil {
		slog.Error("register products",
			slog.Int64("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("products registered",
		slog.Int64("user_id", req.UserID),
		slog.String("group_code", res.GroupCode),
		slog.Int("queued", res.Queued),
		slog.Int("immediately_completed", res.ImmediatelyCompleted),
		slog.Int("held_for_brand_check", res.HeldForBrandCheck),
		slog.Int("failed", res.Failed),
	)
}

func (i *Intake) popDecision(ctx context.Context) {
	data, ok, err := i.queues.PopOne(ctx, queue.BrandDecisionChannel, time.Second)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("pop brand decision", slog.String("error", err.Error()))
		}
		return
	}
	if !ok {
		return
	}

	var req decisionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("drop undecodable brand decision", slog.String("error", err.Error()))
		return
	}

	decisions := make([]domain.BrandDecision, 0, len(req.Decisions))
	for _, d := range req.Decisions {
		decisions = append(decisions, domain.BrandDecision{ProductID: d.ProductID, Banned: d.Banned})
	}

	released, banned, err := i.registrar.ResolveBrandDecisions(ctx, req.UserID, req.GroupCode, decisions)
	if err != nil {
		slog.Error("resolve brand decisions",
			slog.Int64("user_id", req.UserID),
			slog.String("group_code", req.GroupCode),
			slog.String("error", err.Error()),
		)
		return
	}

	slog.Info("brand decisions resolved",
		slog.Int64("user_id", req.UserID),
		slog.String("group_code", req.GroupCode),
		slog.Int("released", released),
		slog.Int("banned", banned),
	)
}

// popStatus answers one dashboard poll: per-status record totals plus the
// current backlog estimate, pushed to the caller's reply channel.
func (i *Intake) popStatus(ctx context.Context) {
	data, ok, err := i.queues.PopOne(ctx, queue.StatusChannel, time.Second)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("pop status request", slog.String("error", err.Error()))
		}
		return
	}
	if !ok {
		return
	}

	var req statusRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("drop undecodable status request", slog.String("error", err.Error()))
		return
	}
	if req.ReplyChannel == "" {
		slog.Warn("status request without reply channel", slog.Int64("user_id", req.UserID))
		return
	}

	counts, err := i.registrar.StatusCounts(ctx, req.UserID)
	if err != nil {
		slog.Error("status counts",
			slog.Int64("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
		return
	}

	est := i.registrar.WaitEstimate(ctx)

	reply := statusReply{
		UserID:  req.UserID,
		Counts:  make(map[string]int, len(counts)),
		Backlog: est.Backlog,
		WaitSec: int64(est.Wait.Seconds()),
	}
	for status, n := range counts {
		reply.Counts[string(status)] = n
	}

	if _, err := i.queues.Push(ctx, req.ReplyChannel, reply); err != nil {
		slog.Warn("push status reply",
			slog.String("channel", req.ReplyChannel),
			slog.String("error", err.Error()),
		)
	}
}

func (i *Intake) popDiscard(ctx context.Context) {
	data, ok, err := i.queues.PopOne(ctx, queue.DiscardChannel, time.Second)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("pop discard request", slog.String("error", err.Error()))
		}
		return
	}
	if !ok {
		return
	}

	var req discardRequest
	if err := json.Unmarshal(data, &req); err != nil {
		slog.Warn("drop undecodable discard request", slog.String("error", err.Error()))
		return
	}

	if err := i.registrar.Discard(ctx, req.UserID, req.ProductID); err != nil {
		slog.Error("discard record",
			slog.Int64("user_id", req.UserID),
			slog.Int64("product_id", req.ProductID),
			slog.String("error", err.Error()),
		)
	}
}
