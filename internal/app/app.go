package app

import (
	"context"
	"log/slog"
)

type app struct {
	di *dependencyInjector
}

func New(ctx context.Context) *app {
	di := newDI()
	di.Logger()
	return &app{di: di}
}

func (a *app) Run(ctx context.Context) error {
	batcher := a.di.Batcher(ctx)
	intake := a.di.Intake(ctx)

	defer a.di.Close()

	slog.Info("orchestrator starting...")

	batcher.Run(ctx)
	intake.Run(ctx)
	a.di.Reclaimer(ctx).Start(ctx)

	slog.Info("orchestrator running...")

	<-ctx.Done()

	slog.Info("orchestrator shutting down...")

	stopCtx, cancel := context.WithTimeout(context.Background(), a.di.Config().ShutdownTimeout)
	defer cancel()

	batcher.Stop(stopCtx)
	intake.Stop(stopCtx)

	return nil
}

func (di *dependencyInjector) Close() {
	if di.natsConn != nil {
		di.natsConn.Close()
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("close redis", slog.String("error", err.Error()))
		}
	}
	if di.db != nil {
		if err := di.db.Close(); err != nil {
			slog.Warn("close postgres", slog.String("error", err.Error()))
		}
	}
}
