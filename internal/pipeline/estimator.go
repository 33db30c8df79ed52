package pipeline

import (
	"context"
	"log/slog"
	"time"

	"prodenrich/internal/domain"
)

// Estimator produces the human-facing backlog figure from current queue
// depths. It is read-only and deliberately forgiving: an inspection failure
// yields a zero estimate, never an error.
type Estimator struct {
	queues Queues

	channels   []string
	workFactor float64
	perItem    time.Duration
}

func NewEstimator(queues Queues, channels []string, workFactor float64, perItem time.Duration) *Estimator {
	return &Estimator{
		queues:     queues,
		channels:   channels,
		workFactor: workFactor,
		perItem:    perItem,
	}
}

// Estimate inspects every competing channel and reports the longest one.
func (e *Estimator) Estimate(ctx context.Context) domain.BacklogEstimate {
	var best domain.BacklogEstimate

	for _, name := range e.channels {
		n, err := e.queues.Len(ctx, name)
		if err != nil {
			slog.Warn("queue depth inspection",
				slog.String("channel", name),
				slog.String("error", err.Error()),
			)
			continue
		}

		backlog := int64(float64(n) * e.workFactor)
		wait := time.Duration(backlog) * e.perItem
		if wait > best.Wait || best.Channel == "" {
			best = domain.BacklogEstimate{
				Channel: name,
				Backlog: backlog,
				Wait:    wait,
			}
		}
	}

	return best
}
