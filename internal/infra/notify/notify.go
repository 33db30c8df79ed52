// Package notify publishes pipeline lifecycle events for downstream
// registration consumers over JetStream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

type Publisher struct {
	js      nats.JetStreamContext
	subject string
}

func New(js nats.JetStreamContext, subject string) *Publisher {
	return &Publisher{
		js:      js,
		subject: subject,
	}
}

type completedEvent struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
}

// PreprocessingComplete announces that every requested stage for the product
// has finished. Consumers must treat it as idempotent; the decrementer's
// conditional transition already makes a duplicate publish unlikely.
func (p *Publisher) PreprocessingComplete(ctx context.Context, userID, productID int64) error {
	data, err := json.Marshal(completedEvent{UserID: userID, ProductID: productID})
	if err != nil {
		return fmt.Errorf("encode completed event: %w", err)
	}

	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
		Header:  nats.Header{},
	}

	ack, err := p.js.PublishMsg(msg)
	if err != nil {
		return fmt.Errorf("publish completed %d:%d: %w", userID, productID, err)
	}

	slog.Debug(
		"preprocessing complete published",
		slog.Int64("user_id", userID),
		slog.Int64("product_id", productID),
		slog.String("subject", p.subject),
		slog.String("stream", ack.Stream),
		slog.Uint64("seq", ack.Sequence),
	)

	return nil
}
