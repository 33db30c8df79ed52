// Package artifact persists enrichment outputs (translated images, nukki
// cutouts, option text) as objects, keyed by their composite task key.
package artifact

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"prodenrich/internal/domain"
	"prodenrich/internal/libs/miniocli"

	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"
)

// Object puts within one batch are independent; cap the fan-out so a large
// group cannot exhaust connections.
const maxConcurrentPuts = 8

type minioSink struct {
	db     *minio.Client
	bucket string
}

func NewMinIOSink(ctx context.Context, cfg miniocli.Config) (*minioSink, error) {
	client, err := miniocli.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &minioSink{
		db:     client,
		bucket: cfg.Bucket,
	}, nil
}

// PersistResults writes one object per successful entry, fanning the puts out
// concurrently. A single failed put does not abort the rest; every entry is
// attempted and the first error is reported so the batcher can log it without
// losing the other writes.
func (s *minioSink) PersistResults(ctx context.Context, category domain.Category, entries []domain.ResultEntry) error {
	var g errgroup.Group
	g.SetLimit(maxConcurrentPuts)

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			break
		}

		g.Go(func() error {
			key, err := domain.ParseCompositeKey(e.Key)
			if err != nil {
				return err
			}

			objectName := fmt.Sprintf("results/%s/%d/%d/%s", category, key.UserID, key.ProductID, key.SubKey)
			_, err = s.db.PutObject(ctx, s.bucket, objectName,
				bytes.NewReader(e.Payload), int64(len(e.Payload)),
				minio.PutObjectOptions{ContentType: "application/json"},
			)
			if err != nil {
				slog.Warn("persist result object",
					slog.String("object", objectName),
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("put object %s: %w", objectName, err)
			}
			return nil
		})
	}

	return g.Wait()
}
