package app

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"prodenrich/internal/domain"
	"prodenrich/internal/infra/artifact"
	"prodenrich/internal/infra/brandid"
	"prodenrich/internal/infra/config"
	"prodenrich/internal/infra/errlog"
	"prodenrich/internal/infra/inputs"
	"prodenrich/internal/infra/notify"
	"prodenrich/internal/infra/queue"
	"prodenrich/internal/infra/quota"
	brandholdstore "prodenrich/internal/infra/store/brandhold"
	recordstore "prodenrich/internal/infra/store/record"
	"prodenrich/internal/libs/miniocli"
	"prodenrich/internal/libs/natsq"
	"prodenrich/internal/libs/pgcli"
	"prodenrich/internal/libs/rediscli"
	"prodenrich/internal/libs/sqlbind"
	"prodenrich/internal/pipeline"
	"prodenrich/internal/usecase"
)

const cfgPath = "./configs/local.yaml"

type dependencyInjector struct {
	cfg    *config.Config
	logger *slog.Logger

	redis *redis.Client
	db    *sql.DB

	natsConn *nats.Conn
	js       nats.JetStreamContext

	queues    *queue.Channels
	records   *recordstore.Store
	errs      *errlog.Store
	holds     *brandholdstore.Store
	notifier  *notify.Publisher
	sink      pipeline.ResultSink
	inputs    pipeline.TaskInputs
	quota     pipeline.QuotaConsumer
	brandID   pipeline.BrandIdentifier
	producer  *pipeline.Producer
	gate      *pipeline.BrandGate
	batcher   *pipeline.Batcher
	reclaimer *pipeline.Reclaimer
	estimator *pipeline.Estimator
	intake    *pipeline.Intake
	registrar pipeline.Registrar
}

func newDI() *dependencyInjector {
	return &dependencyInjector{}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(
			slog.NewTextHandler(
				os.Stdout,
				&slog.HandlerOptions{
					Level: slog.LevelInfo,
				},
			),
		)
	}

	slog.SetDefault(di.logger)
	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(rediscli.Config{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("RedisClient: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) DB(ctx context.Context) *sql.DB {
	if di.db == nil {
		cfg := di.Config().Postgres
		db, err := pgcli.NewDB(pgcli.Config{
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
		})
		if err != nil {
			log.Fatalf("DB: %+v", err)
		}

		di.db = db
		di.Logger().Info("connected to postgres")
	}
	return di.db
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config().NATS
		nc, err := natsq.NewConnect(cfg.URL, natsq.Config{
			Name:          cfg.Name,
			MaxReconnects: cfg.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config().NATS
		js, err := natsq.NewJetStream(di.NATSConn(ctx), &nats.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{cfg.Subject},
			Storage:  nats.FileStorage,
			Replicas: 1,
		})
		if err != nil {
			log.Fatalf("JetStream: %+v", err)
		}
		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) Queues(ctx context.Context) *queue.Channels {
	if di.queues == nil {
		di.queues = queue.New(di.RedisClient(ctx))
	}
	return di.queues
}

func (di *dependencyInjector) RecordStore(ctx context.Context) *recordstore.Store {
	if di.records == nil {
		di.records = recordstore.New(di.DB(ctx), sqlbind.DialectPostgres)
		if err := di.records.Migrate(ctx); err != nil {
			log.Fatalf("RecordStore migrate: %+v", err)
		}
	}
	return di.records
}

func (di *dependencyInjector) ErrorLog(ctx context.Context) *errlog.Store {
	if di.errs == nil {
		di.errs = errlog.New(di.DB(ctx), sqlbind.DialectPostgres)
		if err := di.errs.Migrate(ctx); err != nil {
			log.Fatalf("ErrorLog migrate: %+v", err)
		}
	}
	return di.errs
}

func (di *dependencyInjector) HoldStore(ctx context.Context) *brandholdstore.Store {
	if di.holds == nil {
		di.holds = brandholdstore.New(di.RedisClient(ctx))
	}
	return di.holds
}

func (di *dependencyInjector) Notifier(ctx context.Context) *notify.Publisher {
	if di.notifier == nil {
		di.notifier = notify.New(di.JetStream(ctx), di.Config().NATS.Subject)
	}
	return di.notifier
}

func (di *dependencyInjector) ResultSink(ctx context.Context) pipeline.ResultSink {
	if di.sink == nil {
		cfg := di.Config().MinIO
		sink, err := artifact.NewMinIOSink(ctx, miniocli.Config{
			Endpoint:        cfg.Endpoint,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			UseSSL:          cfg.UseSSL,
			Bucket:          cfg.Bucket,
		})
		if err != nil {
			log.Fatalf("ResultSink minio: %+v", err)
		}
		di.sink = sink
		di.Logger().Info(
			"initialized MinIO result sink",
			slog.String("endpoint", cfg.Endpoint),
			slog.String("bucket", cfg.Bucket),
		)
	}
	return di.sink
}

func (di *dependencyInjector) TaskInputs(ctx context.Context) pipeline.TaskInputs {
	if di.inputs == nil {
		di.inputs = inputs.New(di.RedisClient(ctx))
	}
	return di.inputs
}

func (di *dependencyInjector) Quota(ctx context.Context) pipeline.QuotaConsumer {
	if di.quota == nil {
		di.quota = quota.New(di.RedisClient(ctx))
	}
	return di.quota
}

func (di *dependencyInjector) BrandIdentifier(ctx context.Context) pipeline.BrandIdentifier {
	if di.brandID == nil {
		cfg := di.Config().BrandFilter
		di.brandID = brandid.New(cfg.URL, cfg.Timeout)
	}
	return di.brandID
}

func (di *dependencyInjector) Producer(ctx context.Context) *pipeline.Producer {
	if di.producer == nil {
		di.producer = pipeline.NewProducer(
			di.TaskInputs(ctx),
			di.RecordStore(ctx),
			di.Queues(ctx),
			di.Notifier(ctx),
		)
	}
	return di.producer
}

func (di *dependencyInjector) BrandGate(ctx context.Context) *pipeline.BrandGate {
	if di.gate == nil {
		di.gate = pipeline.NewBrandGate(
			di.HoldStore(ctx),
			di.RecordStore(ctx),
			di.Quota(ctx),
			di.Producer(ctx),
		)
	}
	return di.gate
}

func (di *dependencyInjector) Batcher(ctx context.Context) *pipeline.Batcher {
	if di.batcher == nil {
		cfg := di.Config()
		di.batcher = pipeline.NewBatcher(
			di.Queues(ctx),
			di.ResultSink(ctx),
			di.ErrorLog(ctx),
			di.RecordStore(ctx),
			di.Notifier(ctx),
			[]domain.Category{
				domain.CategoryImage,
				domain.CategoryNukki,
				domain.CategoryOption,
				domain.CategoryAttribute,
				domain.CategoryKeyword,
				domain.CategorySeo,
			},
			cfg.Batch.Size,
			cfg.Batch.PollInterval,
			cfg.PoolSize,
		)
	}
	return di.batcher
}

func (di *dependencyInjector) Reclaimer(ctx context.Context) *pipeline.Reclaimer {
	if di.reclaimer == nil {
		cfg := di.Config().Reclaim
		di.reclaimer = pipeline.NewReclaimer(
			di.RecordStore(ctx),
			di.HoldStore(ctx),
			di.Notifier(ctx),
			cfg.Interval,
			cfg.Timeout,
			cfg.BatchSize,
		)
	}
	return di.reclaimer
}

func (di *dependencyInjector) Estimator(ctx context.Context) *pipeline.Estimator {
	if di.estimator == nil {
		cfg := di.Config().Estimate
		channels := cfg.Channels
		if len(channels) == 0 {
			channels = []string{
				queue.TaskChannel(domain.CategoryImage),
				queue.TaskChannel(domain.CategoryNukki),
			}
		}
		di.estimator = pipeline.NewEstimator(di.Queues(ctx), channels, cfg.WorkFactor, cfg.PerItem)
	}
	return di.estimator
}

func (di *dependencyInjector) Registrar(ctx context.Context) pipeline.Registrar {
	if di.registrar == nil {
		di.registrar = usecase.New(
			di.RecordStore(ctx),
			di.Producer(ctx),
			di.BrandGate(ctx),
			di.BrandIdentifier(ctx),
			di.Estimator(ctx),
		)
	}
	return di.registrar
}

func (di *dependencyInjector) Intake(ctx context.Context) *pipeline.Intake {
	if di.intake == nil {
		di.intake = pipeline.NewIntake(di.Queues(ctx), di.Registrar(ctx))
	}
	return di.intake
}
