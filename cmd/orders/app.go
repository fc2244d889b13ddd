package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/importer"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/kpi"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/observability"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/queue"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-order-fulfillment/internal/refunds"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app holds the shared infrastructure of one command invocation.
type app struct {
	cfg          config.Config
	log          *zap.Logger
	otelShutdown func(context.Context) error

	db       *pgxpool.Pool
	rdb      *redis.Client
	producer *kafkax.Producer
}

func newApp(ctx context.Context, service string) (*app, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if service != "" {
		cfg.ServiceName = service
	}

	shutdown, otelErr := observability.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	log, err := observability.NewLogger(cfg.LogLevel, cfg.ServiceName, cfg.OTelEndpoint != "" && otelErr == nil)
	if err != nil {
		return nil, err
	}
	if otelErr != nil {
		log.Error("opentelemetry setup failed, continuing without export", zap.Error(otelErr))
	}
	return &app{cfg: cfg, log: log, otelShutdown: shutdown}, nil
}

func (a *app) connectDB(ctx context.Context) error {
	db, err := postgres.Connect(ctx, a.cfg.PostgresDSN, int32(a.cfg.WorkerCount+2))
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	a.db = db
	return nil
}

func (a *app) connect(ctx context.Context) error {
	if err := a.connectDB(ctx); err != nil {
		return err
	}
	rdb, err := redisx.New(ctx, a.cfg.RedisAddr)
	if err != nil {
		return err
	}
	a.rdb = rdb
	return nil
}

func (a *app) repo() *orders.Repo {
	return &orders.Repo{DB: a.db, DefaultStock: a.cfg.DefaultStock}
}

func (a *app) queue() *queue.RedisQueue { return queue.NewRedisQueue(a.rdb) }

func (a *app) kpi() *kpi.Service { return kpi.New(redisx.NewCounters(a.rdb)) }

// notifier publishes to kafka when brokers are configured, else logs and
// writes the notification log directly.
func (a *app) notifier() notify.Notifier {
	if len(a.cfg.KafkaBrokers) == 0 {
		return &notify.LogNotifier{Log: a.log, Store: a.repo()}
	}
	if a.producer == nil {
		a.producer = kafkax.NewProducer(a.cfg.KafkaBrokers, a.cfg.ProducerBuffer, a.log)
	}
	return &notify.KafkaNotifier{P: a.producer}
}

func (a *app) fulfillment(q queue.Enqueuer) *fulfillment.Service {
	inv := inventory.NewService(a.repo(), redisx.NewLocker(a.rdb), a.log)
	inv.LockTTL, inv.LockWait = a.cfg.LockTTL, a.cfg.LockWait
	return &fulfillment.Service{
		Store:       a.repo(),
		Reserver:    inv,
		Queue:       q,
		KPI:         a.kpi(),
		Notifier:    a.notifier(),
		Gateway:     fulfillment.FakeGateway{},
		ChargeDelay: a.cfg.ChargeDelay,
		Producer:    a.cfg.ServiceName,
		Log:         a.log,
	}
}

func (a *app) refunds(q queue.Enqueuer) *refunds.Service {
	return &refunds.Service{
		Store:    a.repo(),
		Queue:    q,
		KPI:      a.kpi(),
		Notifier: a.notifier(),
		Producer: a.cfg.ServiceName,
		Log:      a.log,
	}
}

func (a *app) importer(q queue.Enqueuer) *importer.Importer {
	return &importer.Importer{Store: a.repo(), Queue: q, BatchSize: a.cfg.ImportBatchSize, Log: a.log}
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("producer close", zap.Error(err))
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.otelShutdown(ctx); err != nil {
		a.log.Warn("otel shutdown", zap.Error(err))
	}
	_ = a.log.Sync()
}
