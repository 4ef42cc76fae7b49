package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/config"
	"mailsage/backend/internal/dispatch"
	"mailsage/backend/internal/enrich"
	"mailsage/backend/internal/inference"
	"mailsage/backend/internal/logger"
	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/queue"
	"mailsage/backend/internal/relay"
	"mailsage/backend/internal/storage"
	sqlstore "mailsage/backend/internal/storage/sql"
	"mailsage/backend/internal/vector"
)

// main 启动独立的富化 Worker 进程：消费摄入队列并运行派发扫描。
// 需要外部队列与共享数据库；实时通知由网关进程负责。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailsage worker",
		zap.String("log_level", cfg.Log.Level),
	)

	if cfg.Queue.URL == "" {
		log.Fatal("worker requires MAILSAGE_QUEUE_URL; " +
			"without an external queue run the all-in-one server instead")
	}
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Fatal("worker requires a shared database (MAILSAGE_DATABASE_TYPE, MAILSAGE_DATABASE_DSN)")
	}

	var store storage.Store
	sqlStore, err := sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize database storage: %v", err))
	}
	store = sqlStore
	defer store.Close()

	blobs, err := blob.NewFilesystemStore(cfg.Blob.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize blob storage: %v", err))
	}

	metrics := monitoring.NewMetrics()

	// 重试计数器：Redis 可用时跨进程共享，否则退化为进程内计数
	var retries queue.RetryCounter
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		retries = queue.NewRedisRetryCounter(redisClient, 24*time.Hour)
		log.Info("using redis retry counter", zap.String("address", cfg.Redis.Address))
	} else {
		retries = queue.NewMemoryRetryCounter()
		log.Warn("redis not configured, using in-process retry counter")
	}

	consumer, err := queue.NewAMQPConsumer(
		cfg.Queue.URL,
		cfg.Queue.QueueName,
		retries,
		cfg.Queue.MaxRetries,
		cfg.Queue.Prefetch,
		log,
	)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to message queue: %v", err))
	}
	defer consumer.Close()

	var classifier enrich.Classifier
	if cfg.Enrich.InferenceURL != "" {
		classifier = inference.NewClient(cfg.Enrich.InferenceURL, cfg.Enrich.InferenceTimeout)
		log.Info("inference service configured", zap.String("url", cfg.Enrich.InferenceURL))
	} else {
		log.Warn("inference service not configured, messages get default enrichment")
	}

	var index vector.Index
	if cfg.Enrich.VectorURL != "" {
		index = vector.NewHTTPIndex(cfg.Enrich.VectorURL, cfg.Enrich.VectorCollection, cfg.Enrich.InferenceTimeout)
	}

	var outbound relay.Relay
	if cfg.Relay.Addr != "" {
		outbound = relay.NewSMTPRelay(cfg.Relay.Addr, cfg.Relay.Username, cfg.Relay.Password, cfg.Relay.Timeout, log)
	} else {
		log.Warn("outbound relay not configured, forwarding and scheduled sends disabled")
	}

	worker := enrich.NewWorker(store, blobs, log, enrich.Options{
		Classifier:      classifier,
		Index:           index,
		Relay:           outbound,
		Metrics:         metrics,
		BodyPrefixLimit: cfg.Enrich.BodyPrefixLimit,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return consumer.Start(groupCtx, worker.Process)
	})

	if outbound != nil {
		sweeper := dispatch.NewSweeper(store, outbound, metrics, log, cfg.Dispatch.Interval)
		group.Go(func() error {
			sweeper.Start(groupCtx)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatal("worker exited with error", zap.Error(err))
	}
	log.Info("worker stopped")
}
