package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/config"
	"mailsage/backend/internal/dispatch"
	"mailsage/backend/internal/enrich"
	"mailsage/backend/internal/gateway"
	"mailsage/backend/internal/health"
	"mailsage/backend/internal/inference"
	"mailsage/backend/internal/logger"
	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/notify"
	"mailsage/backend/internal/queue"
	"mailsage/backend/internal/relay"
	"mailsage/backend/internal/service"
	"mailsage/backend/internal/smtp"
	"mailsage/backend/internal/storage"
	"mailsage/backend/internal/storage/memory"
	sqlstore "mailsage/backend/internal/storage/sql"
	httptransport "mailsage/backend/internal/transport/http"
	"mailsage/backend/internal/vector"
	"mailsage/backend/internal/websocket"
)

// main 启动摄入网关：SMTP 接收、任务发布、运维 HTTP 与实时通知。
// 队列未配置时退化为单进程模式，富化 Worker 和派发扫描在进程内运行。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mailsage server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
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
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer store.Close()

	// Blob 存储
	blobs, err := blob.NewFilesystemStore(cfg.Blob.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize blob storage: %v", err))
	}
	log.Info("blob storage initialized", zap.String("path", cfg.Blob.Path))

	metrics := monitoring.NewMetrics()

	var redisClient *redis.Client
	if cfg.Queue.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	healthChecker := health.NewChecker(store, redisClient, log)

	// 任务队列
	var publisher queue.Publisher
	var memQueue *queue.MemoryQueue
	if cfg.Queue.URL != "" {
		amqpPublisher, err := queue.NewAMQPPublisher(cfg.Queue.URL, cfg.Queue.QueueName)
		if err != nil {
			panic(fmt.Sprintf("failed to connect to message queue: %v", err))
		}
		publisher = amqpPublisher
		log.Info("using AMQP queue", zap.String("queue", cfg.Queue.QueueName))
	} else {
		memQueue = queue.NewMemoryQueue(cfg.Queue.MaxRetries)
		publisher = memQueue
		log.Info("using in-process memory queue (development mode)")
	}
	defer publisher.Close()

	// 网关与 SMTP 接收
	gw := gateway.New(store, blobs, publisher, metrics, log)
	limiter := smtp.NewConnectionLimiter(cfg.SMTP.MaxConnections, cfg.SMTP.MaxConnections)
	smtpBackend := smtp.NewBackend(gw, limiter, cfg.SMTP.MaxMessageSize, log)

	smtpServer := gosmtp.NewServer(smtpBackend)
	smtpServer.Addr = cfg.SMTP.BindAddr
	smtpServer.Domain = cfg.SMTP.Domain
	smtpServer.ReadTimeout = 10 * time.Second
	smtpServer.WriteTimeout = 10 * time.Second
	smtpServer.MaxMessageBytes = cfg.SMTP.MaxMessageSize
	smtpServer.MaxRecipients = 50

	// 实时通知
	registry := notify.NewRegistry(cfg.Notify.IdleTTL, log)
	defer registry.Close()
	metrics.RegisterActorGauge(registry.ActorCount)
	wsHandler := websocket.NewHandler(store, registry, cfg.CORS.AllowedOrigins, metrics, log)

	// 业务服务与 HTTP 路由
	provisionService := service.NewProvisionService(store)
	messageService := service.NewMessageService(store, blobs)

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:    cfg,
		Handler:   httptransport.NewHandler(provisionService, messageService, log),
		WebSocket: wsHandler,
		Health:    healthChecker,
		Metrics:   metrics,
		Logger:    log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP server",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil {
			log.Error("SMTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 单进程模式：富化与派发在进程内跑
	if memQueue != nil {
		runInProcessPipeline(groupCtx, group, cfg, store, blobs, memQueue, registry, metrics, log)
	}

	// 优雅退出
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("SMTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}

// runInProcessPipeline 在网关进程内运行富化 Worker 与派发扫描。
// 仅用于未配置外部队列的开发部署。
func runInProcessPipeline(
	ctx context.Context,
	group *errgroup.Group,
	cfg *config.Config,
	store storage.Store,
	blobs blob.Store,
	memQueue *queue.MemoryQueue,
	registry *notify.Registry,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) {
	var classifier enrich.Classifier
	if cfg.Enrich.InferenceURL != "" {
		classifier = inference.NewClient(cfg.Enrich.InferenceURL, cfg.Enrich.InferenceTimeout)
	}

	var index vector.Index
	if cfg.Enrich.VectorURL != "" {
		index = vector.NewHTTPIndex(cfg.Enrich.VectorURL, cfg.Enrich.VectorCollection, cfg.Enrich.InferenceTimeout)
	}

	var outbound relay.Relay
	if cfg.Relay.Addr != "" {
		outbound = relay.NewSMTPRelay(cfg.Relay.Addr, cfg.Relay.Username, cfg.Relay.Password, cfg.Relay.Timeout, log)
	}

	worker := enrich.NewWorker(store, blobs, log, enrich.Options{
		Classifier:      classifier,
		Index:           index,
		Relay:           outbound,
		Notifier:        registry,
		Metrics:         metrics,
		BodyPrefixLimit: cfg.Enrich.BodyPrefixLimit,
	})

	group.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		log.Info("starting in-process enrichment loop")
		for {
			select {
			case <-ctx.Done():
				log.Info("in-process enrichment loop stopped")
				return nil
			case <-ticker.C:
				if err := memQueue.Drain(ctx, worker.Process); err != nil {
					log.Error("in-process drain failed", zap.Error(err))
				}
			}
		}
	})

	if outbound != nil {
		sweeper := dispatch.NewSweeper(store, outbound, metrics, log, cfg.Dispatch.Interval)
		group.Go(func() error {
			sweeper.Start(ctx)
			return nil
		})
	}
}
