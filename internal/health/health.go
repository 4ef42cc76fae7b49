package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mailsage/backend/internal/storage"
)

// Checker 健康检查器。
// 存储是活性检查：存储挂了进程就没有存在意义；
// Redis 只做就绪检查：没有重试计数器时管道退化但仍可服务。
type Checker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewChecker 创建健康检查器。redisClient 可以为 nil。
func NewChecker(store storage.Store, redisClient *redis.Client, logger *zap.Logger) *Checker {
	c := &Checker{
		health: healthcheck.NewHandler(),
		logger: logger,
	}

	c.health.AddLivenessCheck("storage", func() error {
		return store.Health()
	})

	if redisClient != nil {
		c.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Ping(ctx).Err()
		})
	}

	c.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(5000))

	return c
}

// Handler 返回健康检查处理器，挂载 /live 与 /ready。
func (c *Checker) Handler() http.Handler {
	return c.health
}

// LiveEndpoint gin 挂载用。
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.LiveEndpoint(w, r)
}

// ReadyEndpoint gin 挂载用。
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.health.ReadyEndpoint(w, r)
}
