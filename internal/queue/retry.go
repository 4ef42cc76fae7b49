package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRetryCounter 基于 Redis 的重试计数器。
// 计数跨 Worker 进程共享，broker 把同一任务重投给任意实例都能累计。
type RedisRetryCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisRetryCounter 创建 Redis 重试计数器。
// ttl 用于兜底过期，避免残留计数无限堆积。
func NewRedisRetryCounter(rdb *redis.Client, ttl time.Duration) *RedisRetryCounter {
	return &RedisRetryCounter{rdb: rdb, ttl: ttl}
}

// Increment 递增并返回任务当前的尝试次数。
func (r *RedisRetryCounter) Increment(ctx context.Context, jobID string) (int64, error) {
	key := retryKey(jobID)
	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	// 首次递增时设置过期
	if count == 1 {
		r.rdb.Expire(ctx, key, r.ttl)
	}
	return count, nil
}

// Reset 清除任务的重试计数。
func (r *RedisRetryCounter) Reset(ctx context.Context, jobID string) error {
	return r.rdb.Del(ctx, retryKey(jobID)).Err()
}

func retryKey(jobID string) string {
	return fmt.Sprintf("retry:ingest:%s", jobID)
}

// MemoryRetryCounter 进程内重试计数器，用于测试与单机部署。
type MemoryRetryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemoryRetryCounter 创建内存重试计数器。
func NewMemoryRetryCounter() *MemoryRetryCounter {
	return &MemoryRetryCounter{counts: make(map[string]int64)}
}

// Increment 递增并返回任务当前的尝试次数。
func (m *MemoryRetryCounter) Increment(_ context.Context, jobID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[jobID]++
	return m.counts[jobID], nil
}

// Reset 清除任务的重试计数。
func (m *MemoryRetryCounter) Reset(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, jobID)
	return nil
}
