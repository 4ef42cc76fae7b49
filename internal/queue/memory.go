package queue

import (
	"context"
	"sync"

	"mailsage/backend/internal/domain"
)

// MemoryQueue 进程内任务队列，实现 Publisher 语义并提供同步消费，
// 用于测试与开发环境。与 AMQP 实现保持一致的重试/死信语义。
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []*domain.IngestionJob
	deadLetters []*domain.IngestionJob
	retries     RetryCounter
	maxRetries  int64
}

// NewMemoryQueue 创建内存队列。
func NewMemoryQueue(maxRetries int64) *MemoryQueue {
	return &MemoryQueue{
		retries:    NewMemoryRetryCounter(),
		maxRetries: maxRetries,
	}
}

// Publish 入队一个任务。
func (q *MemoryQueue) Publish(_ context.Context, job *domain.IngestionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, job)
	return nil
}

// Close 关闭队列。
func (q *MemoryQueue) Close() error { return nil }

// Drain 同步消费队列中的全部任务直到清空。
// 重投通过把任务放回队尾模拟，受与 AMQP 消费器相同的重试预算约束。
func (q *MemoryQueue) Drain(ctx context.Context, handler Handler) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		decision, _ := handler(ctx, job)
		switch decision {
		case DecisionAck:
			_ = q.retries.Reset(ctx, job.ID)

		case DecisionRetry:
			attempts, _ := q.retries.Increment(ctx, job.ID)
			q.mu.Lock()
			if attempts > q.maxRetries {
				q.deadLetters = append(q.deadLetters, job)
			} else {
				q.pending = append(q.pending, job)
			}
			q.mu.Unlock()

		case DecisionDeadLetter:
			_ = q.retries.Reset(ctx, job.ID)
			q.mu.Lock()
			q.deadLetters = append(q.deadLetters, job)
			q.mu.Unlock()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Pending 返回待处理任务数。
func (q *MemoryQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters 返回死信任务列表（供测试与排查检视）。
func (q *MemoryQueue) DeadLetters() []*domain.IngestionJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.IngestionJob, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}
