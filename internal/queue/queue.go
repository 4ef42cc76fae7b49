package queue

import (
	"context"

	"mailsage/backend/internal/domain"
)

// Decision 表示富化 Worker 处理一个任务后的结论。
type Decision int

const (
	// DecisionAck 处理成功，确认消息。
	DecisionAck Decision = iota
	// DecisionRetry 瞬时失败，交给 broker 重投，受重试预算约束。
	DecisionRetry
	// DecisionDeadLetter 永久失败（如 MIME 损坏），直接进入死信队列。
	DecisionDeadLetter
)

// String 返回结论名称（用于日志与指标标签）。
func (d Decision) String() string {
	switch d {
	case DecisionAck:
		return "ack"
	case DecisionRetry:
		return "retry"
	case DecisionDeadLetter:
		return "deadletter"
	default:
		return "unknown"
	}
}

// Handler 处理一个摄入任务并给出结论。
// 返回的 error 仅用于日志与死信消息头，结论以 Decision 为准。
type Handler func(ctx context.Context, job *domain.IngestionJob) (Decision, error)

// Publisher 定义任务发布接口（网关侧）。
type Publisher interface {
	Publish(ctx context.Context, job *domain.IngestionJob) error
	Close() error
}

// Consumer 定义任务消费接口（Worker 侧）。
// 投递语义是 at-least-once：同一任务可能被投递多次，
// Handler 必须容忍重复执行。
type Consumer interface {
	// Start 阻塞消费直到 ctx 取消或通道关闭。
	Start(ctx context.Context, handler Handler) error
	Close() error
}

// RetryCounter 跟踪任务的重投次数，用于限定重试预算。
type RetryCounter interface {
	// Increment 递增并返回任务当前的尝试次数。
	Increment(ctx context.Context, jobID string) (int64, error)
	// Reset 清除任务的重试计数（任务终结后调用）。
	Reset(ctx context.Context, jobID string) error
}
