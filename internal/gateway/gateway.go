package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/queue"
	"mailsage/backend/internal/storage"
)

// ErrUnknownRecipient 表示收件地址没有对应的别名。
// 这是摄入路径上唯一的同步失败：邮件在边界处被拒收，不产生任何任务。
var ErrUnknownRecipient = errors.New("unknown recipient")

// Envelope 表示入站邮件的信封。
type Envelope struct {
	From string
	To   string
}

// Gateway 摄入网关：解析路由、落盘原始字节、发布富化任务。
type Gateway struct {
	aliases storage.AliasRepository
	blobs   blob.Store
	jobs    queue.Publisher
	metrics *monitoring.Metrics // 可为 nil（测试）
	logger  *zap.Logger
}

// New 创建摄入网关。
func New(aliases storage.AliasRepository, blobs blob.Store, jobs queue.Publisher, metrics *monitoring.Metrics, logger *zap.Logger) *Gateway {
	return &Gateway{
		aliases: aliases,
		blobs:   blobs,
		jobs:    jobs,
		metrics: metrics,
		logger:  logger,
	}
}

// ResolveRecipient 检查收件地址能否路由到某个别名（RCPT 阶段预检）。
// 未命中返回 ErrUnknownRecipient，让邮件边界在 RCPT 就拒收，
// 不必等到 DATA 才发现收件人不存在。
func (g *Gateway) ResolveRecipient(ctx context.Context, to string) error {
	address := normalizeAddress(to)

	_, err := g.aliases.GetAliasByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrAliasNotFound) {
			if g.metrics != nil {
				g.metrics.RecipientRejected.Inc()
			}
			return fmt.Errorf("%w: %s", ErrUnknownRecipient, address)
		}
		return fmt.Errorf("resolve recipient: %w", err)
	}
	return nil
}

// Accept 接收一封入站邮件。
//
// 流程：
//  1. 收件地址在路由表（别名表）中解析；未命中返回 ErrUnknownRecipient，
//     由上游邮件边界拒收，不做任何后续工作。
//  2. 命中后分配新的 Message ID，先把原始字节写入 Blob 存储，
//     再发布引用同一 ID 的摄入任务。
//
// 副作用顺序是约束：Blob 写入必须先于任务发布完成，保证 Worker 取到任务时
// 总能读到原始字节；Blob 写入失败则不发布任务，整体按瞬时失败处理。
func (g *Gateway) Accept(ctx context.Context, env Envelope, raw []byte) (*domain.IngestionJob, error) {
	address := normalizeAddress(env.To)

	alias, err := g.aliases.GetAliasByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrAliasNotFound) {
			g.logger.Info("rejecting message for unknown recipient",
				zap.String("to", address),
				zap.String("from", env.From),
			)
			if g.metrics != nil {
				g.metrics.RecipientRejected.Inc()
			}
			return nil, fmt.Errorf("%w: %s", ErrUnknownRecipient, address)
		}
		return nil, fmt.Errorf("resolve recipient: %w", err)
	}

	messageID := uuid.NewString()

	if err := g.blobs.Put(blob.RawMessageKey(messageID), raw); err != nil {
		return nil, fmt.Errorf("store raw message: %w", err)
	}

	job := &domain.IngestionJob{
		ID:        messageID,
		AccountID: alias.AccountID,
		To:        address,
		From:      normalizeAddress(env.From),
		Raw:       raw,
	}

	if err := g.jobs.Publish(ctx, job); err != nil {
		return nil, fmt.Errorf("publish ingestion job: %w", err)
	}

	if g.metrics != nil {
		g.metrics.MessagesAccepted.Inc()
		g.metrics.JobsPublished.Inc()
	}

	g.logger.Info("message accepted",
		zap.String("message_id", messageID),
		zap.String("account_id", alias.AccountID),
		zap.String("to", address),
		zap.Int("raw_bytes", len(raw)),
	)

	return job, nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
