package enrich

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/notify"
	"mailsage/backend/internal/queue"
	"mailsage/backend/internal/relay"
	"mailsage/backend/internal/smtp"
	"mailsage/backend/internal/storage"
	"mailsage/backend/internal/vector"
)

// defaultBodyPrefixLimit 送入推理服务的正文截断长度（按 rune 计）。
const defaultBodyPrefixLimit = 4000

// Classifier 定义富化所需的推理能力。
type Classifier interface {
	Classify(ctx context.Context, subject, bodyPrefix string) (*domain.Enrichment, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Notifier 定义新邮件事件的广播入口。
type Notifier interface {
	Notify(accountID string, event *notify.Event)
}

// Store 是 Worker 需要的存储能力子集。
type Store interface {
	storage.MessageRepository
	storage.AttachmentRepository
	storage.ForwardingRuleRepository
}

// Worker 消费摄入任务并执行富化管道：
// 解析、转发、分类、向量化、持久化、广播。
// Process 满足 queue.Handler，可直接挂到消费者上。
type Worker struct {
	store      Store
	blobs      blob.Store
	classifier Classifier
	index      vector.Index
	relay      relay.Relay
	notifier   Notifier
	metrics    *monitoring.Metrics
	logger     *zap.Logger

	bodyPrefixLimit int
}

// Options Worker 的可选依赖与调优项。
// Classifier 为 nil 时所有邮件使用默认富化；Index、Relay、Notifier
// 为 nil 时跳过对应阶段。
type Options struct {
	Classifier      Classifier
	Index           vector.Index
	Relay           relay.Relay
	Notifier        Notifier
	Metrics         *monitoring.Metrics
	BodyPrefixLimit int
}

// NewWorker 创建富化 Worker。
func NewWorker(store Store, blobs blob.Store, logger *zap.Logger, opts Options) *Worker {
	limit := opts.BodyPrefixLimit
	if limit <= 0 {
		limit = defaultBodyPrefixLimit
	}
	return &Worker{
		store:           store,
		blobs:           blobs,
		classifier:      opts.Classifier,
		index:           opts.Index,
		relay:           opts.Relay,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		logger:          logger,
		bodyPrefixLimit: limit,
	}
}

// Process 处理一个摄入任务。
//
// 投递语义是 at-least-once，任务可能被重复投递；
// 幂等保护在 InsertMessage 的唯一约束上：命中 ErrMessageExists
// 时直接确认且不再广播，保证既不产生重复行也不产生重复通知。
func (w *Worker) Process(ctx context.Context, job *domain.IngestionJob) (queue.Decision, error) {
	start := time.Now()
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("account_id", job.AccountID),
	)

	raw, err := w.loadRaw(job)
	if err != nil {
		// 载荷和 Blob 都拿不到原始邮件，任务无法推进
		log.Error("raw message unavailable", zap.Error(err))
		return w.conclude(queue.DecisionDeadLetter, start), err
	}

	parsed, err := smtp.ParseEmail(raw)
	if err != nil {
		if errors.Is(err, smtp.ErrMalformedMessage) {
			// 永久失败，重试不会让报文变得可解析
			log.Warn("malformed message, dead-lettering", zap.Error(err))
			return w.conclude(queue.DecisionDeadLetter, start), err
		}
		return w.conclude(queue.DecisionRetry, start), err
	}

	sender := parsed.From
	if sender == "" {
		sender = job.From
	}

	w.applyForwarding(ctx, job, sender, raw, log)

	enrichment := w.classify(ctx, parsed, log)

	message := &domain.Message{
		ID:              job.ID,
		AccountID:       job.AccountID,
		From:            sender,
		To:              job.To,
		Subject:         parsed.Subject,
		RawKey:          blob.RawMessageKey(job.ID),
		Summary:         enrichment.Summary,
		Category:        enrichment.Category,
		Sentiment:       enrichment.Sentiment,
		Folder:          domain.FolderInbox,
		ReceivedAt:      time.Now().UTC(),
		AttachmentCount: len(parsed.Attachments),
	}
	message.SetActionItems(enrichment.ActionItems)

	w.embed(ctx, message, parsed, log)

	if err := w.storeAttachments(ctx, job.ID, parsed.Attachments, log); err != nil {
		if queue.IsTransient(err) {
			return w.conclude(queue.DecisionRetry, start), err
		}
		return w.conclude(queue.DecisionDeadLetter, start), err
	}

	if err := w.store.InsertMessage(ctx, message); err != nil {
		if errors.Is(err, storage.ErrMessageExists) {
			// 重复投递：第一次投递已入箱并广播过
			log.Info("duplicate delivery, skipping")
			if w.metrics != nil {
				w.metrics.JobsDuplicate.Inc()
			}
			return w.conclude(queue.DecisionAck, start), nil
		}
		if queue.IsTransient(err) {
			log.Warn("transient store failure, will retry", zap.Error(err))
			return w.conclude(queue.DecisionRetry, start), err
		}
		log.Error("permanent store failure", zap.Error(err))
		return w.conclude(queue.DecisionDeadLetter, start), err
	}

	if w.notifier != nil {
		w.notifier.Notify(job.AccountID, notify.NewMessageEvent(message))
		if w.metrics != nil {
			w.metrics.EventsBroadcast.Inc()
		}
	}

	log.Info("message enriched and stored",
		zap.String("category", message.Category),
		zap.Int("attachments", message.AttachmentCount),
	)
	return w.conclude(queue.DecisionAck, start), nil
}

// loadRaw 返回原始邮件字节：优先队列载荷，缺失时回读 Blob 存储。
func (w *Worker) loadRaw(job *domain.IngestionJob) ([]byte, error) {
	if len(job.Raw) > 0 {
		return job.Raw, nil
	}
	raw, err := w.blobs.Get(blob.RawMessageKey(job.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load raw message from blob store: %w", err)
	}
	return raw, nil
}

// applyForwarding 对每条命中的激活规则各转发一次。
// 规则相互独立，单条失败只记日志，不影响其余规则也不影响入箱。
func (w *Worker) applyForwarding(ctx context.Context, job *domain.IngestionJob, sender string, raw []byte, log *zap.Logger) {
	if w.relay == nil {
		return
	}

	rules, err := w.store.ListActiveForwardingRules(ctx, job.AccountID)
	if err != nil {
		log.Warn("failed to load forwarding rules", zap.Error(err))
		return
	}

	for _, rule := range rules {
		if !rule.Matches(sender) {
			continue
		}
		if err := w.relay.Forward(ctx, job.To, rule.ForwardTo, raw); err != nil {
			log.Warn("forwarding failed",
				zap.String("rule_id", rule.ID),
				zap.String("forward_to", rule.ForwardTo),
				zap.Error(err),
			)
			if w.metrics != nil {
				w.metrics.ForwardsAttempted.WithLabelValues("error").Inc()
			}
			continue
		}
		log.Info("message forwarded",
			zap.String("rule_id", rule.ID),
			zap.String("forward_to", rule.ForwardTo),
		)
		if w.metrics != nil {
			w.metrics.ForwardsAttempted.WithLabelValues("ok").Inc()
		}
	}
}

// classify 调用推理服务给邮件分类。
// 富化是尽力而为的：推理不可用时落默认值，绝不阻塞入箱。
func (w *Worker) classify(ctx context.Context, parsed *smtp.ParsedEmail, log *zap.Logger) *domain.Enrichment {
	if w.classifier == nil {
		return domain.DefaultEnrichment()
	}

	prefix := truncateRunes(parsed.BodyText(), w.bodyPrefixLimit)
	enrichment, err := w.classifier.Classify(ctx, parsed.Subject, prefix)
	if err != nil {
		log.Warn("classification failed, using defaults", zap.Error(err))
		if w.metrics != nil {
			w.metrics.EnrichmentFallback.Inc()
		}
		return domain.DefaultEnrichment()
	}
	if enrichment.Category == "" {
		enrichment.Category = domain.CategoryInbox
	}
	return enrichment
}

// embed 生成正文向量并写入向量索引。完全尽力而为。
func (w *Worker) embed(ctx context.Context, message *domain.Message, parsed *smtp.ParsedEmail, log *zap.Logger) {
	if w.classifier == nil || w.index == nil {
		return
	}

	text := truncateRunes(parsed.BodyText(), w.bodyPrefixLimit)
	if text == "" {
		return
	}

	vec, err := w.classifier.Embed(ctx, text)
	if err != nil {
		log.Warn("embedding failed, skipping vector index", zap.Error(err))
		return
	}

	metadata := map[string]string{
		"accountId": message.AccountID,
		"subject":   message.Subject,
		"category":  message.Category,
	}
	if err := w.index.Upsert(ctx, message.ID, vec, metadata); err != nil {
		log.Warn("vector upsert failed", zap.Error(err))
		return
	}
	message.EmbeddingKey = message.ID
}

// storeAttachments 写入附件内容与元数据。
// 附件 ID 从邮件 ID 和序号确定性派生，重复投递时重写同一批键，
// 元数据插入命中主键冲突按已存在处理。
func (w *Worker) storeAttachments(ctx context.Context, messageID string, attachments []*domain.Attachment, log *zap.Logger) error {
	for i, att := range attachments {
		att.ID = uuid.NewSHA1(uuid.NameSpaceOID, fmt.Appendf(nil, "%s/%d", messageID, i)).String()
		att.MessageID = messageID
		att.BlobKey = blob.AttachmentKey(messageID, att.ID)

		if err := w.blobs.Put(att.BlobKey, att.Content); err != nil {
			return fmt.Errorf("failed to store attachment blob: %w", err)
		}

		if err := w.store.InsertAttachment(ctx, att); err != nil {
			if errors.Is(err, storage.ErrAttachmentExists) {
				// 重复投递时同一附件会再次插入，按已存在跳过
				log.Debug("attachment already stored", zap.String("attachment_id", att.ID))
				continue
			}
			return fmt.Errorf("failed to insert attachment record: %w", err)
		}

		if w.metrics != nil {
			w.metrics.AttachmentsStored.Inc()
			w.metrics.AttachmentSize.Observe(float64(att.Size))
		}
	}
	return nil
}

// conclude 记录结论指标并返回。
func (w *Worker) conclude(d queue.Decision, start time.Time) queue.Decision {
	if w.metrics != nil {
		w.metrics.JobsProcessed.WithLabelValues(d.String()).Inc()
		w.metrics.EnrichmentDuration.Observe(time.Since(start).Seconds())
	}
	return d
}

// truncateRunes 按 rune 截断，避免把多字节字符切到一半。
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
