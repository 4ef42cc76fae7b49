package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/relay"
	"mailsage/backend/internal/storage"
)

// defaultInterval 扫描周期。
const defaultInterval = 30 * time.Second

// Sweeper 周期性扫描到期的定时发送并经出站中继投递。
// 每个条目独立处理，单条失败不影响同批其余条目；
// 失败是终态，条目标记 failed 后不再参与后续扫描。
type Sweeper struct {
	store    storage.ScheduledSendRepository
	relay    relay.Relay
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	interval time.Duration
}

// NewSweeper 创建定时发送扫描器。
func NewSweeper(store storage.ScheduledSendRepository, r relay.Relay, metrics *monitoring.Metrics, logger *zap.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Sweeper{
		store:    store,
		relay:    r,
		metrics:  metrics,
		logger:   logger,
		interval: interval,
	}
}

// Start 阻塞运行扫描循环直到 ctx 取消。
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("dispatch sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("dispatch sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx, time.Now().UTC())
		}
	}
}

// Sweep 执行一轮扫描：取出所有 DueAt <= now 的待发送条目并逐条投递。
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	start := time.Now()

	due, err := s.store.ListDueScheduledSends(ctx, now)
	if err != nil {
		s.logger.Error("failed to list due scheduled sends", zap.Error(err))
		if s.metrics != nil {
			s.metrics.ErrorsTotal.WithLabelValues("dispatch").Inc()
		}
		return
	}

	if len(due) == 0 {
		return
	}

	s.logger.Info("sweeping scheduled sends", zap.Int("due", len(due)))

	for _, item := range due {
		s.dispatch(ctx, item, now)
	}

	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}
}

// dispatch 投递单个条目并落终态。
func (s *Sweeper) dispatch(ctx context.Context, item *domain.ScheduledSend, now time.Time) {
	log := s.logger.With(
		zap.String("send_id", item.ID),
		zap.String("to", item.To),
	)

	if err := s.relay.Send(ctx, item.From, item.To, item.Subject, []byte(item.Body)); err != nil {
		log.Warn("scheduled send failed", zap.Error(err))
		if markErr := s.store.MarkScheduledSendFailed(ctx, item.ID); markErr != nil {
			log.Error("failed to mark scheduled send failed", zap.Error(markErr))
		}
		if s.metrics != nil {
			s.metrics.SweepOutcomes.WithLabelValues("failed").Inc()
		}
		return
	}

	if err := s.store.MarkScheduledSendSent(ctx, item.ID, now); err != nil {
		// 投递成功但落态失败，下一轮会重复投递；宁可重发不可丢
		log.Error("failed to mark scheduled send sent", zap.Error(err))
		return
	}

	log.Info("scheduled send dispatched")
	if s.metrics != nil {
		s.metrics.SweepOutcomes.WithLabelValues("sent").Inc()
	}
}
