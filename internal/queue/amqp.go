package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/pool"
)

const (
	// ExchangeName 摄入事件交换机。
	ExchangeName = "mailsage.ingest"
	// DLQExchangeName 死信交换机。
	DLQExchangeName = "mailsage.ingest.dlq"
	// RoutingKeyIngestion 摄入任务路由键。
	RoutingKeyIngestion = "message.ingested"
)

// DeclareTopology 声明交换机、工作队列与死信队列。
// 幂等操作，发布端与消费端都会调用。
func DeclareTopology(ch *amqp091.Channel, queueName string) (amqp091.Queue, error) {
	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DLQExchangeName, "topic", true, false, false, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	q, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, RoutingKeyIngestion, ExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind queue: %w", err)
	}

	// 死信队列与工作队列同名加 .dlq 后缀，保留原始载荷供离线排查
	dlq, err := ch.QueueDeclare(queueName+".dlq", true, false, false, false, nil)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(dlq.Name, RoutingKeyIngestion, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}

	return q, nil
}

// AMQPPublisher 基于 RabbitMQ 的任务发布器。
type AMQPPublisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

// NewAMQPPublisher 建立连接并声明拓扑。
func NewAMQPPublisher(url, queueName string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := DeclareTopology(ch, queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Publish 发布摄入任务，消息持久化。
func (p *AMQPPublisher) Publish(ctx context.Context, job *domain.IngestionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	return p.channel.PublishWithContext(ctx,
		ExchangeName,
		RoutingKeyIngestion,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			MessageId:    job.ID,
			DeliveryMode: amqp091.Persistent,
		},
	)
}

// Close 关闭连接。
func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// publishToDLQ 将失败消息连同错误信息头投入死信交换机。
func publishToDLQ(ctx context.Context, ch *amqp091.Channel, body []byte, jobID, reason string) error {
	headers := amqp091.Table{
		"x-original-error": reason,
		"x-failed-at":      "enrichment-worker",
	}
	return ch.PublishWithContext(ctx,
		DLQExchangeName,
		RoutingKeyIngestion,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			MessageId:    jobID,
			DeliveryMode: amqp091.Persistent,
			Headers:      headers,
		},
	)
}

// AMQPConsumer 基于 RabbitMQ 的任务消费器，手动 ack。
type AMQPConsumer struct {
	conn       *amqp091.Connection
	channel    *amqp091.Channel
	queue      amqp091.Queue
	retries    RetryCounter
	maxRetries int64
	prefetch   int
	workers    *pool.WorkerPool
	pubMu      sync.Mutex
	logger     *zap.Logger
}

// NewAMQPConsumer 建立连接、声明拓扑并设置批大小（prefetch）。
func NewAMQPConsumer(url, queueName string, retries RetryCounter, maxRetries int64, prefetch int, logger *zap.Logger) (*AMQPConsumer, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q, err := DeclareTopology(ch, queueName)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	// prefetch 限定单个 Worker 未确认消息数，即每批任务的上界
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	logger.Info("consumer initialized",
		zap.String("queue", q.Name),
		zap.String("exchange", ExchangeName),
		zap.Int("prefetch", prefetch),
	)

	// prefetch 同时是并发处理的上界，协程池按它定容
	workers := pool.NewWorkerPool(prefetch, prefetch*2, logger)

	return &AMQPConsumer{
		conn:       conn,
		channel:    ch,
		queue:      q,
		retries:    retries,
		maxRetries: maxRetries,
		prefetch:   prefetch,
		workers:    workers,
		logger:     logger,
	}, nil
}

// Start 阻塞消费，保证每条消息都被 ack、重投或死信。
func (c *AMQPConsumer) Start(ctx context.Context, handler Handler) error {
	deliveries, err := c.channel.Consume(c.queue.Name, "enrichment-worker", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("consumer started", zap.String("queue", c.queue.Name))

	c.workers.Start(ctx)
	defer c.workers.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return nil
			}
			delivery := msg
			c.workers.Submit(func() {
				c.handleDelivery(ctx, delivery, handler)
			})
		}
	}
}

// handleDelivery 处理单条投递。
func (c *AMQPConsumer) handleDelivery(ctx context.Context, msg amqp091.Delivery, handler Handler) {
	// Panic 恢复：handler panic 时重投消息而不是拖垮消费循环
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic recovered", zap.Any("panic", r))
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("failed to nack message after panic", zap.Error(err))
			}
		}
	}()

	var job domain.IngestionJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		// 载荷损坏无法重试，直接死信
		c.logger.Error("failed to unmarshal job, dead-lettering",
			zap.Error(err),
			zap.String("message_id", msg.MessageId),
		)
		c.deadLetter(ctx, msg, msg.MessageId, fmt.Sprintf("json unmarshal: %v", err))
		return
	}

	decision, herr := handler(ctx, &job)

	switch decision {
	case DecisionAck:
		_ = c.retries.Reset(ctx, job.ID)
		if err := msg.Ack(false); err != nil {
			c.logger.Error("failed to ack message", zap.String("job_id", job.ID), zap.Error(err))
		}

	case DecisionRetry:
		attempts, err := c.retries.Increment(ctx, job.ID)
		if err != nil {
			// 计数器不可用时保守处理：按首次重试
			c.logger.Warn("retry counter unavailable, assuming first attempt",
				zap.String("job_id", job.ID), zap.Error(err))
			attempts = 1
		}
		if attempts > c.maxRetries {
			c.logger.Warn("retry budget exhausted, dead-lettering",
				zap.String("job_id", job.ID),
				zap.Int64("attempts", attempts),
				zap.Error(herr),
			)
			_ = c.retries.Reset(ctx, job.ID)
			c.deadLetter(ctx, msg, job.ID, errString(herr))
			return
		}
		c.logger.Warn("job failed, requeueing",
			zap.String("job_id", job.ID),
			zap.Int64("attempts", attempts),
			zap.Error(herr),
		)
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("failed to nack message", zap.String("job_id", job.ID), zap.Error(err))
		}

	case DecisionDeadLetter:
		c.logger.Error("job permanently failed, dead-lettering",
			zap.String("job_id", job.ID),
			zap.Error(herr),
		)
		_ = c.retries.Reset(ctx, job.ID)
		c.deadLetter(ctx, msg, job.ID, errString(herr))
	}
}

// deadLetter 发布到死信队列并确认原消息；发布失败则重投原消息兜底。
// 协程池里的多个任务可能同时死信，发布在同一 channel 上需要串行。
func (c *AMQPConsumer) deadLetter(ctx context.Context, msg amqp091.Delivery, jobID, reason string) {
	c.pubMu.Lock()
	err := publishToDLQ(ctx, c.channel, msg.Body, jobID, reason)
	c.pubMu.Unlock()
	if err != nil {
		c.logger.Error("failed to publish to DLQ, requeueing original",
			zap.String("job_id", jobID), zap.Error(err))
		_ = msg.Nack(false, true)
		return
	}
	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack dead-lettered message",
			zap.String("job_id", jobID), zap.Error(err))
	}
}

// Close 关闭连接。
func (c *AMQPConsumer) Close() error {
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
