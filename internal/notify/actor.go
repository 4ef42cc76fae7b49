package notify

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mailsage/backend/internal/domain"
)

// Event 是广播给实时客户端的新邮件事件（紧凑载荷）。
type Event struct {
	MessageID  string    `json:"messageId"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Summary    string    `json:"summary,omitempty"`
	Category   string    `json:"category,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewMessageEvent 从已持久化的邮件记录构造事件。
func NewMessageEvent(message *domain.Message) *Event {
	return &Event{
		MessageID:  message.ID,
		From:       message.From,
		Subject:    message.Subject,
		Summary:    message.Summary,
		Category:   message.Category,
		ReceivedAt: message.ReceivedAt,
	}
}

// Session 表示一条已建立的实时客户端通道。
// Send 将序列化后的事件推给客户端；失败由会话自身的断开路径收尾，
// 广播方不负责清理。
type Session interface {
	ID() string
	Send(data []byte) error
}

// 投递给 actor 的操作。
type opKind int

const (
	opAttach opKind = iota
	opDetach
	opNotify
)

type op struct {
	kind    opKind
	session Session
	payload []byte
}

// actor 单个邮箱的会话集合与投递循环。
// 所有对会话集合的变更和所有广播都经由同一条 ops 通道，
// 由唯一的 goroutine 顺序执行（per-key 单写者）。
type actor struct {
	accountID  string
	ops        chan op
	lastActive time.Time
	attached   atomic.Int64 // 回收判断用，由 run 协程回写
	logger     *zap.Logger
}

func (a *actor) run() {
	sessions := make(map[string]Session)

	for o := range a.ops {
		switch o.kind {
		case opAttach:
			sessions[o.session.ID()] = o.session
			a.attached.Store(int64(len(sessions)))
			a.logger.Debug("session attached",
				zap.String("account_id", a.accountID),
				zap.String("session_id", o.session.ID()),
				zap.Int("sessions", len(sessions)),
			)

		case opDetach:
			// 无条件幂等：重复 detach 或从未 attach 都安全
			delete(sessions, o.session.ID())
			a.attached.Store(int64(len(sessions)))
			a.logger.Debug("session detached",
				zap.String("account_id", a.accountID),
				zap.String("session_id", o.session.ID()),
				zap.Int("sessions", len(sessions)),
			)

		case opNotify:
			// 零会话时是无副作用的空操作
			for id, session := range sessions {
				if err := session.Send(o.payload); err != nil {
					// 单个会话失败不中断其余投递；
					// 失效会话由它自己的断开路径回收
					a.logger.Warn("session delivery failed",
						zap.String("account_id", a.accountID),
						zap.String("session_id", id),
						zap.Error(err),
					)
				}
			}
		}
	}
}

// Registry 按账户 ID 管理邮箱 actor。
// actor 在首次引用时惰性创建，空闲超过 idleTTL 后回收；
// 不同账户的 actor 完全独立并发运行。
type Registry struct {
	mu      sync.Mutex
	actors  map[string]*actor
	idleTTL time.Duration
	logger  *zap.Logger
	stop    chan struct{}
	stopped sync.Once
}

// NewRegistry 创建 actor 注册表并启动空闲回收循环。
func NewRegistry(idleTTL time.Duration, logger *zap.Logger) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	r := &Registry{
		actors:  make(map[string]*actor),
		idleTTL: idleTTL,
		logger:  logger,
		stop:    make(chan struct{}),
	}
	go r.reapLoop()
	return r
}

// Attach 将会话加入指定账户的 actor。
func (r *Registry) Attach(accountID string, session Session) {
	r.enqueue(accountID, op{kind: opAttach, session: session})
}

// Detach 将会话从指定账户的 actor 移除。幂等。
func (r *Registry) Detach(accountID string, session Session) {
	r.enqueue(accountID, op{kind: opDetach, session: session})
}

// Notify 向账户的所有已连接会话广播事件。
// 没有会话时为空操作；永不阻塞调用方。
func (r *Registry) Notify(accountID string, event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Error("failed to marshal notify event",
			zap.String("account_id", accountID),
			zap.Error(err),
		)
		return
	}
	r.enqueue(accountID, op{kind: opNotify, payload: payload})
}

// enqueue 把操作投给账户的 actor，必要时惰性创建。
// 入队和回收都持有注册表锁，保证不会向已关闭的通道发送。
func (r *Registry) enqueue(accountID string, o op) {
	r.mu.Lock()
	defer r.mu.Unlock()

	select {
	case <-r.stop:
		return
	default:
	}

	a, ok := r.actors[accountID]
	if !ok {
		a = &actor{
			accountID: accountID,
			ops:       make(chan op, 256),
			logger:    r.logger,
		}
		r.actors[accountID] = a
		go a.run()
		r.logger.Debug("mailbox actor created", zap.String("account_id", accountID))
	}
	a.lastActive = time.Now()

	select {
	case a.ops <- o:
	default:
		// actor 积压时丢弃而不是阻塞摄入管道
		r.logger.Warn("mailbox actor backlogged, dropping op",
			zap.String("account_id", accountID),
		)
	}
}

// reapLoop 周期性回收空闲 actor。
func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.idleTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *Registry) reap() {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, a := range r.actors {
		// 有会话在线的 actor 永不回收：没有新邮件不等于空闲，
		// 回收会让在线客户端静默丢失后续通知
		if a.attached.Load() > 0 {
			continue
		}
		if a.lastActive.Before(cutoff) && len(a.ops) == 0 {
			close(a.ops)
			delete(r.actors, id)
			r.logger.Debug("idle mailbox actor evicted", zap.String("account_id", id))
		}
	}
}

// Close 停止注册表并关闭所有 actor。
func (r *Registry) Close() {
	r.stopped.Do(func() {
		close(r.stop)

		r.mu.Lock()
		defer r.mu.Unlock()
		for id, a := range r.actors {
			close(a.ops)
			delete(r.actors, id)
		}
	})
}

// ActorCount 返回当前存活的 actor 数（供指标与测试使用）。
func (r *Registry) ActorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
