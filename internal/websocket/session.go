package websocket

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"mailsage/backend/internal/monitoring"
	"mailsage/backend/internal/notify"
	"mailsage/backend/internal/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// upgraderFactory 创建带有 Origin 验证的 WebSocket 升级器
func upgraderFactory(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			requestOrigin := r.Header.Get("Origin")
			if requestOrigin == "" {
				// 同源请求没有 Origin 头
				return true
			}

			for _, origin := range allowedOrigins {
				if requestOrigin == origin {
					return true
				}
			}

			return false
		},
	}
}

// Session 代表一个已认证账户的 WebSocket 连接。
// Send 只向缓冲通道投递，真正的网络写集中在 writePump，
// 保证每个连接只有一个写者。
type Session struct {
	id        string
	accountID string
	conn      *websocket.Conn
	send      chan []byte
	closeMu   sync.Mutex
	closed    bool
	registry  *notify.Registry
	metrics   *monitoring.Metrics
	log       *zap.Logger
}

// ID 实现 notify.Session。
func (s *Session) ID() string {
	return s.id
}

// Send 实现 notify.Session。通道满时丢弃该事件而不阻塞广播方。
// detach 是异步的，actor 可能在会话关闭后仍尝试投递，
// 关闭标志在锁内检查，保证永远不会向已关闭的通道发送。
func (s *Session) Send(data []byte) error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return errors.New("session closed")
	}
	select {
	case s.send <- data:
		return nil
	default:
		return errors.New("session send buffer full")
	}
}

// shutdown 标记会话关闭并释放发送通道。幂等。
func (s *Session) shutdown() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}

// Handler 处理 WebSocket 升级、认证和会话生命周期。
type Handler struct {
	accounts       storage.AccountRepository
	registry       *notify.Registry
	allowedOrigins []string
	metrics        *monitoring.Metrics // 可为 nil（测试）
	log            *zap.Logger
}

// NewHandler 创建 WebSocket 处理器。
func NewHandler(accounts storage.AccountRepository, registry *notify.Registry, allowedOrigins []string, metrics *monitoring.Metrics, log *zap.Logger) *Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return &Handler{
		accounts:       accounts,
		registry:       registry,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
		log:            log,
	}
}

// authenticate 校验账户凭据。
// 凭据从查询参数或 Authorization 头取出，与账户的 bcrypt 哈希比对。
func (h *Handler) authenticate(c *gin.Context) (string, error) {
	accountID := c.Query("accountId")
	if accountID == "" {
		return "", errors.New("missing account id")
	}

	secret := c.Query("secret")
	if secret == "" {
		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				secret = parts[1]
			}
		}
	}
	if secret == "" {
		return "", errors.New("missing credential")
	}

	account, err := h.accounts.GetAccount(c.Request.Context(), accountID)
	if err != nil {
		return "", errors.New("unknown account")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.CredentialHash), []byte(secret)); err != nil {
		return "", errors.New("invalid credential")
	}

	return account.ID, nil
}

// Serve 返回挂载到 gin 路由的处理函数。
func (h *Handler) Serve() gin.HandlerFunc {
	upgrader := upgraderFactory(h.allowedOrigins)

	return func(c *gin.Context) {
		accountID, err := h.authenticate(c)
		if err != nil {
			h.log.Warn("websocket authentication failed",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Error("failed to upgrade connection",
				zap.Error(err),
				zap.String("origin", c.Request.Header.Get("Origin")),
				zap.String("remote_addr", c.ClientIP()))
			return
		}

		session := &Session{
			id:        uuid.NewString(),
			accountID: accountID,
			conn:      conn,
			send:      make(chan []byte, 256),
			registry:  h.registry,
			metrics:   h.metrics,
			log:       h.log,
		}

		h.registry.Attach(accountID, session)
		if h.metrics != nil {
			h.metrics.ActiveSessions.Inc()
		}
		h.log.Info("websocket session opened",
			zap.String("session_id", session.id),
			zap.String("account_id", accountID))

		go session.writePump()
		go session.readPump()
	}
}

// readPump 消费入站帧并维持读超时。
// 连接断开时负责从注册表摘除会话（detach 幂等，重复调用安全）。
func (s *Session) readPump() {
	defer func() {
		s.registry.Detach(s.accountID, s)
		s.conn.Close()
		s.shutdown()
		if s.metrics != nil {
			s.metrics.ActiveSessions.Dec()
		}
		s.log.Info("websocket session closed",
			zap.String("session_id", s.id),
			zap.String("account_id", s.accountID))
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// 客户端只接收事件，入站帧仅用于保活
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Error("websocket error", zap.Error(err))
			}
			break
		}
	}
}

// writePump 发送事件并周期性 ping 客户端。
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			s.conn.WriteMessage(websocket.TextMessage, message)

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
