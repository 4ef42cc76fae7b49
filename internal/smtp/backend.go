package smtp

import (
	"context"
	"errors"
	"io"
	"strings"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"mailsage/backend/internal/gateway"
)

// Backend 实现 go-smtp 的 Backend 接口，是入站邮件边界。
//
// 这是一个只接收邮件的 SMTP 服务器：
// - 只接收发往系统内已开通别名的邮件
// - RCPT 阶段严格验证收件地址，未知收件人返回 550
// - 不做邮件中继
//
// 摄入工作全部委托给网关：路由解析、原始字节落盘、任务发布。
type Backend struct {
	gateway  *gateway.Gateway
	limiter  *ConnectionLimiter
	maxBytes int64
	logger   *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(gw *gateway.Gateway, limiter *ConnectionLimiter, maxBytes int64, logger *zap.Logger) *Backend {
	if maxBytes <= 0 {
		maxBytes = 10 << 20 // 10MB
	}
	return &Backend{
		gateway:  gw,
		limiter:  limiter,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 5},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []string
	released    bool
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.fromAddress = from
	return nil
}

// Rcpt 处理 RCPT 命令。
// 收件地址必须解析到系统内的别名，否则返回 550 拒收；
// 这里只做路由预检，真正的摄入在 Data 阶段经网关完成。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := strings.ToLower(strings.Trim(strings.TrimSpace(to), "<>"))
	if !strings.Contains(addr, "@") {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if err := s.backend.gateway.ResolveRecipient(context.Background(), addr); err != nil {
		if errors.Is(err, gateway.ErrUnknownRecipient) {
			return &gosmtp.SMTPError{
				Code:         550,
				EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
				Message:      "recipient mailbox not found: " + addr,
			}
		}
		s.backend.logger.Error("recipient lookup failed",
			zap.String("to", addr),
			zap.Error(err),
		)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "temporary lookup failure, try again later",
		}
	}

	s.recipients = append(s.recipients, addr)
	return nil
}

// Data 处理邮件内容：逐收件人交给网关摄入。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, s.backend.maxBytes))
	if err != nil {
		return err
	}

	ctx := context.Background()

	for _, rcpt := range s.recipients {
		_, err := s.backend.gateway.Accept(ctx, gateway.Envelope{
			From: s.fromAddress,
			To:   rcpt,
		}, rawBytes)
		if err != nil {
			if errors.Is(err, gateway.ErrUnknownRecipient) {
				// RCPT 已做预检，走到这里只剩预检和 DATA 之间别名被删除的窗口；
				// 整个 DATA 按 550 拒收，先摄入的收件人不回滚
				return &gosmtp.SMTPError{
					Code:         550,
					EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
					Message:      "recipient mailbox not found: " + rcpt,
				}
			}
			s.backend.logger.Error("ingestion failed",
				zap.String("to", rcpt),
				zap.Error(err),
			)
			// 瞬时失败，让发送方稍后重试
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary ingestion failure, try again later",
			}
		}
	}

	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.backend.limiter.Release()
		s.released = true
	}
	return nil
}
