package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Relay 定义出站邮件投递接口。
// 转发规则和定时发送共用同一条出站通道：
// Forward 透传已完整的原始报文，Send 为纯文本正文组装头部。
// 两者不做内容嗅探，由调用方决定报文形态。
type Relay interface {
	Send(ctx context.Context, from, to, subject string, body []byte) error
	Forward(ctx context.Context, from, to string, raw []byte) error
}

// SMTPRelay 通过上游 SMTP 服务器投递出站邮件。
type SMTPRelay struct {
	addr     string // host:port
	username string
	password string
	timeout  time.Duration
	log      *zap.Logger
}

// NewSMTPRelay 创建 SMTP 出站投递器。
// username 为空时不做认证（面向仅允许内网的中继）。
func NewSMTPRelay(addr, username, password string, timeout time.Duration, log *zap.Logger) *SMTPRelay {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SMTPRelay{
		addr:     addr,
		username: username,
		password: password,
		timeout:  timeout,
		log:      log,
	}
}

// Send 组装最小 RFC 5322 报文并投递。body 视为纯文本正文。
func (r *SMTPRelay) Send(ctx context.Context, from, to, subject string, body []byte) error {
	return r.submit(ctx, from, to, buildMessage(from, to, subject, body))
}

// Forward 原样投递一封已完整的邮件（转发原始报文）。
func (r *SMTPRelay) Forward(ctx context.Context, from, to string, raw []byte) error {
	return r.submit(ctx, from, to, string(raw))
}

// submit 把报文交给上游中继。
// ctx 只约束整次投递的启动窗口，连接本身由 timeout 兜底。
func (r *SMTPRelay) submit(ctx context.Context, from, to, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := smtp.Dial(r.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to relay %s: %w", r.addr, err)
	}
	defer client.Close()

	client.CommandTimeout = r.timeout
	client.SubmissionTimeout = r.timeout

	if r.username != "" {
		auth := sasl.NewPlainClient("", r.username, r.password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("relay authentication failed: %w", err)
		}
	}

	if err := client.SendMail(from, []string{to}, strings.NewReader(message)); err != nil {
		return fmt.Errorf("failed to send mail via relay: %w", err)
	}

	r.log.Debug("mail relayed",
		zap.String("from", from),
		zap.String("to", to),
		zap.String("relay", r.addr),
	)
	return nil
}

// buildMessage 组装最小可用的 RFC 5322 报文。
// 不猜测 body 是否已含头部：多段落纯文本正文同样会拿到完整头部。
func buildMessage(from, to, subject string, body []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: <%s@mailsage>\r\n", uuid.NewString())
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.Write(body)
	return b.String()
}
