package queue

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// IsTransient 判断错误是否为瞬时错误。
// 瞬时错误（连接中断、超时）值得重投；其余错误视为永久失败。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	// 数据库驱动的连接类错误没有统一类型，按消息内容判断
	msg := err.Error()
	if strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "too many clients") {
		return true
	}

	return false
}
