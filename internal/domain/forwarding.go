package domain

import (
	"strings"
	"time"
)

// 转发规则匹配方式。
const (
	// MatchAll 匹配所有来信。
	MatchAll = "all"
	// MatchSenderContains 发件人地址包含配置的子串时匹配。
	MatchSenderContains = "sender_contains"
)

// ForwardingRule 表示账户级转发规则。
// 规则是相互独立的副作用而非优先级链：一封邮件命中多条规则时，
// 每条命中的规则各自触发一次转发。
type ForwardingRule struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID string    `json:"accountId" gorm:"type:varchar(36);index;not null"` // 所属账户ID
	Match     string    `json:"match" gorm:"type:varchar(32);not null"`           // 匹配方式: all | sender_contains
	Pattern   string    `json:"pattern" gorm:"type:varchar(255)"`                 // sender_contains 的匹配子串
	ForwardTo string    `json:"forwardTo" gorm:"type:varchar(255);not null"`      // 转发目标地址
	IsActive  bool      `json:"isActive" gorm:"default:true"`
	CreatedAt time.Time `json:"createdAt"`
}

// Matches 判断规则是否命中给定发件人。
func (r *ForwardingRule) Matches(sender string) bool {
	switch r.Match {
	case MatchAll:
		return true
	case MatchSenderContains:
		if r.Pattern == "" {
			return false
		}
		return strings.Contains(strings.ToLower(sender), strings.ToLower(r.Pattern))
	default:
		return false
	}
}
