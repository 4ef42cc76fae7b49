package domain

import "time"

// 定时发送状态。状态机: pending→sent 或 pending→failed，终态不可逆，
// 失败的条目不会自动回到 pending 重试。
const (
	ScheduledStatusPending = "pending"
	ScheduledStatusSent    = "sent"
	ScheduledStatusFailed  = "failed"
)

// ScheduledSend 表示一条延迟发送的出站邮件。
// 由（外部的）发送 API 创建；状态转移仅由定时派发扫描执行。
type ScheduledSend struct {
	ID        string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID string     `json:"accountId" gorm:"type:varchar(36);index;not null"` // 所属账户ID
	From      string     `json:"from" gorm:"type:varchar(255)"`
	To        string     `json:"to" gorm:"type:varchar(255)"`
	Subject   string     `json:"subject" gorm:"type:varchar(500)"`
	Body      string     `json:"body" gorm:"type:text"`
	DueAt     time.Time  `json:"dueAt" gorm:"index"`                                     // 到期时间
	Status    string     `json:"status" gorm:"type:varchar(16);default:pending;index"`   // pending | sent | failed
	CreatedAt time.Time  `json:"createdAt"`
	SentAt    *time.Time `json:"sentAt,omitempty"` // 实际发送时间
}
