package domain

import (
	"encoding/json"
	"time"
)

// 邮件目录。
const (
	FolderInbox   = "inbox"
	FolderArchive = "archive"
)

// Message 表示一封完成富化处理后的邮件记录。
// ID 在网关摄入时分配，贯穿整个管道保持不变；
// ID 上的唯一约束是重复投递时的幂等保护。
type Message struct {
	ID        string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	AccountID string `json:"accountId" gorm:"type:varchar(36);index;not null"` // 所属账户ID
	From      string `json:"from" gorm:"type:varchar(255)"`
	To        string `json:"to" gorm:"type:varchar(255)"`
	Subject   string `json:"subject" gorm:"type:varchar(500)"`
	RawKey    string `json:"rawKey" gorm:"type:varchar(255)"` // 原始邮件在 Blob 存储中的键

	// 富化字段（推理失败时写入默认值，永不阻塞入箱）
	Summary      string  `json:"summary" gorm:"type:varchar(1000)"`
	Category     string  `json:"category" gorm:"type:varchar(64);index"`
	Sentiment    float64 `json:"sentiment"`                            // 情感评分，区间 [-1,1]
	ActionItems  string  `json:"-" gorm:"type:text"`                   // JSON 序列化的待办列表
	EmbeddingKey string  `json:"embeddingKey,omitempty" gorm:"type:varchar(64)"` // 向量索引键，未生成时为空

	IsRead          bool      `json:"isRead" gorm:"default:false;index"`
	Folder          string    `json:"folder" gorm:"type:varchar(32);default:inbox"`
	ReceivedAt      time.Time `json:"receivedAt"`
	AttachmentCount int       `json:"attachmentCount"`

	Attachments []*Attachment `json:"attachments,omitempty" gorm:"-"` // 附件列表（按需加载）
}

// SetActionItems 序列化待办列表。
func (m *Message) SetActionItems(items []string) {
	if len(items) == 0 {
		m.ActionItems = "[]"
		return
	}
	data, err := json.Marshal(items)
	if err != nil {
		m.ActionItems = "[]"
		return
	}
	m.ActionItems = string(data)
}

// GetActionItems 反序列化待办列表。
func (m *Message) GetActionItems() []string {
	if m.ActionItems == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(m.ActionItems), &items); err != nil {
		return nil
	}
	return items
}
