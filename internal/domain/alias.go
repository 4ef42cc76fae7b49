package domain

import "time"

// Alias 表示一个可路由的收件地址。
// 每个别名精确解析到一个账户；无法解析的收件人在网关处直接拒绝，
// 不会进入投递管道。
type Alias struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Address     string    `json:"address" gorm:"type:varchar(255);uniqueIndex;not null"` // 别名地址（唯一）
	AccountID   string    `json:"accountId" gorm:"type:varchar(36);index;not null"`      // 所属账户ID
	DisplayName string    `json:"displayName" gorm:"type:varchar(128)"`                  // 显示名称
	IsPrimary   bool      `json:"isPrimary" gorm:"default:false"`                        // 是否为主地址
	CreatedAt   time.Time `json:"createdAt"`
}
