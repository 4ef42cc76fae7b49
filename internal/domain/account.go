package domain

import "time"

// Account 表示拥有一个或多个别名地址的账户。
// 账户在开通时创建，身份信息创建后不可变。
type Account struct {
	ID             string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Handle         string    `json:"handle" gorm:"type:varchar(64);uniqueIndex;not null"` // 账户标识
	CredentialHash string    `json:"-" gorm:"type:varchar(128)"`                          // bcrypt 凭证哈希
	CreatedAt      time.Time `json:"createdAt"`
}
