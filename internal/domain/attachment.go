package domain

// Attachment 表示邮件附件。
// 附件随 Message 一同创建，生命周期归属于 Message（级联删除）。
type Attachment struct {
	ID          string `json:"id" gorm:"primaryKey;type:varchar(36)"`            // 附件唯一标识
	MessageID   string `json:"messageId" gorm:"type:varchar(36);index;not null"` // 所属邮件ID
	Filename    string `json:"filename" gorm:"type:varchar(255)"`                // 文件名
	ContentType string `json:"contentType" gorm:"type:varchar(100)"`             // MIME类型
	Size        int64  `json:"size"`                                             // 大小（字节）
	BlobKey     string `json:"blobKey" gorm:"type:varchar(255)"`                 // Blob 存储键
	Content     []byte `json:"-" gorm:"-"`                                       // 附件内容（不入库，从 Blob 存储加载）
}
