package storage

import (
	"context"
	"errors"
	"time"

	"mailsage/backend/internal/domain"
)

var (
	// ErrAliasNotFound 别名未找到错误
	ErrAliasNotFound = errors.New("alias not found")
	// ErrAccountNotFound 账户未找到错误
	ErrAccountNotFound = errors.New("account not found")
	// ErrMessageNotFound 邮件未找到错误
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageExists 邮件已存在错误。
	// InsertMessage 命中 ID 唯一约束时返回；重复投递的任务据此跳过重复插入。
	ErrMessageExists = errors.New("message already exists")
	// ErrAttachmentExists 附件记录已存在错误。
	// InsertAttachment 命中 ID 唯一约束时返回；附件 ID 由邮件 ID 确定性派生，
	// 重复投递的任务据此跳过重复插入。
	ErrAttachmentExists = errors.New("attachment already exists")
	// ErrAliasExists 别名已存在错误
	ErrAliasExists = errors.New("alias already exists")
	// ErrHandleExists 账户标识已存在错误
	ErrHandleExists = errors.New("handle already exists")
)

// AccountRepository 定义账户数据存取操作。
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByHandle(ctx context.Context, handle string) (*domain.Account, error)
}

// AliasRepository 定义别名数据存取操作。
// GetAliasByAddress 是网关路由表查询，要求地址上有索引。
type AliasRepository interface {
	CreateAlias(ctx context.Context, alias *domain.Alias) error
	GetAlias(ctx context.Context, id string) (*domain.Alias, error)
	GetAliasByAddress(ctx context.Context, address string) (*domain.Alias, error)
	ListAliasesByAccountID(ctx context.Context, accountID string) ([]*domain.Alias, error)
	DeleteAlias(ctx context.Context, id string) error
}

// MessageRepository 定义邮件数据存取操作。
// InsertMessage 是单次非 upsert 写入；同一 ID 重复插入必须返回
// ErrMessageExists 而不是产生重复行。
type MessageRepository interface {
	InsertMessage(ctx context.Context, message *domain.Message) error
	GetMessage(ctx context.Context, accountID, messageID string) (*domain.Message, error)
	ListMessages(ctx context.Context, accountID string) ([]domain.Message, error)
	MarkMessageRead(ctx context.Context, accountID, messageID string) error
	MoveMessage(ctx context.Context, accountID, messageID, folder string) error
}

// AttachmentRepository 定义附件数据存取操作。
type AttachmentRepository interface {
	InsertAttachment(ctx context.Context, attachment *domain.Attachment) error
	ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error)
}

// ForwardingRuleRepository 定义转发规则数据存取操作。
// 规则是富化 Worker 的只读输入，管道本身从不修改规则。
type ForwardingRuleRepository interface {
	CreateForwardingRule(ctx context.Context, rule *domain.ForwardingRule) error
	ListActiveForwardingRules(ctx context.Context, accountID string) ([]*domain.ForwardingRule, error)
	DeleteForwardingRule(ctx context.Context, id string) error
}

// ScheduledSendRepository 定义定时发送数据存取操作。
type ScheduledSendRepository interface {
	CreateScheduledSend(ctx context.Context, send *domain.ScheduledSend) error
	ListDueScheduledSends(ctx context.Context, now time.Time) ([]*domain.ScheduledSend, error)
	MarkScheduledSendSent(ctx context.Context, id string, sentAt time.Time) error
	MarkScheduledSendFailed(ctx context.Context, id string) error
}

// Store 定义完整的存储接口。
type Store interface {
	AccountRepository
	AliasRepository
	MessageRepository
	AttachmentRepository
	ForwardingRuleRepository
	ScheduledSendRepository

	// 工具方法
	Close() error
	Health() error
}
