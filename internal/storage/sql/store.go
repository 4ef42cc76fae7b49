package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
)

// Store SQL 数据库存储实现（支持 MySQL 5.7+ 和 PostgreSQL）。
// Message.ID 上的主键唯一约束是管道幂等性的落地点：
// 重复插入被转换为 storage.ErrMessageExists，而不是重复行。
type Store struct {
	db         *gorm.DB
	driverName string // "mysql" or "postgres"
}

// NewStore 创建 SQL 数据库存储。
func NewStore(
	driverName string,
	dsn string,
	maxOpenConns int,
	maxIdleConns int,
	connMaxLifetime time.Duration,
) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true, // 唯一约束冲突翻译为 gorm.ErrDuplicatedKey
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driverName {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), gormConfig)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: mysql, postgres)", driverName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db, driverName: driverName}

	if err := store.Migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Migrate 执行数据库迁移（使用 GORM AutoMigrate）。
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.Account{},
		&domain.Alias{},
		&domain.Message{},
		&domain.Attachment{},
		&domain.ForwardingRule{},
		&domain.ScheduledSend{},
	)
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// CreateAccount 保存账户。
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	err := s.db.WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrHandleExists
	}
	return err
}

// GetAccount 按 ID 查询账户。
func (s *Store) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).First(&account, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccountByHandle 按账户标识查询账户。
func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.WithContext(ctx).First(&account, "handle = ?", handle).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// CreateAlias 保存别名。
func (s *Store) CreateAlias(ctx context.Context, alias *domain.Alias) error {
	err := s.db.WithContext(ctx).Create(alias).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAliasExists
	}
	return err
}

// GetAlias 按 ID 查询别名。
func (s *Store) GetAlias(ctx context.Context, id string) (*domain.Alias, error) {
	var alias domain.Alias
	err := s.db.WithContext(ctx).First(&alias, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAliasNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// GetAliasByAddress 按地址查询别名（走地址唯一索引）。
func (s *Store) GetAliasByAddress(ctx context.Context, address string) (*domain.Alias, error) {
	var alias domain.Alias
	err := s.db.WithContext(ctx).First(&alias, "address = ?", address).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrAliasNotFound
	}
	if err != nil {
		return nil, err
	}
	return &alias, nil
}

// ListAliasesByAccountID 列出账户的全部别名。
func (s *Store) ListAliasesByAccountID(ctx context.Context, accountID string) ([]*domain.Alias, error) {
	var aliases []*domain.Alias
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at asc").
		Find(&aliases).Error
	return aliases, err
}

// DeleteAlias 删除别名。
func (s *Store) DeleteAlias(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&domain.Alias{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrAliasNotFound
	}
	return nil
}

// InsertMessage 插入邮件记录。
// 单次非 upsert 写入；ID 唯一约束冲突返回 ErrMessageExists，
// 供富化 Worker 在任务重复投递时检测并跳过。
func (s *Store) InsertMessage(ctx context.Context, message *domain.Message) error {
	err := s.db.WithContext(ctx).Create(message).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrMessageExists
	}
	return err
}

// GetMessage 查询单封邮件及其附件记录。
func (s *Store) GetMessage(ctx context.Context, accountID, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.WithContext(ctx).
		First(&message, "id = ? AND account_id = ?", messageID, accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	atts, err := s.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	message.Attachments = atts
	return &message, nil
}

// ListMessages 列出账户下的全部邮件，按接收时间倒序。
func (s *Store) ListMessages(ctx context.Context, accountID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("received_at desc").
		Find(&messages).Error
	return messages, err
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(ctx context.Context, accountID, messageID string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND account_id = ?", messageID, accountID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// MoveMessage 移动邮件到指定目录。
func (s *Store) MoveMessage(ctx context.Context, accountID, messageID, folder string) error {
	result := s.db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND account_id = ?", messageID, accountID).
		Update("folder", folder)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMessageNotFound
	}
	return nil
}

// InsertAttachment 插入附件记录。
// 与 InsertMessage 相同的幂等语义：ID 唯一约束冲突返回 ErrAttachmentExists。
func (s *Store) InsertAttachment(ctx context.Context, attachment *domain.Attachment) error {
	err := s.db.WithContext(ctx).Create(attachment).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAttachmentExists
	}
	return err
}

// ListAttachments 列出邮件的附件记录。
func (s *Store) ListAttachments(ctx context.Context, messageID string) ([]*domain.Attachment, error) {
	var atts []*domain.Attachment
	err := s.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("filename asc").
		Find(&atts).Error
	return atts, err
}

// CreateForwardingRule 保存转发规则。
func (s *Store) CreateForwardingRule(ctx context.Context, rule *domain.ForwardingRule) error {
	return s.db.WithContext(ctx).Create(rule).Error
}

// ListActiveForwardingRules 列出账户的激活转发规则，按创建时间排序。
func (s *Store) ListActiveForwardingRules(ctx context.Context, accountID string) ([]*domain.ForwardingRule, error) {
	var rules []*domain.ForwardingRule
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Order("created_at asc").
		Find(&rules).Error
	return rules, err
}

// DeleteForwardingRule 删除转发规则。
func (s *Store) DeleteForwardingRule(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&domain.ForwardingRule{}, "id = ?", id).Error
}

// CreateScheduledSend 保存定时发送记录。
func (s *Store) CreateScheduledSend(ctx context.Context, send *domain.ScheduledSend) error {
	return s.db.WithContext(ctx).Create(send).Error
}

// ListDueScheduledSends 列出所有到期且仍为 pending 的定时发送。
// failed 与 sent 是终态，永远不会被再次选中。
func (s *Store) ListDueScheduledSends(ctx context.Context, now time.Time) ([]*domain.ScheduledSend, error) {
	var sends []*domain.ScheduledSend
	err := s.db.WithContext(ctx).
		Where("status = ? AND due_at <= ?", domain.ScheduledStatusPending, now).
		Order("due_at asc").
		Find(&sends).Error
	return sends, err
}

// MarkScheduledSendSent 标记定时发送为已发送。
func (s *Store) MarkScheduledSendSent(ctx context.Context, id string, sentAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&domain.ScheduledSend{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  domain.ScheduledStatusSent,
			"sent_at": sentAt,
		}).Error
}

// MarkScheduledSendFailed 标记定时发送为失败（终态，不会自动重试）。
func (s *Store) MarkScheduledSendFailed(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&domain.ScheduledSend{}).
		Where("id = ?", id).
		Update("status", domain.ScheduledStatusFailed).Error
}
