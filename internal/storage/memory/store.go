package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
)

// Store 使用内存保存账户、别名与邮件数据，用于开发验证与测试。
type Store struct {
	mu         sync.RWMutex
	accounts   map[string]*domain.Account        // accountID -> account
	byHandle   map[string]string                 // handle -> accountID
	aliases    map[string]*domain.Alias          // aliasID -> alias
	byAddress  map[string]string                 // address -> aliasID
	messages   map[string]*domain.Message        // messageID -> message
	byAccount  map[string][]string               // accountID -> messageIDs
	atts       map[string][]*domain.Attachment   // messageID -> attachments
	rules      map[string]*domain.ForwardingRule // ruleID -> rule
	scheduled  map[string]*domain.ScheduledSend  // sendID -> scheduled send
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		accounts:  make(map[string]*domain.Account),
		byHandle:  make(map[string]string),
		aliases:   make(map[string]*domain.Alias),
		byAddress: make(map[string]string),
		messages:  make(map[string]*domain.Message),
		byAccount: make(map[string][]string),
		atts:      make(map[string][]*domain.Attachment),
		rules:     make(map[string]*domain.ForwardingRule),
		scheduled: make(map[string]*domain.ScheduledSend),
	}
}

// CreateAccount 保存账户。
func (s *Store) CreateAccount(_ context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHandle[account.Handle]; ok {
		return storage.ErrHandleExists
	}

	clone := *account
	s.accounts[account.ID] = &clone
	s.byHandle[account.Handle] = account.ID
	return nil
}

// GetAccount 按 ID 查询账户。
func (s *Store) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	clone := *account
	return &clone, nil
}

// GetAccountByHandle 按账户标识查询账户。
func (s *Store) GetAccountByHandle(_ context.Context, handle string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHandle[handle]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	clone := *s.accounts[id]
	return &clone, nil
}

// CreateAlias 保存别名。
func (s *Store) CreateAlias(_ context.Context, alias *domain.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	address := strings.ToLower(alias.Address)
	if _, ok := s.byAddress[address]; ok {
		return storage.ErrAliasExists
	}

	clone := *alias
	clone.Address = address
	s.aliases[alias.ID] = &clone
	s.byAddress[address] = alias.ID
	return nil
}

// GetAlias 按 ID 查询别名。
func (s *Store) GetAlias(_ context.Context, id string) (*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alias, ok := s.aliases[id]
	if !ok {
		return nil, storage.ErrAliasNotFound
	}
	clone := *alias
	return &clone, nil
}

// GetAliasByAddress 按地址查询别名（网关路由表查询）。
func (s *Store) GetAliasByAddress(_ context.Context, address string) (*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byAddress[strings.ToLower(address)]
	if !ok {
		return nil, storage.ErrAliasNotFound
	}
	clone := *s.aliases[id]
	return &clone, nil
}

// ListAliasesByAccountID 列出账户的全部别名。
func (s *Store) ListAliasesByAccountID(_ context.Context, accountID string) ([]*domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Alias
	for _, alias := range s.aliases {
		if alias.AccountID == accountID {
			clone := *alias
			out = append(out, &clone)
		}
	}
	return out, nil
}

// DeleteAlias 删除别名。
func (s *Store) DeleteAlias(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alias, ok := s.aliases[id]
	if !ok {
		return storage.ErrAliasNotFound
	}
	delete(s.byAddress, alias.Address)
	delete(s.aliases, id)
	return nil
}

// InsertMessage 插入邮件记录。
// 与数据库实现保持一致的幂等语义：同一 ID 重复插入返回 ErrMessageExists。
func (s *Store) InsertMessage(_ context.Context, message *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[message.ID]; ok {
		return storage.ErrMessageExists
	}

	clone := *message
	clone.Attachments = nil
	s.messages[message.ID] = &clone
	s.byAccount[message.AccountID] = append(s.byAccount[message.AccountID], message.ID)
	return nil
}

// GetMessage 查询单封邮件。
func (s *Store) GetMessage(_ context.Context, accountID, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[messageID]
	if !ok || message.AccountID != accountID {
		return nil, storage.ErrMessageNotFound
	}
	clone := *message
	clone.Attachments = append([]*domain.Attachment(nil), s.atts[messageID]...)
	return &clone, nil
}

// ListMessages 列出账户下的全部邮件，按接收时间倒序。
func (s *Store) ListMessages(_ context.Context, accountID string) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byAccount[accountID]
	out := make([]domain.Message, 0, len(ids))
	for _, id := range ids {
		if message, ok := s.messages[id]; ok {
			out = append(out, *message)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out, nil
}

// MarkMessageRead 将邮件标记为已读。
func (s *Store) MarkMessageRead(_ context.Context, accountID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok || message.AccountID != accountID {
		return storage.ErrMessageNotFound
	}
	message.IsRead = true
	return nil
}

// MoveMessage 移动邮件到指定目录。
func (s *Store) MoveMessage(_ context.Context, accountID, messageID, folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[messageID]
	if !ok || message.AccountID != accountID {
		return storage.ErrMessageNotFound
	}
	message.Folder = folder
	return nil
}

// InsertAttachment 插入附件记录。
// 与数据库实现保持一致的幂等语义：同一 ID 重复插入返回 ErrAttachmentExists。
func (s *Store) InsertAttachment(_ context.Context, attachment *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.atts[attachment.MessageID] {
		if existing.ID == attachment.ID {
			return storage.ErrAttachmentExists
		}
	}

	clone := *attachment
	clone.Content = nil
	s.atts[attachment.MessageID] = append(s.atts[attachment.MessageID], &clone)
	return nil
}

// ListAttachments 列出邮件的附件记录。
func (s *Store) ListAttachments(_ context.Context, messageID string) ([]*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Attachment, 0, len(s.atts[messageID]))
	for _, att := range s.atts[messageID] {
		clone := *att
		out = append(out, &clone)
	}
	return out, nil
}

// CreateForwardingRule 保存转发规则。
func (s *Store) CreateForwardingRule(_ context.Context, rule *domain.ForwardingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *rule
	s.rules[rule.ID] = &clone
	return nil
}

// ListActiveForwardingRules 列出账户的激活转发规则，按创建时间排序。
func (s *Store) ListActiveForwardingRules(_ context.Context, accountID string) ([]*domain.ForwardingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ForwardingRule
	for _, rule := range s.rules {
		if rule.AccountID == accountID && rule.IsActive {
			clone := *rule
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteForwardingRule 删除转发规则。
func (s *Store) DeleteForwardingRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rules, id)
	return nil
}

// CreateScheduledSend 保存定时发送记录。
func (s *Store) CreateScheduledSend(_ context.Context, send *domain.ScheduledSend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *send
	s.scheduled[send.ID] = &clone
	return nil
}

// ListDueScheduledSends 列出所有到期且仍为 pending 的定时发送。
func (s *Store) ListDueScheduledSends(_ context.Context, now time.Time) ([]*domain.ScheduledSend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ScheduledSend
	for _, send := range s.scheduled {
		if send.Status == domain.ScheduledStatusPending && !send.DueAt.After(now) {
			clone := *send
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out, nil
}

// MarkScheduledSendSent 标记定时发送为已发送。
func (s *Store) MarkScheduledSendSent(_ context.Context, id string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.scheduled[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	send.Status = domain.ScheduledStatusSent
	send.SentAt = &sentAt
	return nil
}

// MarkScheduledSendFailed 标记定时发送为失败（终态）。
func (s *Store) MarkScheduledSendFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	send, ok := s.scheduled[id]
	if !ok {
		return storage.ErrMessageNotFound
	}
	send.Status = domain.ScheduledStatusFailed
	return nil
}

// Close 关闭存储。
func (s *Store) Close() error { return nil }

// Health 健康检查。
func (s *Store) Health() error { return nil }
