package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
)

var (
	ErrHandleInvalid  = errors.New("handle invalid")
	ErrSecretTooShort = errors.New("secret must be at least 8 characters")
	ErrAddressInvalid = errors.New("address invalid")
	ErrMatchInvalid   = errors.New("match type invalid")
	ErrDueAtInPast    = errors.New("due time must be in the future")
)

// ProvisionService 封装账户、别名、转发规则与定时发送的开通操作。
// 管道本身只读这些数据，写入全部经由这里。
type ProvisionService struct {
	store storage.Store
}

// NewProvisionService 创建开通服务。
func NewProvisionService(store storage.Store) *ProvisionService {
	return &ProvisionService{store: store}
}

// CreateAccountInput 定义创建账户所需的输入。
type CreateAccountInput struct {
	Handle string // 账户标识，全局唯一
	Secret string // 登录凭据，bcrypt 加密后入库
}

// CreateAccount 创建新账户。
func (s *ProvisionService) CreateAccount(ctx context.Context, input CreateAccountInput) (*domain.Account, error) {
	handle := strings.ToLower(strings.TrimSpace(input.Handle))
	if handle == "" || len(handle) > 64 || strings.ContainsAny(handle, " @\t\n") {
		return nil, ErrHandleInvalid
	}
	if len(input.Secret) < 8 {
		return nil, ErrSecretTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash secret: %w", err)
	}

	account := &domain.Account{
		ID:             uuid.NewString(),
		Handle:         handle,
		CredentialHash: string(hash),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// AddAliasInput 定义添加别名所需的输入。
type AddAliasInput struct {
	AccountID   string
	Address     string // 完整收件地址
	DisplayName string
	IsPrimary   bool
}

// AddAlias 给账户添加收件别名。地址是网关的路由键，全局唯一。
func (s *ProvisionService) AddAlias(ctx context.Context, input AddAliasInput) (*domain.Alias, error) {
	address := strings.ToLower(strings.TrimSpace(input.Address))
	if _, err := mail.ParseAddress(address); err != nil {
		return nil, ErrAddressInvalid
	}

	if _, err := s.store.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	alias := &domain.Alias{
		ID:          uuid.NewString(),
		Address:     address,
		AccountID:   input.AccountID,
		DisplayName: input.DisplayName,
		IsPrimary:   input.IsPrimary,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.store.CreateAlias(ctx, alias); err != nil {
		return nil, err
	}
	return alias, nil
}

// AddForwardingRuleInput 定义添加转发规则所需的输入。
type AddForwardingRuleInput struct {
	AccountID string
	Match     string // all | sender_contains
	Pattern   string // sender_contains 的匹配子串
	ForwardTo string
}

// AddForwardingRule 给账户添加转发规则。
func (s *ProvisionService) AddForwardingRule(ctx context.Context, input AddForwardingRuleInput) (*domain.ForwardingRule, error) {
	switch input.Match {
	case domain.MatchAll:
	case domain.MatchSenderContains:
		if strings.TrimSpace(input.Pattern) == "" {
			return nil, ErrMatchInvalid
		}
	default:
		return nil, ErrMatchInvalid
	}

	forwardTo := strings.ToLower(strings.TrimSpace(input.ForwardTo))
	if _, err := mail.ParseAddress(forwardTo); err != nil {
		return nil, ErrAddressInvalid
	}

	if _, err := s.store.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	rule := &domain.ForwardingRule{
		ID:        uuid.NewString(),
		AccountID: input.AccountID,
		Match:     input.Match,
		Pattern:   strings.ToLower(input.Pattern),
		ForwardTo: forwardTo,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateForwardingRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// ScheduleSendInput 定义创建定时发送所需的输入。
type ScheduleSendInput struct {
	AccountID string
	From      string
	To        string
	Subject   string
	Body      string
	DueAt     time.Time
}

// ScheduleSend 创建延迟发送条目，到期后由派发扫描投递。
func (s *ProvisionService) ScheduleSend(ctx context.Context, input ScheduleSendInput) (*domain.ScheduledSend, error) {
	now := time.Now().UTC()
	if !input.DueAt.After(now) {
		return nil, ErrDueAtInPast
	}

	to := strings.ToLower(strings.TrimSpace(input.To))
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, ErrAddressInvalid
	}

	if _, err := s.store.GetAccount(ctx, input.AccountID); err != nil {
		return nil, err
	}

	send := &domain.ScheduledSend{
		ID:        uuid.NewString(),
		AccountID: input.AccountID,
		From:      input.From,
		To:        to,
		Subject:   input.Subject,
		Body:      input.Body,
		DueAt:     input.DueAt.UTC(),
		Status:    domain.ScheduledStatusPending,
		CreatedAt: now,
	}

	if err := s.store.CreateScheduledSend(ctx, send); err != nil {
		return nil, err
	}
	return send, nil
}
