package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
	"mailsage/backend/internal/storage/memory"
)

func newProvisioned(t *testing.T) (*ProvisionService, *domain.Account) {
	t.Helper()
	svc := NewProvisionService(memory.NewStore())
	account, err := svc.CreateAccount(context.Background(), CreateAccountInput{
		Handle: "alice",
		Secret: "correct-horse",
	})
	require.NoError(t, err)
	return svc, account
}

func TestProvisionService_CreateAccount(t *testing.T) {
	ctx := context.Background()

	t.Run("创建成功且凭证以 bcrypt 哈希入库", func(t *testing.T) {
		svc := NewProvisionService(memory.NewStore())
		account, err := svc.CreateAccount(ctx, CreateAccountInput{Handle: "Alice", Secret: "correct-horse"})
		require.NoError(t, err)

		assert.NotEmpty(t, account.ID)
		assert.Equal(t, "alice", account.Handle) // 标识统一小写
		assert.NotEqual(t, "correct-horse", account.CredentialHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(account.CredentialHash), []byte("correct-horse")))
	})

	t.Run("标识校验", func(t *testing.T) {
		svc := NewProvisionService(memory.NewStore())
		for _, handle := range []string{"", "   ", "has space", "has@sign", string(make([]byte, 65))} {
			_, err := svc.CreateAccount(ctx, CreateAccountInput{Handle: handle, Secret: "correct-horse"})
			assert.ErrorIs(t, err, ErrHandleInvalid, "handle=%q", handle)
		}
	})

	t.Run("凭据过短", func(t *testing.T) {
		svc := NewProvisionService(memory.NewStore())
		_, err := svc.CreateAccount(ctx, CreateAccountInput{Handle: "bob", Secret: "short"})
		assert.ErrorIs(t, err, ErrSecretTooShort)
	})

	t.Run("重复标识透传存储错误", func(t *testing.T) {
		svc, _ := newProvisioned(t)
		_, err := svc.CreateAccount(ctx, CreateAccountInput{Handle: "ALICE", Secret: "another-secret"})
		assert.ErrorIs(t, err, storage.ErrHandleExists)
	})
}

func TestProvisionService_AddAlias(t *testing.T) {
	ctx := context.Background()

	t.Run("地址规范化为小写", func(t *testing.T) {
		svc, account := newProvisioned(t)
		alias, err := svc.AddAlias(ctx, AddAliasInput{
			AccountID: account.ID,
			Address:   "Alice.Work@Example.COM",
		})
		require.NoError(t, err)
		assert.Equal(t, "alice.work@example.com", alias.Address)
		assert.Equal(t, account.ID, alias.AccountID)
	})

	t.Run("非法地址", func(t *testing.T) {
		svc, account := newProvisioned(t)
		for _, addr := range []string{"", "no-at-sign", "double@@example.com"} {
			_, err := svc.AddAlias(ctx, AddAliasInput{AccountID: account.ID, Address: addr})
			assert.ErrorIs(t, err, ErrAddressInvalid, "address=%q", addr)
		}
	})

	t.Run("未知账户", func(t *testing.T) {
		svc, _ := newProvisioned(t)
		_, err := svc.AddAlias(ctx, AddAliasInput{AccountID: "missing", Address: "a@example.com"})
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	})

	t.Run("重复地址", func(t *testing.T) {
		svc, account := newProvisioned(t)
		_, err := svc.AddAlias(ctx, AddAliasInput{AccountID: account.ID, Address: "dup@example.com"})
		require.NoError(t, err)
		_, err = svc.AddAlias(ctx, AddAliasInput{AccountID: account.ID, Address: "DUP@example.com"})
		assert.ErrorIs(t, err, storage.ErrAliasExists)
	})
}

func TestProvisionService_AddForwardingRule(t *testing.T) {
	ctx := context.Background()

	t.Run("sender_contains 规则的匹配子串小写入库", func(t *testing.T) {
		svc, account := newProvisioned(t)
		rule, err := svc.AddForwardingRule(ctx, AddForwardingRuleInput{
			AccountID: account.ID,
			Match:     domain.MatchSenderContains,
			Pattern:   "Billing@Vendor",
			ForwardTo: "Archive@Example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, "billing@vendor", rule.Pattern)
		assert.Equal(t, "archive@example.com", rule.ForwardTo)
		assert.True(t, rule.IsActive)
	})

	t.Run("all 规则不需要匹配子串", func(t *testing.T) {
		svc, account := newProvisioned(t)
		rule, err := svc.AddForwardingRule(ctx, AddForwardingRuleInput{
			AccountID: account.ID,
			Match:     domain.MatchAll,
			ForwardTo: "backup@example.com",
		})
		require.NoError(t, err)
		assert.Equal(t, domain.MatchAll, rule.Match)
	})

	t.Run("非法匹配方式", func(t *testing.T) {
		svc, account := newProvisioned(t)
		_, err := svc.AddForwardingRule(ctx, AddForwardingRuleInput{
			AccountID: account.ID, Match: "regex", ForwardTo: "x@example.com",
		})
		assert.ErrorIs(t, err, ErrMatchInvalid)

		// sender_contains 缺少子串同样非法
		_, err = svc.AddForwardingRule(ctx, AddForwardingRuleInput{
			AccountID: account.ID, Match: domain.MatchSenderContains, Pattern: "  ", ForwardTo: "x@example.com",
		})
		assert.ErrorIs(t, err, ErrMatchInvalid)
	})

	t.Run("非法转发地址", func(t *testing.T) {
		svc, account := newProvisioned(t)
		_, err := svc.AddForwardingRule(ctx, AddForwardingRuleInput{
			AccountID: account.ID, Match: domain.MatchAll, ForwardTo: "not-an-address",
		})
		assert.ErrorIs(t, err, ErrAddressInvalid)
	})
}

func TestProvisionService_ScheduleSend(t *testing.T) {
	ctx := context.Background()

	t.Run("创建成功初始为 pending", func(t *testing.T) {
		svc, account := newProvisioned(t)
		due := time.Now().Add(time.Hour)
		send, err := svc.ScheduleSend(ctx, ScheduleSendInput{
			AccountID: account.ID,
			From:      "alice@mailsage.local",
			To:        "Friend@Example.com",
			Subject:   "later",
			Body:      "see you",
			DueAt:     due,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ScheduledStatusPending, send.Status)
		assert.Equal(t, "friend@example.com", send.To)
		assert.WithinDuration(t, due.UTC(), send.DueAt, time.Second)
		assert.Nil(t, send.SentAt)
	})

	t.Run("到期时间必须在未来", func(t *testing.T) {
		svc, account := newProvisioned(t)
		for _, due := range []time.Time{time.Now().Add(-time.Minute), time.Now().Add(-time.Hour)} {
			_, err := svc.ScheduleSend(ctx, ScheduleSendInput{
				AccountID: account.ID, To: "x@example.com", DueAt: due,
			})
			assert.ErrorIs(t, err, ErrDueAtInPast)
		}
	})

	t.Run("未知账户", func(t *testing.T) {
		svc, _ := newProvisioned(t)
		_, err := svc.ScheduleSend(ctx, ScheduleSendInput{
			AccountID: "missing", To: "x@example.com", DueAt: time.Now().Add(time.Hour),
		})
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	})
}
