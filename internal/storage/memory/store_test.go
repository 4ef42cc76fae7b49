package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
)

func TestStore_Accounts(t *testing.T) {
	ctx := context.Background()

	t.Run("创建并按 ID 和标识查询账户", func(t *testing.T) {
		store := NewStore()
		account := &domain.Account{
			ID:        "acc-1",
			Handle:    "alice",
			CreatedAt: time.Now().UTC(),
		}
		require.NoError(t, store.CreateAccount(ctx, account))

		got, err := store.GetAccount(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, "alice", got.Handle)

		byHandle, err := store.GetAccountByHandle(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", byHandle.ID)
	})

	t.Run("重复标识返回 ErrHandleExists", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateAccount(ctx, &domain.Account{ID: "acc-1", Handle: "bob"}))

		err := store.CreateAccount(ctx, &domain.Account{ID: "acc-2", Handle: "bob"})
		assert.ErrorIs(t, err, storage.ErrHandleExists)
	})

	t.Run("未知账户返回 ErrAccountNotFound", func(t *testing.T) {
		store := NewStore()
		_, err := store.GetAccount(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrAccountNotFound)
	})

	t.Run("返回的账户是副本", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateAccount(ctx, &domain.Account{ID: "acc-1", Handle: "carol"}))

		got, err := store.GetAccount(ctx, "acc-1")
		require.NoError(t, err)
		got.Handle = "mutated"

		again, err := store.GetAccount(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, "carol", again.Handle)
	})
}

func TestStore_Aliases(t *testing.T) {
	ctx := context.Background()

	t.Run("地址查询不区分大小写", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{
			ID:        "alias-1",
			Address:   "Work@Example.com",
			AccountID: "acc-1",
		}))

		got, err := store.GetAliasByAddress(ctx, "WORK@example.COM")
		require.NoError(t, err)
		assert.Equal(t, "alias-1", got.ID)
		assert.Equal(t, "work@example.com", got.Address)
	})

	t.Run("重复地址返回 ErrAliasExists", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{ID: "alias-1", Address: "dup@example.com"}))

		err := store.CreateAlias(ctx, &domain.Alias{ID: "alias-2", Address: "DUP@example.com"})
		assert.ErrorIs(t, err, storage.ErrAliasExists)
	})

	t.Run("删除后地址可重新注册", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{ID: "alias-1", Address: "free@example.com"}))
		require.NoError(t, store.DeleteAlias(ctx, "alias-1"))

		_, err := store.GetAliasByAddress(ctx, "free@example.com")
		assert.ErrorIs(t, err, storage.ErrAliasNotFound)

		assert.NoError(t, store.CreateAlias(ctx, &domain.Alias{ID: "alias-2", Address: "free@example.com"}))
	})

	t.Run("按账户列出别名", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{ID: "a1", Address: "one@example.com", AccountID: "acc-1"}))
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{ID: "a2", Address: "two@example.com", AccountID: "acc-1"}))
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{ID: "a3", Address: "other@example.com", AccountID: "acc-2"}))

		out, err := store.ListAliasesByAccountID(ctx, "acc-1")
		require.NoError(t, err)
		assert.Len(t, out, 2)
	})
}

func TestStore_Messages(t *testing.T) {
	ctx := context.Background()

	t.Run("同一 ID 重复插入返回 ErrMessageExists", func(t *testing.T) {
		store := NewStore()
		message := &domain.Message{ID: "msg-1", AccountID: "acc-1", Subject: "first"}
		require.NoError(t, store.InsertMessage(ctx, message))

		err := store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1", Subject: "second"})
		assert.ErrorIs(t, err, storage.ErrMessageExists)

		got, err := store.GetMessage(ctx, "acc-1", "msg-1")
		require.NoError(t, err)
		assert.Equal(t, "first", got.Subject)
	})

	t.Run("列表按接收时间倒序", func(t *testing.T) {
		store := NewStore()
		base := time.Now().UTC()
		for i, id := range []string{"msg-old", "msg-mid", "msg-new"} {
			require.NoError(t, store.InsertMessage(ctx, &domain.Message{
				ID:         id,
				AccountID:  "acc-1",
				ReceivedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		out, err := store.ListMessages(ctx, "acc-1")
		require.NoError(t, err)
		require.Len(t, out, 3)
		assert.Equal(t, "msg-new", out[0].ID)
		assert.Equal(t, "msg-old", out[2].ID)
	})

	t.Run("跨账户访问返回 ErrMessageNotFound", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1"}))

		_, err := store.GetMessage(ctx, "acc-other", "msg-1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)

		err = store.MarkMessageRead(ctx, "acc-other", "msg-1")
		assert.ErrorIs(t, err, storage.ErrMessageNotFound)
	})

	t.Run("已读与移动目录", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1", Folder: domain.FolderInbox}))

		require.NoError(t, store.MarkMessageRead(ctx, "acc-1", "msg-1"))
		require.NoError(t, store.MoveMessage(ctx, "acc-1", "msg-1", domain.FolderArchive))

		got, err := store.GetMessage(ctx, "acc-1", "msg-1")
		require.NoError(t, err)
		assert.True(t, got.IsRead)
		assert.Equal(t, domain.FolderArchive, got.Folder)
	})

	t.Run("同一 ID 重复插入附件返回 ErrAttachmentExists", func(t *testing.T) {
		store := NewStore()
		att := &domain.Attachment{ID: "att-1", MessageID: "msg-1", Filename: "report.pdf"}
		require.NoError(t, store.InsertAttachment(ctx, att))

		err := store.InsertAttachment(ctx, &domain.Attachment{ID: "att-1", MessageID: "msg-1", Filename: "report.pdf"})
		assert.ErrorIs(t, err, storage.ErrAttachmentExists)

		atts, err := store.ListAttachments(ctx, "msg-1")
		require.NoError(t, err)
		assert.Len(t, atts, 1)
	})

	t.Run("查询邮件时附带附件记录", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1"}))
		require.NoError(t, store.InsertAttachment(ctx, &domain.Attachment{
			ID:        "att-1",
			MessageID: "msg-1",
			Filename:  "report.pdf",
			Content:   []byte("should-not-persist"),
		}))

		got, err := store.GetMessage(ctx, "acc-1", "msg-1")
		require.NoError(t, err)
		require.Len(t, got.Attachments, 1)
		assert.Equal(t, "report.pdf", got.Attachments[0].Filename)
		// 附件内容存 Blob，元数据行不保留字节
		assert.Nil(t, got.Attachments[0].Content)
	})
}

func TestStore_ForwardingRules(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	base := time.Now().UTC()
	require.NoError(t, store.CreateForwardingRule(ctx, &domain.ForwardingRule{
		ID: "rule-late", AccountID: "acc-1", IsActive: true, CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, store.CreateForwardingRule(ctx, &domain.ForwardingRule{
		ID: "rule-early", AccountID: "acc-1", IsActive: true, CreatedAt: base,
	}))
	require.NoError(t, store.CreateForwardingRule(ctx, &domain.ForwardingRule{
		ID: "rule-inactive", AccountID: "acc-1", IsActive: false, CreatedAt: base,
	}))
	require.NoError(t, store.CreateForwardingRule(ctx, &domain.ForwardingRule{
		ID: "rule-other", AccountID: "acc-2", IsActive: true, CreatedAt: base,
	}))

	out, err := store.ListActiveForwardingRules(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "rule-early", out[0].ID)
	assert.Equal(t, "rule-late", out[1].ID)

	require.NoError(t, store.DeleteForwardingRule(ctx, "rule-early"))
	out, err = store.ListActiveForwardingRules(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestStore_ScheduledSends(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("仅返回到期且 pending 的条目并按到期时间排序", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "due-late", Status: domain.ScheduledStatusPending, DueAt: now.Add(-time.Minute),
		}))
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "due-early", Status: domain.ScheduledStatusPending, DueAt: now.Add(-time.Hour),
		}))
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "not-due", Status: domain.ScheduledStatusPending, DueAt: now.Add(time.Hour),
		}))
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "already-sent", Status: domain.ScheduledStatusSent, DueAt: now.Add(-time.Hour),
		}))
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "already-failed", Status: domain.ScheduledStatusFailed, DueAt: now.Add(-time.Hour),
		}))

		due, err := store.ListDueScheduledSends(ctx, now)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, "due-early", due[0].ID)
		assert.Equal(t, "due-late", due[1].ID)
	})

	t.Run("恰好到期的条目包含在内", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "exact", Status: domain.ScheduledStatusPending, DueAt: now,
		}))

		due, err := store.ListDueScheduledSends(ctx, now)
		require.NoError(t, err)
		assert.Len(t, due, 1)
	})

	t.Run("状态转移后不再出现在到期列表", func(t *testing.T) {
		store := NewStore()
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "send-1", Status: domain.ScheduledStatusPending, DueAt: now.Add(-time.Minute),
		}))
		require.NoError(t, store.CreateScheduledSend(ctx, &domain.ScheduledSend{
			ID: "send-2", Status: domain.ScheduledStatusPending, DueAt: now.Add(-time.Minute),
		}))

		sentAt := now
		require.NoError(t, store.MarkScheduledSendSent(ctx, "send-1", sentAt))
		require.NoError(t, store.MarkScheduledSendFailed(ctx, "send-2"))

		due, err := store.ListDueScheduledSends(ctx, now)
		require.NoError(t, err)
		assert.Empty(t, due)
	})
}
