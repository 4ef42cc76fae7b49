package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/queue"
	"mailsage/backend/internal/storage/memory"
)

func newTestGateway(t *testing.T) (*Gateway, *memory.Store, blob.Store, *queue.MemoryQueue) {
	t.Helper()
	store := memory.NewStore()
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	jobs := queue.NewMemoryQueue(3)
	return New(store, blobs, jobs, nil, zap.NewNop()), store, blobs, jobs
}

func TestGateway_Accept(t *testing.T) {
	ctx := context.Background()
	raw := []byte("From: a@b.c\r\nTo: pat@mailsage.io\r\nSubject: hi\r\n\r\nhello")

	t.Run("已知收件人生成任务", func(t *testing.T) {
		gw, store, blobs, jobs := newTestGateway(t)
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{
			ID: "alias-1", Address: "pat@mailsage.io", AccountID: "acct-1",
		}))

		job, err := gw.Accept(ctx, Envelope{From: "a@b.c", To: "pat@mailsage.io"}, raw)

		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, "acct-1", job.AccountID)
		assert.Equal(t, "pat@mailsage.io", job.To)
		assert.Equal(t, 1, jobs.Pending())

		// 原始字节在任务发布前已落盘
		stored, err := blobs.Get(blob.RawMessageKey(job.ID))
		require.NoError(t, err)
		assert.Equal(t, raw, stored)
	})

	t.Run("未知收件人在边界拒收且无任何副作用", func(t *testing.T) {
		gw, _, _, jobs := newTestGateway(t)

		job, err := gw.Accept(ctx, Envelope{From: "a@b.c", To: "nobody@mailsage.io"}, raw)

		assert.Nil(t, job)
		assert.ErrorIs(t, err, ErrUnknownRecipient)
		assert.Zero(t, jobs.Pending())
	})

	t.Run("地址大小写和尖括号归一化", func(t *testing.T) {
		gw, store, _, _ := newTestGateway(t)
		require.NoError(t, store.CreateAlias(ctx, &domain.Alias{
			ID: "alias-1", Address: "pat@mailsage.io", AccountID: "acct-1",
		}))

		job, err := gw.Accept(ctx, Envelope{From: "<A@B.C>", To: "<Pat@MailSage.IO>"}, raw)

		require.NoError(t, err)
		assert.Equal(t, "pat@mailsage.io", job.To)
		assert.Equal(t, "a@b.c", job.From)
	})
}
