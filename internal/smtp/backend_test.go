package smtp

import (
	"context"
	"strings"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/gateway"
	"mailsage/backend/internal/queue"
	"mailsage/backend/internal/storage/memory"
)

func newTestBackend(t *testing.T) (*Backend, *memory.Store, *queue.MemoryQueue) {
	t.Helper()
	store := memory.NewStore()
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	jobs := queue.NewMemoryQueue(3)
	gw := gateway.New(store, blobs, jobs, nil, zap.NewNop())
	return NewBackend(gw, nil, 0, zap.NewNop()), store, jobs
}

func seedAlias(t *testing.T, store *memory.Store, address string) {
	t.Helper()
	require.NoError(t, store.CreateAlias(context.Background(), &domain.Alias{
		ID:        "alias-" + address,
		Address:   address,
		AccountID: "acct-1",
	}))
}

func TestSession_Rcpt(t *testing.T) {
	t.Run("已开通的别名通过预检", func(t *testing.T) {
		backend, store, _ := newTestBackend(t)
		seedAlias(t, store, "alice@mailsage.local")

		s := &session{backend: backend}
		require.NoError(t, s.Rcpt("<Alice@Mailsage.Local>", nil))
		assert.Equal(t, []string{"alice@mailsage.local"}, s.recipients)
	})

	t.Run("未知收件人在RCPT阶段就拿到550", func(t *testing.T) {
		backend, _, _ := newTestBackend(t)

		s := &session{backend: backend}
		err := s.Rcpt("<nobody@mailsage.local>", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
		assert.Empty(t, s.recipients)
	})

	t.Run("语法非法的地址返回501", func(t *testing.T) {
		backend, _, _ := newTestBackend(t)

		s := &session{backend: backend}
		err := s.Rcpt("no-at-sign", nil)

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 501, smtpErr.Code)
	})
}

func TestSession_Data(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"Subject: hello",
		"",
		"body",
	}, "\r\n")

	t.Run("通过预检的收件人在DATA阶段摄入", func(t *testing.T) {
		backend, store, jobs := newTestBackend(t)
		seedAlias(t, store, "alice@mailsage.local")

		s := &session{backend: backend}
		require.NoError(t, s.Mail("sender@example.com", nil))
		require.NoError(t, s.Rcpt("<alice@mailsage.local>", nil))
		require.NoError(t, s.Data(strings.NewReader(raw)))

		assert.Equal(t, 1, jobs.Pending())
	})

	t.Run("预检后别名被删除时DATA返回550", func(t *testing.T) {
		backend, store, jobs := newTestBackend(t)
		seedAlias(t, store, "alice@mailsage.local")

		s := &session{backend: backend}
		require.NoError(t, s.Rcpt("<alice@mailsage.local>", nil))
		require.NoError(t, store.DeleteAlias(context.Background(), "alias-alice@mailsage.local"))

		err := s.Data(strings.NewReader(raw))

		var smtpErr *gosmtp.SMTPError
		require.ErrorAs(t, err, &smtpErr)
		assert.Equal(t, 550, smtpErr.Code)
		assert.Zero(t, jobs.Pending())
	})
}
