package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
	"mailsage/backend/internal/storage/memory"
)

func newMessageFixture(t *testing.T) (*MessageService, *memory.Store, blob.Store) {
	t.Helper()
	store := memory.NewStore()
	blobs, err := blob.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	return NewMessageService(store, blobs), store, blobs
}

func TestMessageService_Get(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newMessageFixture(t)

	require.NoError(t, store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1", Subject: "hello"}))
	require.NoError(t, store.InsertAttachment(ctx, &domain.Attachment{ID: "att-1", MessageID: "msg-1", Filename: "a.txt"}))

	got, err := svc.Get(ctx, "acc-1", "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "a.txt", got.Attachments[0].Filename)

	_, err = svc.Get(ctx, "acc-other", "msg-1")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}

func TestMessageService_Raw(t *testing.T) {
	ctx := context.Background()
	svc, store, blobs := newMessageFixture(t)

	rawKey := blob.RawMessageKey("msg-1")
	require.NoError(t, blobs.Put(rawKey, []byte("Subject: raw\r\n\r\nbody")))
	require.NoError(t, store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1", RawKey: rawKey}))

	raw, err := svc.Raw(ctx, "acc-1", "msg-1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Subject: raw")
}

func TestMessageService_Move(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newMessageFixture(t)

	require.NoError(t, store.InsertMessage(ctx, &domain.Message{ID: "msg-1", AccountID: "acc-1", Folder: domain.FolderInbox}))

	t.Run("归档后可取回", func(t *testing.T) {
		require.NoError(t, svc.Move(ctx, "acc-1", "msg-1", domain.FolderArchive))
		got, err := svc.Get(ctx, "acc-1", "msg-1")
		require.NoError(t, err)
		assert.Equal(t, domain.FolderArchive, got.Folder)
	})

	t.Run("非法目录", func(t *testing.T) {
		err := svc.Move(ctx, "acc-1", "msg-1", "trash")
		assert.ErrorIs(t, err, ErrFolderInvalid)
	})
}

func TestMessageService_AttachmentContent(t *testing.T) {
	ctx := context.Background()
	svc, store, blobs := newMessageFixture(t)

	blobKey := blob.AttachmentKey("msg-1", "att-1")
	require.NoError(t, blobs.Put(blobKey, []byte("a,b,c")))
	require.NoError(t, store.InsertAttachment(ctx, &domain.Attachment{
		ID:        "att-1",
		MessageID: "msg-1",
		Filename:  "data.csv",
		BlobKey:   blobKey,
	}))

	att, err := svc.AttachmentContent(ctx, "msg-1", "att-1")
	require.NoError(t, err)
	assert.Equal(t, "data.csv", att.Filename)
	assert.Equal(t, []byte("a,b,c"), att.Content)

	_, err = svc.AttachmentContent(ctx, "msg-1", "att-unknown")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}
