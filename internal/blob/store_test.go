package blob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStore(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	t.Run("写入读取删除闭环", func(t *testing.T) {
		data := bytes.Repeat([]byte{0xAB, 0xCD}, 4096)
		key := RawMessageKey("msg-1")

		require.NoError(t, store.Put(key, data))

		got, err := store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		require.NoError(t, store.Delete(key))
		_, err = store.Get(key)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("覆盖写入后读到新内容", func(t *testing.T) {
		key := AttachmentKey("msg-1", "att-1")
		require.NoError(t, store.Put(key, []byte("v1")))
		require.NoError(t, store.Put(key, []byte("v2")))

		got, err := store.Get(key)
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("不存在的键返回ErrNotFound", func(t *testing.T) {
		_, err := store.Get(RawMessageKey("ghost"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("拒绝越界的键", func(t *testing.T) {
		assert.ErrorIs(t, store.Put("../escape", []byte("x")), ErrInvalidKey)
		assert.ErrorIs(t, store.Put("/absolute", []byte("x")), ErrInvalidKey)

		_, err := store.Get("raw/../../etc/passwd")
		assert.ErrorIs(t, err, ErrInvalidKey)
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "raw/msg-1.eml", RawMessageKey("msg-1"))
	assert.Equal(t, "attachments/msg-1/att-1", AttachmentKey("msg-1", "att-1"))
}
