package relay

import (
	"io"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	t.Run("纯文本正文补全最小头部", func(t *testing.T) {
		out := buildMessage("alice@mailsage.local", "bob@example.com", "hello", []byte("just one line"))

		parsed, err := mail.ReadMessage(strings.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, "alice@mailsage.local", parsed.Header.Get("From"))
		assert.Equal(t, "bob@example.com", parsed.Header.Get("To"))
		assert.Equal(t, "hello", parsed.Header.Get("Subject"))
		assert.NotEmpty(t, parsed.Header.Get("Date"))
		assert.NotEmpty(t, parsed.Header.Get("Message-ID"))
		assert.True(t, strings.HasSuffix(out, "just one line"))
	})

	t.Run("多段落正文同样拿到完整头部", func(t *testing.T) {
		// 含空行的正文不能被误判为已完整的报文
		body := "Hello,\n\nPlease review the attached report.\n\nRegards"
		out := buildMessage("alice@mailsage.local", "bob@example.com", "weekly report", []byte(body))

		parsed, err := mail.ReadMessage(strings.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, "weekly report", parsed.Header.Get("Subject"))
		assert.Equal(t, "alice@mailsage.local", parsed.Header.Get("From"))

		got, err := io.ReadAll(parsed.Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("CRLF 正文原样保留", func(t *testing.T) {
		body := "line one\r\n\r\nline two"
		out := buildMessage("a@b.c", "d@e.f", "x", []byte(body))

		parsed, err := mail.ReadMessage(strings.NewReader(out))
		require.NoError(t, err)
		got, err := io.ReadAll(parsed.Body)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})
}
