package smtp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n"))
}

func TestParseEmail(t *testing.T) {
	t.Run("纯文本邮件", func(t *testing.T) {
		raw := crlf(
			"From: Alice <alice@example.com>",
			"To: bob@example.com",
			"Subject: Hello",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"Hi Bob.",
		)

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "Hello", parsed.Subject)
		assert.Equal(t, "alice@example.com", parsed.From)
		assert.Equal(t, "bob@example.com", parsed.To)
		assert.Equal(t, "Hi Bob.", parsed.Text)
		assert.Empty(t, parsed.Attachments)
	})

	t.Run("没有Content-Type时按纯文本处理", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: plain",
			"",
			"body here",
		)

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "body here", parsed.Text)
	})

	t.Run("multipart邮件提取正文与附件", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: with attachment",
			"MIME-Version: 1.0",
			"Content-Type: multipart/mixed; boundary=XYZ",
			"",
			"--XYZ",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"see attachment",
			"--XYZ",
			"Content-Type: text/csv; name=data.csv",
			"Content-Disposition: attachment; filename=data.csv",
			"Content-Transfer-Encoding: base64",
			"",
			"YSxiLGMKMSwyLDM=",
			"--XYZ--",
			"",
		)

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "see attachment", parsed.Text)
		require.Len(t, parsed.Attachments, 1)

		att := parsed.Attachments[0]
		assert.Equal(t, "data.csv", att.Filename)
		assert.Equal(t, "text/csv", att.ContentType)
		assert.Equal(t, []byte("a,b,c\n1,2,3"), att.Content)
		assert.Equal(t, int64(len(att.Content)), att.Size)
	})

	t.Run("multipart alternative优先纯文本", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: alt",
			"MIME-Version: 1.0",
			"Content-Type: multipart/alternative; boundary=ALT",
			"",
			"--ALT",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"plain body",
			"--ALT",
			"Content-Type: text/html; charset=utf-8",
			"",
			"<p>html body</p>",
			"--ALT--",
			"",
		)

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "plain body", parsed.Text)
		assert.Equal(t, "<p>html body</p>", parsed.HTML)
		assert.Equal(t, "plain body", parsed.BodyText())
	})

	t.Run("RFC2047编码的主题", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: =?UTF-8?B?5L2g5aW9?=",
			"Content-Type: text/plain",
			"",
			"hi",
		)

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "你好", parsed.Subject)
	})

	t.Run("quoted-printable正文解码", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: qp",
			"Content-Type: text/plain; charset=utf-8",
			"Content-Transfer-Encoding: quoted-printable",
			"",
			"caf=C3=A9",
		)

		parsed, err := ParseEmail(raw)
		require.NoError(t, err)
		assert.Equal(t, "café", parsed.Text)
	})

	t.Run("损坏的报文返回ErrMalformedMessage", func(t *testing.T) {
		_, err := ParseEmail([]byte("totally not an email"))
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})

	t.Run("multipart缺boundary返回ErrMalformedMessage", func(t *testing.T) {
		raw := crlf(
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: broken",
			"Content-Type: multipart/mixed",
			"",
			"body",
		)

		_, err := ParseEmail(raw)
		assert.ErrorIs(t, err, ErrMalformedMessage)
	})
}

func TestBodyText(t *testing.T) {
	p := &ParsedEmail{HTML: "<p>only html</p>"}
	assert.Equal(t, "<p>only html</p>", p.BodyText())

	p.Text = "text wins"
	assert.Equal(t, "text wins", p.BodyText())
}
