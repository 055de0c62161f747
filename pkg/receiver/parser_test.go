package receiver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseSimpleMessage(t *testing.T) {

	raw := strings.Join([]string{
		"From: Boss <boss@example.com>",
		"To: team@example.com",
		"Subject: Weekly summary",
		"X-Priority: high",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Here is the summary.",
	}, "\r\n")

	email := parseEmail(zap.NewExample(), []byte(raw))

	assert.Equal(t, "Weekly summary", email.Subject)
	assert.Equal(t, "Here is the summary.", strings.TrimSpace(email.Text))
	assert.Empty(t, email.Attachments)

	// Header names are stored lower-cased
	assert.Equal(t, "high", email.Headers["x-priority"])
	_, ok := email.Headers["X-Priority"]
	assert.False(t, ok)
}

func TestParseMultipartMessage(t *testing.T) {

	raw := strings.Join([]string{
		"From: boss@example.com",
		"To: team@example.com",
		"Subject: With attachment",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"See attached.",
		"--frontier",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>See attached.</p>",
		"--frontier",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"JVBERi0xLjQ=",
		"--frontier--",
	}, "\r\n")

	email := parseEmail(zap.NewExample(), []byte(raw))

	assert.Equal(t, "With attachment", email.Subject)
	assert.Equal(t, "See attached.", strings.TrimSpace(email.Text))
	assert.Equal(t, "<p>See attached.</p>", strings.TrimSpace(email.HTML))

	require.Len(t, email.Attachments, 1)
	assert.Equal(t, "report.pdf", email.Attachments[0].Filename)
	assert.Equal(t, "application/pdf", email.Attachments[0].ContentType)
	assert.Equal(t, len(email.Attachments[0].Content), email.Attachments[0].Size)
}

func TestParseHTMLOnlyMessage(t *testing.T) {

	raw := strings.Join([]string{
		"From: boss@example.com",
		"Subject: HTML only",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<html><body><p>Rich content</p></body></html>",
	}, "\r\n")

	email := parseEmail(zap.NewExample(), []byte(raw))

	assert.Contains(t, email.HTML, "Rich content")

	// A text body is derived so content conditions still apply
	assert.Contains(t, email.Text, "Rich content")
}

func TestParseUnparsableMessage(t *testing.T) {

	raw := "not a mime message at all"

	email := parseEmail(zap.NewExample(), []byte(raw))

	// Kept with the raw content rather than rejected
	require.NotNil(t, email)
	assert.NotEmpty(t, email.Text)
}
