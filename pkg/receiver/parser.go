package receiver

import (
	"bytes"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/k3a/html2text"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"go.uber.org/zap"
)

// parseEmail decodes a raw MIME message into the internal email model.
// Header names are lower-cased so rule conditions can look them up
// case-insensitively. A message that cannot be parsed is kept with its
// raw content as the text body rather than rejected.
func parseEmail(logger *zap.Logger, raw []byte) *message.Email {

	email := &message.Email{
		Headers:     map[string]string{},
		Attachments: make([]message.Attachment, 0),
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		logger.Warn("Failed to parse message, keeping raw body",
			zap.Error(err),
		)
		email.Text = dispatcher.BytesToString(raw)
		return email
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		email.Headers[strings.ToLower(fields.Key())] = value
	}

	if subject, err := mr.Header.Subject(); err == nil {
		email.Subject = subject
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("Failed to read message part",
				zap.Error(err),
			)
			break
		}

		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			switch contentType {
			case "text/plain":
				email.Text = dispatcher.BytesToString(body)
			case "text/html":
				email.HTML = dispatcher.BytesToString(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			content, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			email.Attachments = append(email.Attachments, message.Attachment{
				Filename:    filename,
				Content:     content,
				ContentType: contentType,
				Size:        len(content),
			})
		}
	}

	// HTML-only message, derive a text body for content conditions
	if len(email.Text) == 0 && len(email.HTML) > 0 {
		email.Text = html2text.HTML2Text(email.HTML)
	}

	return email
}
