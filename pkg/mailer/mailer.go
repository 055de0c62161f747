package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rulepost/rulepost/pkg/dispatcher/message"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 587
	DefaultSecurity = "starttls"
)

// Mailer is the outbound mail transport used by forward actions. It
// opens one SMTP connection per send and closes it afterwards.
type Mailer struct {
	logger    *zap.Logger
	host      string
	port      int
	security  string
	username  string
	password  string
	tlsVerify bool
}

func New(l *zap.Logger) *Mailer {

	viper.SetDefault("mailer.host", DefaultHost)
	viper.SetDefault("mailer.port", DefaultPort)
	viper.SetDefault("mailer.security", DefaultSecurity)
	viper.SetDefault("mailer.tlsVerify", true)

	m := &Mailer{
		logger:    l.Named("Mailer"),
		host:      viper.GetString("mailer.host"),
		port:      viper.GetInt("mailer.port"),
		security:  viper.GetString("mailer.security"),
		username:  viper.GetString("mailer.username"),
		password:  viper.GetString("mailer.password"),
		tlsVerify: viper.GetBool("mailer.tlsVerify"),
	}

	m.logger.Info("Outbound mail transport configured",
		zap.String("host", m.host),
		zap.Int("port", m.port),
		zap.String("security", m.security),
	)

	return m
}

// SendMail assembles the outbound message as MIME and submits it to the
// configured relay.
func (m *Mailer) SendMail(ctx context.Context, out *message.OutboundMail) error {

	raw, err := m.assemble(out)
	if err != nil {
		return fmt.Errorf("failed to assemble message: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !m.tlsVerify,
	}

	var c *smtp.Client
	switch m.security {
	case "starttls":
		c, err = smtp.DialStartTLS(addr, tlsConfig)
	case "tls":
		c, err = smtp.DialTLS(addr, tlsConfig)
	default:
		c, err = smtp.Dial(addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer c.Close()

	if len(m.username) > 0 {
		err = c.Auth(sasl.NewPlainClient("", m.username, m.password))
		if err != nil {
			return fmt.Errorf("failed to authenticate: %w", err)
		}
	}

	if err = c.Mail(envelopeAddress(out.From), nil); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}

	for _, rcpt := range splitRecipients(out.To) {
		if err = c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err = wc.Write(raw); err != nil {
		wc.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = wc.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	if err = c.Quit(); err != nil {
		m.logger.Warn("Failed to send QUIT",
			zap.Error(err),
		)
	}

	m.logger.Info("Message forwarded",
		zap.String("to", out.To),
	)

	return nil
}

func (m *Mailer) assemble(out *message.OutboundMail) ([]byte, error) {

	var buf bytes.Buffer

	var h mail.Header
	h.SetDate(time.Now())
	h.SetSubject(out.Subject)
	h.Set("From", out.From)
	h.Set("To", out.To)

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}

	// Text and HTML bodies
	iw, err := mw.CreateInline()
	if err != nil {
		return nil, err
	}

	if len(out.Text) > 0 || len(out.HTML) == 0 {
		var th mail.InlineHeader
		th.Set("Content-Type", "text/plain; charset=utf-8")
		pw, err := iw.CreatePart(th)
		if err != nil {
			return nil, err
		}
		io.WriteString(pw, out.Text)
		pw.Close()
	}

	if len(out.HTML) > 0 {
		var hh mail.InlineHeader
		hh.Set("Content-Type", "text/html; charset=utf-8")
		pw, err := iw.CreatePart(hh)
		if err != nil {
			return nil, err
		}
		io.WriteString(pw, out.HTML)
		pw.Close()
	}

	iw.Close()

	// Attachments
	for _, a := range out.Attachments {
		var ah mail.AttachmentHeader
		contentType := a.ContentType
		if len(contentType) == 0 {
			contentType = "application/octet-stream"
		}
		ah.Set("Content-Type", contentType)
		ah.SetFilename(a.Filename)
		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, err
		}
		aw.Write(a.Content)
		aw.Close()
	}

	mw.Close()

	return buf.Bytes(), nil
}

// envelopeAddress extracts the bare address from a possibly
// display-named header value.
func envelopeAddress(from string) string {

	addr, err := netmail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from)
	}

	return addr.Address
}

func splitRecipients(to string) []string {

	parts := strings.Split(to, ",")

	recipients := make([]string, 0, len(parts))
	for _, p := range parts {
		recipients = append(recipients, envelopeAddress(p))
	}

	return recipients
}
