package receiver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rulepost/rulepost/pkg/dispatcher"
	"github.com/rulepost/rulepost/pkg/store"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 2525
	DefaultDomain         = "localhost"
	DefaultMaxMessageSize = 30 * 1024 * 1024
	DefaultMaxRecipients  = 50
)

// Receiver accepts inbound mail over SMTP, persists each message and
// hands it to the dispatcher for rule evaluation.
type Receiver struct {
	logger *zap.Logger
	store  *store.Store
	disp   *dispatcher.Dispatcher
	server *smtp.Server
}

func New(lc fx.Lifecycle, l *zap.Logger, s *store.Store, d *dispatcher.Dispatcher) *Receiver {

	viper.SetDefault("receiver.host", DefaultHost)
	viper.SetDefault("receiver.port", DefaultPort)
	viper.SetDefault("receiver.domain", DefaultDomain)
	viper.SetDefault("receiver.maxMessageSize", DefaultMaxMessageSize)
	viper.SetDefault("receiver.maxRecipients", DefaultMaxRecipients)

	r := &Receiver{
		logger: l.Named("Receiver"),
		store:  s,
		disp:   d,
	}

	srv := smtp.NewServer(r)
	srv.Addr = fmt.Sprintf("%s:%d",
		viper.GetString("receiver.host"),
		viper.GetInt("receiver.port"),
	)
	srv.Domain = viper.GetString("receiver.domain")
	srv.MaxMessageBytes = viper.GetInt64("receiver.maxMessageSize")
	srv.MaxRecipients = viper.GetInt("receiver.maxRecipients")
	srv.ReadTimeout = 60 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.AllowInsecureAuth = true

	r.server = srv

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {

			r.logger.Info("Starting SMTP receiver",
				zap.String("addr", srv.Addr),
			)

			go func() {
				err := srv.ListenAndServe()
				if err != nil {
					r.logger.Error("SMTP receiver stopped",
						zap.Error(err),
					)
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			r.logger.Info("Stopping SMTP receiver")
			return srv.Close()
		},
	})

	return r
}

// NewSession implements smtp.Backend.
func (r *Receiver) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{receiver: r}, nil
}

type session struct {
	receiver *Receiver
	from     string
	to       []string
}

// AUTH is accepted but not required; any credentials pass.
func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		return nil
	}), nil
}

func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *session) Data(reader io.Reader) error {

	raw, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	email := parseEmail(s.receiver.logger, raw)
	email.From = s.from
	email.To = strings.Join(s.to, ", ")
	email.ReceivedAt = time.Now()

	ctx := context.Background()

	err = s.receiver.store.SaveEmail(ctx, email)
	if err != nil {
		s.receiver.logger.Error("Failed to store email",
			zap.Error(err),
		)
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Failed to store message",
		}
	}

	s.receiver.logger.Info("Email received",
		zap.String("id", email.ID),
		zap.String("from", email.From),
		zap.String("subject", email.Subject),
	)

	matchedRuleID, outcomes := s.receiver.disp.ProcessEmail(ctx, email)

	s.receiver.logger.Info("Email processed",
		zap.String("id", email.ID),
		zap.String("matchedRule", matchedRuleID),
		zap.Int("outcomes", len(outcomes)),
	)

	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

func (s *session) Logout() error {
	return nil
}
